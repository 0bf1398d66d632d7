package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/webhooks"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SubscriptionStore persists webhook subscriptions. The signing secret is
// encrypted at rest with the configured SecretProvider.
type SubscriptionStore struct {
	db      *bun.DB
	repo    repository.Repository[*subscriptionRecord]
	secrets core.SecretProvider
}

func NewSubscriptionStore(db *bun.DB, secrets core.SecretProvider) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("sqlstore: secret provider is required")
	}
	repo := repository.NewRepository[*subscriptionRecord](db, subscriptionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscription repository wiring: %w", err)
		}
	}
	return &SubscriptionStore{db: db, repo: repo, secrets: secrets}, nil
}

type CreateSubscriptionInput struct {
	TargetURL        string
	Secret           string
	SubscribedEvents []string
	TenantID         string
}

func (s *SubscriptionStore) Create(ctx context.Context, in CreateSubscriptionInput) (webhooks.Subscription, error) {
	in.TargetURL = strings.TrimSpace(in.TargetURL)
	if in.TargetURL == "" {
		return webhooks.Subscription{}, fmt.Errorf("sqlstore: target url is required")
	}
	if in.Secret == "" {
		return webhooks.Subscription{}, fmt.Errorf("sqlstore: subscription secret is required")
	}
	if len(in.SubscribedEvents) == 0 {
		return webhooks.Subscription{}, fmt.Errorf("sqlstore: at least one subscribed event is required")
	}
	now := time.Now().UTC()
	sub := webhooks.Subscription{
		ID:               uuid.NewString(),
		TargetURL:        in.TargetURL,
		Secret:           in.Secret,
		SubscribedEvents: in.SubscribedEvents,
		TenantID:         strings.TrimSpace(in.TenantID),
		Status:           webhooks.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Save(ctx, sub); err != nil {
		return webhooks.Subscription{}, err
	}
	return sub, nil
}

func (s *SubscriptionStore) ListDeliverable(ctx context.Context, event, tenantID string) ([]webhooks.Subscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	criteria := []repository.SelectCriteria{
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.status IN (?)", bun.In([]string{
				string(webhooks.StatusActive),
				string(webhooks.StatusFailing),
			}))
		}),
		repository.OrderBy("id ASC"),
	}
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		criteria = append(criteria, repository.SelectBy("tenant_id", "=", tenantID))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}

	out := make([]webhooks.Subscription, 0, len(records))
	for _, record := range records {
		// Event membership lives in a json column; match here so the query
		// stays portable across dialects.
		candidate := record.toDomain("")
		if !candidate.Matches(event, tenantID) {
			continue
		}
		sub, err := s.decrypt(ctx, record)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id string) (webhooks.Subscription, bool, error) {
	if s == nil || s.repo == nil {
		return webhooks.Subscription{}, false, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", strings.TrimSpace(id)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return webhooks.Subscription{}, false, err
	}
	if len(records) == 0 {
		return webhooks.Subscription{}, false, nil
	}
	sub, err := s.decrypt(ctx, records[0])
	if err != nil {
		return webhooks.Subscription{}, false, err
	}
	return sub, true, nil
}

// Save inserts or replaces the subscription identified by sub.ID.
func (s *SubscriptionStore) Save(ctx context.Context, sub webhooks.Subscription) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	sub.ID = strings.TrimSpace(sub.ID)
	if sub.ID == "" {
		return fmt.Errorf("sqlstore: subscription id is required")
	}
	if strings.TrimSpace(string(sub.Status)) == "" {
		sub.Status = webhooks.StatusActive
	}
	ciphertext, err := s.secrets.Encrypt(ctx, []byte(sub.Secret))
	if err != nil {
		return fmt.Errorf("sqlstore: encrypt subscription secret: %w", err)
	}
	now := time.Now().UTC()
	record := &subscriptionRecord{
		ID:                  sub.ID,
		TargetURL:           sub.TargetURL,
		SecretCiphertext:    ciphertext,
		SubscribedEvents:    copyStrings(sub.SubscribedEvents),
		TenantID:            strings.TrimSpace(sub.TenantID),
		Status:              string(sub.Status),
		ConsecutiveFailures: sub.ConsecutiveFailures,
		LastTriggeredAt:     copyTimePointer(sub.LastTriggered),
		LastResponseCode:    sub.LastResponseCode,
		TotalDeliveries:     sub.TotalDeliveries,
		CreatedAt:           sub.CreatedAt.UTC(),
		UpdatedAt:           now,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*subscriptionRecord)(nil)).
			Where("?TableAlias.id = ?", record.ID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			_, err = tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		_, err = tx.NewUpdate().
			Model(record).
			ExcludeColumn("created_at").
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

func (s *SubscriptionStore) decrypt(ctx context.Context, record *subscriptionRecord) (webhooks.Subscription, error) {
	plaintext, err := s.secrets.Decrypt(ctx, record.SecretCiphertext)
	if err != nil {
		return webhooks.Subscription{}, fmt.Errorf("sqlstore: decrypt secret for subscription %s: %w", record.ID, err)
	}
	return record.toDomain(string(plaintext)), nil
}
