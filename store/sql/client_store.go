package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/oauth"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ClientStore persists registered oauth clients. Secrets are only ever
// stored as bcrypt hashes; a client saved with a plaintext secret is hashed
// on the way in.
type ClientStore struct {
	db   *bun.DB
	repo repository.Repository[*clientRecord]
}

func NewClientStore(db *bun.DB) (*ClientStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*clientRecord](db, clientHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid client repository wiring: %w", err)
		}
	}
	return &ClientStore{db: db, repo: repo}, nil
}

func (s *ClientStore) GetClient(ctx context.Context, clientID string) (oauth.Client, bool, error) {
	if s == nil || s.repo == nil {
		return oauth.Client{}, false, fmt.Errorf("sqlstore: client store is not configured")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return oauth.Client{}, false, nil
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("client_id", "=", clientID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return oauth.Client{}, false, core.StoreError("get_client", err)
	}
	if len(records) == 0 {
		return oauth.Client{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *ClientStore) SaveClient(ctx context.Context, client oauth.Client) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: client store is not configured")
	}
	client.ClientID = strings.TrimSpace(client.ClientID)
	if client.ClientID == "" {
		return fmt.Errorf("sqlstore: client id is required")
	}
	if client.SecretHash == "" && client.ClientSecret != "" {
		hash, err := oauth.HashClientSecret(client.ClientSecret)
		if err != nil {
			return err
		}
		client.SecretHash = hash
	}
	if client.SecretHash == "" {
		return fmt.Errorf("sqlstore: client secret is required")
	}
	now := time.Now().UTC()

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := make([]*clientRecord, 0, 1)
		if err := tx.NewSelect().
			Model(&existing).
			Where("?TableAlias.client_id = ?", client.ClientID).
			Limit(1).
			Scan(ctx); err != nil {
			return err
		}
		record := newClientRecord(client, now)
		if len(existing) == 0 {
			record.ID = uuid.NewString()
			_, err := tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		record.ID = existing[0].ID
		record.CreatedAt = existing[0].CreatedAt
		_, err := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return core.StoreError("save_client", err)
	}
	return nil
}

func (s *ClientStore) ListClients(ctx context.Context) ([]oauth.Client, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: client store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("client_id ASC"))
	if err != nil {
		return nil, core.StoreError("list_clients", err)
	}
	out := make([]oauth.Client, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
