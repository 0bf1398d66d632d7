package sqlstore

import (
	"time"

	"github.com/goliatone/go-integrations/oauth"
	"github.com/goliatone/go-integrations/webhooks"
	"github.com/uptrace/bun"
)

type clientRecord struct {
	bun.BaseModel `bun:"table:oauth_clients,alias:oc"`

	ID           string    `bun:"id,pk"`
	ClientID     string    `bun:"client_id,notnull,unique"`
	Name         string    `bun:"name,notnull"`
	SecretHash   string    `bun:"secret_hash,notnull"`
	RedirectURIs []string  `bun:"redirect_uris,type:jsonb,notnull"`
	Scopes       []string  `bun:"scopes,type:jsonb,notnull"`
	IsActive     bool      `bun:"is_active,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:webhook_subscriptions,alias:ws"`

	ID                  string     `bun:"id,pk"`
	TargetURL           string     `bun:"target_url,notnull"`
	SecretCiphertext    []byte     `bun:"secret_ciphertext,notnull"`
	SubscribedEvents    []string   `bun:"subscribed_events,type:jsonb,notnull"`
	TenantID            string     `bun:"tenant_id,notnull"`
	Status              string     `bun:"status,notnull"`
	ConsecutiveFailures int        `bun:"consecutive_failures,notnull"`
	LastTriggeredAt     *time.Time `bun:"last_triggered_at,nullzero"`
	LastResponseCode    int        `bun:"last_response_code,notnull"`
	TotalDeliveries     int64      `bun:"total_deliveries,notnull"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type kvRecord struct {
	bun.BaseModel `bun:"table:integration_kv,alias:ikv"`

	Key       string     `bun:"kv_key,pk"`
	Value     []byte     `bun:"value,notnull"`
	Counter   int64      `bun:"counter,notnull"`
	ExpiresAt *time.Time `bun:"expires_at,nullzero"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newClientRecord(client oauth.Client, now time.Time) *clientRecord {
	record := &clientRecord{
		ClientID:     client.ClientID,
		Name:         client.Name,
		SecretHash:   client.SecretHash,
		RedirectURIs: copyStrings(client.RedirectURIs),
		Scopes:       copyStrings(client.Scopes),
		IsActive:     client.IsActive,
		CreatedAt:    client.CreatedAt.UTC(),
		UpdatedAt:    now,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return record
}

func (r *clientRecord) toDomain() oauth.Client {
	if r == nil {
		return oauth.Client{}
	}
	return oauth.Client{
		ClientID:     r.ClientID,
		Name:         r.Name,
		SecretHash:   r.SecretHash,
		RedirectURIs: copyStrings(r.RedirectURIs),
		Scopes:       copyStrings(r.Scopes),
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func (r *subscriptionRecord) toDomain(secret string) webhooks.Subscription {
	if r == nil {
		return webhooks.Subscription{}
	}
	return webhooks.Subscription{
		ID:                  r.ID,
		TargetURL:           r.TargetURL,
		Secret:              secret,
		SubscribedEvents:    copyStrings(r.SubscribedEvents),
		TenantID:            r.TenantID,
		Status:              webhooks.Status(r.Status),
		ConsecutiveFailures: r.ConsecutiveFailures,
		LastTriggered:       copyTimePointer(r.LastTriggeredAt),
		LastResponseCode:    r.LastResponseCode,
		TotalDeliveries:     r.TotalDeliveries,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

func copyStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return append([]string{}, values...)
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
