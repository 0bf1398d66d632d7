package query

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/oauth"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/webhooks"
)

type RateLimitStatusReader interface {
	GetStatus(ctx context.Context, key, identifier string, maxRequests int, window time.Duration) (ratelimit.Status, error)
}

type BindingInspector interface {
	InspectBinding(ctx context.Context, code string) (oauth.AuthorizationCode, bool, error)
}

type SubscriptionReader interface {
	Get(ctx context.Context, id string) (webhooks.Subscription, bool, error)
}

// BindingInspection reports a pending code and whether its stored binding
// still matches the server secret.
type BindingInspection struct {
	Record   oauth.AuthorizationCode
	Verified bool
}

type GetRateLimitStatusQuery struct {
	reader RateLimitStatusReader
}

func NewGetRateLimitStatusQuery(reader RateLimitStatusReader) *GetRateLimitStatusQuery {
	return &GetRateLimitStatusQuery{reader: reader}
}

func (q *GetRateLimitStatusQuery) Query(ctx context.Context, msg GetRateLimitStatusMessage) (ratelimit.Status, error) {
	if q == nil || q.reader == nil {
		return ratelimit.Status{}, queryDependencyError("query: rate limit reader is required")
	}
	if err := msg.Validate(); err != nil {
		return ratelimit.Status{}, err
	}
	return q.reader.GetStatus(ctx, strings.TrimSpace(msg.Key), strings.TrimSpace(msg.Identifier), msg.MaxRequests, msg.Window)
}

type ListClientsQuery struct {
	lister oauth.ClientLister
}

func NewListClientsQuery(lister oauth.ClientLister) *ListClientsQuery {
	return &ListClientsQuery{lister: lister}
}

// Query never returns client secrets or their hashes.
func (q *ListClientsQuery) Query(ctx context.Context, msg ListClientsMessage) ([]oauth.Client, error) {
	if q == nil || q.lister == nil {
		return nil, queryDependencyError("query: client lister is required")
	}
	clients, err := q.lister.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]oauth.Client, 0, len(clients))
	for _, client := range clients {
		if msg.ActiveOnly && !client.IsActive {
			continue
		}
		client.ClientSecret = ""
		client.SecretHash = ""
		out = append(out, client)
	}
	return out, nil
}

type InspectBindingQuery struct {
	inspector BindingInspector
}

func NewInspectBindingQuery(inspector BindingInspector) *InspectBindingQuery {
	return &InspectBindingQuery{inspector: inspector}
}

func (q *InspectBindingQuery) Query(ctx context.Context, msg InspectBindingMessage) (BindingInspection, error) {
	if q == nil || q.inspector == nil {
		return BindingInspection{}, queryDependencyError("query: binding inspector is required")
	}
	if err := msg.Validate(); err != nil {
		return BindingInspection{}, err
	}
	record, verified, err := q.inspector.InspectBinding(ctx, msg.Code)
	if err != nil {
		return BindingInspection{}, err
	}
	if record.ClientID == "" {
		return BindingInspection{}, queryNotFoundError("query: authorization code not found", nil)
	}
	return BindingInspection{Record: record, Verified: verified}, nil
}

type GetSubscriptionQuery struct {
	reader SubscriptionReader
}

func NewGetSubscriptionQuery(reader SubscriptionReader) *GetSubscriptionQuery {
	return &GetSubscriptionQuery{reader: reader}
}

// Query returns the subscription without its signing secret.
func (q *GetSubscriptionQuery) Query(ctx context.Context, msg GetSubscriptionMessage) (webhooks.Subscription, error) {
	if q == nil || q.reader == nil {
		return webhooks.Subscription{}, queryDependencyError("query: subscription reader is required")
	}
	if err := msg.Validate(); err != nil {
		return webhooks.Subscription{}, err
	}
	id := strings.TrimSpace(msg.SubscriptionID)
	sub, ok, err := q.reader.Get(ctx, id)
	if err != nil {
		return webhooks.Subscription{}, err
	}
	if !ok {
		return webhooks.Subscription{}, queryNotFoundError("query: subscription not found", map[string]any{"subscription_id": id})
	}
	sub.Secret = ""
	return sub, nil
}
