package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/oauth"
	"github.com/goliatone/go-integrations/webhooks"
)

type WebhookService interface {
	DispatchReport(ctx context.Context, event string, payload any, tenantID string) (webhooks.DispatchReport, error)
	Reactivate(ctx context.Context, id string) (webhooks.Subscription, error)
}

// DispatchEnqueuer queues a dispatch for a background worker.
type DispatchEnqueuer interface {
	EnqueueDispatch(ctx context.Context, event string, payload any, tenantID, idempotencyKey string) error
}

type ClientService interface {
	RegisterClient(ctx context.Context, in oauth.RegisterClientInput) (oauth.Client, string, error)
	RevokeClient(ctx context.Context, clientID string) error
	RevokeToken(ctx context.Context, token string) error
}

type RateLimitResetter interface {
	Reset(ctx context.Context, key, identifier string) error
}

// RegisteredClient is the result of RegisterClientCommand. Secret is only
// available here.
type RegisteredClient struct {
	Client oauth.Client
	Secret string
}

type DispatchWebhookCommand struct {
	service  WebhookService
	enqueuer DispatchEnqueuer
}

func NewDispatchWebhookCommand(service WebhookService, enqueuer DispatchEnqueuer) *DispatchWebhookCommand {
	return &DispatchWebhookCommand{service: service, enqueuer: enqueuer}
}

func (c *DispatchWebhookCommand) Execute(ctx context.Context, msg DispatchWebhookMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Async {
		if c == nil || c.enqueuer == nil {
			return commandDependencyError("command: webhook dispatch queue is required")
		}
		return c.enqueuer.EnqueueDispatch(ctx, strings.TrimSpace(msg.Event), msg.Payload, msg.TenantID, msg.IdempotencyKey)
	}
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	report, err := c.service.DispatchReport(ctx, msg.Event, msg.Payload, msg.TenantID)
	if err != nil {
		return err
	}
	storeResult(ctx, report)
	return nil
}

type ReactivateSubscriptionCommand struct {
	service WebhookService
}

func NewReactivateSubscriptionCommand(service WebhookService) *ReactivateSubscriptionCommand {
	return &ReactivateSubscriptionCommand{service: service}
}

func (c *ReactivateSubscriptionCommand) Execute(ctx context.Context, msg ReactivateSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	sub, err := c.service.Reactivate(ctx, strings.TrimSpace(msg.SubscriptionID))
	if err != nil {
		return err
	}
	storeResult(ctx, sub)
	return nil
}

type RegisterClientCommand struct {
	service ClientService
}

func NewRegisterClientCommand(service ClientService) *RegisterClientCommand {
	return &RegisterClientCommand{service: service}
}

func (c *RegisterClientCommand) Execute(ctx context.Context, msg RegisterClientMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: oauth client service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	client, secret, err := c.service.RegisterClient(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, RegisteredClient{Client: client, Secret: secret})
	return nil
}

type RevokeClientCommand struct {
	service ClientService
}

func NewRevokeClientCommand(service ClientService) *RevokeClientCommand {
	return &RevokeClientCommand{service: service}
}

func (c *RevokeClientCommand) Execute(ctx context.Context, msg RevokeClientMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: oauth client service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.RevokeClient(ctx, strings.TrimSpace(msg.ClientID))
}

type RevokeTokenCommand struct {
	service ClientService
}

func NewRevokeTokenCommand(service ClientService) *RevokeTokenCommand {
	return &RevokeTokenCommand{service: service}
}

func (c *RevokeTokenCommand) Execute(ctx context.Context, msg RevokeTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: oauth client service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.RevokeToken(ctx, msg.Token)
}

type ResetRateLimitCommand struct {
	limiter RateLimitResetter
}

func NewResetRateLimitCommand(limiter RateLimitResetter) *ResetRateLimitCommand {
	return &ResetRateLimitCommand{limiter: limiter}
}

func (c *ResetRateLimitCommand) Execute(ctx context.Context, msg ResetRateLimitMessage) error {
	if c == nil || c.limiter == nil {
		return commandDependencyError("command: rate limiter is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.limiter.Reset(ctx, strings.TrimSpace(msg.Key), strings.TrimSpace(msg.Identifier))
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
