package command

import (
	"strings"

	"github.com/goliatone/go-integrations/oauth"
)

const (
	TypeDispatchWebhook        = "integrations.command.webhook.dispatch"
	TypeReactivateSubscription = "integrations.command.webhook.reactivate"
	TypeRegisterClient         = "integrations.command.oauth.client.register"
	TypeRevokeClient           = "integrations.command.oauth.client.revoke"
	TypeRevokeToken            = "integrations.command.oauth.token.revoke"
	TypeResetRateLimit         = "integrations.command.ratelimit.reset"
)

// DispatchWebhookMessage fans an event out to subscribers. With Async set the
// dispatch is queued instead of run inline.
type DispatchWebhookMessage struct {
	Event          string
	Payload        any
	TenantID       string
	Async          bool
	IdempotencyKey string
}

func (DispatchWebhookMessage) Type() string { return TypeDispatchWebhook }

func (m DispatchWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Event) == "" {
		return commandValidationError("event", "event name is required")
	}
	return nil
}

type ReactivateSubscriptionMessage struct {
	SubscriptionID string
}

func (ReactivateSubscriptionMessage) Type() string { return TypeReactivateSubscription }

func (m ReactivateSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.SubscriptionID) == "" {
		return commandValidationError("subscription_id", "subscription id is required")
	}
	return nil
}

type RegisterClientMessage struct {
	Input oauth.RegisterClientInput
}

func (RegisterClientMessage) Type() string { return TypeRegisterClient }

func (m RegisterClientMessage) Validate() error {
	for _, uri := range m.Input.RedirectURIs {
		if strings.TrimSpace(uri) != "" {
			return nil
		}
	}
	return commandValidationError("redirect_uris", "at least one redirect uri is required")
}

type RevokeClientMessage struct {
	ClientID string
}

func (RevokeClientMessage) Type() string { return TypeRevokeClient }

func (m RevokeClientMessage) Validate() error {
	if strings.TrimSpace(m.ClientID) == "" {
		return commandValidationError("client_id", "client id is required")
	}
	return nil
}

type RevokeTokenMessage struct {
	Token string
}

func (RevokeTokenMessage) Type() string { return TypeRevokeToken }

func (m RevokeTokenMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return commandValidationError("token", "token is required")
	}
	return nil
}

type ResetRateLimitMessage struct {
	Key        string
	Identifier string
}

func (ResetRateLimitMessage) Type() string { return TypeResetRateLimit }

func (m ResetRateLimitMessage) Validate() error {
	if strings.TrimSpace(m.Key) == "" {
		return commandValidationError("key", "rate limit key is required")
	}
	if strings.TrimSpace(m.Identifier) == "" {
		return commandValidationError("identifier", "identifier is required")
	}
	return nil
}
