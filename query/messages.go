package query

import (
	"strings"
	"time"
)

const (
	TypeGetRateLimitStatus = "integrations.query.ratelimit.status"
	TypeListClients        = "integrations.query.oauth.clients.list"
	TypeInspectBinding     = "integrations.query.oauth.code.binding"
	TypeGetSubscription    = "integrations.query.webhook.subscription.get"
)

type GetRateLimitStatusMessage struct {
	Key         string
	Identifier  string
	MaxRequests int
	Window      time.Duration
}

func (GetRateLimitStatusMessage) Type() string { return TypeGetRateLimitStatus }

func (m GetRateLimitStatusMessage) Validate() error {
	if strings.TrimSpace(m.Key) == "" {
		return queryValidationError("key", "rate limit key is required")
	}
	if strings.TrimSpace(m.Identifier) == "" {
		return queryValidationError("identifier", "identifier is required")
	}
	if m.MaxRequests < 0 {
		return queryValidationError("max_requests", "max requests must be >= 0")
	}
	if m.Window < 0 {
		return queryValidationError("window", "window must be >= 0")
	}
	return nil
}

type ListClientsMessage struct {
	ActiveOnly bool
}

func (ListClientsMessage) Type() string { return TypeListClients }

type InspectBindingMessage struct {
	Code string
}

func (InspectBindingMessage) Type() string { return TypeInspectBinding }

func (m InspectBindingMessage) Validate() error {
	if strings.TrimSpace(m.Code) == "" {
		return queryValidationError("code", "authorization code is required")
	}
	return nil
}

type GetSubscriptionMessage struct {
	SubscriptionID string
}

func (GetSubscriptionMessage) Type() string { return TypeGetSubscription }

func (m GetSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.SubscriptionID) == "" {
		return queryValidationError("subscription_id", "subscription id is required")
	}
	return nil
}
