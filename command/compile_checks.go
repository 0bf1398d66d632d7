package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/oauth"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/webhooks"
)

var (
	_ gocmd.Commander[DispatchWebhookMessage]        = (*DispatchWebhookCommand)(nil)
	_ gocmd.Commander[ReactivateSubscriptionMessage] = (*ReactivateSubscriptionCommand)(nil)
	_ gocmd.Commander[RegisterClientMessage]         = (*RegisterClientCommand)(nil)
	_ gocmd.Commander[RevokeClientMessage]           = (*RevokeClientCommand)(nil)
	_ gocmd.Commander[RevokeTokenMessage]            = (*RevokeTokenCommand)(nil)
	_ gocmd.Commander[ResetRateLimitMessage]         = (*ResetRateLimitCommand)(nil)

	_ WebhookService    = (*webhooks.Dispatcher)(nil)
	_ ClientService     = (*oauth.Server)(nil)
	_ RateLimitResetter = (*ratelimit.SlidingWindowLimiter)(nil)
)
