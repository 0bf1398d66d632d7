package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/oauth"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/webhooks"
)

var (
	_ gocmd.Querier[GetRateLimitStatusMessage, ratelimit.Status]   = (*GetRateLimitStatusQuery)(nil)
	_ gocmd.Querier[ListClientsMessage, []oauth.Client]            = (*ListClientsQuery)(nil)
	_ gocmd.Querier[InspectBindingMessage, BindingInspection]      = (*InspectBindingQuery)(nil)
	_ gocmd.Querier[GetSubscriptionMessage, webhooks.Subscription] = (*GetSubscriptionQuery)(nil)

	_ RateLimitStatusReader = (*ratelimit.SlidingWindowLimiter)(nil)
	_ BindingInspector      = (*oauth.Server)(nil)
	_ SubscriptionReader    = (webhooks.SubscriptionRepository)(nil)
)
