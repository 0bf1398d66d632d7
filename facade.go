package integrations

import (
	"fmt"

	"github.com/goliatone/go-integrations/adapters/gocommand"
	integrationscommand "github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/oauth"
	integrationsquery "github.com/goliatone/go-integrations/query"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/webhooks"
)

type Commands struct {
	DispatchWebhook        *integrationscommand.DispatchWebhookCommand
	ReactivateSubscription *integrationscommand.ReactivateSubscriptionCommand
	RegisterClient         *integrationscommand.RegisterClientCommand
	RevokeClient           *integrationscommand.RevokeClientCommand
	RevokeToken            *integrationscommand.RevokeTokenCommand
	ResetRateLimit         *integrationscommand.ResetRateLimitCommand

	subscriptions gocommand.Subscriptions
}

func newCommands(in *Integrations) Commands {
	var enqueuer integrationscommand.DispatchEnqueuer
	if in.Queue != nil {
		enqueuer = in.Queue
	}
	return Commands{
		DispatchWebhook:        integrationscommand.NewDispatchWebhookCommand(in.Webhooks, enqueuer),
		ReactivateSubscription: integrationscommand.NewReactivateSubscriptionCommand(in.Webhooks),
		RegisterClient:         integrationscommand.NewRegisterClientCommand(in.OAuth),
		RevokeClient:           integrationscommand.NewRevokeClientCommand(in.OAuth),
		RevokeToken:            integrationscommand.NewRevokeTokenCommand(in.OAuth),
		ResetRateLimit:         integrationscommand.NewResetRateLimitCommand(in.Limiter),
	}
}

func (in *Integrations) Commands() Commands {
	if in == nil {
		return Commands{}
	}
	return in.commands
}

// RegisterCommands registers every command and query with the registry and
// subscribes them to the go-command dispatcher. Close releases the
// subscriptions.
func (in *Integrations) RegisterCommands(adapter *gocommand.RegistryAdapter) error {
	if in == nil {
		return fmt.Errorf("integrations: instance is nil")
	}
	if adapter == nil {
		return fmt.Errorf("integrations: command registry is required")
	}
	if len(in.commands.subscriptions) > 0 {
		return fmt.Errorf("integrations: commands already registered")
	}
	c := &in.commands
	var subs gocommand.Subscriptions
	err := subs.Add(gocommand.RegisterAndSubscribe(adapter, c.DispatchWebhook))
	if err == nil {
		err = subs.Add(gocommand.RegisterAndSubscribe(adapter, c.ReactivateSubscription))
	}
	if err == nil {
		err = subs.Add(gocommand.RegisterAndSubscribe(adapter, c.RegisterClient))
	}
	if err == nil {
		err = subs.Add(gocommand.RegisterAndSubscribe(adapter, c.RevokeClient))
	}
	if err == nil {
		err = subs.Add(gocommand.RegisterAndSubscribe(adapter, c.RevokeToken))
	}
	if err == nil {
		err = subs.Add(gocommand.RegisterAndSubscribe(adapter, c.ResetRateLimit))
	}
	if err != nil {
		subs.Unsubscribe()
		return err
	}
	if err := in.queries.register(adapter); err != nil {
		subs.Unsubscribe()
		return err
	}
	c.subscriptions = subs
	return nil
}

func (c *Commands) unsubscribe() {
	c.subscriptions.Unsubscribe()
	c.subscriptions = nil
}

type Queries struct {
	RateLimitStatus *integrationsquery.GetRateLimitStatusQuery
	ListClients     *integrationsquery.ListClientsQuery
	InspectBinding  *integrationsquery.InspectBindingQuery
	GetSubscription *integrationsquery.GetSubscriptionQuery

	subscriptions gocommand.Subscriptions
}

func newQueries(in *Integrations) Queries {
	var lister oauth.ClientLister
	if l, ok := in.clients.(oauth.ClientLister); ok {
		lister = l
	}
	var subs integrationsquery.SubscriptionReader
	if in.subscriptions != nil {
		subs = in.subscriptions
	}
	return Queries{
		RateLimitStatus: integrationsquery.NewGetRateLimitStatusQuery(in.Limiter),
		ListClients:     integrationsquery.NewListClientsQuery(lister),
		InspectBinding:  integrationsquery.NewInspectBindingQuery(in.OAuth),
		GetSubscription: integrationsquery.NewGetSubscriptionQuery(subs),
	}
}

func (in *Integrations) Queries() Queries {
	if in == nil {
		return Queries{}
	}
	return in.queries
}

func (q *Queries) register(adapter *gocommand.RegistryAdapter) error {
	var subs gocommand.Subscriptions
	err := subs.Add(gocommand.RegisterAndSubscribeQuery[integrationsquery.GetRateLimitStatusMessage, ratelimit.Status](adapter, q.RateLimitStatus))
	if err == nil {
		err = subs.Add(gocommand.RegisterAndSubscribeQuery[integrationsquery.ListClientsMessage, []oauth.Client](adapter, q.ListClients))
	}
	if err == nil {
		err = subs.Add(gocommand.RegisterAndSubscribeQuery[integrationsquery.InspectBindingMessage, integrationsquery.BindingInspection](adapter, q.InspectBinding))
	}
	if err == nil {
		err = subs.Add(gocommand.RegisterAndSubscribeQuery[integrationsquery.GetSubscriptionMessage, webhooks.Subscription](adapter, q.GetSubscription))
	}
	if err != nil {
		subs.Unsubscribe()
		return err
	}
	q.subscriptions = subs
	return nil
}

func (q *Queries) unsubscribe() {
	q.subscriptions.Unsubscribe()
	q.subscriptions = nil
}
