package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/oauth"
	"github.com/goliatone/go-integrations/webhooks"
)

type stubWebhookService struct {
	dispatchFn   func(ctx context.Context, event string, payload any, tenantID string) (webhooks.DispatchReport, error)
	reactivateFn func(ctx context.Context, id string) (webhooks.Subscription, error)
}

func (s stubWebhookService) DispatchReport(ctx context.Context, event string, payload any, tenantID string) (webhooks.DispatchReport, error) {
	return s.dispatchFn(ctx, event, payload, tenantID)
}

func (s stubWebhookService) Reactivate(ctx context.Context, id string) (webhooks.Subscription, error) {
	return s.reactivateFn(ctx, id)
}

type recordingEnqueuer struct {
	event    string
	tenantID string
	key      string
	calls    int
}

func (r *recordingEnqueuer) EnqueueDispatch(_ context.Context, event string, _ any, tenantID, idempotencyKey string) error {
	r.calls++
	r.event = event
	r.tenantID = tenantID
	r.key = idempotencyKey
	return nil
}

type stubClientService struct {
	registerFn    func(ctx context.Context, in oauth.RegisterClientInput) (oauth.Client, string, error)
	revokedClient string
	revokedToken  string
}

func (s *stubClientService) RegisterClient(ctx context.Context, in oauth.RegisterClientInput) (oauth.Client, string, error) {
	return s.registerFn(ctx, in)
}

func (s *stubClientService) RevokeClient(_ context.Context, clientID string) error {
	s.revokedClient = clientID
	return nil
}

func (s *stubClientService) RevokeToken(_ context.Context, token string) error {
	s.revokedToken = token
	return nil
}

type recordingResetter struct {
	key        string
	identifier string
}

func (r *recordingResetter) Reset(_ context.Context, key, identifier string) error {
	r.key = key
	r.identifier = identifier
	return nil
}

func TestDispatchWebhookCommand_SyncStoresReport(t *testing.T) {
	svc := stubWebhookService{
		dispatchFn: func(_ context.Context, event string, _ any, tenantID string) (webhooks.DispatchReport, error) {
			if event != "order.created" || tenantID != "acme" {
				t.Fatalf("unexpected dispatch args: %q %q", event, tenantID)
			}
			return webhooks.DispatchReport{Event: event, TenantID: tenantID, Delivered: 2}, nil
		},
	}
	enqueuer := &recordingEnqueuer{}
	cmd := NewDispatchWebhookCommand(svc, enqueuer)

	collector := gocmd.NewResult[webhooks.DispatchReport]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := cmd.Execute(ctx, DispatchWebhookMessage{Event: "order.created", TenantID: "acme", Payload: map[string]any{"id": 1}}); err != nil {
		t.Fatalf("execute dispatch: %v", err)
	}
	report, ok := collector.Load()
	if !ok {
		t.Fatalf("expected report to be stored")
	}
	if report.Delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", report.Delivered)
	}
	if enqueuer.calls != 0 {
		t.Fatalf("sync dispatch must not enqueue")
	}
}

func TestDispatchWebhookCommand_AsyncEnqueues(t *testing.T) {
	svc := stubWebhookService{
		dispatchFn: func(context.Context, string, any, string) (webhooks.DispatchReport, error) {
			t.Fatalf("async dispatch must not run inline")
			return webhooks.DispatchReport{}, nil
		},
	}
	enqueuer := &recordingEnqueuer{}
	cmd := NewDispatchWebhookCommand(svc, enqueuer)

	err := cmd.Execute(context.Background(), DispatchWebhookMessage{
		Event:          " invoice.paid ",
		TenantID:       "acme",
		Async:          true,
		IdempotencyKey: "evt_1",
	})
	if err != nil {
		t.Fatalf("execute async dispatch: %v", err)
	}
	if enqueuer.calls != 1 || enqueuer.event != "invoice.paid" || enqueuer.key != "evt_1" {
		t.Fatalf("unexpected enqueue: %#v", enqueuer)
	}
}

func TestDispatchWebhookCommand_AsyncWithoutQueueFails(t *testing.T) {
	cmd := NewDispatchWebhookCommand(stubWebhookService{}, nil)
	err := cmd.Execute(context.Background(), DispatchWebhookMessage{Event: "a", Async: true})
	if err == nil {
		t.Fatalf("expected missing queue error")
	}
}

func TestDispatchWebhookCommand_PropagatesServiceError(t *testing.T) {
	boom := errors.New("list failed")
	svc := stubWebhookService{
		dispatchFn: func(context.Context, string, any, string) (webhooks.DispatchReport, error) {
			return webhooks.DispatchReport{}, boom
		},
	}
	err := NewDispatchWebhookCommand(svc, nil).Execute(context.Background(), DispatchWebhookMessage{Event: "a"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected service error, got %v", err)
	}
}

func TestReactivateSubscriptionCommand_StoresSubscription(t *testing.T) {
	svc := stubWebhookService{
		reactivateFn: func(_ context.Context, id string) (webhooks.Subscription, error) {
			return webhooks.Subscription{ID: id, Status: webhooks.StatusActive}, nil
		},
	}
	collector := gocmd.NewResult[webhooks.Subscription]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := NewReactivateSubscriptionCommand(svc).Execute(ctx, ReactivateSubscriptionMessage{SubscriptionID: " sub_1 "}); err != nil {
		t.Fatalf("execute reactivate: %v", err)
	}
	sub, ok := collector.Load()
	if !ok || sub.ID != "sub_1" || sub.Status != webhooks.StatusActive {
		t.Fatalf("unexpected stored subscription: %#v", sub)
	}
}

func TestRegisterClientCommand_StoresClientAndSecret(t *testing.T) {
	svc := &stubClientService{
		registerFn: func(_ context.Context, in oauth.RegisterClientInput) (oauth.Client, string, error) {
			return oauth.Client{ClientID: "cli_1", Name: in.Name, RedirectURIs: in.RedirectURIs, IsActive: true}, "s3cret", nil
		},
	}
	collector := gocmd.NewResult[RegisteredClient]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewRegisterClientCommand(svc).Execute(ctx, RegisterClientMessage{Input: oauth.RegisterClientInput{
		Name:         "Billing",
		RedirectURIs: []string{"https://billing.example.com/cb"},
	}})
	if err != nil {
		t.Fatalf("execute register: %v", err)
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected registration result")
	}
	if result.Client.ClientID != "cli_1" || result.Secret != "s3cret" {
		t.Fatalf("unexpected registration result: %#v", result)
	}
}

func TestRevocationCommands_DelegateToService(t *testing.T) {
	svc := &stubClientService{}
	if err := NewRevokeClientCommand(svc).Execute(context.Background(), RevokeClientMessage{ClientID: "cli_1"}); err != nil {
		t.Fatalf("revoke client: %v", err)
	}
	if err := NewRevokeTokenCommand(svc).Execute(context.Background(), RevokeTokenMessage{Token: "tok"}); err != nil {
		t.Fatalf("revoke token: %v", err)
	}
	if svc.revokedClient != "cli_1" || svc.revokedToken != "tok" {
		t.Fatalf("unexpected revocations: %q %q", svc.revokedClient, svc.revokedToken)
	}
}

func TestResetRateLimitCommand_DelegatesToLimiter(t *testing.T) {
	limiter := &recordingResetter{}
	err := NewResetRateLimitCommand(limiter).Execute(context.Background(), ResetRateLimitMessage{Key: "api", Identifier: "user-1"})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if limiter.key != "api" || limiter.identifier != "user-1" {
		t.Fatalf("unexpected reset args: %q %q", limiter.key, limiter.identifier)
	}
}

func TestResetRateLimitCommand_RejectsMissingIdentifier(t *testing.T) {
	limiter := &recordingResetter{}
	err := NewResetRateLimitCommand(limiter).Execute(context.Background(), ResetRateLimitMessage{Key: "api"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if limiter.key != "" {
		t.Fatalf("limiter must not be called on invalid input")
	}
}
