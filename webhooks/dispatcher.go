package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
	"github.com/google/uuid"
)

const maxResponseDrain = 64 << 10

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Option func(*Dispatcher)

func WithHTTPClient(client HTTPDoer) Option {
	return func(d *Dispatcher) {
		d.client = client
	}
}

func WithClock(clock core.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(d *Dispatcher) {
		d.retry = policy
	}
}

func WithSleeper(sleeper Sleeper) Option {
	return func(d *Dispatcher) {
		d.sleep = sleeper
	}
}

// WithMaxRetries sets how many retries follow a failed first attempt. Zero
// disables retries.
func WithMaxRetries(retries int) Option {
	return func(d *Dispatcher) {
		d.maxRetries = retries
	}
}

// WithFailureThresholds sets the consecutive failure counts that move a
// subscription to failing and to inactive.
func WithFailureThresholds(failing, disable int) Option {
	return func(d *Dispatcher) {
		d.failingAfter = failing
		d.disableAfter = disable
	}
}

func WithUserAgent(userAgent string) Option {
	return func(d *Dispatcher) {
		d.userAgent = userAgent
	}
}

func WithHeaderPrefix(prefix string) Option {
	return func(d *Dispatcher) {
		d.headerPrefix = prefix
	}
}

func WithDeliveryIDGenerator(next func() string) Option {
	return func(d *Dispatcher) {
		d.newID = next
	}
}

func WithConfig(cfg core.WebhookConfig) Option {
	return func(d *Dispatcher) {
		if cfg.MaxRetries > 0 {
			d.maxRetries = cfg.MaxRetries
		}
		if cfg.FailingAfterFailures > 0 {
			d.failingAfter = cfg.FailingAfterFailures
		}
		if cfg.DisableAfterFailures > 0 {
			d.disableAfter = cfg.DisableAfterFailures
		}
		if strings.TrimSpace(cfg.UserAgent) != "" {
			d.userAgent = cfg.UserAgent
		}
		if strings.TrimSpace(cfg.HeaderPrefix) != "" {
			d.headerPrefix = cfg.HeaderPrefix
		}
		d.timeout = cfg.RequestTimeout()
	}
}

func WithLogger(logger core.Logger) Option {
	return func(d *Dispatcher) {
		d.observer.Logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		d.observer.Metrics = recorder
	}
}

type Dispatcher struct {
	subscriptions SubscriptionRepository
	client        HTTPDoer
	clock         core.Clock
	retry         RetryPolicy
	sleep         Sleeper
	timeout       time.Duration
	maxRetries    int
	failingAfter  int
	disableAfter  int
	userAgent     string
	headerPrefix  string
	newID         func() string
	observer      core.Observer
}

func NewDispatcher(subscriptions SubscriptionRepository, opts ...Option) (*Dispatcher, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("webhooks: subscription repository is required")
	}
	d := &Dispatcher{
		subscriptions: subscriptions,
		clock:         core.SystemClock{},
		retry:         PowerBackoff{Base: 4, Unit: time.Second},
		sleep:         ContextSleeper,
		timeout:       core.DefaultWebhookTimeoutSeconds * time.Second,
		maxRetries:    core.DefaultWebhookMaxRetries,
		failingAfter:  core.DefaultFailingAfterFailures,
		disableAfter:  core.DefaultDisableAfterFailures,
		userAgent:     core.DefaultWebhookUserAgent,
		headerPrefix:  core.DefaultWebhookHeaderPrefix,
		newID:         uuid.NewString,
		observer:      core.NewObserver(nil, nil, "integrations.webhooks"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: d.timeout}
	}
	d.clock = core.ResolveClock(d.clock)
	if d.retry == nil {
		d.retry = PowerBackoff{}
	}
	if d.sleep == nil {
		d.sleep = ContextSleeper
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	if d.maxRetries < 0 {
		return nil, fmt.Errorf("webhooks: max retries must not be negative")
	}
	if d.failingAfter <= 0 || d.disableAfter < d.failingAfter {
		return nil, fmt.Errorf("webhooks: failure thresholds must satisfy 0 < failing <= disable")
	}
	return d, nil
}

func (d *Dispatcher) EventHeader() string     { return d.headerPrefix + "-Event" }
func (d *Dispatcher) SignatureHeader() string { return d.headerPrefix + "-Signature" }
func (d *Dispatcher) DeliveryHeader() string  { return d.headerPrefix + "-Delivery" }

// Dispatch delivers event to every eligible subscription and returns how
// many accepted it. Subscriber failures never surface as an error; only
// repository failures do.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, payload any, tenantID string) (int, error) {
	report, err := d.DispatchReport(ctx, event, payload, tenantID)
	if err != nil {
		return report.Delivered, err
	}
	return report.Delivered, errors.Join(report.StoreErrors...)
}

// DispatchReport is Dispatch with per-subscription results. A non-nil error
// means eligible subscriptions could not be listed.
func (d *Dispatcher) DispatchReport(ctx context.Context, event string, payload any, tenantID string) (DispatchReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := time.Now()
	event = strings.TrimSpace(event)
	tenantID = strings.TrimSpace(tenantID)
	report := DispatchReport{Event: event, TenantID: tenantID}
	fields := map[string]any{"event": event, "tenant_id": tenantID}

	if event == "" {
		err := core.NewError("webhooks: event name is required", goerrors.CategoryBadInput, core.ErrorBadInput)
		d.observer.ObserveOperation(ctx, startedAt, "dispatch", err, fields)
		return report, err
	}

	subs, err := d.subscriptions.ListDeliverable(ctx, event, tenantID)
	if err != nil {
		err = core.StoreError("list_subscriptions", err)
		d.observer.ObserveOperation(ctx, startedAt, "dispatch", err, fields)
		return report, err
	}

	for _, sub := range subs {
		if !sub.Matches(event, tenantID) {
			continue
		}
		result := d.attempt(ctx, sub, event, payload)
		if result.Delivered {
			report.Delivered++
		}
		if storeErr := d.record(ctx, sub, result); storeErr != nil {
			report.StoreErrors = append(report.StoreErrors, storeErr)
		}
		report.Results = append(report.Results, result)
	}

	fields["subscriptions"] = len(report.Results)
	fields["delivered"] = report.Delivered
	d.observer.ObserveOperation(ctx, startedAt, "dispatch", errors.Join(report.StoreErrors...), fields)
	return report, nil
}

// Deliver sends one event to sub with retries, records the outcome on the
// subscription and reports whether any attempt got a 2xx response.
func (d *Dispatcher) Deliver(ctx context.Context, sub Subscription, event string, payload any) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	result := d.attempt(ctx, sub, event, payload)
	if err := d.record(ctx, sub, result); err != nil {
		d.observer.Error(ctx, "webhook health update failed", map[string]any{
			"subscription_id": sub.ID,
			"error":           err.Error(),
		})
	}
	return result.Delivered
}

// Attempt runs the HTTP retry loop without touching subscription health.
func (d *Dispatcher) Attempt(ctx context.Context, sub Subscription, event string, payload any) DeliveryResult {
	if ctx == nil {
		ctx = context.Background()
	}
	return d.attempt(ctx, sub, event, payload)
}

func (d *Dispatcher) attempt(ctx context.Context, sub Subscription, event string, payload any) DeliveryResult {
	startedAt := time.Now()
	envelope := Envelope{
		Event:      event,
		Data:       payload,
		Timestamp:  d.clock.Now().UTC(),
		DeliveryID: d.newID(),
	}
	result := DeliveryResult{SubscriptionID: sub.ID, DeliveryID: envelope.DeliveryID}
	fields := map[string]any{
		"subscription_id": sub.ID,
		"delivery_id":     envelope.DeliveryID,
		"event":           event,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		result.Err = core.WrapError(err, goerrors.CategoryBadInput, "webhooks: encode envelope", core.ErrorBadInput)
		d.observer.ObserveOperation(ctx, startedAt, "deliver", result.Err, fields)
		return result
	}
	signature := SignatureHeader(sub.Secret, body)

	// One initial attempt plus maxRetries retries.
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		result.Attempts = attempt + 1
		status, sendErr := d.send(ctx, sub.TargetURL, event, envelope.DeliveryID, signature, body)
		result.StatusCode = status
		if sendErr == nil && status >= 200 && status < 300 {
			result.Delivered = true
			result.Err = nil
			break
		}
		result.Err = deliveryError(sub, status, attempt+1, sendErr)
		d.observer.Warn(ctx, "webhook attempt failed", map[string]any{
			"subscription_id": sub.ID,
			"delivery_id":     envelope.DeliveryID,
			"attempt":         attempt + 1,
			"status_code":     status,
			"error":           result.Err.Error(),
		})
		if attempt >= d.maxRetries {
			break
		}
		if sleepErr := d.sleep(ctx, d.retry.NextDelay(attempt)); sleepErr != nil {
			result.Err = errors.Join(result.Err, sleepErr)
			break
		}
	}

	fields["attempts"] = result.Attempts
	fields["status_code"] = result.StatusCode
	d.observer.ObserveOperation(ctx, startedAt, "deliver", result.Err, fields)
	return result
}

func (d *Dispatcher) send(ctx context.Context, target, event, deliveryID, signature string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set(d.EventHeader(), event)
	req.Header.Set(d.SignatureHeader(), signature)
	req.Header.Set(d.DeliveryHeader(), deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))
	return resp.StatusCode, nil
}

func deliveryError(sub Subscription, status, attempt int, cause error) error {
	metadata := map[string]any{
		"subscription_id": sub.ID,
		"status_code":     status,
		"attempt":         attempt,
	}
	if cause != nil {
		return core.WrapError(cause, goerrors.CategoryExternal, "webhooks: delivery failed", core.ErrorDeliveryFailed).
			WithMetadata(metadata)
	}
	return core.NewError(
		fmt.Sprintf("webhooks: subscriber responded %d", status),
		goerrors.CategoryExternal,
		core.ErrorDeliveryFailed,
	).WithMetadata(metadata)
}

// record applies the outcome of an attempt to subscription health. Encoding
// failures are not the subscriber's fault and leave health untouched.
func (d *Dispatcher) record(ctx context.Context, sub Subscription, result DeliveryResult) error {
	if result.Delivered {
		_, err := d.RecordSuccess(ctx, sub, result.StatusCode)
		return err
	}
	var mapped *goerrors.Error
	if goerrors.As(result.Err, &mapped) && mapped.TextCode == core.ErrorBadInput {
		return nil
	}
	_, err := d.RecordFailure(ctx, sub, result.StatusCode)
	return err
}

// RecordSuccess clears the failure streak and returns a failing
// subscription to active.
func (d *Dispatcher) RecordSuccess(ctx context.Context, sub Subscription, statusCode int) (Subscription, error) {
	current, err := d.current(ctx, sub)
	if err != nil {
		return sub, err
	}
	now := d.clock.Now().UTC()
	current.ConsecutiveFailures = 0
	current.LastTriggered = &now
	current.LastResponseCode = statusCode
	current.TotalDeliveries++
	if current.Status == StatusFailing {
		current.Status = StatusActive
		d.observer.Info(ctx, "webhook subscription recovered", map[string]any{"subscription_id": current.ID})
	}
	current.UpdatedAt = now
	return current, d.save(ctx, current)
}

// RecordFailure extends the failure streak. The subscription becomes
// failing at the failing threshold and inactive at the disable threshold.
func (d *Dispatcher) RecordFailure(ctx context.Context, sub Subscription, statusCode int) (Subscription, error) {
	current, err := d.current(ctx, sub)
	if err != nil {
		return sub, err
	}
	now := d.clock.Now().UTC()
	previous := current.Status
	current.ConsecutiveFailures++
	current.LastTriggered = &now
	current.LastResponseCode = statusCode
	switch {
	case current.ConsecutiveFailures >= d.disableAfter:
		current.Status = StatusInactive
	case current.ConsecutiveFailures >= d.failingAfter:
		current.Status = StatusFailing
	}
	current.UpdatedAt = now
	if previous != current.Status {
		d.observer.Warn(ctx, "webhook subscription status changed", map[string]any{
			"subscription_id":      current.ID,
			"from":                 string(previous),
			"to":                   string(current.Status),
			"consecutive_failures": current.ConsecutiveFailures,
		})
	}
	return current, d.save(ctx, current)
}

// Reactivate returns a subscription to active with a clean failure streak.
func (d *Dispatcher) Reactivate(ctx context.Context, id string) (Subscription, error) {
	sub, ok, err := d.subscriptions.Get(ctx, id)
	if err != nil {
		return Subscription{}, core.StoreError("get_subscription", err)
	}
	if !ok {
		return Subscription{}, core.NewError("webhooks: subscription not found", goerrors.CategoryNotFound, core.ErrorNotFound).
			WithMetadata(map[string]any{"subscription_id": id})
	}
	sub.Status = StatusActive
	sub.ConsecutiveFailures = 0
	sub.UpdatedAt = d.clock.Now().UTC()
	return sub, d.save(ctx, sub)
}

func (d *Dispatcher) current(ctx context.Context, sub Subscription) (Subscription, error) {
	stored, ok, err := d.subscriptions.Get(ctx, sub.ID)
	if err != nil {
		return sub, core.StoreError("get_subscription", err)
	}
	if !ok {
		return sub, nil
	}
	return stored, nil
}

func (d *Dispatcher) save(ctx context.Context, sub Subscription) error {
	if err := d.subscriptions.Save(ctx, sub); err != nil {
		return core.StoreError("save_subscription", err)
	}
	return nil
}
