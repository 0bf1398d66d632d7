package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/webhooks"
	"github.com/google/uuid"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDWebhookDispatch = "integrations.webhook.dispatch"

	paramEvent    = "event"
	paramData     = "data"
	paramTenantID = "tenant_id"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
	// Backoff picks the requeue delay from the attempt number. Nil requeues
	// immediately.
	Backoff webhooks.RetryPolicy
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
// Once MaxAttempts is reached a retry becomes a dead letter, or a plain
// failure when DeadLetterOnMax is off.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.Disposition == "" {
		out.Disposition = queue.NackDispositionRetry
	}
	if out.Disposition == queue.NackDispositionRetry && p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Disposition = queue.NackDispositionFailed
		if p.DeadLetterOnMax {
			out.Disposition = queue.NackDispositionDeadLetter
		}
	}
	if out.Disposition != queue.NackDispositionRetry {
		out.Delay = 0
	}
	return out
}

func (p RetryPolicy) delayFor(attempt int) time.Duration {
	if p.Backoff == nil || attempt <= 0 {
		return 0
	}
	return p.Backoff.NextDelay(attempt - 1)
}

// DispatchRequest is a queued webhook fan-out.
type DispatchRequest struct {
	Event          string
	Data           any
	TenantID       string
	IdempotencyKey string
}

// ToExecutionMessage maps a dispatch request onto a go-job message.
func ToExecutionMessage(req DispatchRequest) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:      JobIDWebhookDispatch,
		ScriptPath: JobIDWebhookDispatch,
		Parameters: map[string]any{
			paramEvent:    strings.TrimSpace(req.Event),
			paramData:     req.Data,
			paramTenantID: strings.TrimSpace(req.TenantID),
		},
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		DedupPolicy:    job.DedupPolicyDrop,
	}
}

// FromExecutionMessage reads a dispatch request back out of a go-job message.
func FromExecutionMessage(msg *job.ExecutionMessage) (DispatchRequest, error) {
	if msg == nil {
		return DispatchRequest{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDWebhookDispatch {
		return DispatchRequest{}, fmt.Errorf("gojob: unsupported job %q", msg.JobID)
	}
	event, _ := msg.Parameters[paramEvent].(string)
	if strings.TrimSpace(event) == "" {
		return DispatchRequest{}, fmt.Errorf("gojob: dispatch message has no event")
	}
	tenantID, _ := msg.Parameters[paramTenantID].(string)
	return DispatchRequest{
		Event:          strings.TrimSpace(event),
		Data:           msg.Parameters[paramData],
		TenantID:       strings.TrimSpace(tenantID),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}, nil
}

type WebhookEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewWebhookEnqueuer(enqueuer queue.Enqueuer) *WebhookEnqueuer {
	return &WebhookEnqueuer{enqueuer: enqueuer}
}

func (a *WebhookEnqueuer) EnqueueDispatch(ctx context.Context, event string, payload any, tenantID, idempotencyKey string) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(event) == "" {
		return fmt.Errorf("gojob: event is required")
	}
	// Redelivered jobs are counted by key, so every job carries one.
	if strings.TrimSpace(idempotencyKey) == "" {
		idempotencyKey = uuid.NewString()
	}
	_, err := a.enqueuer.Enqueue(ctx, ToExecutionMessage(DispatchRequest{
		Event:          event,
		Data:           payload,
		TenantID:       tenantID,
		IdempotencyKey: idempotencyKey,
	}))
	return err
}

// Dispatcher is the part of webhooks.Dispatcher the worker drives.
type Dispatcher interface {
	DispatchReport(ctx context.Context, event string, payload any, tenantID string) (webhooks.DispatchReport, error)
}

// WebhookWorker pulls dispatch jobs and runs them against a Dispatcher.
type WebhookWorker struct {
	dequeuer   queue.Dequeuer
	dispatcher Dispatcher
	policy     RetryPolicy
	hook       worker.Hook
	now        func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewWebhookWorker(dequeuer queue.Dequeuer, dispatcher Dispatcher, policy RetryPolicy, hook worker.Hook) *WebhookWorker {
	return &WebhookWorker{
		dequeuer:   dequeuer,
		dispatcher: dispatcher,
		policy:     policy,
		hook:       hook,
		now:        time.Now,
		attempts:   map[string]int{},
	}
}

// ProcessNext dequeues and handles a single delivery. The returned error is
// the dequeue or settle error; dispatch failures are reported through the
// hook and a nack. Only a failed subscription listing is retried: once the
// fan-out ran, a retry would resend to subscribers that already accepted.
func (w *WebhookWorker) ProcessNext(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.dispatcher == nil {
		return fmt.Errorf("gojob: webhook worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()

	req, err := FromExecutionMessage(msg)
	if err != nil {
		w.onFailure(ctx, worker.Event{Message: msg, Delivery: delivery, Attempt: 1, Err: err, StartedAt: w.now()})
		return delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: err.Error()})
	}

	attempt := w.nextAttempt(req, delivery)
	startedAt := w.now()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt}
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}

	report, dispatchErr := w.dispatcher.DispatchReport(ctx, req.Event, req.Data, req.TenantID)
	event.Duration = w.now().Sub(startedAt)
	if dispatchErr == nil {
		w.forget(req)
		if len(report.StoreErrors) > 0 {
			event.Err = errors.Join(report.StoreErrors...)
			w.onFailure(ctx, event)
		} else if w.hook != nil {
			w.hook.OnSuccess(ctx, event)
		}
		return delivery.Ack(ctx)
	}

	event.Err = dispatchErr
	opts := w.policy.NormalizeAttempt(queue.NackOptions{
		Disposition: queue.NackDispositionRetry,
		Delay:       w.policy.delayFor(attempt),
		Reason:      dispatchErr.Error(),
	}, attempt)
	if opts.Disposition == queue.NackDispositionRetry {
		event.Delay = opts.Delay
		if w.hook != nil {
			w.hook.OnRetry(ctx, event)
		}
	} else {
		w.forget(req)
		w.onFailure(ctx, event)
	}
	return delivery.Nack(ctx, opts)
}

// Run processes deliveries until ctx is done.
func (w *WebhookWorker) Run(ctx context.Context, idle time.Duration) error {
	if idle <= 0 {
		idle = time.Second
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if sleepErr := webhooks.ContextSleeper(ctx, idle); sleepErr != nil {
				return sleepErr
			}
		}
	}
}

func (w *WebhookWorker) onFailure(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

type deliveryAttempts interface {
	Attempts() int
}

// nextAttempt prefers the count the queue keeps on the delivery and falls
// back to a per-worker count keyed by idempotency key.
func (w *WebhookWorker) nextAttempt(req DispatchRequest, delivery queue.Delivery) int {
	if reader, ok := delivery.(deliveryAttempts); ok {
		if attempts := reader.Attempts(); attempts > 0 {
			return attempts
		}
	}
	if req.IdempotencyKey == "" {
		return 1
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[req.IdempotencyKey]++
	return w.attempts[req.IdempotencyKey]
}

func (w *WebhookWorker) forget(req DispatchRequest) {
	if req.IdempotencyKey == "" {
		return
	}
	w.mu.Lock()
	delete(w.attempts, req.IdempotencyKey)
	w.mu.Unlock()
}

// LoggingHook reports worker lifecycle events through a core.Observer.
type LoggingHook struct {
	observer core.Observer
}

func NewLoggingHook(observer core.Observer) *LoggingHook {
	return &LoggingHook{observer: observer}
}

func (h *LoggingHook) OnStart(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.observer.Debug(ctx, "webhook dispatch job started", eventFields(event))
}

func (h *LoggingHook) OnSuccess(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.observer.ObserveOperation(ctx, event.StartedAt, "webhook_job", nil, eventFields(event))
}

func (h *LoggingHook) OnFailure(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.observer.ObserveOperation(ctx, event.StartedAt, "webhook_job", event.Err, eventFields(event))
}

func (h *LoggingHook) OnRetry(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	fields := eventFields(event)
	fields["delay_ms"] = event.Delay.Milliseconds()
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	h.observer.Warn(ctx, "webhook dispatch job will retry", fields)
	h.observer.IncCounter(ctx, "webhook_job.retry", 1, nil)
}

func eventFields(event worker.Event) map[string]any {
	fields := map[string]any{"attempt": event.Attempt}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message != nil {
		fields["job_id"] = message.JobID
		if message.IdempotencyKey != "" {
			fields["idempotency_key"] = message.IdempotencyKey
		}
		if eventName, ok := message.Parameters[paramEvent].(string); ok {
			fields["event"] = eventName
		}
	}
	return fields
}

var (
	_ worker.Hook = (*LoggingHook)(nil)
	_ Dispatcher  = (*webhooks.Dispatcher)(nil)
)
