package gojob

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/webhooks"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestMessageMappingRoundTrip(t *testing.T) {
	original := DispatchRequest{
		Event:          "order.created",
		Data:           map[string]any{"order_id": "ord_1"},
		TenantID:       "acme",
		IdempotencyKey: "idem-1",
	}

	converted := ToExecutionMessage(original)
	if converted.JobID != JobIDWebhookDispatch {
		t.Fatalf("expected job id %q, got %q", JobIDWebhookDispatch, converted.JobID)
	}
	if converted.DedupPolicy != job.DedupPolicyDrop {
		t.Fatalf("expected drop dedup policy, got %q", converted.DedupPolicy)
	}
	roundTrip, err := FromExecutionMessage(converted)
	if err != nil {
		t.Fatalf("map back: %v", err)
	}
	if roundTrip.Event != original.Event || roundTrip.TenantID != original.TenantID {
		t.Fatalf("unexpected round trip: %#v", roundTrip)
	}
	if roundTrip.IdempotencyKey != original.IdempotencyKey {
		t.Fatalf("expected idempotency key %q, got %q", original.IdempotencyKey, roundTrip.IdempotencyKey)
	}
	data, ok := roundTrip.Data.(map[string]any)
	if !ok || data["order_id"] != "ord_1" {
		t.Fatalf("expected data to survive mapping, got %#v", roundTrip.Data)
	}
}

func TestFromExecutionMessageRejectsForeignJobs(t *testing.T) {
	if _, err := FromExecutionMessage(nil); err == nil {
		t.Fatalf("expected nil message error")
	}
	if _, err := FromExecutionMessage(&job.ExecutionMessage{JobID: "other.job"}); err == nil {
		t.Fatalf("expected unsupported job error")
	}
	if _, err := FromExecutionMessage(&job.ExecutionMessage{JobID: JobIDWebhookDispatch}); err == nil {
		t.Fatalf("expected missing event error")
	}
}

func TestWebhookEnqueuerPublishesDispatchJob(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	adapter := NewWebhookEnqueuer(enqueuer)

	if err := adapter.EnqueueDispatch(context.Background(), "invoice.paid", map[string]any{"id": 7}, "acme", "evt_7"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDWebhookDispatch {
		t.Fatalf("expected mapped go-job message")
	}
	if enqueuer.last.IdempotencyKey != "evt_7" {
		t.Fatalf("expected idempotency key, got %q", enqueuer.last.IdempotencyKey)
	}
	if err := adapter.EnqueueDispatch(context.Background(), " ", nil, "", ""); err == nil {
		t.Fatalf("expected empty event error")
	}
}

func TestWebhookEnqueuerGeneratesMissingIdempotencyKey(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	adapter := NewWebhookEnqueuer(enqueuer)

	if err := adapter.EnqueueDispatch(context.Background(), "invoice.paid", nil, "", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	first := enqueuer.last.IdempotencyKey
	if err := adapter.EnqueueDispatch(context.Background(), "invoice.paid", nil, "", "  "); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if first == "" || enqueuer.last.IdempotencyKey == "" || first == enqueuer.last.IdempotencyKey {
		t.Fatalf("expected distinct generated keys, got %q and %q", first, enqueuer.last.IdempotencyKey)
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	}

	first := policy.NormalizeAttempt(queue.NackOptions{Delay: 30 * time.Second, Reason: " transient "}, 1)
	if first.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", first.Delay)
	}
	if first.Disposition != queue.NackDispositionRetry || first.Reason != "transient" {
		t.Fatalf("expected retry before max attempts, got %#v", first)
	}

	last := policy.NormalizeAttempt(queue.NackOptions{Disposition: queue.NackDispositionRetry, Delay: time.Second}, 3)
	if last.Disposition != queue.NackDispositionDeadLetter || last.Delay != 0 {
		t.Fatalf("expected dead letter on max attempts, got %#v", last)
	}

	policy.DeadLetterOnMax = false
	failed := policy.NormalizeAttempt(queue.NackOptions{Disposition: queue.NackDispositionRetry}, 3)
	if failed.Disposition != queue.NackDispositionFailed {
		t.Fatalf("expected failed disposition without dead lettering, got %#v", failed)
	}
}

func TestWebhookWorkerAcksSuccessfulDispatch(t *testing.T) {
	delivery := &stubQueueDelivery{msg: ToExecutionMessage(DispatchRequest{Event: "order.created", TenantID: "acme", IdempotencyKey: "k1"})}
	dispatcher := &stubDispatcher{}
	hook := &capturingHook{}
	w := NewWebhookWorker(&stubQueueDequeuer{delivery: delivery}, dispatcher, RetryPolicy{}, hook)

	if err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected ack on successful dispatch")
	}
	if dispatcher.event != "order.created" || dispatcher.tenantID != "acme" {
		t.Fatalf("unexpected dispatch args: %q %q", dispatcher.event, dispatcher.tenantID)
	}
	if hook.starts != 1 || hook.successes != 1 {
		t.Fatalf("expected start and success hooks, got %#v", hook)
	}
}

func TestWebhookWorkerRetriesThenDeadLetters(t *testing.T) {
	delivery := &stubQueueDelivery{msg: ToExecutionMessage(DispatchRequest{Event: "order.created", IdempotencyKey: "k2"})}
	dispatcher := &stubDispatcher{err: errors.New("store unavailable")}
	hook := &capturingHook{}
	policy := RetryPolicy{
		MaxAttempts:     2,
		DeadLetterOnMax: true,
		Backoff:         webhooks.PowerBackoff{Base: 4, Unit: time.Second},
	}
	w := NewWebhookWorker(&stubQueueDequeuer{delivery: delivery}, dispatcher, policy, hook)

	if err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process attempt 1: %v", err)
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionRetry || delivery.nackOpts.Delay != time.Second {
		t.Fatalf("expected retry after 1s, got %#v", delivery.nackOpts)
	}
	if hook.retries != 1 || hook.last.Attempt != 1 {
		t.Fatalf("expected retry hook for attempt 1, got %#v", hook)
	}

	if err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process attempt 2: %v", err)
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter on second attempt, got %#v", delivery.nackOpts)
	}
	if hook.failures != 1 || hook.last.Attempt != 2 {
		t.Fatalf("expected failure hook for attempt 2, got %#v", hook)
	}
}

func TestWebhookWorkerUsesQueueAttemptCount(t *testing.T) {
	msg := ToExecutionMessage(DispatchRequest{Event: "order.created"})
	dispatcher := &stubDispatcher{err: errors.New("store unavailable")}
	policy := RetryPolicy{MaxAttempts: 3, DeadLetterOnMax: true}

	for attempt := 1; attempt <= 3; attempt++ {
		// Each dequeue hands out a fresh message copy, the way durable queues do.
		copied := *msg
		delivery := &countedDelivery{stubQueueDelivery: stubQueueDelivery{msg: &copied}, attempts: attempt}
		w := NewWebhookWorker(&stubQueueDequeuer{delivery: delivery}, dispatcher, policy, nil)
		if err := w.ProcessNext(context.Background()); err != nil {
			t.Fatalf("process attempt %d: %v", attempt, err)
		}
		want := queue.NackDispositionRetry
		if attempt == 3 {
			want = queue.NackDispositionDeadLetter
		}
		if delivery.nackOpts.Disposition != want {
			t.Fatalf("attempt %d: expected %s, got %#v", attempt, want, delivery.nackOpts)
		}
	}
}

func TestWebhookWorkerCountsAttemptsByKeyAcrossMessageCopies(t *testing.T) {
	msg := ToExecutionMessage(DispatchRequest{Event: "order.created", IdempotencyKey: "k3"})
	dispatcher := &stubDispatcher{err: errors.New("store unavailable")}
	dequeuer := &stubQueueDequeuer{}
	w := NewWebhookWorker(dequeuer, dispatcher, RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true}, nil)

	var delivery *stubQueueDelivery
	for i := 0; i < 2; i++ {
		copied := *msg
		delivery = &stubQueueDelivery{msg: &copied}
		dequeuer.delivery = delivery
		if err := w.ProcessNext(context.Background()); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected second copy to reach max attempts, got %#v", delivery.nackOpts)
	}
}

func TestWebhookWorkerAcksWhenOnlyHealthSaveFails(t *testing.T) {
	delivery := &stubQueueDelivery{msg: ToExecutionMessage(DispatchRequest{Event: "order.created", IdempotencyKey: "k4"})}
	saveErr := errors.New("db down")
	dispatcher := &stubDispatcher{report: webhooks.DispatchReport{Delivered: 2, StoreErrors: []error{saveErr}}}
	hook := &capturingHook{}
	w := NewWebhookWorker(&stubQueueDequeuer{delivery: delivery}, dispatcher, RetryPolicy{MaxAttempts: 3}, hook)

	if err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.acked || delivery.nacked {
		t.Fatalf("expected ack without nack, got acked=%v nack=%#v", delivery.acked, delivery.nackOpts)
	}
	if dispatcher.calls != 1 {
		t.Fatalf("expected a single fan-out, got %d", dispatcher.calls)
	}
	if hook.failures != 1 || !errors.Is(hook.last.Err, saveErr) {
		t.Fatalf("expected store error to be reported, got %#v", hook)
	}
}

func TestWebhookWorkerEndToEndHealthSaveFailureDeliversOnce(t *testing.T) {
	var (
		mu   sync.Mutex
		hits = map[string]int{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &saveFailingRepository{
		MemorySubscriptionRepository: webhooks.NewMemorySubscriptionRepository(
			webhooks.Subscription{ID: "a", TargetURL: server.URL + "/a", Secret: "s", SubscribedEvents: []string{"*"}, Status: webhooks.StatusActive},
			webhooks.Subscription{ID: "b", TargetURL: server.URL + "/b", Secret: "s", SubscribedEvents: []string{"*"}, Status: webhooks.StatusActive},
		),
		failID: "b",
	}
	dispatcher, err := webhooks.NewDispatcher(repo, webhooks.WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	delivery := &stubQueueDelivery{msg: ToExecutionMessage(DispatchRequest{Event: "order.created", IdempotencyKey: "k5"})}
	w := NewWebhookWorker(&stubQueueDequeuer{delivery: delivery}, dispatcher, RetryPolicy{MaxAttempts: 3}, nil)

	if err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.acked || delivery.nacked {
		t.Fatalf("expected the job to be acked")
	}
	mu.Lock()
	defer mu.Unlock()
	if hits["/a"] != 1 || hits["/b"] != 1 {
		t.Fatalf("expected one delivery per subscriber, got %v", hits)
	}
}

func TestWebhookWorkerDeadLettersMalformedMessage(t *testing.T) {
	delivery := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: "legacy.job"}}
	dispatcher := &stubDispatcher{}
	w := NewWebhookWorker(&stubQueueDequeuer{delivery: delivery}, dispatcher, RetryPolicy{}, nil)

	if err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter, got %#v", delivery.nackOpts)
	}
	if dispatcher.calls != 0 {
		t.Fatalf("dispatcher must not run for malformed messages")
	}
}

func TestLoggingHookRecordsMetrics(t *testing.T) {
	metrics := &capturingMetrics{}
	hook := NewLoggingHook(core.NewObserver(nil, metrics, "integrations"))
	evt := worker.Event{
		Message:   ToExecutionMessage(DispatchRequest{Event: "order.created"}),
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: time.Now().Add(-time.Second),
	}

	hook.OnRetry(context.Background(), evt)
	hook.OnFailure(context.Background(), evt)

	if metrics.counters["webhook_job.retry"] != 1 {
		t.Fatalf("expected retry counter, got %#v", metrics.counters)
	}
	if metrics.counters["integrations.webhook_job.total"] != 1 {
		t.Fatalf("expected operation counter, got %#v", metrics.counters)
	}
	fields := eventFields(evt)
	if fields["event"] != "order.created" || fields["attempt"] != 2 {
		t.Fatalf("unexpected event fields: %#v", fields)
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	s.last = msg
	return queue.EnqueueReceipt{DispatchID: msg.IdempotencyKey}, nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nacked   bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nacked = true
	s.nackOpts = opts
	return nil
}

type countedDelivery struct {
	stubQueueDelivery
	attempts int
}

func (d *countedDelivery) Attempts() int { return d.attempts }

type saveFailingRepository struct {
	*webhooks.MemorySubscriptionRepository
	failID string
}

func (r *saveFailingRepository) Save(ctx context.Context, sub webhooks.Subscription) error {
	if sub.ID == r.failID {
		return errors.New("db down")
	}
	return r.MemorySubscriptionRepository.Save(ctx, sub)
}

type stubDispatcher struct {
	err      error
	report   webhooks.DispatchReport
	calls    int
	event    string
	tenantID string
}

func (s *stubDispatcher) DispatchReport(_ context.Context, event string, _ any, tenantID string) (webhooks.DispatchReport, error) {
	s.calls++
	s.event = event
	s.tenantID = tenantID
	if s.err != nil {
		return webhooks.DispatchReport{}, s.err
	}
	return s.report, nil
}

type capturingHook struct {
	starts    int
	successes int
	failures  int
	retries   int
	last      worker.Event
}

func (h *capturingHook) OnStart(context.Context, worker.Event) { h.starts++ }

func (h *capturingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.successes++
	h.last = event
}

func (h *capturingHook) OnFailure(_ context.Context, event worker.Event) {
	h.failures++
	h.last = event
}

func (h *capturingHook) OnRetry(_ context.Context, event worker.Event) {
	h.retries++
	h.last = event
}

type capturingMetrics struct {
	counters map[string]int64
}

func (m *capturingMetrics) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name] += value
}

func (m *capturingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}
