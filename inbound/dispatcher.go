package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/webhooks"
)

const (
	// AnyEvent registers a fallback handler for events without their own.
	AnyEvent = "*"

	defaultKeyTTL = 24 * time.Hour
	defaultLease  = 5 * time.Minute
	maxBodyBytes  = 1 << 20
)

type Verifier interface {
	Verify(headers http.Header, body []byte) error
}

type Delivery struct {
	ID        string
	Event     string
	Timestamp time.Time
	Data      json.RawMessage
	Headers   http.Header
}

type Handler func(ctx context.Context, delivery Delivery) error

type Result struct {
	Accepted   bool
	Deduped    bool
	StatusCode int
	DeliveryID string
	Event      string
}

type Option func(*Dispatcher)

func WithHeaderPrefix(prefix string) Option {
	return func(d *Dispatcher) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			d.headerPrefix = prefix
		}
	}
}

// WithKeyTTL sets how long a completed delivery id is remembered.
func WithKeyTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.keyTTL = ttl
		}
	}
}

func WithLease(lease time.Duration) Option {
	return func(d *Dispatcher) {
		if lease > 0 {
			d.lease = lease
		}
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
	verifier     Verifier
	claims       ClaimStore
	headerPrefix string
	keyTTL       time.Duration
	lease        time.Duration
	observer     core.Observer

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher builds a receiver. A nil claims store disables dedupe.
func NewDispatcher(verifier Verifier, claims ClaimStore, opts ...Option) (*Dispatcher, error) {
	if verifier == nil {
		return nil, inboundBadInput("inbound: verifier is required", nil)
	}
	d := newDispatcher(claims, opts)
	d.verifier = verifier
	return d, nil
}

// NewSignedDispatcher verifies the signature header a webhooks.Dispatcher
// with the same header prefix sends, under secret.
func NewSignedDispatcher(secret string, claims ClaimStore, opts ...Option) (*Dispatcher, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, inboundBadInput("inbound: signing secret is required", nil)
	}
	d := newDispatcher(claims, opts)
	d.verifier = webhooks.HeaderHMACVerifier{
		Header:   d.headerPrefix + "-Signature",
		Prefix:   webhooks.SignaturePrefix,
		Secret:   secret,
		Encoding: "hex",
	}
	return d, nil
}

func newDispatcher(claims ClaimStore, opts []Option) *Dispatcher {
	d := &Dispatcher{
		claims:       claims,
		headerPrefix: core.DefaultWebhookHeaderPrefix,
		keyTTL:       defaultKeyTTL,
		lease:        defaultLease,
		observer:     core.NewObserver(nil, nil, "integrations.inbound"),
		handlers:     map[string]Handler{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Dispatcher) Register(event string, handler Handler) error {
	if d == nil {
		return inboundInternal("inbound: dispatcher is nil", nil)
	}
	event = normalizeEvent(event)
	if event == "" {
		return inboundBadInput("inbound: event is required", nil)
	}
	if handler == nil {
		return inboundBadInput("inbound: handler is nil", map[string]any{"event": event})
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[event]; exists {
		return inboundError(
			fmt.Sprintf("inbound: handler already registered for event %q", event),
			goerrors.CategoryConflict,
			core.ErrorConflict,
			map[string]any{"event": event},
		)
	}
	d.handlers[event] = handler
	return nil
}

// Dispatch verifies, decodes, claims, and routes one delivery body. The
// returned Result carries the status a receiver should answer with, also
// when err is set.
func (d *Dispatcher) Dispatch(ctx context.Context, headers http.Header, body []byte) (result Result, err error) {
	if d == nil {
		return Result{StatusCode: http.StatusInternalServerError}, inboundInternal("inbound: dispatcher is nil", nil)
	}
	startedAt := time.Now()
	defer func() {
		d.observer.ObserveOperation(ctx, startedAt, "dispatch", err, map[string]any{
			"event":       result.Event,
			"delivery_id": result.DeliveryID,
			"deduped":     result.Deduped,
			"status_code": result.StatusCode,
		})
	}()

	if verr := d.verifier.Verify(headers, body); verr != nil {
		return Result{StatusCode: http.StatusUnauthorized}, inboundWrapError(
			verr,
			goerrors.CategoryAuth,
			"inbound: request verification failed",
			core.ErrorUnauthenticated,
			nil,
		)
	}

	envelope, data, derr := webhooks.DecodeEnvelope(body)
	if derr != nil {
		return Result{StatusCode: http.StatusBadRequest}, inboundWrapError(
			derr,
			goerrors.CategoryBadInput,
			"inbound: decode envelope",
			core.ErrorBadInput,
			nil,
		)
	}
	delivery := Delivery{
		ID:        firstNonEmpty(headers.Get(d.headerPrefix+"-Delivery"), envelope.DeliveryID),
		Event:     normalizeEvent(firstNonEmpty(envelope.Event, headers.Get(d.headerPrefix+"-Event"))),
		Timestamp: envelope.Timestamp,
		Data:      data,
		Headers:   headers,
	}
	result = Result{DeliveryID: delivery.ID, Event: delivery.Event}
	if delivery.Event == "" {
		result.StatusCode = http.StatusBadRequest
		return result, inboundBadInput("inbound: event is required", map[string]any{"delivery_id": delivery.ID})
	}

	handler := d.handlerFor(delivery.Event)
	if handler == nil {
		result.StatusCode = http.StatusNotFound
		return result, inboundError(
			fmt.Sprintf("inbound: no handler registered for event %q", delivery.Event),
			goerrors.CategoryNotFound,
			core.ErrorNotFound,
			map[string]any{"event": delivery.Event},
		)
	}

	claimID := ""
	if d.claims != nil {
		if delivery.ID == "" {
			result.StatusCode = http.StatusBadRequest
			return result, inboundBadInput("inbound: delivery id is required", map[string]any{"event": delivery.Event})
		}
		var accepted bool
		claimID, accepted, err = d.claims.Claim(ctx, delivery.ID, d.lease)
		if err != nil {
			result.StatusCode = http.StatusInternalServerError
			return result, inboundWrapError(
				err,
				goerrors.CategoryOperation,
				"inbound: claim delivery",
				core.ErrorStoreFailure,
				map[string]any{"delivery_id": delivery.ID},
			)
		}
		if !accepted {
			result.Accepted = true
			result.Deduped = true
			result.StatusCode = http.StatusOK
			return result, nil
		}
	}

	if herr := handler(ctx, delivery); herr != nil {
		result.StatusCode = http.StatusBadGateway
		handlerErr := inboundWrapError(
			herr,
			goerrors.CategoryOperation,
			"inbound: handler execution failed",
			core.ErrorDeliveryFailed,
			map[string]any{"event": delivery.Event, "delivery_id": delivery.ID},
		)
		if claimID != "" {
			if failErr := d.claims.Fail(ctx, claimID); failErr != nil {
				return result, errors.Join(handlerErr, inboundWrapError(
					failErr,
					goerrors.CategoryOperation,
					"inbound: release delivery claim",
					core.ErrorStoreFailure,
					map[string]any{"delivery_id": delivery.ID},
				))
			}
		}
		return result, handlerErr
	}

	if claimID != "" {
		if cerr := d.claims.Complete(ctx, claimID, d.keyTTL); cerr != nil {
			// the handler already ran; a redelivery may run it again
			d.observer.Warn(ctx, "inbound claim completion failed", map[string]any{
				"delivery_id": delivery.ID,
				"error":       cerr.Error(),
			})
		}
	}
	result.Accepted = true
	result.StatusCode = http.StatusOK
	return result, nil
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}
	result, err := d.Dispatch(r.Context(), r.Header, body)
	if err != nil {
		message := err.Error()
		if mapped := core.MapError(err); mapped != nil {
			message = mapped.Message
		}
		writeJSON(w, result.StatusCode, map[string]any{"error": message})
		return
	}
	writeJSON(w, result.StatusCode, map[string]any{
		"accepted":    result.Accepted,
		"deduped":     result.Deduped,
		"delivery_id": result.DeliveryID,
	})
}

func (d *Dispatcher) handlerFor(event string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if handler, ok := d.handlers[event]; ok {
		return handler
	}
	return d.handlers[AnyEvent]
}

func normalizeEvent(event string) string {
	return strings.TrimSpace(event)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
