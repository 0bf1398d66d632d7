package webhooks

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusFailing  Status = "failing"
	StatusInactive Status = "inactive"
)

// Deliverable reports whether the dispatcher still sends to this status.
func (s Status) Deliverable() bool {
	return s == StatusActive || s == StatusFailing
}

type Subscription struct {
	ID                  string
	TargetURL           string
	Secret              string
	SubscribedEvents    []string
	TenantID            string
	Status              Status
	ConsecutiveFailures int
	LastTriggered       *time.Time
	LastResponseCode    int
	TotalDeliveries     int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Subscribes matches event exactly; "*" subscribes to every event.
func (s Subscription) Subscribes(event string) bool {
	for _, subscribed := range s.SubscribedEvents {
		subscribed = strings.TrimSpace(subscribed)
		if subscribed == event || subscribed == "*" {
			return true
		}
	}
	return false
}

// Matches applies the dispatch selection rule: deliverable status, tenant
// when one is given, and event subscription.
func (s Subscription) Matches(event, tenantID string) bool {
	if !s.Status.Deliverable() {
		return false
	}
	if tenantID != "" && s.TenantID != tenantID {
		return false
	}
	return s.Subscribes(event)
}

type Envelope struct {
	Event      string    `json:"event"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
	DeliveryID string    `json:"delivery_id"`
}

type DeliveryResult struct {
	SubscriptionID string
	DeliveryID     string
	Delivered      bool
	Attempts       int
	StatusCode     int
	Err            error
}

type DispatchReport struct {
	Event     string
	TenantID  string
	Delivered int
	Results   []DeliveryResult
	// StoreErrors collects subscription health updates that failed to
	// persist. Deliveries themselves are not affected.
	StoreErrors []error
}

func cloneSubscription(sub Subscription) Subscription {
	cloned := sub
	cloned.SubscribedEvents = append([]string(nil), sub.SubscribedEvents...)
	if sub.LastTriggered != nil {
		at := *sub.LastTriggered
		cloned.LastTriggered = &at
	}
	return cloned
}
