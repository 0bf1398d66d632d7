package webhooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type SubscriptionRepository interface {
	// ListDeliverable returns subscriptions with a deliverable status that
	// subscribe to event, restricted to tenantID when it is not empty.
	ListDeliverable(ctx context.Context, event, tenantID string) ([]Subscription, error)
	Get(ctx context.Context, id string) (Subscription, bool, error)
	Save(ctx context.Context, sub Subscription) error
}

type MemorySubscriptionRepository struct {
	mu    sync.RWMutex
	items map[string]Subscription
}

func NewMemorySubscriptionRepository(subs ...Subscription) *MemorySubscriptionRepository {
	repo := &MemorySubscriptionRepository{items: map[string]Subscription{}}
	for _, sub := range subs {
		repo.items[sub.ID] = cloneSubscription(sub)
	}
	return repo
}

func (r *MemorySubscriptionRepository) ListDeliverable(_ context.Context, event, tenantID string) ([]Subscription, error) {
	if r == nil {
		return nil, fmt.Errorf("webhooks: subscription repository is nil")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscription, 0, len(r.items))
	for _, sub := range r.items {
		if sub.Matches(event, tenantID) {
			out = append(out, cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemorySubscriptionRepository) Get(_ context.Context, id string) (Subscription, bool, error) {
	if r == nil {
		return Subscription{}, false, fmt.Errorf("webhooks: subscription repository is nil")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.items[strings.TrimSpace(id)]
	if !ok {
		return Subscription{}, false, nil
	}
	return cloneSubscription(sub), true, nil
}

func (r *MemorySubscriptionRepository) Save(_ context.Context, sub Subscription) error {
	if r == nil {
		return fmt.Errorf("webhooks: subscription repository is nil")
	}
	if strings.TrimSpace(sub.ID) == "" {
		return fmt.Errorf("webhooks: subscription id is required")
	}
	r.mu.Lock()
	r.items[sub.ID] = cloneSubscription(sub)
	r.mu.Unlock()
	return nil
}
