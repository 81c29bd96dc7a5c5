package subscriber

import (
	"strings"
	"sync"
)

// Dispatch categories a subscriber may serve.
const (
	CategoryAwaitingGeneration = "AWAITING_GENERATION"
	CategoryTriplesGenerated   = "TRIPLES_GENERATED"
)

// Subscriber is one registered consumer endpoint.
type Subscriber struct {
	URL      string `json:"url"`
	Capacity int    `json:"capacity,omitempty"`
}

// Registry keeps the process-local set of subscribers per category.
// Registration is idempotent by URL; re-registering refreshes capacity.
type Registry struct {
	mu         sync.RWMutex
	byCategory map[string][]Subscriber
	next       map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		byCategory: make(map[string][]Subscriber),
		next:       make(map[string]int),
	}
}

// Register adds the subscriber to a category. It returns true when the
// subscriber is new to the category.
func (r *Registry) Register(category string, sub Subscriber) bool {
	category = strings.TrimSpace(category)
	sub.URL = strings.TrimSpace(sub.URL)
	if category == "" || sub.URL == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.byCategory[category]
	for i := range subs {
		if subs[i].URL == sub.URL {
			subs[i].Capacity = sub.Capacity
			return false
		}
	}
	r.byCategory[category] = append(subs, sub)
	return true
}

// Remove drops the subscriber from a category.
func (r *Registry) Remove(category, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.byCategory[category]
	for i := range subs {
		if subs[i].URL == url {
			r.byCategory[category] = append(subs[:i:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

// Next returns the category's subscribers starting at the round-robin
// cursor, so callers try each one at most once per dispatch.
func (r *Registry) Next(category string) []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.byCategory[category]
	if len(subs) == 0 {
		return nil
	}
	start := r.next[category] % len(subs)
	r.next[category] = (start + 1) % len(subs)

	rotated := make([]Subscriber, 0, len(subs))
	rotated = append(rotated, subs[start:]...)
	rotated = append(rotated, subs[:start]...)
	return rotated
}

// All returns a snapshot of the category's subscribers.
func (r *Registry) All(category string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byCategory[category]
	out := make([]Subscriber, len(subs))
	copy(out, subs)
	return out
}

// Categories lists categories with at least one subscriber.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	categories := make([]string, 0, len(r.byCategory))
	for category, subs := range r.byCategory {
		if len(subs) > 0 {
			categories = append(categories, category)
		}
	}
	return categories
}
