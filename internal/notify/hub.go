// Package notify carries "appointments for user X changed" signals from the
// write path to readers. Signals carry no data; readers re-read the store.
package notify

import (
	"context"
	"sync"
)

// Bus publishes and fans out per-user change signals.
type Bus interface {
	Publish(ctx context.Context, userID string) error
	Subscribe(userID string) (<-chan struct{}, func())
	// Run blocks until ctx is done, pumping signals from the backend.
	Run(ctx context.Context) error
}

type subscriber struct {
	ch chan struct{}
}

// Hub is the in-process fan-out every Bus delivers through. Signals to one
// subscriber coalesce: a slow reader sees at most one pending signal.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[*subscriber]struct{}{}}
}

func (h *Hub) Publish(_ context.Context, userID string) error {
	h.Dispatch(userID)
	return nil
}

func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (h *Hub) Subscribe(userID string) (<-chan struct{}, func()) {
	s := &subscriber{ch: make(chan struct{}, 1)}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = map[*subscriber]struct{}{}
	}
	h.subs[userID][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[userID], s)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			close(s.ch)
		})
	}
}

// Dispatch signals every local subscriber of userID without blocking.
func (h *Hub) Dispatch(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[userID] {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
