// Package sessionhub fans identity platform session events out to subscribers.
package sessionhub

import (
	"context"
	"log/slog"
	"sync"

	domainauth "github.com/youthvoice/portal/internal/domain/auth"
)

const inboxSize = 32

type subscriber struct {
	inbox chan domainauth.Event
}

// Hub delivers published events to every live subscriber in publish order.
// A subscriber that stops draining loses events once its inbox is full.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// New creates an empty Hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a subscriber whose first event is initial. The returned channel is closed
// after ctx is done.
func (h *Hub) Subscribe(ctx context.Context, initial domainauth.Event) <-chan domainauth.Event {
	sub := &subscriber{inbox: make(chan domainauth.Event, inboxSize)}
	sub.inbox <- initial

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	out := make(chan domainauth.Event)
	go func() {
		defer close(out)
		defer func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sub.inbox:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Publish queues ev for every subscriber without blocking.
func (h *Hub) Publish(ev domainauth.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.inbox <- ev:
		default:
			h.logger.Warn("dropping session event for slow subscriber", "kind", ev.Kind)
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
