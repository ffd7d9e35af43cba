// Package livelog fans new delivery log rows out to connected viewers.
//
// There is no backlog: a viewer only sees events published while it is
// subscribed. Each subscriber filters for itself, so the publisher never
// needs to know who is watching.
package livelog

import (
	"sync"

	"go.uber.org/zap"

	"infomail/database"
	"infomail/metrics"
)

const defaultBuffer = 64

// Filter reports whether a subscriber wants an entry.
type Filter func(entry *database.DeliveryLog) bool

// Hub is a process-wide publish/subscribe channel for delivery log events.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	logger *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: defaultBuffer,
		logger: logger.Named("livelog"),
	}
}

// Subscription is one viewer's stream. Events are delivered on Events()
// until Close is called.
type Subscription struct {
	hub    *Hub
	filter Filter
	events chan database.DeliveryLog
	once   sync.Once
}

// Subscribe registers a viewer. A nil filter receives everything.
func (h *Hub) Subscribe(filter Filter) *Subscription {
	s := &Subscription{
		hub:    h,
		filter: filter,
		events: make(chan database.DeliveryLog, h.buffer),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	metrics.LiveLogSubscribers.Inc()
	h.logger.Debugw("Viewer subscribed", "subscribers", n)
	return s
}

// Publish offers the entry to every subscriber whose filter accepts it.
// Subscribers whose buffer is full miss the event instead of stalling the
// sender.
func (h *Hub) Publish(entry database.DeliveryLog) {
	metrics.LiveLogPublished.Inc()
	// payload bytes never leave the process through the stream
	entry.AttachmentsData = nil

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.filter != nil && !s.filter(&entry) {
			continue
		}
		select {
		case s.events <- entry:
		default:
			metrics.LiveLogDropped.Inc()
			h.logger.Warnw("Dropping live log event for slow viewer", "logID", entry.ID)
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Subscription) Events() <-chan database.DeliveryLog {
	return s.events
}

// Close unsubscribes and closes the events channel. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.events)
		s.hub.mu.Unlock()
		metrics.LiveLogSubscribers.Dec()
	})
}

// VisibleTo returns the ownership filter for a viewer: admins see every
// entry, everyone else only their own sends.
func VisibleTo(userID int64, isAdmin bool) Filter {
	if isAdmin {
		return nil
	}
	return func(entry *database.DeliveryLog) bool {
		return entry.UserID == userID
	}
}
