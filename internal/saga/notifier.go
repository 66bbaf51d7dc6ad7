package saga

import (
	"sync"
	"time"

	"github.com/voyatra/travel-saga/internal/domain"
)

// NotificationHub fans a saga's terminal event out to in-process subscribers.
// Each request id gets exactly one terminal event; a subscriber arriving
// shortly after the event was published receives it from a cache that is
// dropped once the hub timeout elapses.
type NotificationHub struct {
	mu       sync.Mutex
	subs     map[string]map[int]chan *domain.TerminalEvent
	emitted  map[string]*domain.TerminalEvent
	nextID   int
	timeout  time.Duration
	capacity int
}

// NewNotificationHub creates a hub. timeout bounds both how long a
// subscription stays open without a terminal event and how long a published
// event stays cached for late subscribers; zero disables both.
func NewNotificationHub(timeout time.Duration) *NotificationHub {
	return &NotificationHub{
		subs:     make(map[string]map[int]chan *domain.TerminalEvent),
		emitted:  make(map[string]*domain.TerminalEvent),
		timeout:  timeout,
		capacity: 1,
	}
}

// Subscribe registers for the request's terminal event. The returned channel
// delivers at most one event and is closed afterwards, on cancel, or when the
// subscription times out. The cancel func is safe to call more than once.
func (h *NotificationHub) Subscribe(requestID string) (<-chan *domain.TerminalEvent, func()) {
	ch := make(chan *domain.TerminalEvent, h.capacity)

	h.mu.Lock()
	if ev, done := h.emitted[requestID]; done {
		h.mu.Unlock()
		ch <- ev
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	if h.subs[requestID] == nil {
		h.subs[requestID] = make(map[int]chan *domain.TerminalEvent)
	}
	h.subs[requestID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if chans, ok := h.subs[requestID]; ok {
				if _, live := chans[id]; live {
					delete(chans, id)
					if len(chans) == 0 {
						delete(h.subs, requestID)
					}
					close(ch)
				}
			}
			h.mu.Unlock()
		})
	}

	if h.timeout > 0 {
		timer := time.AfterFunc(h.timeout, cancel)
		inner := cancel
		cancel = func() {
			timer.Stop()
			inner()
		}
	}

	return ch, cancel
}

// PublishTerminal delivers the terminal event to all current subscribers and
// caches it briefly for late arrivals. Repeat publishes for the same request
// id within the cache window are ignored. The cache entry is dropped after
// the hub timeout; subscribers arriving later than that are served from the
// durable store by the service layer, so the hub never accumulates one entry
// per terminated saga.
func (h *NotificationHub) PublishTerminal(requestID string, event *domain.TerminalEvent) {
	h.mu.Lock()
	if _, done := h.emitted[requestID]; done {
		h.mu.Unlock()
		return
	}
	h.emitted[requestID] = event
	if h.timeout > 0 {
		time.AfterFunc(h.timeout, func() {
			h.mu.Lock()
			delete(h.emitted, requestID)
			h.mu.Unlock()
		})
	}

	chans := h.subs[requestID]
	delete(h.subs, requestID)
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
		}
		close(ch)
	}
}

// Emitted reports whether the request already has a published terminal event
func (h *NotificationHub) Emitted(requestID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, done := h.emitted[requestID]
	return done
}

// SubscriberCount returns the number of open subscriptions for a request id
func (h *NotificationHub) SubscriberCount(requestID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[requestID])
}
