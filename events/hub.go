package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/oddbit-project/safekeep/log"
)

// DefaultBufferSize is the channel buffer for each subscriber
const DefaultBufferSize = 64

// Hub fans out events of type T to its subscribers.
// Publish never blocks: events are dropped for subscribers whose buffer is full
type Hub[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]chan T
	bufferSize  int
	dropped     atomic.Uint64
	closed      bool
	logger      *log.Logger
}

// Subscription is a handle returned by Subscribe; Unsubscribe is idempotent
type Subscription struct {
	id   string
	once sync.Once
	stop func(id string)
}

// ID returns the subscription identifier
func (s *Subscription) ID() string {
	return s.id
}

// Unsubscribe stops delivery and releases the subscriber channel
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.stop(s.id)
	})
}

// NewHub creates a hub; name is used for logging
func NewHub[T any](name string) *Hub[T] {
	return &Hub[T]{
		subscribers: make(map[string]chan T),
		bufferSize:  DefaultBufferSize,
		logger:      log.NewWithComponent("events", name),
	}
}

// Subscribe registers a channel subscriber. The subscription is removed
// when ctx is cancelled or Unsubscribe is called; the channel is then closed
func (h *Hub[T]) Subscribe(ctx context.Context) (<-chan T, *Subscription) {
	id := uuid.New().String()
	ch := make(chan T, h.bufferSize)
	sub := &Subscription{id: id, stop: h.unsubscribe}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, sub
	}
	h.subscribers[id] = ch
	h.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Unsubscribe()
		}()
	}
	return ch, sub
}

// SubscribeFunc calls fn for every event, in publish order, on a dedicated goroutine
func (h *Hub[T]) SubscribeFunc(fn func(T)) *Subscription {
	ch, sub := h.Subscribe(context.Background())
	go func() {
		for ev := range ch {
			fn(ev)
		}
	}()
	return sub
}

// Publish delivers ev to every subscriber without blocking
func (h *Hub[T]) Publish(ev T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
			h.logger.Debug("dropped event for slow subscriber", log.KV{"subscription": id})
		}
	}
}

// Len returns the number of active subscribers
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns how many deliveries were dropped because a subscriber was full
func (h *Hub[T]) Dropped() uint64 {
	return h.dropped.Load()
}

// Close removes every subscriber; later publishes are ignored
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}

func (h *Hub[T]) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}
