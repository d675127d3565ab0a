// Package hub implements the in-process broadcast channel that connects chat
// sessions.
//
// A Hub fans every published Envelope out to all current listeners. Each
// listener owns a bounded queue; when it is full the oldest envelope is
// evicted and the listener reports the number it missed on its next read
// (*LaggedError). Publish never blocks on a slow listener and is a no-op
// when nobody is subscribed. Filtering by addressee is the listener's job.
//
// Every envelope gets a snowflake ID from the hub's node, so envelopes
// relayed between gateways can be traced back to the node that produced them.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sentialytic/reapears/pkg/metrics"
	"github.com/sentialytic/reapears/pkg/snowflake"
)

// DefaultCapacity is the per-listener queue depth.
const DefaultCapacity = 1024

// ErrClosed is returned by Listener.Next once the hub has shut down and
// the listener's queue is drained.
var ErrClosed = errors.New("hub: closed")

// LaggedError reports envelopes a listener missed because its queue
// overflowed. It is not fatal: the next call to Next continues with the
// oldest envelope still queued.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("hub: listener lagged, %d envelopes skipped", e.Skipped)
}

// Metrics are the hub's optional instruments.
type Metrics struct {
	Published   *metrics.Counter
	Lagged      *metrics.Counter
	Subscribers *metrics.Gauge
}

// NewMetrics registers the hub instruments on r.
func NewMetrics(r *metrics.Registry) Metrics {
	return Metrics{
		Published:   r.Counter("chat_hub_envelopes_published_total", "Envelopes published on the hub."),
		Lagged:      r.Counter("chat_hub_envelopes_lagged_total", "Envelopes evicted from full listener queues."),
		Subscribers: r.Gauge("chat_hub_subscribers", "Listeners currently subscribed to the hub."),
	}
}

type Option func(*Hub)

// WithCapacity sets the per-listener queue depth.
func WithCapacity(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// WithNode sets the generator used to stamp envelope IDs.
func WithNode(n *snowflake.Node) Option {
	return func(h *Hub) { h.node = n }
}

func WithMetrics(m Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub is a multi-producer, multi-consumer broadcast channel.
type Hub struct {
	capacity int
	node     *snowflake.Node
	metrics  Metrics

	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	closed    bool
}

func New(opts ...Option) *Hub {
	h := &Hub{
		capacity:  DefaultCapacity,
		listeners: make(map[*Listener]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.node == nil {
		h.node, _ = snowflake.NewNode(0)
	}
	return h
}

// NodeID returns the snowflake node number stamped into envelope IDs.
func (h *Hub) NodeID() int64 {
	return h.node.ID()
}

// Publish delivers env to every current listener and returns it with its
// ID set. Envelopes that already carry an ID keep it.
func (h *Hub) Publish(env Envelope) Envelope {
	if env.ID == 0 {
		env.ID = h.node.Generate()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed || len(h.listeners) == 0 {
		return env
	}

	h.metrics.Published.Inc()
	for l := range h.listeners {
		if l.push(env) {
			h.metrics.Lagged.Inc()
		}
	}
	return env
}

// Subscribe registers a new listener. Envelopes published before the call
// are not seen. Subscribing to a closed hub returns a listener whose Next
// reports ErrClosed.
func (h *Hub) Subscribe() *Listener {
	l := &Listener{
		hub:    h,
		buf:    make([]Envelope, h.capacity),
		notify: make(chan struct{}, 1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		l.closed = true
		return l
	}
	h.listeners[l] = struct{}{}
	h.metrics.Subscribers.Inc()
	return l
}

// Count returns the number of subscribed listeners.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close shuts the hub down. Listeners drain what is queued, then get
// ErrClosed. Further publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for l := range h.listeners {
		l.markClosed()
		delete(h.listeners, l)
		h.metrics.Subscribers.Dec()
	}
}

func (h *Hub) unsubscribe(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[l]; ok {
		delete(h.listeners, l)
		h.metrics.Subscribers.Dec()
	}
}

// Listener is one subscriber's view of the hub.
type Listener struct {
	hub *Hub

	mu     sync.Mutex
	buf    []Envelope
	head   int
	n      int
	lagged uint64
	closed bool

	notify chan struct{}
}

// push enqueues env, evicting the oldest entry when full. It reports
// whether an entry was evicted.
func (l *Listener) push(env Envelope) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	evicted := false
	if l.n == len(l.buf) {
		l.buf[l.head] = Envelope{}
		l.head = (l.head + 1) % len(l.buf)
		l.n--
		l.lagged++
		evicted = true
	}
	l.buf[(l.head+l.n)%len(l.buf)] = env
	l.n++
	l.mu.Unlock()

	l.wake()
	return evicted
}

func (l *Listener) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *Listener) markClosed() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wake()
}

// Next blocks until an envelope is available, the listener fell behind,
// the hub closed or ctx is done.
//
// A *LaggedError is returned once per overflow, before the envelopes that
// survived it.
func (l *Listener) Next(ctx context.Context) (Envelope, error) {
	for {
		l.mu.Lock()
		if l.lagged > 0 {
			skipped := l.lagged
			l.lagged = 0
			l.mu.Unlock()
			return Envelope{}, &LaggedError{Skipped: skipped}
		}
		if l.n > 0 {
			env := l.buf[l.head]
			l.buf[l.head] = Envelope{}
			l.head = (l.head + 1) % len(l.buf)
			l.n--
			l.mu.Unlock()
			return env, nil
		}
		if l.closed {
			l.mu.Unlock()
			return Envelope{}, ErrClosed
		}
		l.mu.Unlock()

		select {
		case <-l.notify:
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}

// Close unsubscribes the listener and discards anything still queued.
func (l *Listener) Close() {
	l.hub.unsubscribe(l)
	l.mu.Lock()
	l.closed = true
	l.n = 0
	l.lagged = 0
	l.buf = nil
	l.mu.Unlock()
	l.wake()
}
