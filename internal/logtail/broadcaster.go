// Package logtail fans formatted log lines out to live subscribers.
//
// Publish never blocks: a subscriber whose buffer is full misses the line and the
// drop is counted. Closing the broadcaster closes every subscriber channel.
package logtail

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/andresmejia3/spectra/internal/metrics"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("log broadcaster is closed")

// Subscription is one live reader of the log stream.
type Subscription struct {
	ID    string
	Lines <-chan string

	ch      chan string
	dropped atomic.Uint64
}

// Dropped reports how many lines this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Stats is a snapshot of broadcaster counters.
type Stats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}

// Broadcaster distributes log lines to every subscriber.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	closed bool

	metrics   *metrics.Metrics
	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBroadcaster creates a broadcaster whose subscribers buffer up to buffer lines.
// m may be nil.
func NewBroadcaster(buffer int, m *metrics.Metrics) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{subs: make(map[string]*Subscription), buffer: buffer, metrics: m}
}

// Subscribe registers a new reader.
func (b *Broadcaster) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	ch := make(chan string, b.buffer)
	s := &Subscription{ID: uuid.NewString(), Lines: ch, ch: ch}
	b.subs[s.ID] = s
	return s, nil
}

// Unsubscribe removes s and closes its channel. Unknown or already removed
// subscriptions are ignored.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.ID]; !ok {
		return
	}
	delete(b.subs, s.ID)
	close(s.ch)
}

// Publish offers line to every subscriber without blocking.
func (b *Broadcaster) Publish(line string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, s := range b.subs {
		select {
		case s.ch <- line:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
			b.metrics.RecordLogDropped(1)
		}
	}
}

// Stats returns the current counters.
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{Published: b.published.Load(), Dropped: b.dropped.Load(), Subscribers: len(b.subs)}
}

// Close closes every subscriber channel. Later publishes are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
