package status

import (
	"sync"

	"github.com/roach88/duofusion/internal/engine"
)

// Subscription receives the most recent status published since the last
// receive. Intermediate values may be skipped.
type Subscription struct {
	C <-chan engine.Status

	ch chan engine.Status
	b  *Broadcaster
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
}

// Broadcaster fans statuses out to subscribers with latest-wins delivery.
//
// Thread-safety: all methods are safe for concurrent use. Publish is
// expected to be called from a single producer.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	latest engine.Status
	has    bool
	closed bool
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber. If a status has already been
// published, it is delivered immediately.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan engine.Status, 1)
	sub := &Subscription{C: ch, ch: ch, b: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	if b.has {
		ch <- b.latest
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish stores st as the latest status and offers it to every
// subscriber, replacing any value they have not read yet.
func (b *Broadcaster) Publish(st engine.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = st
	b.has = true
	for sub := range b.subs {
		offer(sub.ch, st)
	}
}

// offer performs a non-blocking overwrite of a one-slot mailbox. Callers
// hold b.mu, so they are the only sender.
func offer(ch chan engine.Status, st engine.Status) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}

// Latest returns the most recent status and whether one exists.
func (b *Broadcaster) Latest() (engine.Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.has
}

// Subscribers returns the number of attached subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later Publish calls are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}
