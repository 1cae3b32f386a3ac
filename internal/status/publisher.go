package status

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// EventKind distinguishes the first event a subscriber sees from the rest.
type EventKind string

const (
	KindSnapshot EventKind = "snapshot"
	KindUpdate   EventKind = "update"
)

// Event is one delivery to a subscriber.
type Event struct {
	Kind   EventKind `json:"kind"`
	Key    string    `json:"key"`
	Seq    uint64    `json:"seq"`
	Status Status    `json:"status"`
}

// Subscription receives events for one key. C is closed on unsubscribe.
type Subscription struct {
	C   <-chan Event
	ch  chan Event
	key string
}

// Key returns the key the subscription is attached to.
func (s *Subscription) Key() string {
	return s.key
}

// Publisher is a fan-out registry of subscribers keyed by run.
type Publisher struct {
	mu     sync.Mutex
	buffer int
	seq    map[string]uint64
	last   map[string]Status
	subs   map[string]map[*Subscription]struct{}

	dropped atomic.Uint64
}

// NewPublisher creates a publisher whose subscribers buffer up to buffer events.
func NewPublisher(buffer int) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Publisher{
		buffer: buffer,
		seq:    make(map[string]uint64),
		last:   make(map[string]Status),
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Publish records st as the latest state for key and pushes an update to every
// subscriber of key. It never blocks.
func (p *Publisher) Publish(key string, st Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq[key]++
	p.last[key] = st
	ev := Event{Kind: KindUpdate, Key: key, Seq: p.seq[key], Status: st}
	for sub := range p.subs[key] {
		select {
		case sub.ch <- ev:
		default:
			p.dropped.Add(1)
		}
	}
}

// Subscribe attaches to key. If anything was published for key the latest
// state is delivered first as a snapshot. The returned func unsubscribes and is
// safe to call more than once.
func (p *Publisher) Subscribe(key string) (*Subscription, func()) {
	ch := make(chan Event, p.buffer)
	sub := &Subscription{C: ch, ch: ch, key: key}

	p.mu.Lock()
	if st, ok := p.last[key]; ok {
		ch <- Event{Kind: KindSnapshot, Key: key, Seq: p.seq[key], Status: st}
	}
	if p.subs[key] == nil {
		p.subs[key] = make(map[*Subscription]struct{})
	}
	p.subs[key][sub] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs[key], sub)
			if len(p.subs[key]) == 0 {
				delete(p.subs, key)
			}
			close(ch)
		})
	}
}

// Snapshot returns the latest event for key without subscribing.
func (p *Publisher) Snapshot(key string) (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.last[key]
	if !ok {
		return Event{}, false
	}
	return Event{Kind: KindSnapshot, Key: key, Seq: p.seq[key], Status: st}, true
}

// Forget drops the latest state and sequence for key. Current subscribers stay
// attached; a later Publish on key starts again at seq 1.
func (p *Publisher) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seq, key)
	delete(p.last, key)
}

// Subscribers returns the number of subscribers attached to key.
func (p *Publisher) Subscribers(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[key])
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Cursor tracks the last sequence number a subscriber accepted.
type Cursor struct {
	last uint64
}

// Accept reports whether ev is newer than everything accepted so far and, if
// so, advances the cursor.
func (c *Cursor) Accept(ev Event) bool {
	if ev.Seq <= c.last {
		return false
	}
	c.last = ev.Seq
	return true
}

// Last returns the highest accepted sequence number.
func (c *Cursor) Last() uint64 {
	return c.last
}
