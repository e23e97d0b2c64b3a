// Package bus provides non-blocking, topic-addressed message distribution
// for the image publisher.
//
// Core philosophy: "Drop messages, never queue. Latency > Completeness."
//
// Each topic fans out to its subscribers under one of two QoS policies:
//
//   - DropNew: the subscriber owns a buffered channel; when the buffer is
//     full the incoming message is dropped (backpressure).
//   - DropOld (keep-last, depth 1): a single-slot mailbox always holds the
//     newest message, replacing any unconsumed one. This is the sensor-data
//     delivery policy: best effort, most-recent-only, no backlog for late
//     subscribers.
//
// Publish never blocks, even if every subscriber is slow. Per-subscriber
// Sent/Dropped counters make the drop behavior observable.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("bus: bus is closed")

	// ErrSubscriberExists is returned when a subscriber id is already
	// registered on the topic.
	ErrSubscriberExists = errors.New("bus: subscriber already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe names an unknown
	// topic/subscriber pair.
	ErrSubscriberNotFound = errors.New("bus: subscriber not found")

	// ErrNilChannel is returned when Subscribe is given a nil channel.
	ErrNilChannel = errors.New("bus: nil channel provided")
)

// SubscriberStats tracks delivery metrics for a single subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Stats is a snapshot of bus metrics: the global publish counter and the
// per-topic, per-subscriber delivery breakdown.
type Stats struct {
	TotalPublished uint64
	Topics         map[string]map[string]SubscriberStats
}

// subscriber holds delivery state for one subscription. Exactly one of ch
// and mailbox is set, depending on the policy chosen at subscribe time.
type subscriber struct {
	id      string
	ch      chan<- any
	mailbox *mailbox

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes messages to topic subscribers without ever blocking the
// publisher. All methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[string]*subscriber
	closed bool

	totalPublished atomic.Uint64
}

// New creates an empty Bus. Topics come into existence implicitly on first
// Subscribe or Publish.
func New() *Bus {
	return &Bus{
		topics: make(map[string]map[string]*subscriber),
	}
}

// Subscribe registers a channel on a topic with the DropNew policy: when the
// channel buffer is full, incoming messages are dropped, not queued. The
// caller owns the channel and its buffer depth.
func (b *Bus) Subscribe(topic, id string, ch chan<- any) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[string]*subscriber)
		b.topics[topic] = subs
	}

	if _, exists := subs[id]; exists {
		return ErrSubscriberExists
	}

	subs[id] = &subscriber{id: id, ch: ch}
	return nil
}

// SubscribeLatest registers a keep-last (depth 1) subscriber on a topic and
// returns its mailbox receiver. New messages replace unconsumed ones, so the
// receiver only ever observes the most recent publish.
func (b *Bus) SubscribeLatest(topic, id string) (*Receiver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[string]*subscriber)
		b.topics[topic] = subs
	}

	if _, exists := subs[id]; exists {
		return nil, ErrSubscriberExists
	}

	sub := &subscriber{id: id, mailbox: newMailbox()}
	subs[id] = sub
	return &Receiver{box: sub.mailbox}, nil
}

// Unsubscribe removes a subscriber from a topic. A keep-last subscriber's
// receiver is closed and any blocked Receive call returns.
func (b *Bus) Unsubscribe(topic, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	sub, exists := subs[id]
	if !exists {
		return ErrSubscriberNotFound
	}

	if sub.mailbox != nil {
		sub.mailbox.close()
	}
	delete(subs, id)
	return nil
}

// Publish sends a message to every subscriber of the topic (non-blocking,
// fire-and-forget). A topic with no subscribers is not an error; the message
// is simply counted and discarded.
//
// The message payload is shared, not copied. Publishers must not modify it
// afterwards (immutability contract).
func (b *Bus) Publish(topic string, msg any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	b.totalPublished.Add(1)

	for _, sub := range b.topics[topic] {
		switch {
		case sub.ch != nil:
			select {
			case sub.ch <- msg:
				sub.sent.Add(1)
			default:
				sub.dropped.Add(1)
			}

		case sub.mailbox != nil:
			if sub.mailbox.put(msg) {
				sub.dropped.Add(1) // replaced an unconsumed message
			}
			sub.sent.Add(1)
		}
	}

	return nil
}

// Stats returns a point-in-time snapshot of bus metrics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := Stats{
		TotalPublished: b.totalPublished.Load(),
		Topics:         make(map[string]map[string]SubscriberStats, len(b.topics)),
	}

	for topic, subs := range b.topics {
		if len(subs) == 0 {
			continue
		}
		snapshot := make(map[string]SubscriberStats, len(subs))
		for id, sub := range subs {
			snapshot[id] = SubscriberStats{
				Sent:    sub.sent.Load(),
				Dropped: sub.dropped.Load(),
			}
		}
		result.Topics[topic] = snapshot
	}

	return result
}

// Close shuts down the bus. Subsequent Publish/Subscribe calls return
// ErrBusClosed; keep-last receivers are woken and report closure.
//
// Close does not close DropNew subscriber channels; their owners manage
// that lifecycle. Idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.topics {
		for _, sub := range subs {
			if sub.mailbox != nil {
				sub.mailbox.close()
			}
		}
	}
	b.topics = nil

	return nil
}
