package bus

import "sync"

// mailbox is a single-slot buffer with overwrite-on-publish and blocking
// consume, implementing the keep-last depth-1 policy.
//
// Invariant: msg holds the newest unconsumed message, or nil after consume.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	msg    any
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put stores msg, replacing any unconsumed predecessor, and wakes a blocked
// receiver. Reports whether an unconsumed message was replaced.
func (m *mailbox) put(msg any) (replaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	replaced = m.msg != nil
	m.msg = msg
	m.cond.Signal()
	return replaced
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Receiver is the consumer end of a keep-last subscription.
//
// Reading consumes: once a message is returned it is removed from the slot,
// and the next call blocks until a newer publish arrives. The read side is
// intended for a single consumer goroutine.
type Receiver struct {
	box *mailbox
}

// Receive blocks until a message is available or the subscription is closed.
// Returns ok=false on closure, signaling the consumer to exit.
func (r *Receiver) Receive() (msg any, ok bool) {
	m := r.box

	m.mu.Lock()
	defer m.mu.Unlock()

	for m.msg == nil && !m.closed {
		m.cond.Wait()
	}

	if m.closed {
		return nil, false
	}

	msg = m.msg
	m.msg = nil
	return msg, true
}

// TryReceive consumes the pending message without blocking. Returns
// ok=false if the slot is empty or the subscription is closed.
func (r *Receiver) TryReceive() (msg any, ok bool) {
	m := r.box

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.msg == nil {
		return nil, false
	}

	msg = m.msg
	m.msg = nil
	return msg, true
}

// Close detaches the receiver; a blocked Receive returns immediately.
func (r *Receiver) Close() {
	r.box.close()
}
