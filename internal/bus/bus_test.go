package bus

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// TestBasicPublishSubscribe verifies topic-scoped delivery.
func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	ch := make(chan any, 10)
	if err := b.Subscribe("camera/image_raw", "viewer", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Publish("camera/image_raw", "frame-1"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-ch:
		if msg != "frame-1" {
			t.Errorf("expected frame-1, got %v", msg)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

// TestTopicIsolation verifies messages do not leak across topics.
func TestTopicIsolation(t *testing.T) {
	b := New()
	defer b.Close()

	rawCh := make(chan any, 1)
	compCh := make(chan any, 1)
	b.Subscribe("camera/image_raw", "viewer", rawCh)
	b.Subscribe("camera/image_raw/compressed", "viewer", compCh)

	b.Publish("camera/image_raw", "raw-frame")

	select {
	case <-rawCh:
	case <-time.After(time.Second):
		t.Fatal("raw subscriber did not receive its message")
	}

	select {
	case msg := <-compCh:
		t.Fatalf("compressed subscriber received foreign message: %v", msg)
	default:
	}
}

// TestNonBlockingPublish verifies Publish never blocks on a full buffer.
func TestNonBlockingPublish(t *testing.T) {
	b := New()
	defer b.Close()

	ch := make(chan any, 1)
	b.Subscribe("frames", "slow", ch)

	done := make(chan struct{})
	go func() {
		b.Publish("frames", 1) // fits in buffer
		b.Publish("frames", 2) // buffer full, dropped
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked (should be non-blocking)")
	}

	stats := b.Stats().Topics["frames"]["slow"]
	if stats.Sent != 1 {
		t.Errorf("expected 1 sent, got %d", stats.Sent)
	}
	if stats.Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", stats.Dropped)
	}
}

// TestKeepLastReceivesNewestOnly verifies the keep-last depth-1 policy:
// of several publishes only the most recent is observable.
func TestKeepLastReceivesNewestOnly(t *testing.T) {
	b := New()
	defer b.Close()

	recv, err := b.SubscribeLatest("frames", "worker")
	if err != nil {
		t.Fatalf("SubscribeLatest failed: %v", err)
	}

	for i := 1; i <= 5; i++ {
		b.Publish("frames", i)
	}

	msg, ok := recv.TryReceive()
	if !ok {
		t.Fatal("expected a pending message")
	}
	if msg != 5 {
		t.Errorf("expected newest message 5, got %v", msg)
	}

	// Slot consumed: nothing further until the next publish.
	if _, ok := recv.TryReceive(); ok {
		t.Error("expected empty mailbox after consume")
	}

	stats := b.Stats().Topics["frames"]["worker"]
	if stats.Dropped != 4 {
		t.Errorf("expected 4 replaced messages, got %d", stats.Dropped)
	}
}

// TestReceiveBlocksUntilPublish verifies the blocking consume path.
func TestReceiveBlocksUntilPublish(t *testing.T) {
	b := New()
	defer b.Close()

	recv, _ := b.SubscribeLatest("frames", "worker")

	got := make(chan any, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		msg, ok := recv.Receive()
		if ok {
			got <- msg
		}
	}()

	time.Sleep(20 * time.Millisecond) // let the receiver block
	b.Publish("frames", "late-frame")

	select {
	case msg := <-got:
		if msg != "late-frame" {
			t.Errorf("expected late-frame, got %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake on publish")
	}
	wg.Wait()
}

// TestReceiverCloseUnblocks verifies a blocked Receive exits on close.
func TestReceiverCloseUnblocks(t *testing.T) {
	b := New()
	defer b.Close()

	recv, _ := b.SubscribeLatest("frames", "worker")

	done := make(chan bool, 1)
	go func() {
		_, ok := recv.Receive()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	if err := b.Unsubscribe("frames", "worker"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock on unsubscribe")
	}
}

func TestDuplicateSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	ch := make(chan any, 1)
	b.Subscribe("frames", "dup", ch)

	if err := b.Subscribe("frames", "dup", ch); !errors.Is(err, ErrSubscriberExists) {
		t.Errorf("expected ErrSubscriberExists, got %v", err)
	}
	if _, err := b.SubscribeLatest("frames", "dup"); !errors.Is(err, ErrSubscriberExists) {
		t.Errorf("expected ErrSubscriberExists, got %v", err)
	}

	// Same id on a different topic is fine.
	if err := b.Subscribe("frames/compressed", "dup", ch); err != nil {
		t.Errorf("same id on different topic should succeed, got %v", err)
	}
}

func TestSubscribeNilChannel(t *testing.T) {
	b := New()
	defer b.Close()

	if err := b.Subscribe("frames", "nil", nil); !errors.Is(err, ErrNilChannel) {
		t.Errorf("expected ErrNilChannel, got %v", err)
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	b := New()
	defer b.Close()

	if err := b.Unsubscribe("frames", "ghost"); !errors.Is(err, ErrSubscriberNotFound) {
		t.Errorf("expected ErrSubscriberNotFound, got %v", err)
	}
}

// TestStatsConservation verifies sent+dropped accounts for every delivery
// attempt across subscribers of a topic.
func TestStatsConservation(t *testing.T) {
	b := New()
	defer b.Close()

	b.Subscribe("frames", "wide", make(chan any, 10))
	b.Subscribe("frames", "narrow", make(chan any, 1))

	const published = 5
	for i := 0; i < published; i++ {
		b.Publish("frames", i)
	}

	stats := b.Stats()
	if stats.TotalPublished != published {
		t.Errorf("expected %d published, got %d", published, stats.TotalPublished)
	}

	for id, sub := range stats.Topics["frames"] {
		if sub.Sent+sub.Dropped != published {
			t.Errorf("%s: sent %d + dropped %d != published %d", id, sub.Sent, sub.Dropped, published)
		}
	}
}

func TestClosedBus(t *testing.T) {
	b := New()
	b.Close()
	b.Close() // idempotent

	if err := b.Publish("frames", 1); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed from Publish, got %v", err)
	}
	if err := b.Subscribe("frames", "late", make(chan any, 1)); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed from Subscribe, got %v", err)
	}
	if _, err := b.SubscribeLatest("frames", "late"); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed from SubscribeLatest, got %v", err)
	}
}

// TestCloseWakesReceivers verifies bus shutdown unblocks mailbox consumers.
func TestCloseWakesReceivers(t *testing.T) {
	b := New()
	recv, _ := b.SubscribeLatest("frames", "worker")

	done := make(chan bool, 1)
	go func() {
		_, ok := recv.Receive()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false after bus close")
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock on bus close")
	}
}

// TestConcurrentPublish exercises the bus under parallel publishers.
func TestConcurrentPublish(t *testing.T) {
	b := New()
	defer b.Close()

	if _, err := b.SubscribeLatest("frames", "worker"); err != nil {
		t.Fatalf("SubscribeLatest failed: %v", err)
	}

	var wg sync.WaitGroup
	const publishers = 8
	const perPublisher = 100

	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				b.Publish("frames", i)
			}
		}()
	}
	wg.Wait()

	if got := b.Stats().TotalPublished; got != publishers*perPublisher {
		t.Errorf("expected %d published, got %d", publishers*perPublisher, got)
	}
}
