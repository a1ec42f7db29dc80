package bus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// TestPublishInbound_FIFO verifies single-producer publish order is
// preserved through consume.
func TestPublishInbound_FIFO(t *testing.T) {
	b := New()
	for i := 0; i < 10; i++ {
		ok := b.PublishInbound(InboundMessage{Content: fmt.Sprintf("m%d", i)})
		if !ok {
			t.Fatalf("PublishInbound(m%d) dropped below capacity", i)
		}
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		msg, ok := b.ConsumeInbound(ctx)
		if !ok {
			t.Fatal("ConsumeInbound() cancelled unexpectedly")
		}
		if want := fmt.Sprintf("m%d", i); msg.Content != want {
			t.Errorf("consume #%d = %q, want %q", i, msg.Content, want)
		}
	}
}

// TestPublishInbound_Backpressure fills the queue to capacity and verifies
// the next publish is dropped without losing queued messages.
func TestPublishInbound_Backpressure(t *testing.T) {
	b := New()
	for i := 0; i < DefaultCapacity; i++ {
		if !b.PublishInbound(InboundMessage{Content: fmt.Sprintf("m%d", i)}) {
			t.Fatalf("publish #%d dropped below capacity", i)
		}
	}

	if b.PublishInbound(InboundMessage{Content: "overflow"}) {
		t.Error("PublishInbound() accepted a message beyond capacity")
	}
	if got := b.InboundLen(); got != DefaultCapacity {
		t.Errorf("InboundLen() = %d, want %d", got, DefaultCapacity)
	}

	// Every original message survives, in order.
	ctx := context.Background()
	for i := 0; i < DefaultCapacity; i++ {
		msg, _ := b.ConsumeInbound(ctx)
		if want := fmt.Sprintf("m%d", i); msg.Content != want {
			t.Fatalf("consume #%d = %q, want %q", i, msg.Content, want)
		}
	}
}

// TestConsumeInbound_Cancel verifies a blocked consumer wakes on context
// cancellation and reports ok=false.
func TestConsumeInbound_Cancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := b.ConsumeInbound(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Error("ConsumeInbound() = ok after cancel, want false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConsumeInbound() did not wake on cancel")
	}
}

// TestOutboundQueue verifies the outbound side shares shape and policy.
func TestOutboundQueue(t *testing.T) {
	b := NewWithCapacity(2)
	if !b.PublishOutbound(OutboundMessage{Content: "a"}) {
		t.Fatal("publish a dropped")
	}
	if !b.PublishOutbound(OutboundMessage{Content: "b"}) {
		t.Fatal("publish b dropped")
	}
	if b.PublishOutbound(OutboundMessage{Content: "c"}) {
		t.Error("publish beyond capacity accepted")
	}

	msg, ok := b.SubscribeOutbound(context.Background())
	if !ok || msg.Content != "a" {
		t.Errorf("SubscribeOutbound() = %q/%v, want a/true", msg.Content, ok)
	}
}

// TestBroadcast verifies subscribe/unsubscribe delivery.
func TestBroadcast(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe("console", func(e Event) { got = append(got, e.Name) })

	b.Broadcast(Event{Name: "health"})
	b.Unsubscribe("console")
	b.Broadcast(Event{Name: "chat"})

	if len(got) != 1 || got[0] != "health" {
		t.Errorf("received = %v, want [health]", got)
	}
}
