package channels

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
)

func TestIsAllowed(t *testing.T) {
	open := NewBaseChannel("t", nil, nil)
	if !open.IsAllowed("anyone") {
		t.Error("empty allow-list must allow everyone")
	}

	c := NewBaseChannel("t", nil, []string{"123456", "@alice", "777|bob"})
	allowed := []string{
		"123456",
		"123456|someuser", // compound sender, id part matches
		"alice",           // username entry, @ stripped
		"999|alice",       // compound sender, username part matches
		"777",             // id part of a compound entry
		"777|bob",
	}
	for _, s := range allowed {
		if !c.IsAllowed(s) {
			t.Errorf("IsAllowed(%q) = false, want true", s)
		}
	}

	denied := []string{"", "99999", "malice", "12345", "bob-impostor"}
	for _, s := range denied {
		if c.IsAllowed(s) {
			t.Errorf("IsAllowed(%q) = true, want false", s)
		}
	}
}

func TestHandleMessagePublishesWithSessionKey(t *testing.T) {
	msgBus := bus.New()
	c := NewBaseChannel("telegram", msgBus, []string{"42"})

	c.HandleMessage("42", "chat9", "hello", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("message not published")
	}
	if msg.SessionKey != "telegram:chat9" {
		t.Errorf("session key = %q", msg.SessionKey)
	}
	if msg.Channel != "telegram" || msg.SenderID != "42" || msg.Content != "hello" {
		t.Errorf("inbound = %+v", msg)
	}
}

func TestHandleMessageDropsUnauthorised(t *testing.T) {
	msgBus := bus.New()
	c := NewBaseChannel("telegram", msgBus, []string{"42"})

	c.HandleMessage("777", "chat9", "sneaky", nil, nil)

	if msgBus.InboundLen() != 0 {
		t.Error("unauthorised sender's message reached the bus")
	}
}

// fakeChannel records sends for dispatch tests.
type fakeChannel struct {
	*BaseChannel
	mu    sync.Mutex
	sent  []bus.OutboundMessage
	fail  bool
	stops int
}

func newFakeChannel(name string, msgBus *bus.MessageBus) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, msgBus, nil)}
}

func (f *fakeChannel) Start(context.Context) error {
	f.SetRunning(true)
	return nil
}

func (f *fakeChannel) Stop(context.Context) error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	f.SetRunning(false)
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("send refused")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestManagerDispatchRoutesByName(t *testing.T) {
	msgBus := bus.New()
	m := NewManager(msgBus)
	tg := newFakeChannel("telegram", msgBus)
	dc := newFakeChannel("discord", msgBus)
	m.Register(tg)
	m.Register(dc)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(context.Background())

	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "1", Content: "a"})
	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "discord", ChatID: "2", Content: "b"})
	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "nonexistent", ChatID: "3", Content: "c"})
	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "system", ChatID: "4", Content: "internal"})
	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "1", Content: "d"})

	deadline := time.Now().Add(2 * time.Second)
	for tg.sentCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := tg.sentCount(); got != 2 {
		t.Errorf("telegram sends = %d, want 2", got)
	}
	if got := dc.sentCount(); got != 1 {
		t.Errorf("discord sends = %d, want 1", got)
	}

	// Order per channel follows publish order.
	tg.mu.Lock()
	if tg.sent[0].Content != "a" || tg.sent[1].Content != "d" {
		t.Errorf("telegram order = %q,%q", tg.sent[0].Content, tg.sent[1].Content)
	}
	tg.mu.Unlock()
}

func TestManagerStopAllStopsEverything(t *testing.T) {
	msgBus := bus.New()
	m := NewManager(msgBus)
	ch := newFakeChannel("telegram", msgBus)
	m.Register(ch)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !ch.IsRunning() {
		t.Fatal("channel did not start")
	}
	if err := m.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ch.IsRunning() {
		t.Error("channel still running after StopAll")
	}
	ch.mu.Lock()
	if ch.stops != 1 {
		t.Errorf("stop calls = %d", ch.stops)
	}
	ch.mu.Unlock()
}

func TestManagerSendFailureDoesNotStopDispatch(t *testing.T) {
	msgBus := bus.New()
	m := NewManager(msgBus)
	bad := newFakeChannel("bad", msgBus)
	bad.fail = true
	good := newFakeChannel("good", msgBus)
	m.Register(bad)
	m.Register(good)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.StopAll(context.Background())

	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "bad", ChatID: "1", Content: "x"})
	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "good", ChatID: "1", Content: "y"})

	deadline := time.Now().Add(2 * time.Second)
	for good.sentCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if good.sentCount() != 1 {
		t.Error("dispatch stalled after a failed send")
	}
}

func TestKeyedLimiter(t *testing.T) {
	l := NewKeyedLimiter()

	for i := 0; i < limitBurst; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d within burst denied", i+1)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Error("request past the burst allowed")
	}
	if !l.Allow("5.6.7.8") {
		t.Error("different key must have its own budget")
	}
}

func TestIsInternal(t *testing.T) {
	for _, name := range []string{"cli", "system"} {
		if !IsInternal(name) {
			t.Errorf("%s should be internal", name)
		}
	}
	if IsInternal("telegram") {
		t.Error("telegram is not internal")
	}
}
