package channels

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
)

// Manager owns the registered channels and the single dispatch worker that
// drains the outbound queue.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus

	dispatchStop context.CancelFunc
	dispatchDone chan struct{}
}

func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

// Register adds a channel. Construction-time registration only; adapters
// are not swapped while the manager is running.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports per-channel running state for the console.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}

// StartAll launches the dispatch worker and starts every channel. Channels
// start concurrently and independently: one adapter failing to connect
// must not hold back or stop the others.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	dispatchCtx, cancel := context.WithCancel(context.Background())
	m.dispatchStop = cancel
	m.dispatchDone = make(chan struct{})
	go m.dispatch(dispatchCtx, m.dispatchDone)

	toStart := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		toStart = append(toStart, ch)
	}
	m.mu.Unlock()

	if len(toStart) == 0 {
		slog.Warn("channels.none_enabled")
		return nil
	}

	var wg sync.WaitGroup
	for _, ch := range toStart {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Start(ctx); err != nil {
				slog.Error("channels.start_failed", "channel", ch.Name(), "error", err)
				return
			}
			slog.Info("channels.started", "channel", ch.Name())
		}(ch)
	}
	wg.Wait()
	return nil
}

// StopAll cancels the dispatch worker, waits for it, then stops every
// channel. Per-channel stop errors are logged and do not block the rest.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	stop := m.dispatchStop
	done := m.dispatchDone
	m.dispatchStop = nil
	m.dispatchDone = nil
	toStop := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		toStop = append(toStop, ch)
	}
	m.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	for _, ch := range toStop {
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channels.stop_failed", "channel", ch.Name(), "error", err)
		} else {
			slog.Info("channels.stopped", "channel", ch.Name())
		}
	}
	return nil
}

// dispatch is the single outbound consumer: it routes each reply to the
// channel named in the message. Unknown names are logged and dropped; a
// failed send is logged and dropped, never retried here.
func (m *Manager) dispatch(ctx context.Context, done chan struct{}) {
	defer close(done)
	slog.Info("channels.dispatch_started")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			slog.Info("channels.dispatch_stopped")
			return
		}
		if IsInternal(msg.Channel) {
			continue
		}

		ch, exists := m.Get(msg.Channel)
		if !exists {
			slog.Warn("channels.unknown_outbound", "channel", msg.Channel)
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("channels.send_failed",
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
				"error", err)
		}
	}
}
