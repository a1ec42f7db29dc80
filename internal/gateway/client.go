package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/pkg/protocol"
)

const (
	// consoleSessionKey is the session used when a client does not name one.
	// Every console attaching without a key shares this conversation.
	consoleSessionKey = "gateway:console"

	maxConsoleFrame = 64 * 1024
	writeTimeout    = 10 * time.Second
	pingInterval    = 30 * time.Second
)

// consoleClient is one attached websocket console. A single writer
// goroutine owns all writes to the connection; everything else enqueues.
type consoleClient struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan protocol.ServerFrame
	done   chan struct{}
	once   sync.Once
}

func newConsoleClient(conn *websocket.Conn, s *Server) *consoleClient {
	return &consoleClient{
		id:     uuid.NewString()[:8],
		conn:   conn,
		server: s,
		send:   make(chan protocol.ServerFrame, 64),
		done:   make(chan struct{}),
	}
}

// run reads client frames until the connection drops. Blocks; the caller
// owns cleanup.
func (c *consoleClient) run(ctx context.Context) {
	go c.writePump()

	c.conn.SetReadLimit(maxConsoleFrame)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("gateway.console_read_error", "id", c.id, "error", err)
			}
			return
		}

		var frame protocol.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendFrame(errorFrame("malformed frame: " + err.Error()))
			continue
		}
		c.handleFrame(ctx, frame)
	}
}

func (c *consoleClient) handleFrame(ctx context.Context, frame protocol.ClientFrame) {
	switch frame.Type {
	case protocol.ConsoleChat:
		content := strings.TrimSpace(frame.Content)
		if content == "" {
			c.sendFrame(errorFrame("empty chat content"))
			return
		}
		key := frame.SessionKey
		if key == "" {
			key = consoleSessionKey
		}
		go c.runChat(ctx, content, key)
	default:
		c.sendFrame(errorFrame("unknown frame type: " + frame.Type))
	}
}

// runChat executes one agent turn, streaming deltas as the model produces
// them and closing with a final or error frame.
func (c *consoleClient) runChat(ctx context.Context, content, sessionKey string) {
	reply, err := c.server.agent.ProcessDirectStream(ctx, content, sessionKey, func(chunk string) {
		c.sendFrame(protocol.ServerFrame{Type: protocol.ConsoleDelta, Content: chunk})
	})
	if err != nil {
		c.sendFrame(protocol.ServerFrame{Type: protocol.ConsoleError, Error: err.Error()})
		return
	}
	c.sendFrame(protocol.ServerFrame{Type: protocol.ConsoleFinal, Content: reply})
}

// writePump is the single writer for the connection. Exits when the send
// path errors or the client closes.
func (c *consoleClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// sendFrame enqueues a frame, blocking until there is room. Chat replies
// use this so a slow console backpressures its own turn, not the bus.
func (c *consoleClient) sendFrame(frame protocol.ServerFrame) {
	select {
	case c.send <- frame:
	case <-c.done:
	}
}

// trySend enqueues without blocking. Broadcast events use this: dropping
// an event on a stalled console beats stalling the emitter.
func (c *consoleClient) trySend(frame protocol.ServerFrame) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
	}
}

func (c *consoleClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func errorFrame(msg string) protocol.ServerFrame {
	return protocol.ServerFrame{Type: protocol.ConsoleError, Error: msg}
}

func eventFrame(event bus.Event) protocol.ServerFrame {
	frame := protocol.ServerFrame{Type: protocol.ConsoleEvent, Event: event.Name}
	if event.Payload != nil {
		if data, err := json.Marshal(event.Payload); err == nil {
			frame.Content = string(data)
		}
	}
	return frame
}
