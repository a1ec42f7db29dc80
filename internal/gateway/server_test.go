package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/pkg/protocol"
)

type stubAgent struct {
	chunks []string
	reply  string
	err    error
}

func (a *stubAgent) ProcessDirectStream(ctx context.Context, text, sessionKey string, onChunk func(string)) (string, error) {
	for _, c := range a.chunks {
		onChunk(c)
	}
	if a.err != nil {
		return "", a.err
	}
	return a.reply, nil
}

type fakeHook struct {
	*channels.BaseChannel
	gotBody []byte
	resp    []byte
	err     error
}

func (f *fakeHook) Start(ctx context.Context) error {
	f.SetRunning(true)
	return nil
}

func (f *fakeHook) Stop(ctx context.Context) error {
	f.SetRunning(false)
	return nil
}

func (f *fakeHook) Send(ctx context.Context, msg bus.OutboundMessage) error { return nil }

func (f *fakeHook) HandleIncoming(ctx context.Context, body []byte) ([]byte, error) {
	f.gotBody = append([]byte(nil), body...)
	return f.resp, f.err
}

func newTestServer(t *testing.T, agent AgentRunner, mgr *channels.Manager) (*Server, *bus.MessageBus, *httptest.Server) {
	t.Helper()
	b := bus.New()
	s := NewServer(&config.Config{}, b, agent, mgr, nil, nil)
	srv := httptest.NewServer(s.BuildMux())
	t.Cleanup(srv.Close)
	return s, b, srv
}

func newHookManager(t *testing.T, name string, running bool) (*channels.Manager, *fakeHook) {
	t.Helper()
	mgr := channels.NewManager(bus.New())
	hook := &fakeHook{BaseChannel: channels.NewBaseChannel(name, nil, nil)}
	hook.SetRunning(running)
	mgr.Register(hook)
	return mgr, hook
}

func TestHealth(t *testing.T) {
	_, _, srv := newTestServer(t, &stubAgent{}, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v, want status ok", body)
	}
}

func TestStatusReportsChannels(t *testing.T) {
	mgr, _ := newHookManager(t, "dingtalk", true)
	_, _, srv := newTestServer(t, &stubAgent{}, mgr)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if !body.Channels["dingtalk"] {
		t.Errorf("channels = %v, want dingtalk running", body.Channels)
	}
	if body.Uptime == "" {
		t.Error("uptime missing")
	}
}

func TestStatusRejectsPost(t *testing.T) {
	_, _, srv := newTestServer(t, &stubAgent{}, nil)

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestWebhookDispatch(t *testing.T) {
	mgr, hook := newHookManager(t, "dingtalk", true)
	_, _, srv := newTestServer(t, &stubAgent{}, mgr)

	payload := `{"msgtype":"text","text":{"content":"hi"}}`
	resp, err := http.Post(srv.URL+"/webhook/dingtalk", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(hook.gotBody) != payload {
		t.Errorf("channel received %q, want %q", hook.gotBody, payload)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status ok", body)
	}
}

func TestWebhookEchoesChannelResponse(t *testing.T) {
	mgr, hook := newHookManager(t, "feishu", true)
	hook.resp = []byte(`{"challenge":"abc123"}`)
	_, _, srv := newTestServer(t, &stubAgent{}, mgr)

	resp, err := http.Post(srv.URL+"/webhook/feishu", "application/json", strings.NewReader(`{"type":"url_verification"}`))
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["challenge"] != "abc123" {
		t.Fatalf("body = %v, want challenge echoed", body)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	mgr, _ := newHookManager(t, "dingtalk", true)
	_, _, srv := newTestServer(t, &stubAgent{}, mgr)

	resp, err := http.Get(srv.URL + "/webhook/dingtalk")
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestWebhookUnknownChannel(t *testing.T) {
	mgr, _ := newHookManager(t, "dingtalk", true)
	_, _, srv := newTestServer(t, &stubAgent{}, mgr)

	resp, err := http.Post(srv.URL+"/webhook/nope", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestWebhookStoppedChannel(t *testing.T) {
	mgr, _ := newHookManager(t, "qq", false)
	_, _, srv := newTestServer(t, &stubAgent{}, mgr)

	resp, err := http.Post(srv.URL+"/webhook/qq", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestWebhookBadPayload(t *testing.T) {
	mgr, hook := newHookManager(t, "dingtalk", true)
	hook.err = errors.New("parse event: unexpected end of JSON input")
	_, _, srv := newTestServer(t, &stubAgent{}, mgr)

	resp, err := http.Post(srv.URL+"/webhook/dingtalk", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func dialConsole(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial console: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestConsoleChatStreams(t *testing.T) {
	agent := &stubAgent{chunks: []string{"Hel", "lo"}, reply: "Hello"}
	_, _, srv := newTestServer(t, agent, nil)
	conn := dialConsole(t, srv)

	if err := conn.WriteJSON(protocol.ClientFrame{Type: protocol.ConsoleChat, Content: "hi"}); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	var deltas []string
	for {
		var frame protocol.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		switch frame.Type {
		case protocol.ConsoleDelta:
			deltas = append(deltas, frame.Content)
		case protocol.ConsoleFinal:
			if frame.Content != "Hello" {
				t.Errorf("final = %q, want Hello", frame.Content)
			}
			if got := strings.Join(deltas, ""); got != "Hello" {
				t.Errorf("deltas = %q, want Hello", got)
			}
			return
		case protocol.ConsoleError:
			t.Fatalf("unexpected error frame: %s", frame.Error)
		}
	}
}

func TestConsoleChatError(t *testing.T) {
	agent := &stubAgent{err: errors.New("provider unreachable")}
	_, _, srv := newTestServer(t, agent, nil)
	conn := dialConsole(t, srv)

	if err := conn.WriteJSON(protocol.ClientFrame{Type: protocol.ConsoleChat, Content: "hi"}); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	var frame protocol.ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != protocol.ConsoleError {
		t.Fatalf("type = %q, want error", frame.Type)
	}
	if !strings.Contains(frame.Error, "provider unreachable") {
		t.Errorf("error = %q, want provider unreachable", frame.Error)
	}
}

func TestConsoleRejectsEmptyChat(t *testing.T) {
	_, _, srv := newTestServer(t, &stubAgent{}, nil)
	conn := dialConsole(t, srv)

	if err := conn.WriteJSON(protocol.ClientFrame{Type: protocol.ConsoleChat, Content: "   "}); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	var frame protocol.ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != protocol.ConsoleError {
		t.Fatalf("type = %q, want error", frame.Type)
	}
}

func TestConsoleRejectsUnknownFrameType(t *testing.T) {
	_, _, srv := newTestServer(t, &stubAgent{}, nil)
	conn := dialConsole(t, srv)

	if err := conn.WriteJSON(protocol.ClientFrame{Type: "bogus"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	var frame protocol.ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != protocol.ConsoleError || !strings.Contains(frame.Error, "bogus") {
		t.Fatalf("frame = %+v, want error naming the bad type", frame)
	}
}

func TestConsoleForwardsBusEvents(t *testing.T) {
	s, b, srv := newTestServer(t, &stubAgent{}, nil)
	conn := dialConsole(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Broadcast(bus.Event{Name: "run.completed", Payload: map[string]string{"run_id": "r1"}})

	var frame protocol.ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != protocol.ConsoleEvent || frame.Event != "run.completed" {
		t.Fatalf("frame = %+v, want run.completed event", frame)
	}
	if !strings.Contains(frame.Content, "r1") {
		t.Errorf("payload = %q, want run id", frame.Content)
	}
}

func TestWebhookRateLimit(t *testing.T) {
	mgr, _ := newHookManager(t, "dingtalk", true)
	_, _, srv := newTestServer(t, &stubAgent{}, mgr)

	limited := false
	for i := 0; i < 40; i++ {
		resp, err := http.Post(srv.URL+"/webhook/dingtalk", "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("burst of 40 posts never rate limited")
	}
}
