// Package gateway serves the runtime's HTTP surface: health and status
// probes, the websocket console, and the webhook receiver that feeds
// push-style channels (Feishu, DingTalk, QQ).
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/internal/scheduler"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
)

// maxWebhookBody caps inbound webhook payloads. Platform events are a few
// KB; anything past this is garbage or abuse.
const maxWebhookBody = 1 << 20

// AgentRunner is the slice of the agent loop the console needs: run one
// turn against a session, streaming chunks as they arrive.
type AgentRunner interface {
	ProcessDirectStream(ctx context.Context, text, sessionKey string, onChunk func(string)) (string, error)
}

// Server is the gateway HTTP server.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	agent    AgentRunner
	manager  *channels.Manager
	sessions *sessions.Manager
	sched    *scheduler.Service

	limiter  *channels.KeyedLimiter
	upgrader websocket.Upgrader

	clients map[string]*consoleClient
	mu      sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
	startedAt  time.Time
}

// NewServer creates a gateway server. manager, sess and sched may be nil;
// /status then reports zero for the missing parts.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher, agent AgentRunner, manager *channels.Manager, sess *sessions.Manager, sched *scheduler.Service) *Server {
	return &Server{
		cfg:      cfg,
		eventPub: eventPub,
		agent:    agent,
		manager:  manager,
		sessions: sess,
		sched:    sched,
		limiter:  channels.NewKeyedLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients:   make(map[string]*consoleClient),
		startedAt: time.Now(),
	}
}

// checkOrigin admits non-browser clients (no Origin header) and browsers
// served from the gateway's own host.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// BuildMux builds the route table once and caches it, so additional
// listeners (e.g. the tsnet one) can serve the same mux.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/webhook/", s.handleWebhook)
	s.mux = mux
	return mux
}

// Start begins listening and blocks until the listener fails or ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Gateway.Tailscale.Enabled {
		go func() {
			if err := s.serveTailscale(ctx); err != nil {
				slog.Error("gateway.tailscale_failed", "error", err)
			}
		}()
	}

	slog.Info("gateway.listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// ClientCount reports connected console clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// handleWebSocket upgrades the connection and runs the console client until
// it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway.upgrade_failed", "error", err)
		return
	}

	client := newConsoleClient(conn, s)
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.close()
	}()

	client.run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

type statusResponse struct {
	Status   string          `json:"status"`
	Uptime   string          `json:"uptime"`
	Channels map[string]bool `json:"channels"`
	Sessions int             `json:"sessions"`
	Jobs     int             `json:"jobs"`
	Clients  int             `json:"console_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Status:   "ok",
		Uptime:   time.Since(s.startedAt).Round(time.Second).String(),
		Channels: map[string]bool{},
		Clients:  s.ClientCount(),
	}
	if s.manager != nil {
		resp.Channels = s.manager.Status()
	}
	if s.sessions != nil {
		resp.Sessions = len(s.sessions.Keys())
	}
	if s.sched != nil {
		resp.Jobs = len(s.sched.List())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleWebhook routes POST /webhook/{channel} to the named channel's
// HandleIncoming. Whatever bytes the channel returns become the response
// body, which is how the Feishu URL-verification challenge gets echoed.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhook/"), "/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	if !s.limiter.Allow(clientIP(r)) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	hook := s.webhookChannel(name)
	if hook == nil {
		http.Error(w, "channel not available", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "body too large", http.StatusBadRequest)
		return
	}

	resp, err := hook.HandleIncoming(r.Context(), body)
	if err != nil {
		slog.Warn("gateway.webhook_rejected", "channel", name, "error", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if len(resp) > 0 {
		w.Write(resp)
		return
	}
	fmt.Fprint(w, `{"status":"ok"}`)
}

// webhookChannel resolves a running webhook-fed channel by name, or nil.
func (s *Server) webhookChannel(name string) channels.WebhookChannel {
	if s.manager == nil {
		return nil
	}
	ch, ok := s.manager.Get(name)
	if !ok || !ch.IsRunning() {
		return nil
	}
	hook, ok := ch.(channels.WebhookChannel)
	if !ok {
		return nil
	}
	return hook
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) registerClient(c *consoleClient) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	// Forward bus events to the console, except per-chunk stream events:
	// the requesting client already receives those as delta frames.
	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		if event.Name == "chunk" {
			return
		}
		c.trySend(eventFrame(event))
	})

	slog.Info("gateway.console_connected", "id", c.id)
}

func (s *Server) unregisterClient(c *consoleClient) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.eventPub.Unsubscribe(c.id)
	slog.Info("gateway.console_disconnected", "id", c.id)
}

// StartTestServer listens on 127.0.0.1:0 and returns the bound address and
// a start function. Used by integration tests and the demo command.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: s.BuildMux()}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}
