//go:build tsnet

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tailscale.com/tsnet"
)

// serveTailscale exposes the gateway mux on the tailnet. Node state lives
// under StateDir so the identity survives restarts unless Ephemeral is set.
// Blocks until the listener fails or ctx is cancelled.
func (s *Server) serveTailscale(ctx context.Context) error {
	tc := s.cfg.Gateway.Tailscale

	ts := &tsnet.Server{
		Hostname:  tc.Hostname,
		Dir:       tc.StateDir,
		AuthKey:   tc.AuthKey,
		Ephemeral: tc.Ephemeral,
	}
	defer ts.Close()

	ln, err := ts.Listen("tcp", ":80")
	if err != nil {
		return fmt.Errorf("tsnet listen: %w", err)
	}

	slog.Info("gateway.tailscale_listening", "hostname", tc.Hostname)

	srv := &http.Server{
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("tsnet serve: %w", err)
	}
	return nil
}
