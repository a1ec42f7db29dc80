//go:build !tsnet

package gateway

import (
	"context"
	"errors"
)

// serveTailscale requires building with -tags tsnet.
func (s *Server) serveTailscale(ctx context.Context) error {
	return errors.New("built without tsnet")
}
