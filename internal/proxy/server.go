package proxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/die-net/egressproxy/internal/obs"
	"github.com/die-net/egressproxy/internal/relay"
)

// Server accepts CONNECT clients and tunnels them through its dialer.
type Server struct {
	ctx context.Context
	cfg Config
	wg  sync.WaitGroup
}

// NewServer constructs a Server. Canceling ctx closes every active tunnel.
func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Observer == nil {
		cfg.Observer = obs.Nop{}
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = relay.DefaultIdleTimeout
	}
	return &Server{ctx: ctx, cfg: cfg}
}

// Accept failures other than a closed listener are retried with a backoff
// starting at minAcceptDelay and doubling up to maxAcceptDelay.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Serve accepts connections on ln until it is closed, handling each in its
// own goroutine. It returns nil once ln has been closed, or once the server
// context is done while an accept failure is being retried. Other accept
// errors, such as running out of file descriptors, are reported to the
// observer and retried.
func (s *Server) Serve(ln net.Listener) error {
	var delay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			s.cfg.Observer.AcceptError(err, delay)

			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-s.ctx.Done():
				t.Stop()
				return nil
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(c)
		}()
	}
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}
