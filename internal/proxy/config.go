package proxy

import (
	"time"

	"github.com/die-net/egressproxy/internal/dialer"
	"github.com/die-net/egressproxy/internal/obs"
)

type Config struct {
	// NegotiationTimeout bounds the wait for the client's request bytes.
	// Zero waits forever.
	NegotiationTimeout time.Duration

	// IdleTimeout tears a tunnel down after this long without data in
	// either direction. Zero uses relay.DefaultIdleTimeout; a negative value
	// disables the idle timeout.
	IdleTimeout time.Duration

	// ErrorResponses sends 400/405/502 status lines instead of silently
	// closing on failures before the tunnel is up.
	ErrorResponses bool

	Dialer   dialer.Dialer
	Observer obs.Observer
}
