// Package obs receives per-connection events from the proxy and turns them
// into log lines and metrics.
package obs

import "time"

// Observer receives lifecycle events for one client connection at a time.
// Implementations must be safe for concurrent use.
type Observer interface {
	// Opened is called once a client connection is accepted.
	Opened(peer string)
	// AcceptError is called when accepting fails and the listener will be
	// retried after retry.
	AcceptError(err error, retry time.Duration)
	// NonTunnel is called for a well-formed request that is not CONNECT.
	NonTunnel(peer, method, uri string)
	// Established is called after the 200 response has been written.
	Established(peer, target string)
	// Closed is called exactly once when the connection is torn down.
	Closed(ev CloseEvent)
}

// CloseEvent summarizes a finished connection.
type CloseEvent struct {
	Peer   string
	Target string // empty if no CONNECT target was parsed

	// Tunneled is true if the 200 response was sent.
	Tunneled bool

	BytesUp   int64 // client to target
	BytesDown int64 // target to client
	Duration  time.Duration

	// Kind classifies Err; empty on a clean close.
	Kind string
	Err  error
}

// Multi fans events out to every non-nil observer in order.
func Multi(observers ...Observer) Observer {
	var m multi
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

type multi []Observer

func (m multi) Opened(peer string) {
	for _, o := range m {
		o.Opened(peer)
	}
}

func (m multi) AcceptError(err error, retry time.Duration) {
	for _, o := range m {
		o.AcceptError(err, retry)
	}
}

func (m multi) NonTunnel(peer, method, uri string) {
	for _, o := range m {
		o.NonTunnel(peer, method, uri)
	}
}

func (m multi) Established(peer, target string) {
	for _, o := range m {
		o.Established(peer, target)
	}
}

func (m multi) Closed(ev CloseEvent) {
	for _, o := range m {
		o.Closed(ev)
	}
}

// Nop discards all events.
type Nop struct{}

func (Nop) Opened(string)                    {}
func (Nop) AcceptError(error, time.Duration) {}
func (Nop) NonTunnel(string, string, string) {}
func (Nop) Established(string, string)       {}
func (Nop) Closed(CloseEvent)                {}
