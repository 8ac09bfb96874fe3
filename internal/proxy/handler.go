package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/die-net/egressproxy/internal/dialer"
	"github.com/die-net/egressproxy/internal/obs"
	"github.com/die-net/egressproxy/internal/relay"
	"github.com/die-net/egressproxy/internal/request"
)

const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// handle owns c for its whole lifetime. Failures end here: they are
// reported to the observer and never reach the accept loop.
func (s *Server) handle(c net.Conn) {
	start := time.Now()
	ev := obs.CloseEvent{Peer: c.RemoteAddr().String()}
	s.cfg.Observer.Opened(ev.Peer)

	err := s.serveConn(c, &ev)
	_ = c.Close()

	ev.Duration = time.Since(start)
	if err != nil {
		ev.Err = err
		ev.Kind = Kind(err)
	}
	s.cfg.Observer.Closed(ev)
}

func (s *Server) serveConn(c net.Conn, ev *obs.CloseEvent) error {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// Unblocks the request read and the dial on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	req, err := s.readRequest(c)
	if errors.Is(err, request.ErrUnsupportedMethod) {
		s.cfg.Observer.NonTunnel(ev.Peer, req.Method, req.URI)
		s.writeError(c, http.StatusMethodNotAllowed)
		return err
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if req != nil {
			ev.Target = req.URI
		}
		if errors.Is(err, request.ErrMalformedRequest) {
			s.writeError(c, http.StatusBadRequest)
		}
		return err
	}
	ev.Target = req.Address()

	target, err := s.cfg.Dialer.DialContext(ctx, "tcp", ev.Target)
	if err != nil {
		s.writeError(c, http.StatusBadGateway)
		return err
	}
	defer target.Close()

	if _, err := io.WriteString(c, connectEstablished); err != nil {
		return &relay.StreamError{Op: "write", Dir: relay.TargetToClient, Err: err}
	}
	ev.Tunneled = true
	s.cfg.Observer.Established(ev.Peer, ev.Target)

	if len(req.Rest) > 0 {
		n, err := target.Write(req.Rest)
		ev.BytesUp += int64(n)
		if err != nil {
			return &relay.StreamError{Op: "write", Dir: relay.ClientToTarget, Err: err}
		}
	}

	stats, err := relay.Pump(ctx, c, target, s.cfg.IdleTimeout)
	ev.BytesUp += stats.ClientToTarget
	ev.BytesDown += stats.TargetToClient
	return err
}

// readRequest does the single read the request line is parsed from.
func (s *Server) readRequest(c net.Conn) (*request.Request, error) {
	if s.cfg.NegotiationTimeout > 0 {
		_ = c.SetReadDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	buf := make([]byte, request.MaxSize)
	n, err := c.Read(buf)
	if n == 0 && err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: connection closed before request", request.ErrMalformedRequest)
		}
		return nil, fmt.Errorf("read request: %w", err)
	}

	if s.cfg.NegotiationTimeout > 0 {
		_ = c.SetReadDeadline(time.Time{})
	}

	return request.Parse(buf[:n])
}

// writeError simulates http.Error() on the raw client connection. It is a
// no-op unless ErrorResponses is set. The body is only the status text; the
// underlying error goes to the observer.
func (s *Server) writeError(w io.Writer, code int) {
	if !s.cfg.ErrorResponses {
		return
	}
	text := http.StatusText(code)
	_, _ = fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\n\r\n%s\r\n", code, text, text)
}

// Kind classifies a connection error for logs and metrics.
func Kind(err error) string {
	var de *dialer.DialError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, request.ErrUnsupportedMethod):
		return "unsupported"
	case errors.Is(err, request.ErrMalformedRequest):
		return "malformed"
	case errors.As(err, &de):
		return "dial"
	case errors.Is(err, relay.ErrIdleTimeout):
		return "idle"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, os.ErrDeadlineExceeded):
		return "timeout"
	default:
		return "stream"
	}
}
