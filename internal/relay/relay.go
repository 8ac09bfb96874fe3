// Package relay pumps bytes between the two halves of an established tunnel.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ChunkSize is the largest single read forwarded in one write.
const ChunkSize = 8192

// DefaultIdleTimeout is how long a tunnel may go without traffic in either
// direction before it is torn down.
const DefaultIdleTimeout = 30 * time.Second

// ErrIdleTimeout is returned when neither side sent data for the idle window.
var ErrIdleTimeout = errors.New("relay: idle timeout")

// errEndOfStream stops the other direction when one side reaches EOF.
var errEndOfStream = errors.New("relay: end of stream")

// Direction names one half of a tunnel.
type Direction string

const (
	ClientToTarget Direction = "client_to_target"
	TargetToClient Direction = "target_to_client"
)

// StreamError is a read or write failure on one side of the tunnel.
type StreamError struct {
	Op  string // "read" or "write"
	Dir Direction
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("relay %s %s: %v", e.Dir, e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Stats counts the bytes delivered in each direction.
type Stats struct {
	ClientToTarget int64
	TargetToClient int64
}

type session struct {
	idle time.Duration
	last atomic.Int64 // unix nanos of the most recent read with data
}

func (s *session) touch() {
	s.last.Store(time.Now().UnixNano())
}

func (s *session) deadline() time.Time {
	return time.Unix(0, s.last.Load()).Add(s.idle)
}

// Pump copies data between client and target until either side reaches EOF,
// an I/O error occurs, ctx is canceled, or no data moves in either direction
// for idle. A non-positive idle disables the idle timeout.
//
// Both connections are closed before Pump returns. A clean end of stream
// returns a nil error.
func Pump(ctx context.Context, client, target net.Conn, idle time.Duration) (Stats, error) {
	s := &session{idle: idle}
	s.touch()

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = target.Close()
		})
	}
	defer closeBoth()

	var up, down atomic.Int64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.pump(target, client, ClientToTarget, &up)
	})

	g.Go(func() error {
		return s.pump(client, target, TargetToClient, &down)
	})

	// Closing both sides unblocks whichever direction is still reading.
	stop := context.AfterFunc(gctx, closeBoth)
	defer stop()

	err := g.Wait()
	stats := Stats{ClientToTarget: up.Load(), TargetToClient: down.Load()}

	if errors.Is(err, errEndOfStream) {
		err = nil
	}
	if ctx.Err() != nil && (err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)) {
		err = ctx.Err()
	}
	return stats, err
}

func (s *session) pump(dst, src net.Conn, dir Direction, n *atomic.Int64) error {
	bufp := chunkPool.Get().(*[]byte)
	defer chunkPool.Put(bufp)
	buf := *bufp

	for {
		if s.idle > 0 {
			_ = src.SetReadDeadline(s.deadline())
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			s.touch()
			if s.idle > 0 {
				_ = dst.SetWriteDeadline(time.Now().Add(s.idle))
			}
			nw, werr := dst.Write(buf[:nr])
			n.Add(int64(nw))
			if werr == nil && nw != nr {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return &StreamError{Op: "write", Dir: dir, Err: werr}
			}
		}

		if rerr != nil {
			switch {
			case errors.Is(rerr, io.EOF):
				return errEndOfStream
			case errors.Is(rerr, os.ErrDeadlineExceeded):
				// The other direction may have been busy; only give up once
				// the shared window has really passed.
				if time.Now().Before(s.deadline()) {
					continue
				}
				return ErrIdleTimeout
			default:
				return &StreamError{Op: "read", Dir: dir, Err: rerr}
			}
		}
	}
}
