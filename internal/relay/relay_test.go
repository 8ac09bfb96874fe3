package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"
)

type pumpResult struct {
	stats Stats
	err   error
}

// startPump runs Pump over two pipes and returns the far ends: the test
// plays the client on clientEnd and the target on targetEnd.
func startPump(t *testing.T, ctx context.Context, idle time.Duration) (clientEnd, targetEnd net.Conn, done <-chan pumpResult) {
	t.Helper()

	clientEnd, clientSide := net.Pipe()
	targetSide, targetEnd := net.Pipe()

	ch := make(chan pumpResult, 1)
	go func() {
		stats, err := Pump(ctx, clientSide, targetSide, idle)
		ch <- pumpResult{stats: stats, err: err}
	}()

	t.Cleanup(func() {
		_ = clientEnd.Close()
		_ = targetEnd.Close()
	})

	return clientEnd, targetEnd, ch
}

func waitResult(t *testing.T, done <-chan pumpResult) pumpResult {
	t.Helper()

	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not return")
		return pumpResult{}
	}
}

func TestPumpBothDirections(t *testing.T) {
	t.Parallel()

	client, target, done := startPump(t, context.Background(), time.Minute)

	up := []byte("client hello")
	go func() { _, _ = client.Write(up) }()
	got := make([]byte, len(up))
	if _, err := io.ReadFull(target, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, up) {
		t.Fatalf("target got %q want %q", got, up)
	}

	down := []byte("server hello")
	go func() { _, _ = target.Write(down) }()
	got = make([]byte, len(down))
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, down) {
		t.Fatalf("client got %q want %q", got, down)
	}

	_ = client.Close()

	r := waitResult(t, done)
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if r.stats.ClientToTarget != int64(len(up)) || r.stats.TargetToClient != int64(len(down)) {
		t.Fatalf("stats=%+v", r.stats)
	}
}

func TestPumpLargePayloadFidelity(t *testing.T) {
	t.Parallel()

	client, target, done := startPump(t, context.Background(), time.Minute)

	// Several chunks worth, so ordering across reads is exercised.
	payload := make([]byte, 5*ChunkSize+123)
	if _, err := rand.Read(payload); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := client.Write(payload)
		errc <- err
	}()

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(target, got); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload corrupted in transit")
	}

	_ = target.Close()
	r := waitResult(t, done)
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.stats.ClientToTarget != int64(len(payload)) {
		t.Fatalf("ClientToTarget=%d want %d", r.stats.ClientToTarget, len(payload))
	}
}

func TestPumpEOFClosesOtherSide(t *testing.T) {
	t.Parallel()

	client, target, done := startPump(t, context.Background(), time.Minute)

	_ = target.Close()

	r := waitResult(t, done)
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}

	// The client's pipe must have been closed by Pump.
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := client.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF on client, got %v", err)
	}
}

func TestPumpIdleTimeout(t *testing.T) {
	t.Parallel()

	idle := 100 * time.Millisecond
	_, _, done := startPump(t, context.Background(), idle)

	start := time.Now()
	r := waitResult(t, done)
	if !errors.Is(r.err, ErrIdleTimeout) {
		t.Fatalf("got %v want ErrIdleTimeout", r.err)
	}
	if elapsed := time.Since(start); elapsed < idle {
		t.Fatalf("torn down after %v, before idle window %v", elapsed, idle)
	}
}

func TestPumpActivityInOneDirectionKeepsTunnelAlive(t *testing.T) {
	t.Parallel()

	idle := 200 * time.Millisecond
	client, target, done := startPump(t, context.Background(), idle)

	// Drain the target side so client writes complete.
	go func() { _, _ = io.Copy(io.Discard, target) }()

	// Only the client talks; the target direction sees no data at all, but
	// the tunnel must stay up while the client keeps sending.
	for range 8 {
		if _, err := client.Write([]byte("tick")); err != nil {
			t.Fatalf("write failed while active: %v", err)
		}
		select {
		case r := <-done:
			t.Fatalf("pump ended during activity: %v", r.err)
		case <-time.After(idle / 2):
		}
	}

	r := waitResult(t, done)
	if !errors.Is(r.err, ErrIdleTimeout) {
		t.Fatalf("got %v want ErrIdleTimeout", r.err)
	}
	if r.stats.ClientToTarget != 8*4 {
		t.Fatalf("ClientToTarget=%d", r.stats.ClientToTarget)
	}
}

func TestPumpContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	_, _, done := startPump(t, ctx, time.Minute)

	cancel()

	r := waitResult(t, done)
	if !errors.Is(r.err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", r.err)
	}
}

func TestPumpWriteErrorIsStreamError(t *testing.T) {
	t.Parallel()

	clientEnd, clientSide := net.Pipe()
	targetSide, targetEnd := net.Pipe()
	defer clientEnd.Close()

	// The target is gone before any data is forwarded.
	_ = targetEnd.Close()

	done := make(chan pumpResult, 1)
	go func() {
		stats, err := Pump(context.Background(), clientSide, targetSide, time.Minute)
		done <- pumpResult{stats: stats, err: err}
	}()

	go func() { _, _ = clientEnd.Write([]byte("lost")) }()

	r := waitResult(t, done)
	// Either the target read sees EOF first or the client write fails; both
	// end the session and neither may hang.
	if r.err != nil {
		var se *StreamError
		if !errors.As(r.err, &se) {
			t.Fatalf("got %v want *StreamError", r.err)
		}
	}
}

func TestPumpStalledReaderTimesOutWrite(t *testing.T) {
	t.Parallel()

	idle := 200 * time.Millisecond
	client, target, done := startPump(t, context.Background(), idle)

	// The target keeps the tunnel active downstream but never reads, so the
	// upstream write can only finish by its deadline.
	go func() { _, _ = io.Copy(io.Discard, client) }()
	go func() {
		for {
			if _, err := target.Write([]byte("ping")); err != nil {
				return
			}
			time.Sleep(idle / 4)
		}
	}()
	go func() { _, _ = client.Write([]byte("never read")) }()

	start := time.Now()
	r := waitResult(t, done)

	var se *StreamError
	if !errors.As(r.err, &se) || se.Op != "write" || se.Dir != ClientToTarget {
		t.Fatalf("got %v want client_to_target write StreamError", r.err)
	}
	if !errors.Is(r.err, os.ErrDeadlineExceeded) {
		t.Fatalf("got %v want deadline exceeded", r.err)
	}
	if elapsed := time.Since(start); elapsed > 4*idle {
		t.Fatalf("write stalled for %v with idle window %v", elapsed, idle)
	}
}

func TestStreamErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := &StreamError{Op: "write", Dir: ClientToTarget, Err: io.ErrClosedPipe}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatal("StreamError does not unwrap")
	}
	if err.Error() != "relay client_to_target write: io: read/write on closed pipe" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestPumpOverTCP(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for range 2 {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	target, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer target.Close()

	clientSide, targetSide := <-accepted, <-accepted

	done := make(chan pumpResult, 1)
	go func() {
		stats, err := Pump(context.Background(), clientSide, targetSide, time.Minute)
		done <- pumpResult{stats: stats, err: err}
	}()

	msg := []byte("over tcp")
	if _, err := client.Write(msg); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(msg))
	if _, err := io.ReadFull(target, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("got %q want %q", got, msg)
	}

	_ = client.Close()
	r := waitResult(t, done)
	if r.err != nil {
		t.Fatal(r.err)
	}

	_ = target.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := target.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected target to be closed, got %v", err)
	}
}
