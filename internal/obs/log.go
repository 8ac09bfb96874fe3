package obs

import (
	"context"
	"log/slog"
	"time"
)

// LogObserver writes connection events to a slog.Logger.
//
// Open, established and clean close events are logged at debug level.
// Non-tunnel requests are logged at info, failures and accept errors at warn.
type LogObserver struct {
	log *slog.Logger
}

func NewLogObserver(log *slog.Logger) *LogObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LogObserver{log: log}
}

func (o *LogObserver) Opened(peer string) {
	o.log.Debug("connection opened", slog.String("peer", peer))
}

func (o *LogObserver) AcceptError(err error, retry time.Duration) {
	o.log.Warn("accept failed", slog.Any("error", err), slog.Duration("retry", retry))
}

func (o *LogObserver) NonTunnel(peer, method, uri string) {
	o.log.Info("non-tunnel request", slog.String("peer", peer), slog.String("method", method), slog.String("uri", uri))
}

func (o *LogObserver) Established(peer, target string) {
	o.log.Debug("tunnel established", slog.String("peer", peer), slog.String("target", target))
}

func (o *LogObserver) Closed(ev CloseEvent) {
	level := slog.LevelDebug
	attrs := []slog.Attr{
		slog.String("peer", ev.Peer),
		slog.Bool("tunneled", ev.Tunneled),
		slog.Int64("bytes_up", ev.BytesUp),
		slog.Int64("bytes_down", ev.BytesDown),
		slog.Duration("duration", ev.Duration),
	}
	if ev.Target != "" {
		attrs = append(attrs, slog.String("target", ev.Target))
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("kind", ev.Kind), slog.Any("error", ev.Err))
		level = levelForKind(ev.Kind)
	}
	o.log.LogAttrs(context.Background(), level, "connection closed", attrs...)
}

// Idle teardowns, non-CONNECT requests and shutdown are routine.
func levelForKind(kind string) slog.Level {
	switch kind {
	case "idle", "unsupported", "canceled":
		return slog.LevelDebug
	default:
		return slog.LevelWarn
	}
}
