package dialer

import (
	"context"
	"net"
)

type directDialer struct {
	cfg     Config
	control ControlFunc
}

// NewDirectDialer returns a dialer that connects without interface binding.
func NewDirectDialer(cfg Config) Dialer {
	cfg.Interface = ""
	return &directDialer{cfg: cfg, control: cfg.Control}
}

func (d *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	nd := net.Dialer{
		Timeout:         d.cfg.DialTimeout,
		KeepAliveConfig: d.cfg.KeepAlive,
		Control:         d.control,
	}

	c, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, &DialError{Network: network, Address: address, Interface: d.cfg.Interface, Err: err}
	}

	return c, nil
}
