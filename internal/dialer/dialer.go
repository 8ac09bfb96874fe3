package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ControlFunc is a net.Dialer Control hook, run on the raw socket before
// connect.
type ControlFunc func(network, address string, c syscall.RawConn) error

// maxInterfaceName is IFNAMSIZ minus the trailing NUL.
const maxInterfaceName = 15

// New constructs the outbound Dialer described by cfg.
//
// If cfg.Interface is set and cfg.Control is nil, outbound sockets are bound
// to that interface with BindToDevice.
func New(cfg Config) (Dialer, error) {
	if err := validateInterfaceName(cfg.Interface); err != nil {
		return nil, err
	}

	control := cfg.Control
	if control == nil && cfg.Interface != "" {
		control = BindToDevice(cfg.Interface)
	}

	return &directDialer{cfg: cfg, control: control}, nil
}

func validateInterfaceName(name string) error {
	if len(name) > maxInterfaceName {
		return fmt.Errorf("invalid interface %q: longer than %d bytes", name, maxInterfaceName)
	}
	for _, r := range name {
		if r == '/' || r == ':' || r <= ' ' || r > '~' {
			return fmt.Errorf("invalid interface %q: bad character %q", name, r)
		}
	}
	return nil
}

// CheckInterface reports whether the named interface exists and is up.
func CheckInterface(name string) error {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return fmt.Errorf("interface %s: %w", name, err)
	}
	if ifi.Flags&net.FlagUp == 0 {
		return fmt.Errorf("interface %s: %w", name, ErrInterfaceDown)
	}
	return nil
}

// ErrInterfaceDown is returned by CheckInterface for an interface that exists
// but is administratively down.
var ErrInterfaceDown = errors.New("interface is down")

// DialError describes a failed outbound connection attempt.
type DialError struct {
	Network   string
	Address   string
	Interface string
	Err       error
}

func (e *DialError) Error() string {
	if e.Interface != "" {
		return fmt.Sprintf("dial %s %s via %s: %v", e.Network, e.Address, e.Interface, e.Err)
	}
	return fmt.Sprintf("dial %s %s: %v", e.Network, e.Address, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the dial failed by running out of time.
func (e *DialError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}
