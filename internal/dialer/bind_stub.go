//go:build !linux

package dialer

import (
	"errors"
	"syscall"
)

const BindSupported = false

// ErrBindUnsupported is returned when dialing through an interface on a
// platform without SO_BINDTODEVICE.
var ErrBindUnsupported = errors.New("binding to an interface is only supported on linux")

func BindToDevice(_ string) ControlFunc {
	return func(_, _ string, _ syscall.RawConn) error {
		return ErrBindUnsupported
	}
}
