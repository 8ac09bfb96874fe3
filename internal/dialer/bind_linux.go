//go:build linux

package dialer

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// BindSupported is true where BindToDevice can pin sockets to an interface.
const BindSupported = true

// BindToDevice returns a ControlFunc that sets SO_BINDTODEVICE on the socket
// so its traffic leaves through iface.
//
// This needs CAP_NET_RAW on kernels older than 5.7.
func BindToDevice(iface string) ControlFunc {
	return func(_, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			ctrlErr = unix.BindToDevice(int(fd), iface)
		})
		if err != nil {
			return err
		}
		if ctrlErr != nil {
			return fmt.Errorf("bind to device %s: %w", iface, ctrlErr)
		}
		return nil
	}
}
