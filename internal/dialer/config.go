package dialer

import (
	"net"
	"time"
)

type Config struct {
	// Interface is the network interface outbound sockets are bound to.
	// Empty leaves egress to the routing table.
	Interface string

	DialTimeout time.Duration
	KeepAlive   net.KeepAliveConfig

	// Control overrides the socket control hook derived from Interface.
	Control ControlFunc
}
