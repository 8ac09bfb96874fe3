package dialer

// Package dialer provides the outbound dialer used by egressproxy.
//
// Dialers implement a small interface (DialContext). The default dialer pins
// every outbound socket to a named network interface with SO_BINDTODEVICE
// before connecting, so tunneled traffic leaves through that interface
// regardless of the routing table.
