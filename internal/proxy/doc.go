package proxy

// Package proxy implements the egressproxy CONNECT server.
//
// Server accepts client connections and runs one handler goroutine per
// connection. The handler reads the request line, dials the target through
// the configured egress dialer, answers with "200 Connection Established"
// and hands both sockets to the relay until the tunnel ends.
