// Package request classifies the first bytes a proxy client sends.
//
// Only the HTTP request line is examined. A "CONNECT host:port" line yields
// a tunnel target; any other method is reported as unsupported so the caller
// can log it and hang up. The parser works on a single read and never asks
// for more bytes.
package request

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// MaxSize is the largest initial read the parser is given.
const MaxSize = 4096

// MethodConnect is the only method that establishes a tunnel.
const MethodConnect = "CONNECT"

var (
	// ErrMalformedRequest is returned for an empty or unparsable request line
	// or a CONNECT target that is not a valid host:port.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrUnsupportedMethod is returned for well-formed request lines whose
	// method is not CONNECT.
	ErrUnsupportedMethod = errors.New("unsupported method")
)

var headerEnd = []byte("\r\n\r\n")

// Request is the parsed request line of a client connection.
type Request struct {
	Method string
	URI    string

	// Host and Port are only set for CONNECT requests.
	Host string
	Port int

	// Rest holds any bytes that followed the end of the header block in the
	// same read.
	Rest []byte
}

// Address returns the dial address of a CONNECT request.
func (r *Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Parse classifies buf, the client's first read.
//
// On ErrUnsupportedMethod the returned Request carries Method and URI so the
// caller can log them. On ErrMalformedRequest the Request may be partially
// filled or nil.
func Parse(buf []byte) (*Request, error) {
	text := strings.ToValidUTF8(string(buf), "")

	line, _, _ := strings.Cut(text, "\r\n")
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedRequest, line)
	}

	r := &Request{Method: fields[0], URI: fields[1]}
	if r.Method != MethodConnect {
		return r, fmt.Errorf("%w: %s", ErrUnsupportedMethod, r.Method)
	}

	host, port, err := SplitTarget(r.URI)
	if err != nil {
		return r, err
	}
	r.Host, r.Port = host, port

	if i := bytes.Index(buf, headerEnd); i >= 0 && i+len(headerEnd) < len(buf) {
		r.Rest = bytes.Clone(buf[i+len(headerEnd):])
	}

	return r, nil
}

// SplitTarget splits a CONNECT target into host and port. IPv6 literals must
// be bracketed.
func SplitTarget(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("%w: target %q: %w", ErrMalformedRequest, target, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("%w: target %q: empty host", ErrMalformedRequest, target)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("%w: target %q: invalid port", ErrMalformedRequest, target)
	}

	return host, int(port), nil
}
