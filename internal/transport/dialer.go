// Package transport opens the datagram sockets telemetry is sent over.
package transport

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Dialer opens a connection to addr. Each telemetry attempt dials its own
// socket and closes it before returning.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// NetDialer is the production Dialer backed by net.Dialer.
type NetDialer struct {
	Timeout time.Duration
}

// DialContext implements Dialer.
func (d NetDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	return nd.DialContext(ctx, network, addr)
}

// Address joins host and port.
func Address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
