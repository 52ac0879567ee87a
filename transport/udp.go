// Package transport implements the datagram transport adapter: a thin
// wrapper around a bound UDP socket exposing a blocking send and a
// bounded-wait receive. It does no protocol interpretation of its own.
package transport

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// MaxDatagramSize is the largest UDP payload the adapter will attempt
// to read in one Recv call.
const MaxDatagramSize = 65535

// Transport wraps one bound UDP socket, exclusively owned by the
// engine it serves for the lifetime of the process.
type Transport struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket on localAddr ("ip:port") and returns a
// Transport ready to Send/Recv. Bind failure is fatal and is returned
// wrapped with call-site context.
func Listen(localAddr string) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: resolve local address %q", localAddr)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: bind %q", localAddr)
	}
	return &Transport{conn: conn}, nil
}

// LocalAddr returns the address the socket is bound to.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Send blocks until b has been handed to the kernel for delivery to
// peer. A send failure is fatal: the engine should terminate with a
// non-zero exit on a non-nil return.
func (t *Transport) Send(b []byte, peer *net.UDPAddr) error {
	_, err := t.conn.WriteToUDP(b, peer)
	if err != nil {
		return errors.Wrapf(err, "transport: send to %s", peer)
	}
	return nil
}

// Recv waits up to timeout for one datagram. A zero or negative
// timeout blocks indefinitely, matching the receiver's unbounded,
// purely reactive wait. TimedOut is true, with a nil error, when no
// datagram arrived within timeout; it is the sender event loop's cue
// to run the retransmission scan.
func (t *Transport) Recv(timeout time.Duration) (data []byte, from *net.UDPAddr, timedOut bool, err error) {
	if timeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, nil, false, errors.Wrap(err, "transport: set read deadline")
		}
	} else {
		if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, nil, false, errors.Wrap(err, "transport: clear read deadline")
		}
	}

	buf := make([]byte, MaxDatagramSize)
	n, from, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil, true, nil
		}
		return nil, nil, false, errors.Wrap(err, "transport: recv")
	}
	return buf[:n], from, false, nil
}

// Close releases the underlying socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}
