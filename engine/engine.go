// Package engine provides the scaffolding shared by the sender and
// receiver state machines: the outbound-send capability they both
// depend on, the single-threaded cooperative event loop, and the
// byte-stream source/sink wiring.
package engine

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/rdpproto/rdp/internal/assembly"
	"github.com/rdpproto/rdp/wire"
)

// Sender is the narrow outbound capability a state machine needs: hand
// an encoded packet to the transport for delivery to peer. A
// *transport.Transport satisfies this interface; tests substitute a
// recorder that never touches a real socket.
type Sender interface {
	Send(b []byte, peer *net.UDPAddr) error
}

// Receiver is the bounded-wait inbound capability the event loop
// needs. A *transport.Transport satisfies this interface.
type Receiver interface {
	Recv(timeout time.Duration) (data []byte, from *net.UDPAddr, timedOut bool, err error)
}

// Machine is the state machine interface the event loop drives. Both
// sender.Engine and receiver.Engine implement it.
type Machine interface {
	// HandleInbound processes one fully-decoded inbound packet. Any
	// synchronous response packets it triggers must be sent before
	// HandleInbound returns: every packet is fully processed, including
	// its replies, before the next datagram is examined.
	HandleInbound(h wire.Header, payload []byte, from *net.UDPAddr) error
	// HandleTimeout is invoked when Recv's bounded wait elapses with no
	// datagram. The receiver's Machine implementation is a no-op since
	// the receiver's wait is unbounded and this is never called.
	HandleTimeout() error
	// Done reports whether the state machine has reached its terminal
	// state and the event loop should stop.
	Done() bool
}

// Run drives the single-threaded, cooperative event loop: wait for a
// datagram with a bounded timeout, feed arrived bytes through the
// assembly buffer, dispatch every complete packet to m, and on timeout
// invoke m.HandleTimeout (the sender's retransmission scan). A timeout
// of zero blocks indefinitely, matching the receiver's purely reactive
// wait.
func Run(rx Receiver, m Machine, timeout time.Duration) error {
	var buf assembly.Buffer
	for !m.Done() {
		data, from, timedOut, err := rx.Recv(timeout)
		if err != nil {
			return errors.Wrap(err, "engine: recv")
		}
		if timedOut {
			if err := m.HandleTimeout(); err != nil {
				return errors.Wrap(err, "engine: handle timeout")
			}
			continue
		}
		if err := buf.Append(data); err != nil {
			// The datagram would overflow the assembly buffer. Drop it,
			// together with any bytes already buffered, and keep going.
			buf.Reset()
			continue
		}
		for {
			h, payload, consumed, derr := wire.Decode(buf.Bytes())
			if derr != nil {
				break // incomplete packet; retained for the next datagram.
			}
			if verr := h.Validate(); verr != nil {
				buf.Consume(consumed)
				continue // malformed header: drop this packet, keep scanning.
			}
			payloadCopy := append([]byte(nil), payload...)
			buf.Consume(consumed)
			if err := m.HandleInbound(h, payloadCopy, from); err != nil {
				return errors.Wrap(err, "engine: handle inbound")
			}
			if m.Done() {
				return nil
			}
		}
	}
	return nil
}
