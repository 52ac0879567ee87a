// Package receiver implements the receiver's handshake acceptor,
// in-order byte acceptor and graceful-close responder. It mirrors the
// teacher's ControlBlock/Handler split (total transition functions over
// a state enum) but keyed to this protocol's 16-bit, equality-only
// sequence space rather than RFC9293's 32-bit ordered one.
package receiver

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/rdpproto/rdp/engine"
	"github.com/rdpproto/rdp/internal/rdplog"
	"github.com/rdpproto/rdp/wire"
)

// DefaultRecvBufferCapacity is the assumed size, in bytes, of the
// receiver's contiguous packet-assembly buffer used to compute the
// advertised window: half the available free space. Because this
// engine writes every accepted DAT straight through to the sink rather
// than buffering it for later reassembly, the buffer's free space is
// always its full capacity — see DESIGN.md for this Open Question's
// resolution.
const DefaultRecvBufferCapacity = 8192

// Config configures a new Engine.
type Config struct {
	// Sink receives accepted payload bytes in order. If it implements
	// io.Closer, it is closed on a clean teardown.
	Sink io.Writer
	// Out is the outbound send capability, normally a *transport.Transport.
	Out engine.Sender
	// Log receives one entry per packet sent or received, plus
	// operational messages.
	Log *rdplog.Logger
	// RecvBufferCapacity overrides DefaultRecvBufferCapacity when non-zero.
	RecvBufferCapacity uint16
	// Now overrides time.Now for deterministic tests.
	Now func() time.Time
}

// Engine is the receiver-side protocol engine: one instance per
// process, owning the sink and (indirectly) the socket for the
// connection's lifetime.
type Engine struct {
	state            State
	expectedNext     uint16
	pendingHandshake uint16
	recvWindow       uint16

	sink io.Writer
	out  engine.Sender
	log  *rdplog.Logger
	now  func() time.Time

	peer *net.UDPAddr
}

// New returns an Engine in StateWaiting, ready to process inbound
// packets via HandleInbound.
func New(cfg Config) *Engine {
	capacity := cfg.RecvBufferCapacity
	if capacity == 0 {
		capacity = DefaultRecvBufferCapacity
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		sink:       cfg.Sink,
		out:        cfg.Out,
		log:        cfg.Log,
		now:        now,
		recvWindow: capacity / 2,
	}
}

// State returns the engine's current connection state.
func (e *Engine) State() State { return e.state }

// ExpectedNext returns the receiver's cursor: the sequence number the
// next in-order DAT must carry.
func (e *Engine) ExpectedNext() uint16 { return e.expectedNext }

// Done reports whether the engine has reached StateClosed.
func (e *Engine) Done() bool { return e.state == StateClosed }

// HandleTimeout is a no-op: the receiver's wait is unbounded and
// purely reactive; it never times out.
func (e *Engine) HandleTimeout() error { return nil }

// HandleInbound processes one inbound packet against the receiver's
// state transition table. Packets that do not match any legal
// transition for the current state are silently dropped and
// HandleInbound returns nil. The peer address is learned from the
// first inbound datagram.
func (e *Engine) HandleInbound(h wire.Header, payload []byte, from *net.UDPAddr) error {
	if e.peer == nil {
		e.peer = from
		if e.log != nil {
			e.log.SetPeer(from.String())
		}
	}
	if e.log != nil {
		e.log.Packet(rdplog.Recv, h)
	}

	switch e.state {
	case StateWaiting:
		if h.Type == wire.SYN {
			return e.onSyn(h)
		}
	case StateSynSentAck:
		if h.Type.HasAny(wire.ACK) && h.AckNumber == e.pendingHandshake {
			e.state = StateReceiving
		}
	case StateReceiving:
		switch {
		case h.Type.HasAny(wire.DAT):
			return e.onDat(h, payload)
		case h.Type == wire.FIN:
			return e.onFin(h)
		}
	case StateFinSent:
		if h.Type.HasAny(wire.ACK) && h.AckNumber == e.pendingHandshake {
			return e.onFinAck()
		}
		if h.Type == wire.FIN {
			// Peer's ACK of our FIN was lost and it retransmitted its own
			// FIN; the close sequence rule permits replying again.
			return e.onFin(h)
		}
	}
	return nil
}

func (e *Engine) onSyn(h wire.Header) error {
	e.pendingHandshake = h.SequenceNumber + 1
	e.expectedNext = h.SequenceNumber + 2
	if err := e.send(wire.SYN|wire.ACK, h.SequenceNumber+1, h.SequenceNumber); err != nil {
		return err
	}
	e.state = StateSynSentAck
	return nil
}

func (e *Engine) onDat(h wire.Header, payload []byte) error {
	if h.SequenceNumber != e.expectedNext {
		// Out-of-order or duplicate: reply with a cursor ACK carrying
		// the expected sequence number as a loss signal.
		return e.send(wire.ACK, 0, e.expectedNext)
	}
	if len(payload) > 0 {
		if _, err := e.sink.Write(payload); err != nil {
			return errors.Wrap(err, "receiver: write payload")
		}
	}
	ackSeq := h.SequenceNumber
	e.expectedNext += h.PayloadSize
	return e.send(wire.ACK, 0, ackSeq)
}

func (e *Engine) onFin(h wire.Header) error {
	if err := e.send(wire.ACK, 0, h.SequenceNumber); err != nil {
		return err
	}
	finSeq := h.SequenceNumber + 1
	if err := e.send(wire.FIN, finSeq, 0); err != nil {
		return err
	}
	e.pendingHandshake = finSeq
	e.state = StateFinSent
	return nil
}

func (e *Engine) onFinAck() error {
	e.state = StateClosed
	if closer, ok := e.sink.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// send builds, logs and transmits one packet. seq and ack are applied
// as SequenceNumber/AckNumber; ack is ignored for non-ACK flag sets by
// convention (callers pass 0 when the field is unused by the receiver).
func (e *Engine) send(flags wire.Flags, seq, ack uint16) error {
	h := wire.Header{
		Type:           flags,
		SequenceNumber: seq,
		AckNumber:      ack,
		WindowSize:     e.recvWindow,
	}
	if err := h.Validate(); err != nil {
		return errors.Wrap(err, "receiver: invalid outbound header")
	}
	if e.log != nil {
		e.log.Packet(rdplog.Sent, h)
	}
	return e.out.Send(wire.Encode(h, nil), e.peer)
}
