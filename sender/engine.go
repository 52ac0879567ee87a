// Package sender implements the handshake initiator, window-bounded
// data transmitter, retransmission manager and graceful-close
// initiator for RDP's unidirectional file transfer. It is the
// counterpart to package receiver and shares the same
// total-transition-function structure.
package sender

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rdpproto/rdp/engine"
	"github.com/rdpproto/rdp/internal/rdplog"
	"github.com/rdpproto/rdp/retransmit"
	"github.com/rdpproto/rdp/wire"
)

// DefaultInitialSequence is the constant initial sequence number used
// absent an explicit one in Config. Any 16-bit value is valid; 100 is
// kept fixed here to match known-good wire traces of this protocol.
const DefaultInitialSequence = 100

// DefaultRetransmitTimeout is the sender's fixed retransmission timer,
// default 100ms. It is also the bounded wait duration the event loop
// passes to Recv.
const DefaultRetransmitTimeout = 100 * time.Millisecond

// progressLogInterval bounds how often logProgress emits an info-level
// line, regardless of how many ACKs or retransmits occur in between.
const progressLogInterval = time.Second

// Config configures a new Engine.
type Config struct {
	// Source is the byte stream read in window-sized chunks and
	// transmitted. A read that returns io.EOF, or that returns zero bytes
	// and no error, marks the end of input.
	Source io.Reader
	// Out is the outbound send capability, normally a *transport.Transport.
	Out engine.Sender
	// Peer is the receiver's address; every packet is sent here.
	Peer *net.UDPAddr
	// Log receives one entry per packet sent or received.
	Log *rdplog.Logger
	// InitialSequence overrides DefaultInitialSequence when non-zero.
	InitialSequence uint16
	// RetransmitTimeout overrides DefaultRetransmitTimeout when non-zero.
	RetransmitTimeout time.Duration
	// Now overrides time.Now for deterministic tests.
	Now func() time.Time
}

// Engine is the sender-side protocol engine: one instance per process,
// owning the source and the retransmission registry for the
// connection's lifetime.
type Engine struct {
	state State

	iss              uint16 // initial sequence number, S0
	nextSeq          uint16
	lastAcked        uint16
	haveLastAcked    bool
	peerWindow       uint16
	pendingHandshake uint16
	sourceDrained    bool
	respondedToFin   bool // we have ACKed the peer's own FIN

	registry *retransmit.Registry
	timeout  time.Duration

	bytesSent      uint64
	bytesAcked     uint64
	retransmits    uint64
	lastProgressAt time.Time

	source io.Reader
	out    engine.Sender
	peer   *net.UDPAddr
	log    *rdplog.Logger
	now    func() time.Time
}

// New returns an Engine in StateWaiting. Call Start to send the
// initial SYN before driving it with engine.Run.
func New(cfg Config) *Engine {
	iss := cfg.InitialSequence
	if iss == 0 {
		iss = DefaultInitialSequence
	}
	timeout := cfg.RetransmitTimeout
	if timeout == 0 {
		timeout = DefaultRetransmitTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		source:   cfg.Source,
		out:      cfg.Out,
		peer:     cfg.Peer,
		log:      cfg.Log,
		iss:      iss,
		timeout:  timeout,
		registry: &retransmit.Registry{},
		now:      now,
	}
}

// State returns the engine's current connection state.
func (e *Engine) State() State { return e.state }

// Done reports whether the engine has reached StateClosed.
func (e *Engine) Done() bool { return e.state == StateClosed }

// Timeout is the bounded wait the event loop should pass to Recv, so
// the sender services its retransmission timer on every idle tick.
func (e *Engine) Timeout() time.Duration { return e.timeout }

// Start sends the initial SYN and transitions to StateSynSent. It must
// be called once before the engine is driven by engine.Run.
func (e *Engine) Start() error {
	e.nextSeq = e.iss
	if err := e.send(wire.SYN, e.nextSeq, 0, nil); err != nil {
		return err
	}
	e.state = StateSynSent
	return nil
}

// HandleTimeout implements engine.Machine: on a retransmission-timer
// tick, retransmit the single oldest unacknowledged segment, selected
// by smallest sent_time rather than smallest sequence number so 16-bit
// wraparound never misorders the choice.
func (e *Engine) HandleTimeout() error {
	if e.state != StateSending && e.state != StateEOFWaitAcks && e.state != StateFinSent {
		return nil
	}
	expired := e.registry.Expired(e.now(), e.timeout)
	if len(expired) == 0 {
		return nil
	}
	return e.retransmit(expired[0].Sequence)
}

// HandleInbound implements engine.Machine.
func (e *Engine) HandleInbound(h wire.Header, payload []byte, from *net.UDPAddr) error {
	if e.log != nil {
		e.log.Packet(rdplog.Recv, h)
	}
	switch e.state {
	case StateSynSent:
		if h.Type.HasAll(wire.SYN|wire.ACK) && h.AckNumber == e.nextSeq {
			return e.onSynAck(h)
		}
	case StateSending, StateEOFWaitAcks:
		if h.Type.HasAny(wire.ACK) && !h.Type.HasAny(wire.SYN) {
			return e.onAck(h)
		}
		if h.Type == wire.FIN {
			return e.onPeerFin(h)
		}
	case StateFinSent:
		if h.Type.HasAny(wire.ACK) && h.AckNumber == e.pendingHandshake {
			e.state = StateFinAcked
			if e.respondedToFin {
				return e.finish()
			}
			return nil
		}
		if h.Type == wire.FIN {
			return e.onPeerFin(h)
		}
	case StateFinAcked:
		if h.Type == wire.FIN {
			return e.onPeerFin(h)
		}
	}
	return nil
}

func (e *Engine) onSynAck(h wire.Header) error {
	e.peerWindow = h.WindowSize
	if err := e.send(wire.ACK, 0, h.SequenceNumber, nil); err != nil {
		return err
	}
	e.nextSeq = h.SequenceNumber + 1
	e.state = StateSending
	return e.trySendNext()
}

func (e *Engine) onAck(h wire.Header) error {
	e.peerWindow = h.WindowSize
	if seg, ok := e.registry.Remove(h.AckNumber); ok {
		e.lastAcked = h.AckNumber
		e.haveLastAcked = true
		e.bytesAcked += uint64(seg.Size())
		e.logProgress()
		if e.registry.Len() == 0 {
			return e.trySendNext()
		}
		return nil
	}
	// No matching in-flight segment. A duplicate ACK of the most
	// recently acknowledged sequence is a loss signal, not an error.
	if e.haveLastAcked && h.AckNumber == e.lastAcked {
		return e.retransmit(e.oldestInFlightSeq())
	}
	return nil
}

func (e *Engine) onPeerFin(h wire.Header) error {
	if err := e.send(wire.ACK, 0, h.SequenceNumber, nil); err != nil {
		return err
	}
	e.respondedToFin = true
	if e.state == StateFinAcked {
		return e.finish()
	}
	return nil
}

// trySendNext reads the next window-sized chunk from the source and
// transmits it, or transitions to EOF_SENT_WAIT_ACKS / initiates close
// once the source is drained and the registry is empty.
func (e *Engine) trySendNext() error {
	if e.registry.Len() > 0 {
		return nil
	}
	if e.sourceDrained {
		return e.startClose()
	}
	window := e.peerWindow
	if window == 0 {
		window = 1
	}
	chunk := make([]byte, window)
	n, err := e.source.Read(chunk)
	if n == 0 {
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "sender: read source")
		}
		e.sourceDrained = true
		e.state = StateEOFWaitAcks
		return e.startClose()
	}
	chunk = chunk[:n]
	seq := e.nextSeq
	if err := e.send(wire.DAT, seq, 0, chunk); err != nil {
		return err
	}
	e.bytesSent += uint64(n)
	e.logProgress()
	e.registry.Insert(retransmit.Segment{
		Sequence: seq,
		Data:     chunk,
		SentTime: e.now(),
	})
	e.nextSeq += uint16(n)
	if err == io.EOF {
		e.sourceDrained = true
	}
	return nil
}

func (e *Engine) startClose() error {
	if e.registry.Len() > 0 {
		return nil
	}
	seq := e.nextSeq
	if err := e.send(wire.FIN, seq, 0, nil); err != nil {
		return err
	}
	e.pendingHandshake = seq
	e.state = StateFinSent
	return nil
}

func (e *Engine) retransmit(seq uint16) error {
	seg, ok := e.registry.Get(seq)
	if !ok {
		return nil
	}
	if e.log != nil {
		e.log.WithField("seq", seq).Debug("retransmitting")
	}
	if err := e.send(wire.DAT, seg.Sequence, 0, seg.Data); err != nil {
		return err
	}
	e.registry.MarkSent(seq, e.now())
	e.retransmits++
	e.logProgress()
	return nil
}

// logProgress emits an info-level bytes-sent/bytes-acked/retransmit-count
// line, gated to fire at most once per progressLogInterval regardless of
// how often the caller invokes it.
func (e *Engine) logProgress() {
	if e.log == nil {
		return
	}
	now := e.now()
	if !e.lastProgressAt.IsZero() && now.Sub(e.lastProgressAt) < progressLogInterval {
		return
	}
	e.lastProgressAt = now
	e.log.WithFields(logrus.Fields{
		"bytes_sent":  e.bytesSent,
		"bytes_acked": e.bytesAcked,
		"retransmits": e.retransmits,
	}).Info("progress")
}

func (e *Engine) oldestInFlightSeq() uint16 {
	seg, ok := e.registry.Oldest()
	if !ok {
		return 0
	}
	return seg.Sequence
}

// finish closes the source and transitions to StateClosed once the
// FIN/ACK exchange has completed on both sides: our FIN has been
// acknowledged, and we have acknowledged the peer's own FIN.
func (e *Engine) finish() error {
	e.state = StateClosed
	if closer, ok := e.source.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// send builds, logs and transmits one packet.
func (e *Engine) send(flags wire.Flags, seq, ack uint16, payload []byte) error {
	h := wire.Header{
		Type:           flags,
		SequenceNumber: seq,
		AckNumber:      ack,
	}
	encoded := wire.Encode(h, payload)
	h.PayloadSize = uint16(len(payload))
	if err := h.Validate(); err != nil {
		return errors.Wrap(err, "sender: invalid outbound header")
	}
	if e.log != nil {
		e.log.Packet(rdplog.Sent, h)
	}
	return e.out.Send(encoded, e.peer)
}
