// Package rdplog implements the packet logger: one structured event
// line per packet sent or received. It wraps logrus rather than
// hand-rolling a formatter from scratch, following the
// structured-logger pattern the rest of the retrieval corpus uses for
// this concern.
package rdplog

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/rdpproto/rdp/wire"
)

// Direction distinguishes a sent packet from a received one for the
// log line's second field ("s" or "r").
type Direction byte

const (
	Sent Direction = 's'
	Recv Direction = 'r'
)

// Logger emits one line per packet through a logrus.Logger configured
// with operationalFormatter, plus ordinary leveled operational messages
// (such as the sender's retransmission notices and progress lines) for
// which the embedded *logrus.Logger is used directly.
type Logger struct {
	*logrus.Logger
	local string
	peer  string
}

// New returns a Logger that writes to out. local and peer are the
// "ip:port" strings every packet line is tagged with; operational
// messages are rendered by logrus's standard text formatter and do not
// carry them.
func New(out io.Writer, local, peer string) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&operationalFormatter{local: local, peer: peer})
	l.SetLevel(logrus.TraceLevel)
	return &Logger{Logger: l, local: local, peer: peer}
}

// SetPeer updates the peer address used in subsequent log lines. The
// receiver learns its peer's address from the first inbound datagram
// and so cannot set it until then.
func (l *Logger) SetPeer(peer string) {
	l.peer = peer
	l.Logger.SetFormatter(&operationalFormatter{local: l.local, peer: peer})
}

// Packet emits one packet log line:
//
//	<HH:MM:SS> <s|r> <local> <peer> <TYPE> <seq-or-ack> <payload-or-window>
//
// The sixth field is h.AckNumber when the ACK flag is set, else
// h.SequenceNumber; the seventh is h.PayloadSize for DAT, else
// h.WindowSize.
func (l *Logger) Packet(dir Direction, h wire.Header) {
	seqOrAck := h.SequenceNumber
	if h.Type.HasAny(wire.ACK) {
		seqOrAck = h.AckNumber
	}
	payloadOrWindow := h.WindowSize
	if h.Type.HasAny(wire.DAT) {
		payloadOrWindow = h.PayloadSize
	}
	l.WithFields(logrus.Fields{
		"dir":    byte(dir),
		"local":  l.local,
		"peer":   l.peer,
		"type":   wire.TypeName(h.Type),
		"field6": seqOrAck,
		"field7": payloadOrWindow,
		"packet": true,
	}).Trace("packet")
}

// operationalFormatter renders packet entries in the fixed text layout
// documented on [Logger.Packet] and falls back to logrus's standard
// leveled rendering for every other (operational) log entry.
type operationalFormatter struct {
	local, peer string
	std         logrus.TextFormatter
}

func (f *operationalFormatter) Format(e *logrus.Entry) ([]byte, error) {
	if isPacket, _ := e.Data["packet"].(bool); !isPacket {
		return f.std.Format(e)
	}
	line := fmt.Sprintf("%s %c %s %s %s %v %v\n",
		e.Time.Format("15:04:05"),
		e.Data["dir"],
		e.Data["local"],
		e.Data["peer"],
		e.Data["type"],
		e.Data["field6"],
		e.Data["field7"],
	)
	return []byte(line), nil
}
