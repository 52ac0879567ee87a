package receiver

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdpproto/rdp/wire"
)

// fakeSink wraps a bytes.Buffer and records whether Close was called.
type fakeSink struct {
	bytes.Buffer
	closed bool
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

// recordingOut records every packet handed to Send instead of touching a socket.
type recordingOut struct {
	sent []wire.Header
}

func (r *recordingOut) Send(b []byte, _ *net.UDPAddr) error {
	h, _, _, err := wire.Decode(b)
	if err != nil {
		return err
	}
	r.sent = append(r.sent, h)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeSink, *recordingOut) {
	t.Helper()
	sink := &fakeSink{}
	out := &recordingOut{}
	e := New(Config{Sink: sink, Out: out})
	return e, sink, out
}

var testPeer = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}

func TestReceiverHelloWorldTransfer(t *testing.T) {
	e, sink, out := newTestEngine(t)

	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.SYN, SequenceNumber: 100}, nil, testPeer))
	require.Equal(t, StateSynSentAck, e.State())
	require.Len(t, out.sent, 1)
	require.Equal(t, wire.SYN|wire.ACK, out.sent[0].Type)
	require.EqualValues(t, 101, out.sent[0].SequenceNumber)
	require.EqualValues(t, 100, out.sent[0].AckNumber)

	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.ACK, AckNumber: 101}, nil, testPeer))
	require.Equal(t, StateReceiving, e.State())

	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.DAT, SequenceNumber: 102, PayloadSize: 2}, []byte("ab"), testPeer))
	require.Equal(t, "ab", sink.String())
	require.EqualValues(t, 104, e.ExpectedNext())
	last := out.sent[len(out.sent)-1]
	require.Equal(t, wire.ACK, last.Type)
	require.EqualValues(t, 102, last.AckNumber)

	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.FIN, SequenceNumber: 104}, nil, testPeer))
	require.Equal(t, StateFinSent, e.State())
	ackFin := out.sent[len(out.sent)-2:]
	require.Equal(t, wire.ACK, ackFin[0].Type)
	require.EqualValues(t, 104, ackFin[0].AckNumber)
	require.Equal(t, wire.FIN, ackFin[1].Type)
	require.EqualValues(t, 105, ackFin[1].SequenceNumber)

	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.ACK, AckNumber: 105}, nil, testPeer))
	require.Equal(t, StateClosed, e.State())
	require.True(t, e.Done())
	require.True(t, sink.closed)
}

func TestReceiverEmptyFileTransfer(t *testing.T) {
	e, sink, _ := newTestEngine(t)
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.SYN, SequenceNumber: 0}, nil, testPeer))
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.ACK, AckNumber: 1}, nil, testPeer))
	require.Equal(t, StateReceiving, e.State())
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.FIN, SequenceNumber: 2}, nil, testPeer))
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.ACK, AckNumber: 3}, nil, testPeer))
	require.True(t, e.Done())
	require.Equal(t, "", sink.String())
}

func TestReceiverOutOfOrderDatTriggersCursorAck(t *testing.T) {
	e, sink, out := newTestEngine(t)
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.SYN, SequenceNumber: 0}, nil, testPeer))
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.ACK, AckNumber: 1}, nil, testPeer))

	// Sequence jumps ahead of expectedNext (2): simulates a lost DAT.
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.DAT, SequenceNumber: 4, PayloadSize: 2}, []byte("cd"), testPeer))
	require.Equal(t, "", sink.String(), "out-of-order payload must not be written")
	last := out.sent[len(out.sent)-1]
	require.Equal(t, wire.ACK, last.Type)
	require.EqualValues(t, 2, last.AckNumber, "cursor ACK must carry expectedNext")
}

func TestReceiverDuplicateDatIsIdempotent(t *testing.T) {
	e, sink, out := newTestEngine(t)
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.SYN, SequenceNumber: 0}, nil, testPeer))
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.ACK, AckNumber: 1}, nil, testPeer))

	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.DAT, SequenceNumber: 2, PayloadSize: 2}, []byte("ab"), testPeer))
	require.Equal(t, "ab", sink.String())

	// Re-delivery of the same DAT (peer never saw our ACK): cursor ACK, no re-write.
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.DAT, SequenceNumber: 2, PayloadSize: 2}, []byte("ab"), testPeer))
	require.Equal(t, "ab", sink.String(), "duplicate DAT must not be written twice")
	last := out.sent[len(out.sent)-1]
	require.EqualValues(t, 4, last.AckNumber)
}

func TestReceiverWindowSplitTransfer(t *testing.T) {
	e, sink, _ := newTestEngine(t)
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.SYN, SequenceNumber: 0}, nil, testPeer))
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.ACK, AckNumber: 1}, nil, testPeer))

	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.DAT, SequenceNumber: 2, PayloadSize: 2}, []byte("ab"), testPeer))
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.DAT, SequenceNumber: 4, PayloadSize: 2}, []byte("cd"), testPeer))
	require.Equal(t, "abcd", sink.String())
	require.EqualValues(t, 6, e.ExpectedNext())
}

func TestReceiverAdvertisesHalfConfiguredCapacity(t *testing.T) {
	sink := &fakeSink{}
	out := &recordingOut{}
	e := New(Config{Sink: sink, Out: out, RecvBufferCapacity: 4000})
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.SYN, SequenceNumber: 0}, nil, testPeer))
	require.EqualValues(t, 2000, out.sent[0].WindowSize)
}

func TestReceiverSynOutsideWaitingStateIsIgnored(t *testing.T) {
	e, _, out := newTestEngine(t)
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.SYN, SequenceNumber: 0}, nil, testPeer))
	sent := len(out.sent)
	// Duplicate SYN while already awaiting the handshake-finishing ACK: dropped.
	require.NoError(t, e.HandleInbound(wire.Header{Type: wire.SYN, SequenceNumber: 50}, nil, testPeer))
	require.Equal(t, sent, len(out.sent))
	require.Equal(t, StateSynSentAck, e.State())
}
