package wire_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/rdpproto/rdp/wire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := wire.Header{
		Type:           wire.DAT | wire.ACK,
		SequenceNumber: 102,
		AckNumber:      101,
		WindowSize:     4096,
	}
	payload := []byte("ab")

	buf := wire.Encode(h, payload)
	require.Len(t, buf, wire.HeaderSize+len(payload))
	require.Equal(t, byte(0x0A), buf[9], "byte 9 must always be the frame marker")

	got, gotPayload, consumed, err := wire.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), consumed)
	require.Equal(t, payload, gotPayload)

	h.PayloadSize = uint16(len(payload)) // Encode stamps this field.
	if diff := cmp.Diff(h, got); diff != "" {
		t.Fatalf("decoded header mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	h := wire.Header{Type: wire.DAT}
	buf := wire.Encode(h, []byte("hello"))

	for n := 0; n < len(buf); n++ {
		_, _, _, err := wire.Decode(buf[:n])
		require.ErrorIs(t, err, wire.ErrShortBuffer, "expected short buffer at %d/%d bytes", n, len(buf))
	}

	_, _, consumed, err := wire.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), consumed)
}

func TestHeaderValidate(t *testing.T) {
	require.NoError(t, wire.Header{Type: wire.SYN}.Validate())
	require.NoError(t, wire.Header{Type: wire.DAT, PayloadSize: 4}.Validate())
	require.Error(t, wire.Header{Type: wire.DAT, PayloadSize: 0}.Validate())
	require.Error(t, wire.Header{Type: wire.SYN, PayloadSize: 4}.Validate())
}

func TestTypeName(t *testing.T) {
	cases := []struct {
		flags wire.Flags
		want  string
	}{
		{wire.SYN, "SYN"},
		{wire.SYN | wire.ACK, "SYN/ACK"},
		{wire.ACK, "ACK"},
		{wire.DAT, "DAT"},
		{wire.DAT | wire.ACK, "UNK"},
		{wire.FIN, "FIN"},
		{wire.FIN | wire.ACK, "UNK"},
		{wire.RST, "UNK"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, wire.TypeName(c.flags), "flags=%v", c.flags)
	}
}

func TestAppendEncodeMatchesEncode(t *testing.T) {
	h := wire.Header{Type: wire.FIN, SequenceNumber: 104}
	want := wire.Encode(h, nil)

	dst := make([]byte, 0, 32)
	dst = wire.AppendEncode(dst, h, nil)
	require.Equal(t, want, dst)
}
