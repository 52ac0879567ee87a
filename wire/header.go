// Package wire implements the RDP packet codec: a fixed 10-byte header
// followed by a payload. [Decode] returns the payload as a slice of the
// caller-supplied buffer without copying it. See [Header] and
// [Encode]/[Decode].
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the wire size in bytes of a packet header.
const HeaderSize = 10

// Flags is the packet type bitmask occupying header byte 0.
type Flags uint8

// Packet type flags. Mutually coherent combinations: SYN, SYN|ACK, ACK,
// DAT, DAT|ACK, FIN, FIN|ACK.
const (
	DAT Flags = 1 << iota
	ACK
	SYN
	FIN
	RST
)

// HasAll reports whether flags has every bit set in mask.
func (f Flags) HasAll(mask Flags) bool { return f&mask == mask }

// HasAny reports whether flags has any bit set in mask.
func (f Flags) HasAny(mask Flags) bool { return f&mask != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "NONE"
	}
	var s string
	add := func(bit Flags, name string) {
		if f&bit != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(SYN, "SYN")
	add(FIN, "FIN")
	add(ACK, "ACK")
	add(DAT, "DAT")
	add(RST, "RST")
	return s
}

// frameMarker is the literal byte written to header byte 9 on every
// encode. It conveys no information on the wire; [Decode] ignores it.
const frameMarker = 0x0A

// Header is the fixed 10-byte RDP packet header: a `{u8,u16,u16,u16,u16}`
// struct with one trailing framing byte. Every multi-byte field is
// little-endian. Byte 9 carries no field; [Encode] always overwrites it
// with a literal newline (0x0A).
type Header struct {
	Type           Flags
	SequenceNumber uint16
	AckNumber      uint16
	PayloadSize    uint16
	WindowSize     uint16
}

// Validate reports a non-nil error if the header's fields are not
// mutually coherent, per the data model invariant: PayloadSize > 0 iff
// the DAT flag is set.
func (h Header) Validate() error {
	if (h.PayloadSize > 0) != h.Type.HasAny(DAT) {
		return fmt.Errorf("wire: payload_size=%d inconsistent with flags %s", h.PayloadSize, h.Type)
	}
	return nil
}

// ErrShortBuffer is returned by [Decode] when fewer than
// HeaderSize+payload_size bytes are available to decode a complete
// packet. Callers should retain the bytes and retry once more data
// arrives; it is not a protocol error.
var ErrShortBuffer = errors.New("wire: short buffer")

// Encode serializes header and payload into a newly allocated buffer:
// HeaderSize bytes of header followed by len(payload) bytes of
// payload. header.PayloadSize is overwritten to len(payload) before
// encoding so callers never need to keep the two in sync by hand.
func Encode(h Header, payload []byte) []byte {
	h.PayloadSize = uint16(len(payload))
	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, h)
	copy(buf[HeaderSize:], payload)
	return buf
}

// AppendEncode appends the encoded header and payload to dst and
// returns the extended slice, avoiding an allocation when dst has
// spare capacity.
func AppendEncode(dst []byte, h Header, payload []byte) []byte {
	h.PayloadSize = uint16(len(payload))
	start := len(dst)
	dst = append(dst, make([]byte, HeaderSize+len(payload))...)
	putHeader(dst[start:], h)
	copy(dst[start+HeaderSize:], payload)
	return dst
}

func putHeader(buf []byte, h Header) {
	buf[0] = byte(h.Type)
	binary.LittleEndian.PutUint16(buf[1:3], h.SequenceNumber)
	binary.LittleEndian.PutUint16(buf[3:5], h.AckNumber)
	binary.LittleEndian.PutUint16(buf[5:7], h.PayloadSize)
	binary.LittleEndian.PutUint16(buf[7:9], h.WindowSize)
	buf[9] = frameMarker
}

// Decode parses a header and its payload from the front of buf. It
// returns the decoded header, a slice of buf holding the payload (no
// copy), and the number of bytes consumed (HeaderSize+payload_size).
// Decode returns [ErrShortBuffer] when buf does not yet hold a
// complete packet; the caller should keep buf around and retry once
// more bytes have arrived.
func Decode(buf []byte) (h Header, payload []byte, consumed int, err error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, 0, ErrShortBuffer
	}
	h = Header{
		Type:           Flags(buf[0]),
		SequenceNumber: binary.LittleEndian.Uint16(buf[1:3]),
		AckNumber:      binary.LittleEndian.Uint16(buf[3:5]),
		PayloadSize:    binary.LittleEndian.Uint16(buf[5:7]),
		WindowSize:     binary.LittleEndian.Uint16(buf[7:9]),
	}
	// buf[9] is the frame marker; it carries no information and is not validated.
	need := HeaderSize + int(h.PayloadSize)
	if len(buf) < need {
		return Header{}, nil, 0, ErrShortBuffer
	}
	return h, buf[HeaderSize:need], need, nil
}

// TypeName renders the packet's flags as one of the log tokens used in
// the packet log stream: ACK, SYN/ACK, SYN, DAT, FIN, or UNK for
// anything else. Matching is by exact flag equality, not by any single
// bit's presence, so combinations this protocol never emits (DAT|ACK,
// FIN|ACK) render as UNK rather than being folded into DAT or FIN.
func TypeName(f Flags) string {
	switch f {
	case SYN | ACK:
		return "SYN/ACK"
	case SYN:
		return "SYN"
	case FIN:
		return "FIN"
	case DAT:
		return "DAT"
	case ACK:
		return "ACK"
	default:
		return "UNK"
	}
}
