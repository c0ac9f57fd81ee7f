package protocol

import (
	"errors"
	"fmt"

	"github.com/nasa/XPlaneConnect/pkg/xpcbuf"
)

// Message is any XPC datagram body. Encode writes the payload only; the
// header is written by Marshal.
type Message interface {
	Opcode() Opcode
	Validate() error
	Encode(buf *xpcbuf.Buffer)
	Decode(r *xpcbuf.Reader) error
}

// Marshal validates m and returns the complete datagram. Nothing is
// allocated for a message that fails validation.
func Marshal(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	buf := xpcbuf.NewBuffer(64)
	writeHeader(buf, m.Opcode(), 0)
	m.Encode(buf)
	return buf.Bytes(), nil
}

// Unmarshal checks that packet carries m's opcode and decodes the payload
// into m. Any header, length or truncation problem is a *ProtocolError.
// The pad byte is not checked.
func Unmarshal(packet []byte, m Message) error {
	op, err := PeekOpcode(packet)
	if err != nil {
		return malformed(m.Opcode(), packet, "%v", err)
	}
	if op != m.Opcode() {
		return malformed(m.Opcode(), packet, "unexpected header %q", string(op))
	}
	if err := m.Decode(xpcbuf.NewReader(packet[HeaderSize:])); err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			pe.Raw = packet
			return pe
		}
		return malformed(m.Opcode(), packet, "%v", err)
	}
	return nil
}

// PeekOpcode returns the opcode of packet without decoding its payload.
func PeekOpcode(packet []byte) (Opcode, error) {
	if len(packet) < HeaderSize {
		return "", xpcbuf.ErrShortBuffer
	}
	return Opcode(packet[:4]), nil
}

func writeHeader(buf *xpcbuf.Buffer, op Opcode, pad byte) {
	buf.WriteFixed(string(op), 4)
	buf.WriteUint8(pad)
}

// exact fails unless r holds exactly n payload bytes.
func exact(op Opcode, r *xpcbuf.Reader, n int) error {
	if r.Remaining() != n {
		return &ProtocolError{Op: string(op), Reason: fmt.Sprintf("unexpected length %d, want %d",
			r.Remaining()+HeaderSize, n+HeaderSize)}
	}
	return nil
}
