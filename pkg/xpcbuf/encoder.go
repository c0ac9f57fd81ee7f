package xpcbuf

import (
	"encoding/binary"
	"math"
)

var le = binary.LittleEndian

// Buffer accumulates an XPC payload. Every multi-byte field is
// little-endian, the byte order the plugin reads.
type Buffer struct {
	data []byte
}

// NewBuffer returns an empty Buffer with room for size bytes.
func NewBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, 0, size)}
}

// Bytes returns the encoded datagram. It aliases the buffer until the next
// write or Reset.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) Len() int { return len(b.data) }

// Reset keeps the allocation and drops the contents.
func (b *Buffer) Reset() { b.data = b.data[:0] }

// WriteUint8 and WriteInt8 write the one-byte fields: aircraft numbers,
// counts, the gear byte, the pause code.
func (b *Buffer) WriteUint8(v uint8) { b.data = append(b.data, v) }
func (b *Buffer) WriteInt8(v int8)   { b.data = append(b.data, byte(v)) }

// WriteUint16 writes a port.
func (b *Buffer) WriteUint16(v uint16) { b.data = le.AppendUint16(b.data, v) }

// WriteUint32 and WriteInt32 write row ids, view ids, RREF indices and
// screen coordinates.
func (b *Buffer) WriteUint32(v uint32) { b.data = le.AppendUint32(b.data, v) }
func (b *Buffer) WriteInt32(v int32)   { b.data = le.AppendUint32(b.data, uint32(v)) }

func (b *Buffer) WriteFloat32(v float32) {
	b.data = le.AppendUint32(b.data, math.Float32bits(v))
}

// WriteFloat32s writes a value run. Counts, when the message has one, are
// written separately by the caller.
func (b *Buffer) WriteFloat32s(vs []float32) {
	for _, v := range vs {
		b.data = le.AppendUint32(b.data, math.Float32bits(v))
	}
}

func (b *Buffer) WriteRaw(p []byte) { b.data = append(b.data, p...) }

// WriteString8 writes a dataref name, message or command behind its
// one-byte length. Validation keeps len(s) <= 255.
func (b *Buffer) WriteString8(s string) {
	b.data = append(append(b.data, byte(len(s))), s...)
}

// WriteFixed writes s into an n-byte NUL-padded field such as the RREF
// name. Anything past n is cut.
func (b *Buffer) WriteFixed(s string, n int) {
	if len(s) > n {
		s = s[:n]
	}
	b.data = append(b.data, s...)
	for i := len(s); i < n; i++ {
		b.data = append(b.data, 0)
	}
}
