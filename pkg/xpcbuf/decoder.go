// Package xpcbuf implements the little-endian primitives the X-Plane Connect
// wire format is built from: fixed-width integers and floats, byte-length
// prefixed strings and NUL-padded fields.
package xpcbuf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrShortBuffer is returned when the Reader has fewer bytes than required.
	ErrShortBuffer = errors.New("xpcbuf: insufficient data in buffer")
)

// Reader provides sequential, zero-copy decoding of XPC message payloads.
type Reader struct {
	data   []byte
	offset int
}

// NewReader wraps an existing byte slice for decoding.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.offset
}

// need checks that at least n bytes remain and returns the current offset.
func (r *Reader) need(n int) (int, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return 0, ErrShortBuffer
	}
	off := r.offset
	r.offset += n
	return off, nil
}

// Skip advances the read position by n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.need(n)
	return err
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	off, err := r.need(1)
	if err != nil {
		return 0, err
	}
	return r.data[off], nil
}

// ReadInt8 reads a single signed byte.
func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

// ReadUint16 reads a 16-bit unsigned integer.
func (r *Reader) ReadUint16() (uint16, error) {
	off, err := r.need(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(r.data[off:]), nil
}

// ReadUint32 reads a 32-bit unsigned integer.
func (r *Reader) ReadUint32() (uint32, error) {
	off, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.data[off:]), nil
}

// ReadInt32 reads a 32-bit signed integer.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadFloat32 reads a 32-bit IEEE 754 float.
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadFloat32s reads n consecutive floats into a freshly allocated slice.
func (r *Reader) ReadFloat32s(n int) ([]float32, error) {
	off, err := r.need(4 * n)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(r.data[off+4*i:]))
	}
	return out, nil
}

// ReadBytes reads n raw bytes. The returned slice aliases the Reader's
// underlying buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	off, err := r.need(n)
	if err != nil {
		return nil, err
	}
	return r.data[off : off+n], nil
}

// ReadString8 reads a string prefixed by a single length byte. The returned
// string holds its own copy of the data.
func (r *Reader) ReadString8() (string, error) {
	length, err := r.ReadUint8()
	if err != nil {
		return "", err
	}
	p, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadFixed reads an n-byte NUL-padded field and returns the text before
// the first NUL.
func (r *Reader) ReadFixed(n int) (string, error) {
	p, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p), nil
}

// ReadCString consumes the rest of the buffer and returns the text before
// the first NUL, or all of it when no NUL is present.
func (r *Reader) ReadCString() string {
	p := r.data[r.offset:]
	r.offset = len(r.data)
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p)
}
