package protocol

import (
	"math"

	"github.com/nasa/XPlaneConnect/pkg/xpcbuf"
)

const (
	// RrefNameSize is the fixed, NUL-padded name field of an RREF request.
	RrefNameSize   = 400
	maxRrefNameLen = RrefNameSize - 1
	rrefEntrySize  = 8
)

// Rref subscribes to (Freq > 0) or unsubscribes from (Freq == 0) a
// dataref. X-Plane streams its value back tagged with Index.
type Rref struct {
	Name  string
	Freq  int
	Index int
}

func (m *Rref) Opcode() Opcode { return OpRref }

func (m *Rref) Validate() error {
	if len(m.Name) == 0 || len(m.Name) > maxRrefNameLen {
		return invalid(OpRref, "dataref name length %d out of range 1..%d", len(m.Name), maxRrefNameLen)
	}
	if m.Freq < 0 || m.Freq > math.MaxInt32 {
		return invalid(OpRref, "frequency %d must be >= 0", m.Freq)
	}
	if m.Index < 0 || m.Index > math.MaxInt32 {
		return invalid(OpRref, "index %d must be >= 0", m.Index)
	}
	return nil
}

func (m *Rref) Encode(buf *xpcbuf.Buffer) {
	buf.WriteInt32(int32(m.Freq))
	buf.WriteInt32(int32(m.Index))
	buf.WriteFixed(m.Name, RrefNameSize)
}

func (m *Rref) Decode(r *xpcbuf.Reader) error {
	if err := exact(OpRref, r, 8+RrefNameSize); err != nil {
		return err
	}
	freq, err := r.ReadInt32()
	if err != nil {
		return err
	}
	idx, err := r.ReadInt32()
	if err != nil {
		return err
	}
	m.Freq, m.Index = int(freq), int(idx)
	m.Name, err = r.ReadFixed(RrefNameSize)
	return err
}

// RrefValue is one (index, value) pair of an RREF stream packet.
type RrefValue struct {
	Index int32
	Value float32
}

// RrefStream is a datagram of subscribed values pushed by X-Plane. Its
// header is "RREF" followed by an arbitrary fifth byte (X-Plane sends ',').
type RrefStream struct {
	Values []RrefValue
}

func (m *RrefStream) Opcode() Opcode  { return OpRref }
func (m *RrefStream) Validate() error { return nil }

func (m *RrefStream) Encode(buf *xpcbuf.Buffer) {
	for _, v := range m.Values {
		buf.WriteInt32(v.Index)
		buf.WriteFloat32(v.Value)
	}
}

// Decode reads floor(len/8) pairs; a trailing partial pair is ignored.
func (m *RrefStream) Decode(r *xpcbuf.Reader) error {
	n := r.Remaining() / rrefEntrySize
	m.Values = make([]RrefValue, n)
	for i := range m.Values {
		idx, err := r.ReadInt32()
		if err != nil {
			return err
		}
		v, err := r.ReadFloat32()
		if err != nil {
			return err
		}
		m.Values[i] = RrefValue{Index: idx, Value: v}
	}
	return nil
}

// MarshalRrefStream builds a stream packet the way X-Plane does, with ','
// as the pad byte.
func MarshalRrefStream(values []RrefValue) []byte {
	buf := xpcbuf.NewBuffer(HeaderSize + rrefEntrySize*len(values))
	writeHeader(buf, OpRref, ',')
	(&RrefStream{Values: values}).Encode(buf)
	return buf.Bytes()
}
