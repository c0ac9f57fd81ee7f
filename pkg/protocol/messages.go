package protocol

import (
	"math"

	"github.com/nasa/XPlaneConnect/pkg/xpcbuf"
)

// Unchanged marks a position or control value the simulator should leave
// as it is.
const Unchanged float32 = -998

// Limits enforced when building requests.
const (
	MaxAircraft   = 20
	MaxDataRows   = 134
	MaxDataIndex  = 134
	MaxNameLen    = 255
	MaxValues     = 255
	MaxDrefs      = 255
	MaxTextLen    = 255
	MaxWaypoints  = 255
	MaxCommandLen = 255
)

// isUnchanged reports whether v is the -998 sentinel within float32 noise.
func isUnchanged(v float32) bool {
	return math.Abs(float64(v)+998) < 1e-4
}

func padded(values []float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i < len(values) {
			out[i] = values[i]
		} else {
			out[i] = Unchanged
		}
	}
	return out
}

func checkAircraft(op Opcode, ac int) error {
	if ac < 0 || ac > MaxAircraft {
		return invalid(op, "aircraft %d out of range 0..%d", ac, MaxAircraft)
	}
	return nil
}

// Conn asks the plugin to send replies for this client to Port.
type Conn struct {
	Port int
}

func (m *Conn) Opcode() Opcode { return OpConn }

func (m *Conn) Validate() error {
	if m.Port < 0 || m.Port > math.MaxUint16 {
		return invalid(OpConn, "port %d out of range 0..65535", m.Port)
	}
	return nil
}

func (m *Conn) Encode(buf *xpcbuf.Buffer) {
	buf.WriteUint16(uint16(m.Port))
}

func (m *Conn) Decode(r *xpcbuf.Reader) error {
	if err := exact(OpConn, r, 2); err != nil {
		return err
	}
	p, err := r.ReadUint16()
	m.Port = int(p)
	return err
}

// ConnAck is the CONF reply to Conn and carries the connection id the
// plugin assigned.
type ConnAck struct {
	ID uint8
}

func (m *ConnAck) Opcode() Opcode  { return OpConf }
func (m *ConnAck) Validate() error { return nil }

func (m *ConnAck) Encode(buf *xpcbuf.Buffer) {
	buf.WriteUint8(m.ID)
}

func (m *ConnAck) Decode(r *xpcbuf.Reader) error {
	if err := exact(OpConf, r, 1); err != nil {
		return err
	}
	var err error
	m.ID, err = r.ReadUint8()
	return err
}

// Simulation control codes accepted by Simu.
const (
	SimuResume = 0
	SimuPause  = 1
	SimuToggle = 2
	// 100..119 pause a single aircraft, 200..219 resume one.
	SimuPauseAircraft  = 100
	SimuResumeAircraft = 200
)

// Simu pauses or resumes the simulation.
type Simu struct {
	Code int
}

func (m *Simu) Opcode() Opcode { return OpSimu }

func (m *Simu) Validate() error {
	c := m.Code
	switch {
	case c >= 0 && c <= 2:
	case c >= SimuPauseAircraft && c < SimuPauseAircraft+MaxAircraft:
	case c >= SimuResumeAircraft && c < SimuResumeAircraft+MaxAircraft:
	default:
		return invalid(OpSimu, "pause code %d not in {0,1,2,100-119,200-219}", c)
	}
	return nil
}

func (m *Simu) Encode(buf *xpcbuf.Buffer) {
	buf.WriteUint8(uint8(m.Code))
}

func (m *Simu) Decode(r *xpcbuf.Reader) error {
	if err := exact(OpSimu, r, 1); err != nil {
		return err
	}
	c, err := r.ReadUint8()
	m.Code = int(c)
	return err
}

// DataRow is one X-Plane data row: an index and eight values.
type DataRow struct {
	Index  int
	Values [8]float32
}

const dataRowSize = 4 + 8*4

// Data carries X-Plane data rows. It is sent to set values and received
// when rows were selected for export.
type Data struct {
	Rows []DataRow
}

func (m *Data) Opcode() Opcode { return OpData }

func (m *Data) Validate() error {
	if len(m.Rows) == 0 || len(m.Rows) > MaxDataRows {
		return invalid(OpData, "row count %d out of range 1..%d", len(m.Rows), MaxDataRows)
	}
	for _, row := range m.Rows {
		if row.Index < 0 || row.Index > MaxDataIndex {
			return invalid(OpData, "row index %d out of range 0..%d", row.Index, MaxDataIndex)
		}
	}
	return nil
}

func (m *Data) Encode(buf *xpcbuf.Buffer) {
	for _, row := range m.Rows {
		buf.WriteUint32(uint32(row.Index))
		buf.WriteFloat32s(row.Values[:])
	}
}

// Decode reads as many whole rows as the payload holds. A trailing partial
// row is ignored.
func (m *Data) Decode(r *xpcbuf.Reader) error {
	n := r.Remaining() / dataRowSize
	m.Rows = make([]DataRow, n)
	for i := range m.Rows {
		idx, err := r.ReadUint32()
		if err != nil {
			return err
		}
		m.Rows[i].Index = int(idx)
		for j := range m.Rows[i].Values {
			if m.Rows[i].Values[j], err = r.ReadFloat32(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Dsel selects data rows for X-Plane to export over UDP.
type Dsel struct {
	Rows []int
}

func (m *Dsel) Opcode() Opcode { return OpDsel }

func (m *Dsel) Validate() error {
	if len(m.Rows) == 0 || len(m.Rows) > MaxDataRows {
		return invalid(OpDsel, "row count %d out of range 1..%d", len(m.Rows), MaxDataRows)
	}
	for _, idx := range m.Rows {
		if idx < 0 || idx > MaxDataIndex {
			return invalid(OpDsel, "row index %d out of range 0..%d", idx, MaxDataIndex)
		}
	}
	return nil
}

func (m *Dsel) Encode(buf *xpcbuf.Buffer) {
	for _, idx := range m.Rows {
		buf.WriteUint32(uint32(idx))
	}
}

func (m *Dsel) Decode(r *xpcbuf.Reader) error {
	n := r.Remaining() / 4
	m.Rows = make([]int, n)
	for i := range m.Rows {
		v, err := r.ReadUint32()
		if err != nil {
			return err
		}
		m.Rows[i] = int(v)
	}
	return nil
}

// Posi sets an aircraft position. Values are latitude, longitude,
// altitude (m MSL), pitch, roll, true heading and gear; missing trailing
// values are sent as Unchanged. Posi is also the GETP reply.
type Posi struct {
	Aircraft int
	Values   []float32
}

const posiValues = 7

func (m *Posi) Opcode() Opcode { return OpPosi }

func (m *Posi) Validate() error {
	if len(m.Values) == 0 || len(m.Values) > posiValues {
		return invalid(OpPosi, "value count %d out of range 1..%d", len(m.Values), posiValues)
	}
	return checkAircraft(OpPosi, m.Aircraft)
}

func (m *Posi) Encode(buf *xpcbuf.Buffer) {
	buf.WriteUint8(uint8(m.Aircraft))
	buf.WriteFloat32s(padded(m.Values, posiValues))
}

func (m *Posi) Decode(r *xpcbuf.Reader) error {
	if err := exact(OpPosi, r, 1+4*posiValues); err != nil {
		return err
	}
	ac, err := r.ReadUint8()
	if err != nil {
		return err
	}
	m.Aircraft = int(ac)
	m.Values, err = r.ReadFloat32s(posiValues)
	return err
}

// Getp requests the position of an aircraft.
type Getp struct {
	Aircraft int
}

func (m *Getp) Opcode() Opcode  { return OpGetp }
func (m *Getp) Validate() error { return checkAircraft(OpGetp, m.Aircraft) }

func (m *Getp) Encode(buf *xpcbuf.Buffer) {
	buf.WriteUint8(uint8(m.Aircraft))
}

func (m *Getp) Decode(r *xpcbuf.Reader) error {
	if err := exact(OpGetp, r, 1); err != nil {
		return err
	}
	ac, err := r.ReadUint8()
	m.Aircraft = int(ac)
	return err
}

// Ctrl sets aircraft controls. Values are elevator, aileron, rudder,
// throttle, gear, flaps and speedbrake. The speedbrake is only sent when
// all seven are given. Ctrl is also the GETC reply.
type Ctrl struct {
	Aircraft int
	Values   []float32
}

const (
	ctrlValues     = 7
	ctrlSize       = 4*4 + 1 + 4 + 1 // floats, gear, flaps, aircraft
	ctrlLegacySize = ctrlSize - 1    // no aircraft byte
	ctrlFullSize   = ctrlSize + 4    // with speedbrake
)

func (m *Ctrl) Opcode() Opcode { return OpCtrl }

func (m *Ctrl) Validate() error {
	if len(m.Values) == 0 || len(m.Values) > ctrlValues {
		return invalid(OpCtrl, "value count %d out of range 1..%d", len(m.Values), ctrlValues)
	}
	return checkAircraft(OpCtrl, m.Aircraft)
}

func (m *Ctrl) Encode(buf *xpcbuf.Buffer) {
	v := padded(m.Values, 6)
	buf.WriteFloat32s(v[:4])
	buf.WriteInt8(encodeGear(v[4]))
	buf.WriteFloat32(v[5])
	buf.WriteUint8(uint8(m.Aircraft))
	if len(m.Values) == ctrlValues {
		buf.WriteFloat32(m.Values[6])
	}
}

// Decode accepts the 26-byte legacy packet without an aircraft byte as
// well as the 27 and 31 byte forms. A gear byte of -1 decodes as Unchanged.
func (m *Ctrl) Decode(r *xpcbuf.Reader) error {
	n := r.Remaining()
	if n != ctrlLegacySize && n != ctrlSize && n != ctrlFullSize {
		return &ProtocolError{Op: string(OpCtrl), Reason: "unexpected length"}
	}
	head, err := r.ReadFloat32s(4)
	if err != nil {
		return err
	}
	gear, err := r.ReadInt8()
	if err != nil {
		return err
	}
	flaps, err := r.ReadFloat32()
	if err != nil {
		return err
	}
	m.Aircraft = 0
	if n != ctrlLegacySize {
		ac, err := r.ReadUint8()
		if err != nil {
			return err
		}
		m.Aircraft = int(ac)
	}
	m.Values = append(head, decodeGear(gear), flaps)
	if n == ctrlFullSize {
		sb, err := r.ReadFloat32()
		if err != nil {
			return err
		}
		m.Values = append(m.Values, sb)
	}
	return nil
}

func encodeGear(v float32) int8 {
	if isUnchanged(v) {
		return -1
	}
	return int8(v)
}

func decodeGear(b int8) float32 {
	if b == -1 {
		return Unchanged
	}
	return float32(b)
}

// Getc requests the controls of an aircraft.
type Getc struct {
	Aircraft int
}

func (m *Getc) Opcode() Opcode  { return OpGetc }
func (m *Getc) Validate() error { return checkAircraft(OpGetc, m.Aircraft) }

func (m *Getc) Encode(buf *xpcbuf.Buffer) {
	buf.WriteUint8(uint8(m.Aircraft))
}

func (m *Getc) Decode(r *xpcbuf.Reader) error {
	if err := exact(OpGetc, r, 1); err != nil {
		return err
	}
	ac, err := r.ReadUint8()
	m.Aircraft = int(ac)
	return err
}

// DrefValue is a dataref name and the values to write to it.
type DrefValue struct {
	Name   string
	Values []float32
}

// Dref writes one or more datarefs in a single datagram.
type Dref struct {
	Entries []DrefValue
}

func (m *Dref) Opcode() Opcode { return OpDref }

func (m *Dref) Validate() error {
	if len(m.Entries) == 0 {
		return invalid(OpDref, "no datarefs given")
	}
	for _, e := range m.Entries {
		if err := checkName(OpDref, e.Name); err != nil {
			return err
		}
		if len(e.Values) == 0 || len(e.Values) > MaxValues {
			return invalid(OpDref, "%s: value count %d out of range 1..%d", e.Name, len(e.Values), MaxValues)
		}
	}
	return nil
}

func (m *Dref) Encode(buf *xpcbuf.Buffer) {
	for _, e := range m.Entries {
		buf.WriteString8(e.Name)
		buf.WriteUint8(uint8(len(e.Values)))
		buf.WriteFloat32s(e.Values)
	}
}

func (m *Dref) Decode(r *xpcbuf.Reader) error {
	m.Entries = m.Entries[:0]
	for r.Remaining() > 0 {
		name, err := r.ReadString8()
		if err != nil {
			return err
		}
		n, err := r.ReadUint8()
		if err != nil {
			return err
		}
		values, err := r.ReadFloat32s(int(n))
		if err != nil {
			return err
		}
		m.Entries = append(m.Entries, DrefValue{Name: name, Values: values})
	}
	return nil
}

func checkName(op Opcode, name string) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return invalid(op, "dataref name length %d out of range 1..%d", len(name), MaxNameLen)
	}
	return nil
}

// Getd requests the current values of one or more datarefs.
type Getd struct {
	Names []string
}

func (m *Getd) Opcode() Opcode { return OpGetd }

func (m *Getd) Validate() error {
	if len(m.Names) == 0 || len(m.Names) > MaxDrefs {
		return invalid(OpGetd, "dataref count %d out of range 1..%d", len(m.Names), MaxDrefs)
	}
	for _, name := range m.Names {
		if err := checkName(OpGetd, name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Getd) Encode(buf *xpcbuf.Buffer) {
	buf.WriteUint8(uint8(len(m.Names)))
	for _, name := range m.Names {
		buf.WriteString8(name)
	}
}

func (m *Getd) Decode(r *xpcbuf.Reader) error {
	n, err := r.ReadUint8()
	if err != nil {
		return err
	}
	m.Names = make([]string, n)
	for i := range m.Names {
		if m.Names[i], err = r.ReadString8(); err != nil {
			return err
		}
	}
	return nil
}

// DrefResponse is the RESP reply to Getd: one value slice per requested
// dataref, in request order.
type DrefResponse struct {
	Values [][]float32
}

func (m *DrefResponse) Opcode() Opcode { return OpResp }

func (m *DrefResponse) Validate() error {
	if len(m.Values) > MaxDrefs {
		return invalid(OpResp, "dataref count %d exceeds %d", len(m.Values), MaxDrefs)
	}
	for _, v := range m.Values {
		if len(v) > MaxValues {
			return invalid(OpResp, "value count %d exceeds %d", len(v), MaxValues)
		}
	}
	return nil
}

func (m *DrefResponse) Encode(buf *xpcbuf.Buffer) {
	buf.WriteUint8(uint8(len(m.Values)))
	for _, v := range m.Values {
		buf.WriteUint8(uint8(len(v)))
		buf.WriteFloat32s(v)
	}
}

// Decode consumes the payload strictly by the declared counts; bytes past
// the last declared entry are ignored.
func (m *DrefResponse) Decode(r *xpcbuf.Reader) error {
	n, err := r.ReadUint8()
	if err != nil {
		return err
	}
	m.Values = make([][]float32, n)
	for i := range m.Values {
		count, err := r.ReadUint8()
		if err != nil {
			return err
		}
		if m.Values[i], err = r.ReadFloat32s(int(count)); err != nil {
			return err
		}
	}
	return nil
}

// Text shows Message at screen position (X, Y) in pixels from the lower
// left. -1 selects the default position on that axis. An empty Message
// clears the text.
type Text struct {
	Message string
	X, Y    int
}

func (m *Text) Opcode() Opcode { return OpText }

func (m *Text) Validate() error {
	if len(m.Message) > MaxTextLen {
		return invalid(OpText, "message length %d exceeds %d", len(m.Message), MaxTextLen)
	}
	if m.X < -1 || m.X > math.MaxInt32 {
		return invalid(OpText, "x %d must be >= -1", m.X)
	}
	if m.Y < -1 || m.Y > math.MaxInt32 {
		return invalid(OpText, "y %d must be >= -1", m.Y)
	}
	return nil
}

func (m *Text) Encode(buf *xpcbuf.Buffer) {
	buf.WriteInt32(int32(m.X))
	buf.WriteInt32(int32(m.Y))
	buf.WriteString8(m.Message)
}

func (m *Text) Decode(r *xpcbuf.Reader) error {
	x, err := r.ReadInt32()
	if err != nil {
		return err
	}
	y, err := r.ReadInt32()
	if err != nil {
		return err
	}
	m.X, m.Y = int(x), int(y)
	m.Message, err = r.ReadString8()
	return err
}

// View switches the camera.
type View struct {
	View ViewType
}

func (m *View) Opcode() Opcode { return OpView }

func (m *View) Validate() error {
	if !m.View.Valid() {
		return invalid(OpView, "view %d out of range %d..%d", int(m.View), int(ViewForwards), int(ViewFullscreenNoHud))
	}
	return nil
}

func (m *View) Encode(buf *xpcbuf.Buffer) {
	buf.WriteInt32(int32(m.View))
}

func (m *View) Decode(r *xpcbuf.Reader) error {
	if err := exact(OpView, r, 4); err != nil {
		return err
	}
	v, err := r.ReadInt32()
	m.View = ViewType(v)
	return err
}

// WaypointOp selects what Wypt does with its points.
type WaypointOp int

const (
	WaypointAdd    WaypointOp = 1
	WaypointRemove WaypointOp = 2
	WaypointClear  WaypointOp = 3
)

func (op WaypointOp) String() string {
	switch op {
	case WaypointAdd:
		return "add"
	case WaypointRemove:
		return "remove"
	case WaypointClear:
		return "clear"
	}
	return "unknown"
}

// Wypt adds, removes or clears waypoints. Points is a flat list of
// latitude, longitude, altitude triples and is ignored by WaypointClear.
type Wypt struct {
	Op     WaypointOp
	Points []float32
}

func (m *Wypt) Opcode() Opcode { return OpWypt }

func (m *Wypt) Validate() error {
	switch m.Op {
	case WaypointClear:
		return nil
	case WaypointAdd, WaypointRemove:
	default:
		return invalid(OpWypt, "op %d out of range 1..3", int(m.Op))
	}
	if len(m.Points)%3 != 0 {
		return invalid(OpWypt, "point count %d is not a multiple of 3", len(m.Points))
	}
	if len(m.Points)/3 > MaxWaypoints {
		return invalid(OpWypt, "waypoint count %d exceeds %d", len(m.Points)/3, MaxWaypoints)
	}
	return nil
}

func (m *Wypt) Encode(buf *xpcbuf.Buffer) {
	buf.WriteUint8(uint8(m.Op))
	if m.Op == WaypointClear {
		buf.WriteUint8(0)
		return
	}
	buf.WriteUint8(uint8(len(m.Points) / 3))
	buf.WriteFloat32s(m.Points)
}

func (m *Wypt) Decode(r *xpcbuf.Reader) error {
	op, err := r.ReadUint8()
	if err != nil {
		return err
	}
	n, err := r.ReadUint8()
	if err != nil {
		return err
	}
	m.Op = WaypointOp(op)
	m.Points, err = r.ReadFloat32s(3 * int(n))
	return err
}

// Comm runs an X-Plane command such as "sim/operation/pause_toggle".
type Comm struct {
	Command string
}

func (m *Comm) Opcode() Opcode { return OpComm }

func (m *Comm) Validate() error {
	if len(m.Command) == 0 || len(m.Command) > MaxCommandLen {
		return invalid(OpComm, "command length %d out of range 1..%d", len(m.Command), MaxCommandLen)
	}
	return nil
}

func (m *Comm) Encode(buf *xpcbuf.Buffer) {
	buf.WriteString8(m.Command)
}

func (m *Comm) Decode(r *xpcbuf.Reader) error {
	var err error
	m.Command, err = r.ReadString8()
	return err
}
