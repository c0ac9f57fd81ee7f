package protocol

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"

	"github.com/nasa/XPlaneConnect/pkg/xpcbuf"
)

// Well-known ports and the beacon multicast group.
const (
	DefaultPort  = 49009 // XPC plugin
	XPlanePort   = 49000 // X-Plane native UDP
	BeaconGroup  = "239.255.1.1"
	BeaconPort   = 49707
	beaconSize   = 16
	minBeaconLen = HeaderSize + beaconSize
)

// Application ids carried in a beacon.
const (
	HostXPlane     = 1
	HostPlaneMaker = 2
)

// Roles a beaconing instance can play.
const (
	RoleMaster         = 1
	RoleExternalVisual = 2
	RoleIOS            = 3
)

// beaconBody is the fixed part of a BECN packet.
type beaconBody struct {
	Major   uint8  `struc:"uint8"`
	Minor   uint8  `struc:"uint8"`
	HostID  int32  `struc:"int32,little"`
	Version int32  `struc:"int32,little"`
	Role    uint32 `struc:"uint32,little"`
	Port    uint16 `struc:"uint16,little"`
}

// Beacon is the BECN announcement X-Plane multicasts on BeaconGroup.
type Beacon struct {
	Major    uint8
	Minor    uint8
	HostID   int32  // HostXPlane or HostPlaneMaker
	Version  int32  // e.g. 104014 for 10.40r14
	Role     uint32 // RoleMaster, RoleExternalVisual or RoleIOS
	Port     uint16 // X-Plane's UDP port
	Hostname string
}

func (m *Beacon) Opcode() Opcode { return OpBecn }

func (m *Beacon) Validate() error {
	if bytes.IndexByte([]byte(m.Hostname), 0) >= 0 {
		return invalid(OpBecn, "hostname contains NUL")
	}
	return nil
}

func (m *Beacon) Encode(buf *xpcbuf.Buffer) {
	var b bytes.Buffer
	body := beaconBody{
		Major: m.Major, Minor: m.Minor, HostID: m.HostID,
		Version: m.Version, Role: m.Role, Port: m.Port,
	}
	// beaconBody holds only fixed-size fields, Pack cannot fail on it.
	_ = struc.Pack(&b, &body)
	buf.WriteRaw(b.Bytes())
	buf.WriteRaw([]byte(m.Hostname))
	buf.WriteUint8(0)
}

func (m *Beacon) Decode(r *xpcbuf.Reader) error {
	if r.Remaining() < beaconSize {
		return &ProtocolError{Op: string(OpBecn), Reason: fmt.Sprintf("beacon shorter than %d bytes", minBeaconLen)}
	}
	raw, err := r.ReadBytes(beaconSize)
	if err != nil {
		return err
	}
	var body beaconBody
	if err := struc.Unpack(bytes.NewReader(raw), &body); err != nil {
		return err
	}
	*m = Beacon{
		Major:    body.Major,
		Minor:    body.Minor,
		HostID:   body.HostID,
		Version:  body.Version,
		Role:     body.Role,
		Port:     body.Port,
		Hostname: r.ReadCString(),
	}
	return nil
}
