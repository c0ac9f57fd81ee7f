// Package protocol defines the X-Plane Connect wire protocol: opcodes,
// message types and the fixed-format framing shared by the client and the
// plugin side.
//
// Every message starts with a 4-byte ASCII opcode followed by one pad byte.
// Payloads are little-endian.
package protocol

// Opcode is the 4-byte ASCII tag that starts every XPC datagram.
type Opcode string

// Opcodes sent by a client.
const (
	OpConn Opcode = "CONN" // redirect replies to another local port
	OpSimu Opcode = "SIMU" // pause / unpause
	OpData Opcode = "DATA" // X-Plane data rows (both directions)
	OpDsel Opcode = "DSEL" // select data rows for export
	OpPosi Opcode = "POSI" // set position (also the GETP reply)
	OpGetp Opcode = "GETP"
	OpCtrl Opcode = "CTRL" // set controls (also the GETC reply)
	OpGetc Opcode = "GETC"
	OpDref Opcode = "DREF"
	OpGetd Opcode = "GETD"
	OpText Opcode = "TEXT"
	OpView Opcode = "VIEW"
	OpWypt Opcode = "WYPT"
	OpComm Opcode = "COMM"
	OpRref Opcode = "RREF" // subscription request (also the stream reply)
)

// Opcodes only ever received by a client.
const (
	OpConf Opcode = "CONF"
	OpResp Opcode = "RESP"
	OpBecn Opcode = "BECN"
)

// HeaderSize is the opcode plus its pad byte.
const HeaderSize = 5

// knownOpcodes is the closed set of tags this package can encode or decode.
var knownOpcodes = map[Opcode]bool{
	OpConn: true, OpSimu: true, OpData: true, OpDsel: true,
	OpPosi: true, OpGetp: true, OpCtrl: true, OpGetc: true,
	OpDref: true, OpGetd: true, OpText: true, OpView: true,
	OpWypt: true, OpComm: true, OpRref: true,
	OpConf: true, OpResp: true, OpBecn: true,
}

// Known reports whether op belongs to the protocol.
func (op Opcode) Known() bool {
	return knownOpcodes[op]
}

func (op Opcode) String() string {
	return string(op)
}
