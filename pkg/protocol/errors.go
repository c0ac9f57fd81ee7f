package protocol

import (
	"fmt"
)

// ValidationError reports an argument rejected before any byte is written
// or sent.
type ValidationError struct {
	Op     string // operation or opcode being built
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("xpc %s: invalid argument: %s", e.Op, e.Reason)
}

// ProtocolError reports a received packet whose header or length does not
// match what the operation expects. Raw holds the offending packet.
type ProtocolError struct {
	Op     string
	Reason string
	Raw    []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("xpc %s: protocol error: %s (%d bytes)", e.Op, e.Reason, len(e.Raw))
}

func invalid(op Opcode, format string, args ...any) error {
	return &ValidationError{Op: string(op), Reason: fmt.Sprintf(format, args...)}
}

func malformed(op Opcode, raw []byte, format string, args ...any) error {
	return &ProtocolError{Op: string(op), Reason: fmt.Sprintf(format, args...), Raw: raw}
}
