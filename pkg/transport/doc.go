// Package transport provides the XPC socket session.
//
// # Session
//
// A Session owns one UDP endpoint bound to 0.0.0.0:LocalPort and a remote
// address (normally the XPC plugin on port 49009). It implements:
//   - datagram send/receive with context cancellation and deadline support
//   - a per-session receive timeout; zero means a 1 ms poll window
//   - Rebind to a new local port, for use with the CONN message
//   - idempotent Close; every later call returns ErrClosed
//
// The session does not filter by source address. Datagrams of up to
// 16384 bytes are returned whole.
package transport
