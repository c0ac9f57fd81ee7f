package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nasa/XPlaneConnect/pkg/metrics"
	"github.com/nasa/XPlaneConnect/pkg/protocol"
)

// Session constants.
const (
	MaxDatagram    = 16384
	DefaultTimeout = 100 * time.Millisecond
	pollWindow     = time.Millisecond
)

var (
	ErrTimeout = errors.New("xpc transport: receive timed out")
	ErrClosed  = errors.New("xpc transport: session is closed")
)

// Config describes the two ends of a Session.
type Config struct {
	Host      string        // remote host, default "localhost"
	Port      int           // remote port, default 49009
	LocalPort int           // 0 picks an ephemeral port
	Timeout   time.Duration // receive timeout, >= 0
}

// DefaultConfig targets the XPC plugin on this machine.
func DefaultConfig() Config {
	return Config{
		Host:    "localhost",
		Port:    protocol.DefaultPort,
		Timeout: DefaultTimeout,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for datagram tracing.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithMetrics records traffic into m.
func WithMetrics(m *metrics.Session) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session is a UDP endpoint talking to a single remote XPC peer.
type Session struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	remote  *net.UDPAddr
	timeout time.Duration
	closed  bool

	log     logrus.FieldLogger
	metrics *metrics.Session
}

func invalid(op, format string, args ...any) error {
	return &protocol.ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func checkPort(op string, port int, allowZero bool) error {
	lo := 1
	if allowZero {
		lo = 0
	}
	if port < lo || port > 65535 {
		return invalid(op, "port %d out of range %d..65535", port, lo)
	}
	return nil
}

func resolve(host string, port int) (*net.UDPAddr, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("xpc transport: resolve %s: %w", addr, err)
	}
	return raddr, nil
}

func bind(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("xpc transport: bind port %d: %w", port, err)
	}
	return conn, nil
}

// Open binds the local endpoint and resolves the remote one.
func Open(cfg Config, opts ...Option) (*Session, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if err := checkPort("open", cfg.Port, false); err != nil {
		return nil, err
	}
	if err := checkPort("open", cfg.LocalPort, true); err != nil {
		return nil, err
	}
	if cfg.Timeout < 0 {
		return nil, invalid("open", "timeout %v must be >= 0", cfg.Timeout)
	}
	remote, err := resolve(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	conn, err := bind(cfg.LocalPort)
	if err != nil {
		return nil, err
	}
	s := &Session{
		conn:    conn,
		remote:  remote,
		timeout: cfg.Timeout,
		log:     logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.WithField("component", "transport")
	s.log.WithFields(logrus.Fields{
		"local":  conn.LocalAddr().String(),
		"remote": remote.String(),
	}).Debug("session opened")
	return s, nil
}

// snapshot returns the live endpoint state, or ErrClosed.
func (s *Session) snapshot() (*net.UDPConn, *net.UDPAddr, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, 0, ErrClosed
	}
	return s.conn, s.remote, s.timeout, nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func opcodeLabel(b []byte) string {
	op, err := protocol.PeekOpcode(b)
	if err != nil {
		return "short"
	}
	return op.String()
}

// Send transmits b as a single datagram to the remote peer.
func (s *Session) Send(ctx context.Context, b []byte) error {
	if len(b) == 0 {
		return invalid("send", "empty datagram")
	}
	conn, remote, _, err := s.snapshot()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return s.ioError("send", err)
	}

	n, err := conn.WriteToUDP(b, remote)
	if err != nil {
		return s.ioError("send", err)
	}
	s.metrics.Sent(opcodeLabel(b), n)
	s.log.WithFields(logrus.Fields{
		"opcode": opcodeLabel(b),
		"bytes":  n,
		"remote": remote.String(),
	}).Debug("sent datagram")
	return nil
}

// Receive returns the next datagram from any source. It waits for the
// session timeout, or until the context deadline if that is sooner, and
// returns ErrTimeout when nothing arrives.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	conn, _, timeout, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if timeout == 0 {
		timeout = pollWindow
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, s.ioError("receive", err)
	}

	// Unblock the read promptly when ctx is cancelled.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-readDone:
		}
	}()

	buf := make([]byte, MaxDatagram)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			s.metrics.Timeout()
			return nil, ErrTimeout
		}
		return nil, s.ioError("receive", err)
	}

	packet := make([]byte, n)
	copy(packet, buf[:n])
	s.metrics.Received(opcodeLabel(packet), n)
	s.log.WithFields(logrus.Fields{
		"opcode": opcodeLabel(packet),
		"bytes":  n,
		"from":   from.String(),
	}).Debug("received datagram")
	return packet, nil
}

// ioError maps errors from a socket closed under us to ErrClosed.
func (s *Session) ioError(op string, err error) error {
	if errors.Is(err, net.ErrClosed) && s.isClosed() {
		return ErrClosed
	}
	return fmt.Errorf("xpc transport: %s: %w", op, err)
}

// Rebind closes the endpoint and binds a new one on port, keeping the
// remote address and timeout. If the new bind fails the session is closed.
func (s *Session) Rebind(port int) error {
	if err := checkPort("rebind", port, true); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_ = s.conn.Close()
	conn, err := bind(port)
	if err != nil {
		s.closed = true
		s.log.WithError(err).Warn("rebind failed, session closed")
		return err
	}
	s.conn = conn
	s.log.WithField("local", conn.LocalAddr().String()).Debug("session rebound")
	return nil
}

// SetRemote retargets subsequent sends.
func (s *Session) SetRemote(host string, port int) error {
	if err := checkPort("set remote", port, false); err != nil {
		return err
	}
	remote, err := resolve(host, port)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.remote = remote
	return nil
}

// SetTimeout changes the receive timeout.
func (s *Session) SetTimeout(d time.Duration) error {
	if d < 0 {
		return invalid("set timeout", "timeout %v must be >= 0", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.timeout = d
	return nil
}

// Timeout returns the receive timeout.
func (s *Session) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// LocalAddr returns the address of the bound endpoint, or nil once closed.
func (s *Session) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// RemoteAddr returns the address datagrams are sent to.
func (s *Session) RemoteAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Close releases the endpoint. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Debug("session closed")
	return s.conn.Close()
}
