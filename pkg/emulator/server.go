// Package emulator implements the plugin side of the XPC protocol over UDP.
// It keeps a small simulated world (positions, controls, datarefs, view,
// text, waypoints) and answers requests the way the X-Plane plugin does,
// which makes it usable for tests and for local development without a
// simulator.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nasa/XPlaneConnect/pkg/metrics"
	"github.com/nasa/XPlaneConnect/pkg/protocol"
	"github.com/nasa/XPlaneConnect/pkg/transport"
)

const (
	// defaultShutdownTimeout is how long Stop waits for the serve and
	// stream loops before giving up.
	defaultShutdownTimeout = 5 * time.Second
	defaultStreamTick      = 10 * time.Millisecond
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics records handled traffic into m.
func WithMetrics(m *metrics.Session) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithState serves st instead of a fresh world.
func WithState(st *State) Option {
	return func(s *Server) {
		s.state = st
	}
}

// WithShutdownTimeout configures how long Stop waits for the loops to exit.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// WithStreamTick sets the resolution of the RREF stream scheduler.
func WithStreamTick(d time.Duration) Option {
	return func(s *Server) {
		s.streamTick = d
	}
}

type handler func(s *Server, from *net.UDPAddr, packet []byte) error

// Server answers XPC requests on one UDP socket.
type Server struct {
	state           *State
	conn            *net.UDPConn
	handlers        map[protocol.Opcode]handler
	streams         *streams
	log             logrus.FieldLogger
	metrics         *metrics.Session
	shutdownTimeout time.Duration
	streamTick      time.Duration

	mu      sync.Mutex
	clients map[string]uint8 // CONN ids by host
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Server. Call ListenAndServe or Start to bind it.
func New(opts ...Option) *Server {
	s := &Server{
		state:           NewState(),
		streams:         newStreams(),
		log:             logrus.StandardLogger(),
		shutdownTimeout: defaultShutdownTimeout,
		streamTick:      defaultStreamTick,
		clients:         make(map[string]uint8),
		done:            make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.WithField("component", "emulator")
	s.handlers = map[protocol.Opcode]handler{
		protocol.OpConn: (*Server).handleConn,
		protocol.OpSimu: (*Server).handleSimu,
		protocol.OpData: (*Server).handleData,
		protocol.OpDsel: (*Server).handleDsel,
		protocol.OpPosi: (*Server).handlePosi,
		protocol.OpGetp: (*Server).handleGetp,
		protocol.OpCtrl: (*Server).handleCtrl,
		protocol.OpGetc: (*Server).handleGetc,
		protocol.OpDref: (*Server).handleDref,
		protocol.OpGetd: (*Server).handleGetd,
		protocol.OpText: (*Server).handleText,
		protocol.OpView: (*Server).handleView,
		protocol.OpWypt: (*Server).handleWypt,
		protocol.OpComm: (*Server).handleComm,
		protocol.OpRref: (*Server).handleRref,
	}
	return s
}

// State returns the world the server mutates.
func (s *Server) State() *State {
	return s.state
}

// Start binds addr and serves in the background until Stop.
func (s *Server) Start(addr string) error {
	laddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("xpc emulator: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("xpc emulator: listen %s: %w", addr, err)
	}
	s.conn = conn
	s.log.WithField("addr", conn.LocalAddr().String()).Info("emulator listening")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.serve()
	}()
	go func() {
		defer s.wg.Done()
		s.stream()
	}()
	return nil
}

// ListenAndServe binds addr and serves until ctx is done or Stop is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Start(addr); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		s.Stop()
	case <-s.done:
	}
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() *net.UDPAddr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Stop closes the socket and waits up to the shutdown timeout for the
// loops to exit. It is safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
		close(s.done)
	}
	s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.log.Debug("emulator stopped")
	case <-time.After(s.shutdownTimeout):
		s.log.Warnf("shutdown timeout (%v) exceeded", s.shutdownTimeout)
	}
}

func (s *Server) serve() {
	buf := make([]byte, transport.MaxDatagram)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.WithError(err).Warn("read failed")
			continue
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		s.dispatch(from, packet)
	}
}

// dispatch handles one request inline so replies keep request order.
func (s *Server) dispatch(from *net.UDPAddr, packet []byte) {
	op, err := protocol.PeekOpcode(packet)
	if err != nil {
		s.metrics.ProtocolError("short")
		s.log.WithField("from", from.String()).Warn("dropping short packet")
		return
	}
	s.metrics.Received(op.String(), len(packet))
	h, ok := s.handlers[op]
	if !ok {
		s.log.WithFields(logrus.Fields{"opcode": op.String(), "from": from.String()}).Warn("unhandled opcode")
		return
	}
	if err := h(s, from, packet); err != nil {
		s.metrics.ProtocolError(op.String())
		s.log.WithError(err).WithFields(logrus.Fields{"opcode": op.String(), "from": from.String()}).Warn("request rejected")
	}
}

func (s *Server) reply(to *net.UDPAddr, m protocol.Message) error {
	b, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	return s.write(to, b)
}

func (s *Server) write(to *net.UDPAddr, b []byte) error {
	n, err := s.conn.WriteToUDP(b, to)
	if err != nil {
		return fmt.Errorf("xpc emulator: write to %s: %w", to, err)
	}
	op, _ := protocol.PeekOpcode(b)
	s.metrics.Sent(op.String(), n)
	return nil
}

// decode parses packet into m and applies m's request validation.
func decode(packet []byte, m protocol.Message) error {
	if err := protocol.Unmarshal(packet, m); err != nil {
		return err
	}
	return m.Validate()
}

// connID returns the id assigned to host, allocating ids from 1 the way
// the plugin counts its connections.
func (s *Server) connID(host string) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.clients[host]
	if !ok {
		id = uint8(len(s.clients) + 1)
		s.clients[host] = id
	}
	return id
}
