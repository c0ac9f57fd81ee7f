// Package discovery locates a running X-Plane instance by listening for the
// BECN beacon it multicasts on 239.255.1.1:49707.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/nasa/XPlaneConnect/pkg/protocol"
)

// Supported beacon versions.
const (
	SupportedMajor    = 1
	MaxSupportedMinor = 2
	DefaultTimeout    = 3 * time.Second
	maxBeacon         = 1472
)

var (
	ErrHostNotFound       = errors.New("xpc discovery: no X-Plane beacon received")
	ErrVersionUnsupported = errors.New("xpc discovery: unsupported beacon version")
)

// BeaconInfo describes the X-Plane instance that sent a beacon.
type BeaconInfo struct {
	IP       net.IP
	Port     int // X-Plane's native UDP port, not the XPC plugin port
	Hostname string
	Major    int
	Minor    int
	HostID   int
	Version  int
	Role     int
}

// Addr returns IP:Port.
func (b *BeaconInfo) Addr() string {
	return net.JoinHostPort(b.IP.String(), strconv.Itoa(b.Port))
}

func (b *BeaconInfo) String() string {
	return fmt.Sprintf("%s (%s) X-Plane %d beacon %d.%d role %d", b.Hostname, b.Addr(), b.Version, b.Major, b.Minor, b.Role)
}

// Option configures Discover.
type Option func(*options)

type options struct {
	timeout time.Duration
	group   *net.UDPAddr
	ifaces  []*net.Interface
	log     logrus.FieldLogger
	listen  func(group *net.UDPAddr) (net.PacketConn, error)
}

// WithTimeout sets how long to wait for a beacon.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithGroup overrides the multicast group and port.
func WithGroup(addr *net.UDPAddr) Option {
	return func(o *options) {
		o.group = addr
	}
}

// WithInterfaces joins the group on each of ifaces in addition to the
// system default interface.
func WithInterfaces(ifaces ...*net.Interface) Option {
	return func(o *options) {
		o.ifaces = append(o.ifaces, ifaces...)
	}
}

// WithLogger sets the discovery logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = l
	}
}

func listenMulticast(group *net.UDPAddr) (net.PacketConn, error) {
	return net.ListenMulticastUDP("udp4", nil, group)
}

// Discover waits for one beacon and returns it if its version is
// supported. It returns ErrHostNotFound when no beacon arrives in time and
// an error wrapping ErrVersionUnsupported for an incompatible one. The
// multicast socket is closed before Discover returns.
func Discover(ctx context.Context, opts ...Option) (*BeaconInfo, error) {
	o := options{
		timeout: DefaultTimeout,
		group:   &net.UDPAddr{IP: net.ParseIP(protocol.BeaconGroup), Port: protocol.BeaconPort},
		log:     logrus.StandardLogger(),
		listen:  listenMulticast,
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.WithField("component", "discovery")

	conn, err := o.listen(o.group)
	if err != nil {
		return nil, fmt.Errorf("xpc discovery: join %s: %w", o.group, err)
	}
	pc := ipv4.NewPacketConn(conn)
	defer pc.Close()

	if o.group.IP.IsMulticast() {
		for _, ifi := range o.ifaces {
			if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: o.group.IP}); err != nil {
				log.WithError(err).WithField("iface", ifi.Name).Warn("join group failed")
			}
		}
	}
	if err := pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		log.WithError(err).Debug("control messages unavailable")
	}
	return receive(ctx, pc, o.timeout, log)
}

func receive(ctx context.Context, pc *ipv4.PacketConn, timeout time.Duration, log logrus.FieldLogger) (*BeaconInfo, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := pc.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("xpc discovery: set deadline: %w", err)
	}

	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = pc.SetReadDeadline(time.Now())
		case <-readDone:
		}
	}()

	buf := make([]byte, maxBeacon)
	for {
		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if errors.Is(ctx.Err(), context.Canceled) {
					return nil, ctx.Err()
				}
				return nil, ErrHostNotFound
			}
			return nil, fmt.Errorf("xpc discovery: read: %w", err)
		}
		fields := logrus.Fields{"from": src.String(), "bytes": n}
		if cm != nil {
			fields["dst"] = cm.Dst.String()
			fields["ifindex"] = cm.IfIndex
		}
		if op, err := protocol.PeekOpcode(buf[:n]); err != nil || op != protocol.OpBecn {
			log.WithFields(fields).Warn("ignoring non-beacon packet")
			continue
		}
		info, err := ParseBeacon(buf[:n], src)
		if err != nil {
			return nil, err
		}
		log.WithFields(fields).WithField("host", info.Hostname).Debug("beacon received")
		return info, nil
	}
}

// ParseBeacon decodes a BECN packet received from from and checks that it
// announces a supported X-Plane instance.
func ParseBeacon(packet []byte, from net.Addr) (*BeaconInfo, error) {
	var b protocol.Beacon
	if err := protocol.Unmarshal(packet, &b); err != nil {
		return nil, err
	}
	info := &BeaconInfo{
		IP:       addrIP(from),
		Port:     int(b.Port),
		Hostname: b.Hostname,
		Major:    int(b.Major),
		Minor:    int(b.Minor),
		HostID:   int(b.HostID),
		Version:  int(b.Version),
		Role:     int(b.Role),
	}
	switch {
	case info.Major != SupportedMajor:
		return nil, fmt.Errorf("%w: beacon major version %d", ErrVersionUnsupported, info.Major)
	case info.Minor > MaxSupportedMinor:
		return nil, fmt.Errorf("%w: beacon minor version %d", ErrVersionUnsupported, info.Minor)
	case info.HostID != protocol.HostXPlane:
		return nil, fmt.Errorf("%w: host id %d is not X-Plane", ErrVersionUnsupported, info.HostID)
	}
	return info, nil
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.UDPAddr:
		return v.IP
	case nil:
		return nil
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
