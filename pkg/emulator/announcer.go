package emulator

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/nasa/XPlaneConnect/pkg/protocol"
)

const defaultAnnounceInterval = time.Second

// AnnouncerOption configures an Announcer.
type AnnouncerOption func(*Announcer)

// WithAnnounceInterval sets the time between beacons.
func WithAnnounceInterval(d time.Duration) AnnouncerOption {
	return func(a *Announcer) {
		a.interval = d
	}
}

// WithAnnounceGroup sends beacons to addr instead of the X-Plane group.
func WithAnnounceGroup(addr *net.UDPAddr) AnnouncerOption {
	return func(a *Announcer) {
		a.group = addr
	}
}

// WithAnnounceLogger sets the announcer logger.
func WithAnnounceLogger(l logrus.FieldLogger) AnnouncerOption {
	return func(a *Announcer) {
		a.log = l
	}
}

// Announcer multicasts BECN packets the way a running X-Plane does.
type Announcer struct {
	beacon   protocol.Beacon
	group    *net.UDPAddr
	interval time.Duration
	log      logrus.FieldLogger
}

// NewAnnouncer advertises b. Port should be the port clients reach the
// emulator on.
func NewAnnouncer(b protocol.Beacon, opts ...AnnouncerOption) *Announcer {
	a := &Announcer{
		beacon:   b,
		group:    &net.UDPAddr{IP: net.ParseIP(protocol.BeaconGroup), Port: protocol.BeaconPort},
		interval: defaultAnnounceInterval,
		log:      logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.WithField("component", "announcer")
	return a
}

// DefaultBeacon describes an X-Plane 11 master instance on port.
func DefaultBeacon(hostname string, port int) protocol.Beacon {
	return protocol.Beacon{
		Major:    1,
		Minor:    1,
		HostID:   protocol.HostXPlane,
		Version:  115000,
		Role:     protocol.RoleMaster,
		Port:     uint16(port),
		Hostname: hostname,
	}
}

// Run sends a beacon immediately and then every interval until ctx is done.
func (a *Announcer) Run(ctx context.Context) error {
	packet, err := protocol.Marshal(&a.beacon)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return fmt.Errorf("xpc announcer: listen: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	defer pc.Close()
	if a.group.IP.IsMulticast() {
		if err := pc.SetMulticastTTL(1); err != nil {
			a.log.WithError(err).Debug("set multicast ttl")
		}
		if err := pc.SetMulticastLoopback(true); err != nil {
			a.log.WithError(err).Debug("set multicast loopback")
		}
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if _, err := pc.WriteTo(packet, nil, a.group); err != nil {
			a.log.WithError(err).Warn("beacon send failed")
		} else {
			a.log.WithField("group", a.group.String()).Debug("beacon sent")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
