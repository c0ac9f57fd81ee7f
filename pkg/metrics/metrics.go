// Package metrics holds the Prometheus collectors for XPC sessions, the
// emulator and the HTTP bridge.
//
// Collectors are opt-in: a nil *Session or *HTTP is valid and records
// nothing, so the core packages never touch the default registry unless a
// caller asks them to.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors built by NewSession and NewHTTP.
type Config struct {
	// Namespace is the metrics namespace (default: "xpc").
	Namespace string

	// Subsystem is the metrics subsystem, e.g. "client" or "emulator".
	Subsystem string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request durations.
	Buckets []float64

	// Registry receives the collectors (default: prometheus.DefaultRegisterer).
	Registry prometheus.Registerer
}

// Option configures a Config.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func newConfig(opts []Option) Config {
	c := Config{
		Namespace: "xpc",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c Config) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   c.Namespace,
		Subsystem:   c.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: c.ConstLabels,
	}
}

// Session counts datagram traffic on one or more XPC endpoints.
type Session struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	timeouts        prometheus.Counter
	protocolErrors  *prometheus.CounterVec
}

// NewSession registers the session collectors.
func NewSession(opts ...Option) *Session {
	c := newConfig(opts)
	factory := promauto.With(c.Registry)
	return &Session{
		packetsSent: factory.NewCounterVec(
			c.counterOpts("packets_sent_total", "Datagrams sent, by opcode"), []string{"opcode"}),
		packetsReceived: factory.NewCounterVec(
			c.counterOpts("packets_received_total", "Datagrams received, by opcode"), []string{"opcode"}),
		bytesSent: factory.NewCounter(
			c.counterOpts("bytes_sent_total", "Bytes sent")),
		bytesReceived: factory.NewCounter(
			c.counterOpts("bytes_received_total", "Bytes received")),
		timeouts: factory.NewCounter(
			c.counterOpts("receive_timeouts_total", "Receive windows that elapsed with no datagram")),
		protocolErrors: factory.NewCounterVec(
			c.counterOpts("protocol_errors_total", "Datagrams rejected for a bad header or length"), []string{"opcode"}),
	}
}

// Sent records one outgoing datagram of n bytes.
func (s *Session) Sent(opcode string, n int) {
	if s == nil {
		return
	}
	s.packetsSent.WithLabelValues(opcode).Inc()
	s.bytesSent.Add(float64(n))
}

// Received records one incoming datagram of n bytes.
func (s *Session) Received(opcode string, n int) {
	if s == nil {
		return
	}
	s.packetsReceived.WithLabelValues(opcode).Inc()
	s.bytesReceived.Add(float64(n))
}

// Timeout records an elapsed receive window.
func (s *Session) Timeout() {
	if s == nil {
		return
	}
	s.timeouts.Inc()
}

// ProtocolError records a rejected datagram.
func (s *Session) ProtocolError(opcode string) {
	if s == nil {
		return
	}
	s.protocolErrors.WithLabelValues(opcode).Inc()
}

// HTTP counts bridge requests.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTP registers the HTTP collectors.
func NewHTTP(opts ...Option) *HTTP {
	c := newConfig(opts)
	factory := promauto.With(c.Registry)
	return &HTTP{
		requests: factory.NewCounterVec(
			c.counterOpts("http_requests_total", "HTTP requests, by method, route and status"),
			[]string{"method", "route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			ConstLabels: c.ConstLabels,
			Buckets:     c.Buckets,
		}, []string{"route"}),
	}
}

// Observe records one finished request.
func (h *HTTP) Observe(method, route string, status int, d time.Duration) {
	if h == nil {
		return
	}
	h.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	h.duration.WithLabelValues(route).Observe(d.Seconds())
}
