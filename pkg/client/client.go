// Package client is the high-level XPC API. A Client owns one transport
// session and turns each simulator operation into a request datagram and,
// where the plugin answers, a decoded reply.
//
// The protocol carries no correlation ids, so a Client allows one
// request/response exchange at a time. RREF stream packets that arrive
// while a reply is awaited are merged into the dataref registry instead of
// being mistaken for the reply.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nasa/XPlaneConnect/pkg/dataref"
	"github.com/nasa/XPlaneConnect/pkg/discovery"
	"github.com/nasa/XPlaneConnect/pkg/metrics"
	"github.com/nasa/XPlaneConnect/pkg/protocol"
	"github.com/nasa/XPlaneConnect/pkg/transport"
)

const tracerName = "github.com/nasa/XPlaneConnect/pkg/client"

// maxStray bounds how many unrelated packets a request skips when the
// session has no timeout to bound the wait.
const maxStray = 64

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger shared by the client, its session and registry.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithMetrics records session traffic into m.
func WithMetrics(m *metrics.Session) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracerProvider traces operations with tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithRegistryOptions configures the dataref registry created on the first
// subscription.
func WithRegistryOptions(opts ...dataref.Option) Option {
	return func(c *Client) {
		c.regOpts = append(c.regOpts, opts...)
	}
}

// Client talks to one XPC plugin.
type Client struct {
	mu      sync.Mutex
	sess    *transport.Session
	reg     *dataref.Registry
	regOpts []dataref.Option

	log     logrus.FieldLogger
	metrics *metrics.Session
	tracer  trace.Tracer
}

// Dial opens a session described by cfg.
func Dial(cfg transport.Config, opts ...Option) (*Client, error) {
	c := &Client{
		log:    logrus.StandardLogger(),
		tracer: otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, o := range opts {
		o(c)
	}
	sess, err := transport.Open(cfg, transport.WithLogger(c.log), transport.WithMetrics(c.metrics))
	if err != nil {
		return nil, fmt.Errorf("xpc client: dial: %w", err)
	}
	c.sess = sess
	c.log = c.log.WithField("component", "client")
	return c, nil
}

// NewFromBeacon dials the host that sent a discovery beacon. The beacon
// advertises X-Plane's own port, not the plugin's, so the remote port is
// cfg.Port, or protocol.DefaultPort when that is zero.
func NewFromBeacon(info *discovery.BeaconInfo, cfg transport.Config, opts ...Option) (*Client, error) {
	if info == nil || info.IP == nil {
		return nil, fmt.Errorf("xpc client: dial: %w",
			&protocol.ValidationError{Op: "dial", Reason: "beacon has no sender address"})
	}
	cfg.Host = info.IP.String()
	if cfg.Port == 0 {
		cfg.Port = protocol.DefaultPort
	}
	return Dial(cfg, opts...)
}

// Session returns the underlying transport session.
func (c *Client) Session() *transport.Session {
	return c.sess
}

// do runs fn under the request lock inside a span named after op.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := c.tracer.Start(ctx, "xpc."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	c.mu.Lock()
	err := fn(ctx)
	c.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("xpc client: %s: %w", op, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, m protocol.Message) error {
	b, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	return c.sess.Send(ctx, b)
}

// await reads until a packet with resp's opcode arrives and decodes it.
// RREF stream packets are merged into the registry when one exists; any
// other packet is a *protocol.ProtocolError.
func (c *Client) await(ctx context.Context, resp protocol.Message) error {
	parent := ctx
	if d := c.sess.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	for stray := 0; ; stray++ {
		packet, err := c.sess.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
				return transport.ErrTimeout
			}
			return err
		}
		op, _ := protocol.PeekOpcode(packet)
		if op == protocol.OpRref && resp.Opcode() != protocol.OpRref && stray < maxStray {
			if c.reg != nil {
				_, _ = c.reg.Merge(packet)
			}
			c.log.Debug("skipped stream packet while awaiting reply")
			continue
		}
		return protocol.Unmarshal(packet, resp)
	}
}

func (c *Client) request(ctx context.Context, req, resp protocol.Message) error {
	if err := c.send(ctx, req); err != nil {
		return err
	}
	return c.await(ctx, resp)
}

func (c *Client) registry() *dataref.Registry {
	if c.reg == nil {
		opts := append([]dataref.Option{dataref.WithLogger(c.log)}, c.regOpts...)
		c.reg = dataref.NewRegistry(c.sess, opts...)
	}
	return c.reg
}

// SetConn moves the session to local port and tells the plugin to send
// replies there. It returns the connection id the plugin assigned.
func (c *Client) SetConn(ctx context.Context, port int) (uint8, error) {
	var ack protocol.ConnAck
	err := c.do(ctx, "set_conn", func(ctx context.Context) error {
		if port < 1 || port > 65535 {
			return &protocol.ValidationError{Op: string(protocol.OpConn), Reason: fmt.Sprintf("port %d out of range 1..65535", port)}
		}
		msg := &protocol.Conn{Port: port}
		b, err := protocol.Marshal(msg)
		if err != nil {
			return err
		}
		// Bind first so the reply cannot beat the new socket.
		if err := c.sess.Rebind(port); err != nil {
			return err
		}
		if err := c.sess.Send(ctx, b); err != nil {
			return err
		}
		return c.await(ctx, &ack)
	}, attribute.Int("xpc.port", port))
	return ack.ID, err
}

// PauseSim sends a SIMU code: 0 resume, 1 pause, 2 toggle, 100+ac pause
// one aircraft, 200+ac resume it.
func (c *Client) PauseSim(ctx context.Context, code int) error {
	return c.do(ctx, "pause_sim", func(ctx context.Context) error {
		return c.send(ctx, &protocol.Simu{Code: code})
	}, attribute.Int("xpc.code", code))
}

// SendData writes X-Plane data rows.
func (c *Client) SendData(ctx context.Context, rows []protocol.DataRow) error {
	return c.do(ctx, "send_data", func(ctx context.Context) error {
		return c.send(ctx, &protocol.Data{Rows: rows})
	}, attribute.Int("xpc.rows", len(rows)))
}

// SelectData asks X-Plane to export the given data rows over UDP.
func (c *Client) SelectData(ctx context.Context, rows ...int) error {
	return c.do(ctx, "select_data", func(ctx context.Context) error {
		return c.send(ctx, &protocol.Dsel{Rows: rows})
	}, attribute.Int("xpc.rows", len(rows)))
}

// ReadData waits for one DATA packet and returns its rows.
func (c *Client) ReadData(ctx context.Context) ([]protocol.DataRow, error) {
	var m protocol.Data
	err := c.do(ctx, "read_data", func(ctx context.Context) error {
		return c.await(ctx, &m)
	})
	return m.Rows, err
}

// GetPOSI returns the seven position values of aircraft ac.
func (c *Client) GetPOSI(ctx context.Context, ac int) ([]float32, error) {
	var m protocol.Posi
	err := c.do(ctx, "get_posi", func(ctx context.Context) error {
		return c.request(ctx, &protocol.Getp{Aircraft: ac}, &m)
	}, attribute.Int("xpc.aircraft", ac))
	return m.Values, err
}

// SendPOSI sets the position of aircraft ac. Missing trailing values are
// left unchanged.
func (c *Client) SendPOSI(ctx context.Context, ac int, values ...float32) error {
	return c.do(ctx, "send_posi", func(ctx context.Context) error {
		return c.send(ctx, &protocol.Posi{Aircraft: ac, Values: values})
	}, attribute.Int("xpc.aircraft", ac))
}

// GetCTRL returns the control values of aircraft ac.
func (c *Client) GetCTRL(ctx context.Context, ac int) ([]float32, error) {
	var m protocol.Ctrl
	err := c.do(ctx, "get_ctrl", func(ctx context.Context) error {
		return c.request(ctx, &protocol.Getc{Aircraft: ac}, &m)
	}, attribute.Int("xpc.aircraft", ac))
	return m.Values, err
}

// SendCTRL sets the controls of aircraft ac.
func (c *Client) SendCTRL(ctx context.Context, ac int, values ...float32) error {
	return c.do(ctx, "send_ctrl", func(ctx context.Context) error {
		return c.send(ctx, &protocol.Ctrl{Aircraft: ac, Values: values})
	}, attribute.Int("xpc.aircraft", ac))
}

// GetDREF returns the values of one dataref.
func (c *Client) GetDREF(ctx context.Context, name string) ([]float32, error) {
	values, err := c.GetDREFs(ctx, name)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// GetDREFs returns the values of several datarefs in request order.
func (c *Client) GetDREFs(ctx context.Context, names ...string) ([][]float32, error) {
	var m protocol.DrefResponse
	err := c.do(ctx, "get_dref", func(ctx context.Context) error {
		if err := c.request(ctx, &protocol.Getd{Names: names}, &m); err != nil {
			return err
		}
		if len(m.Values) != len(names) {
			return &protocol.ProtocolError{
				Op:     string(protocol.OpResp),
				Reason: fmt.Sprintf("got %d datarefs, requested %d", len(m.Values), len(names)),
			}
		}
		return nil
	}, attribute.StringSlice("xpc.drefs", names))
	if err != nil {
		return nil, err
	}
	return m.Values, nil
}

// SendDREF writes values to one dataref.
func (c *Client) SendDREF(ctx context.Context, name string, values ...float32) error {
	return c.SendDREFs(ctx, protocol.DrefValue{Name: name, Values: values})
}

// SendDREFs writes several datarefs in one datagram.
func (c *Client) SendDREFs(ctx context.Context, entries ...protocol.DrefValue) error {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return c.do(ctx, "send_dref", func(ctx context.Context) error {
		return c.send(ctx, &protocol.Dref{Entries: entries})
	}, attribute.StringSlice("xpc.drefs", names))
}

// SendTEXT shows msg at (x, y); -1 picks the default position. An empty
// msg clears the screen text.
func (c *Client) SendTEXT(ctx context.Context, msg string, x, y int) error {
	return c.do(ctx, "send_text", func(ctx context.Context) error {
		return c.send(ctx, &protocol.Text{Message: msg, X: x, Y: y})
	})
}

// SendVIEW switches the camera.
func (c *Client) SendVIEW(ctx context.Context, view protocol.ViewType) error {
	return c.do(ctx, "send_view", func(ctx context.Context) error {
		return c.send(ctx, &protocol.View{View: view})
	}, attribute.String("xpc.view", view.String()))
}

// SendWYPT adds, removes or clears waypoints given as lat/lon/alt triples.
func (c *Client) SendWYPT(ctx context.Context, op protocol.WaypointOp, points []float32) error {
	return c.do(ctx, "send_wypt", func(ctx context.Context) error {
		return c.send(ctx, &protocol.Wypt{Op: op, Points: points})
	}, attribute.String("xpc.op", op.String()))
}

// SendCOMM runs an X-Plane command.
func (c *Client) SendCOMM(ctx context.Context, command string) error {
	return c.do(ctx, "send_comm", func(ctx context.Context) error {
		return c.send(ctx, &protocol.Comm{Command: command})
	}, attribute.String("xpc.command", command))
}

// Subscribe starts, retunes or stops (freq 0) the RREF stream for name and
// returns its index. See dataref.Registry.Subscribe.
func (c *Client) Subscribe(ctx context.Context, name string, freq int) (int, error) {
	var idx int
	err := c.do(ctx, "subscribe", func(ctx context.Context) error {
		var err error
		idx, err = c.registry().Subscribe(ctx, name, freq)
		return err
	}, attribute.String("xpc.dref", name), attribute.Int("xpc.freq", freq))
	return idx, err
}

// Unsubscribe stops the stream for name.
func (c *Client) Unsubscribe(ctx context.Context, name string) error {
	return c.do(ctx, "unsubscribe", func(ctx context.Context) error {
		return c.registry().Unsubscribe(ctx, name)
	}, attribute.String("xpc.dref", name))
}

// Poll receives one stream packet and returns every cached dataref value.
func (c *Client) Poll(ctx context.Context) (map[string]float32, error) {
	var values map[string]float32
	err := c.do(ctx, "poll", func(ctx context.Context) error {
		var err error
		values, err = c.registry().Poll(ctx)
		return err
	})
	return values, err
}

// Values returns the cached dataref values without reading the socket.
func (c *Client) Values() map[string]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry().Values()
}

// Subscriptions returns the tracked datarefs ordered by index.
func (c *Client) Subscriptions() []dataref.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry().Subscriptions()
}

// RawSend transmits b unchanged.
func (c *Client) RawSend(ctx context.Context, b []byte) error {
	return c.do(ctx, "raw_send", func(ctx context.Context) error {
		return c.sess.Send(ctx, b)
	})
}

// RawRecv returns the next datagram unchanged.
func (c *Client) RawRecv(ctx context.Context) ([]byte, error) {
	var b []byte
	err := c.do(ctx, "raw_recv", func(ctx context.Context) error {
		var err error
		b, err = c.sess.Receive(ctx)
		return err
	})
	return b, err
}

// closeTimeout bounds the unsubscribe sends made by Close.
const closeTimeout = time.Second

// Close stops every subscription and releases the session. It is safe to
// call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.reg != nil && c.reg.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := c.reg.Close(ctx); err != nil && !errors.Is(err, transport.ErrClosed) {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := c.sess.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("xpc client: close: %w", err)
	}
	return nil
}
