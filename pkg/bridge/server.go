// Package bridge exposes an XPC client over HTTP. JSON routes map onto
// the client operations and a WebSocket route streams dataref values.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nasa/XPlaneConnect/pkg/metrics"
	"github.com/nasa/XPlaneConnect/pkg/protocol"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	maxRequestBodyBytes    = 64 << 10
)

// Simulator is the part of *client.Client the JSON routes use.
type Simulator interface {
	GetPOSI(ctx context.Context, ac int) ([]float32, error)
	SendPOSI(ctx context.Context, ac int, values ...float32) error
	GetCTRL(ctx context.Context, ac int) ([]float32, error)
	SendCTRL(ctx context.Context, ac int, values ...float32) error
	GetDREFs(ctx context.Context, names ...string) ([][]float32, error)
	SendDREFs(ctx context.Context, entries ...protocol.DrefValue) error
	PauseSim(ctx context.Context, code int) error
	SendVIEW(ctx context.Context, view protocol.ViewType) error
	SendTEXT(ctx context.Context, msg string, x, y int) error
	SendWYPT(ctx context.Context, op protocol.WaypointOp, points []float32) error
	SendCOMM(ctx context.Context, command string) error
}

// Streamer is a dedicated subscription session for one WebSocket. Each
// stream gets its own so polling never races the JSON routes for replies.
type Streamer interface {
	Subscribe(ctx context.Context, name string, freq int) (int, error)
	Poll(ctx context.Context) (map[string]float32, error)
	Close() error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics records request counters into m.
func WithMetrics(m *metrics.HTTP) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithGatherer serves g on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithStreamDialer enables /api/v1/stream. dial is called once per
// WebSocket connection.
func WithStreamDialer(dial func() (Streamer, error)) Option {
	return func(s *Server) {
		s.dial = dial
	}
}

// Server routes HTTP requests to a Simulator.
type Server struct {
	sim      Simulator
	dial     func() (Streamer, error)
	router   chi.Router
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
	metrics  *metrics.HTTP
	gatherer prometheus.Gatherer
}

// New builds the router for sim.
func New(sim Simulator, opts ...Option) *Server {
	s := &Server{
		sim:      sim,
		log:      logrus.StandardLogger(),
		gatherer: prometheus.DefaultGatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.WithField("component", "bridge")
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limitBody)
			r.Get("/aircraft/{ac}/position", s.handleGetPosition)
			r.Put("/aircraft/{ac}/position", s.handlePutPosition)
			r.Get("/aircraft/{ac}/controls", s.handleGetControls)
			r.Put("/aircraft/{ac}/controls", s.handlePutControls)
			r.Get("/datarefs", s.handleGetDatarefs)
			r.Put("/datarefs", s.handlePutDatarefs)
			r.Post("/sim/pause", s.handlePause)
			r.Post("/view", s.handleView)
			r.Post("/text", s.handleText)
			r.Post("/waypoints", s.handleWaypoints)
			r.Post("/commands", s.handleCommand)
		})
		r.Get("/stream", s.handleStream)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("bridge listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("bridge: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge: shutdown: %w", err)
	}
	return nil
}

// observe logs each request and records it by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusSwitchingProtocols
		}
		d := time.Since(start)
		s.metrics.Observe(r.Method, route, status, d)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"route":      route,
			"status":     status,
			"duration":   d.String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request served")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.WithField("panic", rec).Error("handler panicked")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
