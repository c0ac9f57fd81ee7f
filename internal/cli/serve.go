package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nasa/XPlaneConnect/pkg/bridge"
	"github.com/nasa/XPlaneConnect/pkg/client"
	"github.com/nasa/XPlaneConnect/pkg/emulator"
	"github.com/nasa/XPlaneConnect/pkg/metrics"
)

// newRegistry returns a registry carrying the Go runtime and process
// collectors alongside the XPC ones.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (a *app) bridgeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve the XPC client over HTTP and WebSocket",
		Long: `Run an HTTP bridge in front of the XPC plugin. JSON routes live under
/api/v1, /api/v1/stream streams dataref values over a WebSocket, and
/metrics exposes Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.BridgeAddr
			}
			reg := newRegistry()
			sim, err := client.Dial(a.cfg.Transport(),
				client.WithLogger(a.log),
				client.WithMetrics(metrics.NewSession(metrics.WithRegistry(reg), metrics.WithSubsystem("client"))))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer sim.Close()

			streamMetrics := metrics.NewSession(metrics.WithRegistry(reg), metrics.WithSubsystem("stream"))
			streamCfg := a.cfg.Transport()
			// Stream sessions always bind an ephemeral port.
			streamCfg.LocalPort = 0
			srv := bridge.New(sim,
				bridge.WithLogger(a.log),
				bridge.WithGatherer(reg),
				bridge.WithMetrics(metrics.NewHTTP(metrics.WithRegistry(reg), metrics.WithSubsystem("bridge"))),
				bridge.WithStreamDialer(func() (bridge.Streamer, error) {
					c, err := client.Dial(streamCfg, client.WithLogger(a.log), client.WithMetrics(streamMetrics))
					if err != nil {
						return nil, err
					}
					return c, nil
				}),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "bridge listening on %s\n", addr)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, \":8089\")")
	return cmd
}

func (a *app) emulateCmd() *cobra.Command {
	var (
		addr     string
		announce bool
		hostname string
	)
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Run a local stand-in for the XPC plugin",
		Long: `Run an in-process emulator of the XPC plugin. It keeps simulated
aircraft, dataref and screen state, answers requests and streams
subscribed datarefs. With --announce it also multicasts X-Plane beacons.
When metrics_addr is configured, Prometheus metrics are served there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.EmulatorAddr
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			opts := []emulator.Option{emulator.WithLogger(a.log)}
			errCh := make(chan error, 2)
			if a.cfg.MetricsAddr != "" {
				reg := newRegistry()
				opts = append(opts, emulator.WithMetrics(
					metrics.NewSession(metrics.WithRegistry(reg), metrics.WithSubsystem("emulator"))))
				go func() { errCh <- serveMetrics(ctx, a.cfg.MetricsAddr, reg) }()
			}

			emu := emulator.New(opts...)
			if err := emu.Start(addr); err != nil {
				return err
			}
			defer emu.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "emulator listening on %s\n", emu.Addr())

			if announce {
				if hostname == "" {
					hostname, _ = os.Hostname()
				}
				beacon := emulator.DefaultBeacon(hostname, emu.Addr().Port)
				ann := emulator.NewAnnouncer(beacon, emulator.WithAnnounceLogger(a.log))
				go func() { errCh <- ann.Run(ctx) }()
			}

			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, \"127.0.0.1:49009\")")
	cmd.Flags().BoolVar(&announce, "announce", false, "multicast X-Plane beacons")
	cmd.Flags().StringVar(&hostname, "hostname", "", "hostname to announce (default os hostname)")
	return cmd
}

// serveMetrics serves reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
