// Package cli implements the xpcctl command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nasa/XPlaneConnect/pkg/client"
	"github.com/nasa/XPlaneConnect/pkg/config"
	"github.com/nasa/XPlaneConnect/pkg/output"
)

// app holds the global flags and the state PersistentPreRunE derives from
// them.
type app struct {
	cfgFile      string
	host         string
	port         int
	localPort    int
	timeout      time.Duration
	outputFormat string
	logLevel     string

	cfg       *config.Config
	formatter output.Formatter
	log       *logrus.Logger
}

// NewRootCmd builds a fresh xpcctl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{log: logrus.New()}

	root := &cobra.Command{
		Use:   "xpcctl",
		Short: "X-Plane Connect CLI: drive a running X-Plane over the XPC plugin",
		Long: `xpcctl talks to the X Plane Connect plugin over UDP. It reads and
writes aircraft position, controls and datarefs, pauses the simulation,
changes the view, draws text and waypoints, monitors streamed datarefs,
and can run an HTTP bridge or a local plugin emulator.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is ~/.xpc/config.yaml)")
	pf.StringVar(&a.host, "host", "", "X-Plane host (default \"localhost\")")
	pf.IntVar(&a.port, "port", 0, "XPC plugin port (default 49009)")
	pf.IntVar(&a.localPort, "local-port", 0, "local UDP port, 0 picks one")
	pf.DurationVar(&a.timeout, "timeout", 0, "receive timeout (default 100ms)")
	pf.StringVarP(&a.outputFormat, "output", "o", "", "output format: table, json, yaml (default \"table\")")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (default \"warn\")")

	root.AddCommand(
		a.posiCmd(),
		a.ctrlCmd(),
		a.drefCmd(),
		a.pauseCmd(),
		a.viewCmd(),
		a.textCmd(),
		a.wyptCmd(),
		a.commCmd(),
		a.discoverCmd(),
		a.monitorCmd(),
		a.bridgeCmd(),
		a.emulateCmd(),
		versionCmd(),
		completionCmd(root),
	)
	return root
}

// setup loads the config file and applies flag overrides.
func (a *app) setup(cmd *cobra.Command) error {
	path := a.cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if a.host != "" {
		cfg.Host = a.host
	}
	if a.port != 0 {
		cfg.Port = a.port
	}
	if flags.Changed("local-port") {
		cfg.LocalPort = a.localPort
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.timeout
	}
	if a.outputFormat != "" {
		cfg.OutputFormat = a.outputFormat
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	a.log.SetLevel(level)
	a.log.SetOutput(cmd.ErrOrStderr())
	a.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if a.formatter, err = output.NewFormatter(cfg.OutputFormat); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) dial() (*client.Client, error) {
	c, err := client.Dial(a.cfg.Transport(), client.WithLogger(a.log))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return c, nil
}

// withClient dials, runs fn and closes the client.
func (a *app) withClient(fn func(c *client.Client) error) error {
	c, err := a.dial()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func (a *app) print(cmd *cobra.Command, v any) error {
	out, err := a.formatter.Format(v)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

// Execute runs xpcctl until it finishes or receives SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
