package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nasa/XPlaneConnect/pkg/client"
	"github.com/nasa/XPlaneConnect/pkg/protocol"
)

var pauseModes = map[string]int{
	"resume": protocol.SimuResume,
	"pause":  protocol.SimuPause,
	"toggle": protocol.SimuToggle,
}

// pauseCode folds an optional aircraft number into the SIMU code. Toggle
// has no per-aircraft form.
func pauseCode(mode string, aircraft int) (int, error) {
	code, ok := pauseModes[mode]
	if !ok {
		return 0, fmt.Errorf("unknown pause mode %q (want pause, resume or toggle)", mode)
	}
	if aircraft < 0 {
		return code, nil
	}
	switch code {
	case protocol.SimuPause:
		return protocol.SimuPauseAircraft + aircraft, nil
	case protocol.SimuResume:
		return protocol.SimuResumeAircraft + aircraft, nil
	}
	return 0, fmt.Errorf("toggle applies to every aircraft")
}

func (a *app) pauseCmd() *cobra.Command {
	var aircraft int
	cmd := &cobra.Command{
		Use:       "pause [pause|resume|toggle]",
		Short:     "Pause or resume the simulation",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"pause", "resume", "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := "pause"
			if len(args) == 1 {
				mode = args[0]
			}
			code, err := pauseCode(mode, aircraft)
			if err != nil {
				return err
			}
			return a.withClient(func(c *client.Client) error {
				return c.PauseSim(cmd.Context(), code)
			})
		},
	}
	cmd.Flags().IntVar(&aircraft, "aircraft", -1, "pause or resume only this aircraft")
	return cmd
}

func viewNames() []string {
	var names []string
	for v := protocol.ViewForwards; v <= protocol.ViewFullscreenNoHud; v++ {
		names = append(names, v.String())
	}
	sort.Strings(names)
	return names
}

func (a *app) viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "view NAME",
		Short:     "Change the camera view",
		Long:      "Change the camera view. NAME is one of: " + strings.Join(viewNames(), ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: viewNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, ok := protocol.ParseView(args[0])
			if !ok {
				return fmt.Errorf("unknown view %q", args[0])
			}
			return a.withClient(func(c *client.Client) error {
				return c.SendVIEW(cmd.Context(), view)
			})
		},
	}
}

func (a *app) textCmd() *cobra.Command {
	var x, y int
	cmd := &cobra.Command{
		Use:   "text [MESSAGE]",
		Short: "Draw a message on screen; no message clears it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := ""
			if len(args) == 1 {
				msg = args[0]
			}
			return a.withClient(func(c *client.Client) error {
				return c.SendTEXT(cmd.Context(), msg, x, y)
			})
		},
	}
	cmd.Flags().IntVar(&x, "x", -1, "left edge in pixels, -1 uses the default")
	cmd.Flags().IntVar(&y, "y", -1, "top edge in pixels, -1 uses the default")
	return cmd
}

// parsePoint reads "lat,lon,alt".
func parsePoint(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("point %q: want lat,lon,alt", s)
	}
	out := make([]float32, 3)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", s, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func (a *app) wyptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wypt",
		Short: "Draw or erase waypoint markers",
	}

	points := func(op protocol.WaypointOp) *cobra.Command {
		var raw []string
		c := &cobra.Command{
			Use:     op.String(),
			Short:   strings.ToUpper(op.String()[:1]) + op.String()[1:] + " waypoints",
			Example: "  xpcctl wypt " + op.String() + " --point 37.52,-122.06,2500 --point 37.6,-122.1,3000",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var pts []float32
				for _, r := range raw {
					p, err := parsePoint(r)
					if err != nil {
						return err
					}
					pts = append(pts, p...)
				}
				return a.withClient(func(c *client.Client) error {
					return c.SendWYPT(cmd.Context(), op, pts)
				})
			},
		}
		c.Flags().StringArrayVar(&raw, "point", nil, "waypoint as lat,lon,alt (repeatable)")
		return c
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every waypoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *client.Client) error {
				return c.SendWYPT(cmd.Context(), protocol.WaypointClear, nil)
			})
		},
	}

	cmd.AddCommand(points(protocol.WaypointAdd), points(protocol.WaypointRemove), clearCmd)
	return cmd
}

func (a *app) commCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "comm COMMAND",
		Short:   "Run an X-Plane command",
		Example: "  xpcctl comm sim/flight_controls/flaps_down",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *client.Client) error {
				return c.SendCOMM(cmd.Context(), args[0])
			})
		},
	}
}
