package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nasa/XPlaneConnect/pkg/client"
	"github.com/nasa/XPlaneConnect/pkg/protocol"
)

// Position is the printed form of a POSI reply.
type Position struct {
	Aircraft  int     `json:"aircraft" yaml:"aircraft"`
	Latitude  float32 `json:"latitude" yaml:"latitude"`
	Longitude float32 `json:"longitude" yaml:"longitude"`
	Altitude  float32 `json:"altitude" yaml:"altitude"`
	Pitch     float32 `json:"pitch" yaml:"pitch"`
	Roll      float32 `json:"roll" yaml:"roll"`
	Heading   float32 `json:"heading" yaml:"heading"`
	Gear      float32 `json:"gear" yaml:"gear"`
}

// Controls is the printed form of a CTRL reply.
type Controls struct {
	Aircraft   int     `json:"aircraft" yaml:"aircraft"`
	Elevator   float32 `json:"elevator" yaml:"elevator"`
	Aileron    float32 `json:"aileron" yaml:"aileron"`
	Rudder     float32 `json:"rudder" yaml:"rudder"`
	Throttle   float32 `json:"throttle" yaml:"throttle"`
	Gear       float32 `json:"gear" yaml:"gear"`
	Flaps      float32 `json:"flaps" yaml:"flaps"`
	Speedbrake float32 `json:"speedbrake" yaml:"speedbrake"`
}

var (
	positionFields = []string{"lat", "lon", "alt", "pitch", "roll", "heading", "gear"}
	controlFields  = []string{"elevator", "aileron", "rudder", "throttle", "gear", "flaps", "speedbrake"}
)

// at returns v[i], or 0 when the reply was short.
func at(v []float32, i int) float32 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

// valueFlags registers one float flag per name.
func valueFlags(fs *pflag.FlagSet, names []string) []*float32 {
	out := make([]*float32, len(names))
	for i, name := range names {
		out[i] = fs.Float32(name, protocol.Unchanged, "new "+name+" (unset keeps the current value)")
	}
	return out
}

// collectValues returns the flag values up to the last one that was set.
// Flags left unset in between are sent as protocol.Unchanged.
func collectValues(fs *pflag.FlagSet, names []string, vals []*float32) []float32 {
	last := -1
	for i, name := range names {
		if fs.Changed(name) {
			last = i
		}
	}
	out := make([]float32, last+1)
	for i := range out {
		out[i] = protocol.Unchanged
		if fs.Changed(names[i]) {
			out[i] = *vals[i]
		}
	}
	return out
}

func (a *app) posiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posi",
		Short: "Read or set aircraft position",
	}

	var ac int
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the position of an aircraft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *client.Client) error {
				v, err := c.GetPOSI(cmd.Context(), ac)
				if err != nil {
					return err
				}
				return a.print(cmd, Position{
					Aircraft: ac, Latitude: at(v, 0), Longitude: at(v, 1), Altitude: at(v, 2),
					Pitch: at(v, 3), Roll: at(v, 4), Heading: at(v, 5), Gear: at(v, 6),
				})
			})
		},
	}
	getCmd.Flags().IntVar(&ac, "ac", 0, "aircraft number, 0 is the player")

	var setAC int
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Move an aircraft; unset fields keep their value",
		Example: `  xpcctl posi set --lat 37.524 --lon=-122.069 --alt 2500
  xpcctl posi set --ac 1 --heading 270`,
		Args: cobra.NoArgs,
	}
	setVals := valueFlags(setCmd.Flags(), positionFields)
	setCmd.Flags().IntVar(&setAC, "ac", 0, "aircraft number, 0 is the player")
	setCmd.RunE = func(cmd *cobra.Command, args []string) error {
		values := collectValues(cmd.Flags(), positionFields, setVals)
		if len(values) == 0 {
			return errNothingToSet
		}
		return a.withClient(func(c *client.Client) error {
			return c.SendPOSI(cmd.Context(), setAC, values...)
		})
	}

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}

func (a *app) ctrlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctrl",
		Short: "Read or set aircraft control surfaces",
	}

	var ac int
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the control state of an aircraft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *client.Client) error {
				v, err := c.GetCTRL(cmd.Context(), ac)
				if err != nil {
					return err
				}
				return a.print(cmd, Controls{
					Aircraft: ac, Elevator: at(v, 0), Aileron: at(v, 1), Rudder: at(v, 2),
					Throttle: at(v, 3), Gear: at(v, 4), Flaps: at(v, 5), Speedbrake: at(v, 6),
				})
			})
		},
	}
	getCmd.Flags().IntVar(&ac, "ac", 0, "aircraft number, 0 is the player")

	var setAC int
	setCmd := &cobra.Command{
		Use:     "set",
		Short:   "Set control surfaces; unset fields keep their value",
		Example: `  xpcctl ctrl set --throttle 0.8 --elevator=-0.1`,
		Args:    cobra.NoArgs,
	}
	setVals := valueFlags(setCmd.Flags(), controlFields)
	setCmd.Flags().IntVar(&setAC, "ac", 0, "aircraft number, 0 is the player")
	setCmd.RunE = func(cmd *cobra.Command, args []string) error {
		values := collectValues(cmd.Flags(), controlFields, setVals)
		if len(values) == 0 {
			return errNothingToSet
		}
		return a.withClient(func(c *client.Client) error {
			return c.SendCTRL(cmd.Context(), setAC, values...)
		})
	}

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}
