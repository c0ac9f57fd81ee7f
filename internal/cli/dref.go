package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nasa/XPlaneConnect/pkg/client"
)

var errNothingToSet = errors.New("nothing to set: pass at least one value flag")

// Dataref is one printed dataref.
type Dataref struct {
	Name   string    `json:"name" yaml:"name"`
	Values []float32 `json:"values" yaml:"values"`
}

func (a *app) drefCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dref",
		Short: "Read or write datarefs",
	}

	getCmd := &cobra.Command{
		Use:   "get NAME...",
		Short: "Print the values of one or more datarefs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *client.Client) error {
				values, err := c.GetDREFs(cmd.Context(), args...)
				if err != nil {
					return err
				}
				out := make([]Dataref, len(args))
				for i, name := range args {
					out[i] = Dataref{Name: name, Values: values[i]}
				}
				return a.print(cmd, out)
			})
		},
	}

	var values []float32
	setCmd := &cobra.Command{
		Use:     "set NAME",
		Short:   "Write a dataref",
		Example: `  xpcctl dref set sim/cockpit/switches/gear_handle_status --values 1`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(values) == 0 {
				return fmt.Errorf("dref set %s: %w", args[0], errNothingToSet)
			}
			return a.withClient(func(c *client.Client) error {
				return c.SendDREF(cmd.Context(), args[0], values...)
			})
		},
	}
	setCmd.Flags().Float32SliceVar(&values, "values", nil, "comma separated values")

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}
