package cli

import (
	"fmt"
	"net"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nasa/XPlaneConnect/pkg/config"
	"github.com/nasa/XPlaneConnect/pkg/tui"
)

// subscriptions merges the configured monitor list with --dref flags. A
// flag entry overrides the configured frequency of the same name.
func subscriptions(configured []config.Monitor, names []string, freq int) []config.Monitor {
	out := append([]config.Monitor(nil), configured...)
	seen := make(map[string]int, len(out))
	for i, m := range out {
		seen[m.Name] = i
	}
	for _, name := range names {
		if i, ok := seen[name]; ok {
			out[i].Freq = freq
			continue
		}
		seen[name] = len(out)
		out = append(out, config.Monitor{Name: name, Freq: freq})
	}
	return out
}

func (a *app) monitorCmd() *cobra.Command {
	var (
		names []string
		freq  int
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live table of streamed datarefs",
		Long: `Subscribe to datarefs and show their values as X-Plane streams them.
Datarefs come from the monitor list in the config file and from --dref.

Key bindings:
  s            Toggle sorting by index or name
  q / Ctrl+C   Quit`,
		Example: "  xpcctl monitor --dref sim/flightmodel/position/elevation --freq 5",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if freq < 1 {
				return fmt.Errorf("--freq %d must be >= 1", freq)
			}
			subs := subscriptions(a.cfg.Monitor, names, freq)
			if len(subs) == 0 {
				return fmt.Errorf("no datarefs to monitor: pass --dref or add a monitor list to the config")
			}
			c, err := a.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			for _, s := range subs {
				if _, err := c.Subscribe(cmd.Context(), s.Name, s.Freq); err != nil {
					return err
				}
			}

			target := net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))
			p := tea.NewProgram(tui.New(c, target), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringArrayVar(&names, "dref", nil, "dataref to monitor (repeatable)")
	cmd.Flags().IntVar(&freq, "freq", 10, "updates per second for --dref entries")
	return cmd
}
