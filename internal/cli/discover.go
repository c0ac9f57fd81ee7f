package cli

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/nasa/XPlaneConnect/pkg/discovery"
)

// Beacon is the printed form of a discovered X-Plane instance.
type Beacon struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	IP       string `json:"ip" yaml:"ip"`
	Port     int    `json:"port" yaml:"port"`
	Version  int    `json:"version" yaml:"version"`
	Beacon   string `json:"beacon" yaml:"beacon"`
	Role     int    `json:"role" yaml:"role"`
}

func (a *app) discoverCmd() *cobra.Command {
	var (
		wait   time.Duration
		ifaces []string
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Wait for an X-Plane beacon on the local network",
		Long: `Listen on the X-Plane beacon multicast group and print the first
supported instance that announces itself. The printed port is X-Plane's
own UDP port; the XPC plugin still listens on --port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []discovery.Option{discovery.WithTimeout(wait), discovery.WithLogger(a.log)}
			for _, name := range ifaces {
				ifi, err := net.InterfaceByName(name)
				if err != nil {
					return fmt.Errorf("interface %s: %w", name, err)
				}
				opts = append(opts, discovery.WithInterfaces(ifi))
			}
			info, err := discovery.Discover(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			return a.print(cmd, Beacon{
				Hostname: info.Hostname,
				IP:       info.IP.String(),
				Port:     info.Port,
				Version:  info.Version,
				Beacon:   fmt.Sprintf("%d.%d", info.Major, info.Minor),
				Role:     info.Role,
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", discovery.DefaultTimeout, "how long to wait for a beacon")
	cmd.Flags().StringSliceVar(&ifaces, "iface", nil, "also join the group on these interfaces")
	return cmd
}
