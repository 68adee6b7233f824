package cli

import (
	"context"

	"github.com/spf13/cobra"

	"netprobe/internal/modes"
	"netprobe/pkg/config"
)

func newServeCmd() *cobra.Command {
	var (
		port       int
		payloadDir string
		grpcPort   int
		noDuplex   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Provision payloads and run the probe server",
		Long: `Provision the configured payload files, then serve the probe endpoints
until SIGINT or SIGTERM.

Examples:
  netprobe serve
  netprobe serve --port 9000 --payload-dir /var/lib/netprobe
  netprobe serve --grpc-port 50051`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(func(c *config.Config) {
				if cmd.Flags().Changed("port") {
					c.Server.Port = port
				}
				if cmd.Flags().Changed("payload-dir") {
					c.Payload.Dir = payloadDir
				}
				if cmd.Flags().Changed("grpc-port") {
					c.GRPC.Enabled = true
					c.GRPC.Port = grpcPort
				}
				if noDuplex {
					c.Duplex.Enabled = false
				}
			})
			if err != nil {
				return err
			}
			return modes.RunServer(cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port")
	cmd.Flags().StringVar(&payloadDir, "payload-dir", "", "Directory holding payload files")
	cmd.Flags().IntVar(&grpcPort, "grpc-port", 0, "Enable the gRPC duplex transport on this port")
	cmd.Flags().BoolVar(&noDuplex, "no-duplex", false, "Disable the WebSocket duplex upload")

	return cmd
}

func newProvisionCmd() *cobra.Command {
	var payloadDir string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create or repair payload files and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(func(c *config.Config) {
				if cmd.Flags().Changed("payload-dir") {
					c.Payload.Dir = payloadDir
				}
			})
			if err != nil {
				return err
			}
			return modes.RunProvision(context.Background(), cfg)
		},
	}

	cmd.Flags().StringVar(&payloadDir, "payload-dir", "", "Directory holding payload files")

	return cmd
}
