package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"netprobe/internal/netprobe/client"
	"netprobe/pkg/logger"
)

const defaultServerURL = "http://localhost:8080"

func newProbeClient(server string) (*client.Client, error) {
	if err := setupClientLogger(); err != nil {
		return nil, err
	}
	return client.New(server, client.WithLogger(logger.Default()))
}

func newPingCmd() *cobra.Command {
	var (
		server  string
		count   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure HTTP round-trip latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newProbeClient(server)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := c.Ping(ctx, count)
			if err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}

			out := cmd.OutOrStdout()
			for i, rtt := range res.Samples {
				fmt.Fprintf(out, "seq=%d rtt=%s\n", i+1, rtt.Round(time.Microsecond))
			}
			fmt.Fprintf(out, "min/avg/max = %s/%s/%s\n",
				res.Min.Round(time.Microsecond), res.Avg.Round(time.Microsecond), res.Max.Round(time.Microsecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", defaultServerURL, "Server base URL")
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of samples")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")

	return cmd
}

func newDownloadCmd() *cobra.Command {
	var (
		server   string
		opts     client.DownloadOptions
		fragSize int64
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Measure download throughput with parallel ranged requests",
		Long: `Fetch the payload descriptor, then pull the file in ranged fragments over
several connections until it is covered or --duration elapses.

Examples:
  netprobe download
  netprobe download --name 100mb.bin --connections 8 --duration 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newProbeClient(server)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			opts.FragmentSize = fragSize
			res, err := c.Download(ctx, opts)
			if err != nil {
				return fmt.Errorf("download failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d bytes in %s: %.2f Mbps\n",
				res.Bytes, res.Elapsed.Round(time.Millisecond), res.Mbps)
			return nil
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", defaultServerURL, "Server base URL")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Payload name (default: server default)")
	cmd.Flags().IntVarP(&opts.Connections, "connections", "k", client.DefaultConnections, "Parallel connections")
	cmd.Flags().Int64Var(&fragSize, "fragment-size", client.DefaultFragmentSize, "Bytes per ranged request")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "Stop issuing fragments after this long (0 = whole file)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall timeout")

	return cmd
}

func newUploadCmd() *cobra.Command {
	var (
		server    string
		size      int64
		useWS     bool
		grpcAddr  string
		frameSize int
		frames    int
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Measure upload throughput",
		Long: `Upload to the server and report throughput. By default a single POST of
--size bytes is sent; --ws streams --frames messages over the duplex WebSocket
and --grpc uses the gRPC duplex transport at the given address.

Examples:
  netprobe upload --size 52428800
  netprobe upload --ws --frames 200 --frame-size 262144
  netprobe upload --grpc localhost:50051`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setupClientLogger(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out := cmd.OutOrStdout()

			switch {
			case grpcAddr != "":
				res, err := client.UploadGRPC(ctx, grpcAddr, frameSize, frames)
				if err != nil {
					return fmt.Errorf("grpc upload failed: %w", err)
				}
				fmt.Fprintf(out, "uploaded %d bytes in %d frames over gRPC: %.2f Mbps\n",
					res.Bytes, len(res.Samples), res.Mbps)

			case useWS:
				c, err := newProbeClient(server)
				if err != nil {
					return err
				}
				res, err := c.UploadWS(ctx, frameSize, frames)
				if err != nil {
					return fmt.Errorf("websocket upload failed: %w", err)
				}
				fmt.Fprintf(out, "uploaded %d bytes in %d frames over WebSocket: %.2f Mbps\n",
					res.Bytes, len(res.Samples), res.Mbps)

			default:
				c, err := newProbeClient(server)
				if err != nil {
					return err
				}
				res, err := c.Upload(ctx, size)
				if err != nil {
					return fmt.Errorf("upload failed: %w", err)
				}
				fmt.Fprintf(out, "uploaded %d bytes in %s: %.2f Mbps\n",
					res.Bytes, res.Elapsed.Round(time.Millisecond), res.Mbps)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", defaultServerURL, "Server base URL")
	cmd.Flags().Int64Var(&size, "size", 25*1024*1024, "Bytes to POST")
	cmd.Flags().BoolVar(&useWS, "ws", false, "Use the duplex WebSocket transport")
	cmd.Flags().StringVar(&grpcAddr, "grpc", "", "Use the gRPC duplex transport at host:port")
	cmd.Flags().IntVar(&frameSize, "frame-size", client.DefaultFrameSize, "Bytes per duplex frame")
	cmd.Flags().IntVar(&frames, "frames", 100, "Number of duplex frames")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall timeout")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "netprobe %s\n", Version)
		},
	}
}
