package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"netprobe/internal/modes"
	"netprobe/pkg/config"
	"netprobe/pkg/logger"
)

// Version is stamped at build time with -ldflags "-X netprobe/internal/cli.Version=..."
var Version = "dev"

var (
	configPath string
	logLevel   string
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "netprobe",
		Short: "Network speed-test server and client",
		Long: `netprobe serves fixed-size payloads with HTTP Range support, drains uploads
and acknowledges duplex upload chunks so clients can measure latency and
throughput. The same binary can also run the measurements against a server.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to configuration file (default: search NETPROBE_CONFIG_PATH, ./config.yaml, ./config/netprobe.yaml, /etc/netprobe/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newProvisionCmd())
	rootCmd.AddCommand(newPingCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves configuration, applies flag overrides and configures logging.
func loadConfig(override func(*config.Config)) (*config.Config, error) {
	cfg, source, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	if err := modes.SetupLogger(cfg); err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger.Debug("configuration loaded", "source", source)
	return cfg, nil
}

// setupClientLogger applies --log-level for the measurement commands, which
// do not read the server configuration.
func setupClientLogger() error {
	if logLevel == "" {
		return nil
	}
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	return nil
}
