package modes

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"netprobe/internal/netprobe/metrics"
	"netprobe/internal/netprobe/payload"
	"netprobe/internal/netprobe/server"
	"netprobe/pkg/config"
	"netprobe/pkg/logger"
)

// SetupLogger configures the global logger from cfg.Logging.
func SetupLogger(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	switch cfg.Logging.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Logging.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log output %s: %w", cfg.Logging.Output, err)
		}
		out = f
	}

	logger.Configure(logger.Config{Level: level, Output: out, Format: cfg.Logging.Format})
	return nil
}

// RunProvision ensures every configured payload exists with its exact size.
func RunProvision(ctx context.Context, cfg *config.Config) error {
	log := logger.WithField("mode", "provision")

	store, err := payload.NewStore(payload.OptionsFromConfig(cfg), nil, logger.Default())
	if err != nil {
		return fmt.Errorf("failed to create payload store: %w", err)
	}

	start := time.Now()
	if err := store.EnsureAll(ctx); err != nil {
		return fmt.Errorf("failed to provision payloads: %w", err)
	}
	log.Info("payloads ready", "dir", cfg.Payload.Dir, "files", len(cfg.Payload.Files), "duration", time.Since(start))
	return nil
}

// RunServer provisions payloads, starts the HTTP (and optionally gRPC)
// listeners and blocks until SIGINT or SIGTERM.
func RunServer(cfg *config.Config) error {
	log := logger.WithField("mode", "server")

	log.Info("starting netprobe server",
		"address", cfg.GetServerAddress(),
		"payloadDir", cfg.Payload.Dir,
		"duplex", cfg.Duplex.Enabled,
		"grpc", cfg.GRPC.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := payload.NewStore(payload.OptionsFromConfig(cfg), nil, logger.Default())
	if err != nil {
		return fmt.Errorf("failed to create payload store: %w", err)
	}
	// Payloads must be complete before the first request can arrive.
	if err := store.EnsureAll(ctx); err != nil {
		return fmt.Errorf("failed to provision payloads: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	probe, err := server.New(cfg, store, m, logger.Default())
	if err != nil {
		return fmt.Errorf("failed to create probe server: %w", err)
	}

	httpServer, err := server.StartHTTPServer(cfg, probe)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	var grpcServer *grpc.Server
	if cfg.GRPC.Enabled {
		grpcServer, err = server.StartGRPCServer(cfg, server.NewProbeService(m, logger.Default(),
			server.WithStreamIdleTimeout(cfg.GRPC.StreamIdleTimeout)))
		if err != nil {
			_ = httpServer.Close()
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}

	log.Info("server started successfully", "address", cfg.GetServerAddress())

	<-ctx.Done()
	log.Info("received shutdown signal, stopping server...")

	return shutdown(cfg.Server.ShutdownTimeout, httpServer, grpcServer, log)
}

type httpShutdowner interface {
	Shutdown(ctx context.Context) error
	Close() error
}

// shutdown drains both listeners, forcing them closed once timeout elapses.
func shutdown(timeout time.Duration, httpServer httpShutdowner, grpcServer *grpc.Server, log *logger.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if grpcServer != nil {
			grpcServer.GracefulStop()
			log.Info("gRPC server stopped gracefully")
		}
	}()

	// Hijacked WebSocket connections are not tracked by Shutdown; their
	// sessions end when the peer or the idle timeout closes them.
	httpErr := httpServer.Shutdown(shutdownCtx)

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("shutdown timeout exceeded, forcing stop")
		if grpcServer != nil {
			grpcServer.Stop()
		}
	}

	if httpErr != nil {
		log.Warn("HTTP shutdown incomplete, closing connections", "error", httpErr)
		_ = httpServer.Close()
		return httpErr
	}
	log.Info("server shutdown completed")
	return nil
}
