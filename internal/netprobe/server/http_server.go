package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"netprobe/pkg/config"
	"netprobe/pkg/logger"
)

// StartHTTPServer binds the listener synchronously, so address errors surface
// to the caller, then serves handler in the background.
func StartHTTPServer(cfg *config.Config, handler http.Handler) (*http.Server, error) {
	serverLogger := logger.WithField("component", "http-listener")
	address := cfg.GetServerAddress()

	serverLogger.Info("initializing HTTP server", "address", address)

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverLogger.Debug("HTTP server options configured",
		"readHeaderTimeout", cfg.Server.ReadHeaderTimeout,
		"readTimeout", cfg.Server.ReadTimeout,
		"writeTimeout", cfg.Server.WriteTimeout,
		"idleTimeout", cfg.Server.IdleTimeout)

	lis, err := net.Listen("tcp", address)
	if err != nil {
		serverLogger.Error("failed to create listener", "address", address, "error", err)
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		serverLogger.Info("starting HTTP server", "address", lis.Addr().String(), "ready", true)

		if serveErr := httpServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serverLogger.Error("HTTP server stopped with error", "error", serveErr)
		} else {
			serverLogger.Info("HTTP server stopped gracefully")
		}
	}()

	return httpServer, nil
}
