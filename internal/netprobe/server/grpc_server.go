package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"netprobe/internal/netprobe/domain"
	"netprobe/internal/netprobe/metrics"
	"netprobe/internal/netprobe/probeapi"
	"netprobe/internal/netprobe/session"
	"netprobe/pkg/config"
	errs "netprobe/pkg/errors"
	"netprobe/pkg/logger"
)

// ProbeService serves the duplex upload over gRPC streams.
type ProbeService struct {
	sessions    *session.Handler
	logger      *logger.Logger
	idleTimeout time.Duration
}

// ProbeServiceOption configures a ProbeService.
type ProbeServiceOption func(*ProbeService)

// WithStreamIdleTimeout aborts an Upload stream that sends nothing for d.
func WithStreamIdleTimeout(d time.Duration) ProbeServiceOption {
	return func(p *ProbeService) { p.idleTimeout = d }
}

// NewProbeService builds the gRPC probe service. m may be nil.
func NewProbeService(m *metrics.Metrics, log *logger.Logger, opts ...ProbeServiceOption) *ProbeService {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithField("component", "probe-service")

	var observer session.Observer
	if m != nil {
		observer = m.SessionObserver("grpc")
	}
	p := &ProbeService{
		sessions: session.NewHandler(log, session.WithObserver(observer)),
		logger:   log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ProbeService) Ping(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, nil
}

func (p *ProbeService) Upload(stream probeapi.UploadServerStream) error {
	summary := p.sessions.Serve(stream.Context(), &grpcConn{stream: stream, idleTimeout: p.idleTimeout})
	if summary.Err != nil {
		return status.Errorf(codes.Aborted, "upload aborted after %d bytes: %v", summary.Bytes, summary.Err)
	}
	return nil
}

// grpcConn adapts an Upload stream to session.Conn. Returning from the
// handler ends the stream, so Close has nothing to release.
type grpcConn struct {
	stream      probeapi.UploadServerStream
	idleTimeout time.Duration
}

type recvResult struct {
	msg *wrapperspb.BytesValue
	err error
}

func (c *grpcConn) Receive(ctx context.Context) (int, error) {
	msg, err := c.recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	return len(msg.GetValue()), nil
}

// recv waits at most idleTimeout for the next frame. On expiry the pending
// Recv is left behind; it returns once the handler ends the stream.
func (c *grpcConn) recv() (*wrapperspb.BytesValue, error) {
	if c.idleTimeout <= 0 {
		return c.stream.Recv()
	}

	done := make(chan recvResult, 1)
	go func() {
		msg, err := c.stream.Recv()
		done <- recvResult{msg: msg, err: err}
	}()

	timer := time.NewTimer(c.idleTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.msg, res.err
	case <-timer.C:
		return nil, fmt.Errorf("no frame within %s", c.idleTimeout)
	}
}

func (c *grpcConn) Acknowledge(ctx context.Context, sample domain.ThroughputSample) error {
	return c.stream.Send(probeapi.SampleToStruct(sample))
}

func (c *grpcConn) Close() error {
	return nil
}

// StartGRPCServer registers the probe service and serves it on the gRPC port.
func StartGRPCServer(cfg *config.Config, service *ProbeService) (*grpc.Server, error) {
	serverLogger := logger.WithField("component", "grpc-server")
	address := cfg.GetGRPCAddress()

	serverLogger.Info("initializing gRPC server", "address", address)

	grpcOptions := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(int(cfg.GRPC.MaxRecvMsgSize)),
		grpc.MaxSendMsgSize(int(cfg.GRPC.MaxSendMsgSize)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: cfg.GRPC.MaxConnectionIdle,
			Time:              cfg.GRPC.KeepaliveTime,
			Timeout:           cfg.GRPC.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	serverLogger.Debug("gRPC server options configured",
		"maxRecvMsgSize", cfg.GRPC.MaxRecvMsgSize,
		"maxSendMsgSize", cfg.GRPC.MaxSendMsgSize,
		"maxConnectionIdle", cfg.GRPC.MaxConnectionIdle,
		"keepaliveTime", cfg.GRPC.KeepaliveTime)

	grpcServer := grpc.NewServer(grpcOptions...)
	probeapi.RegisterProbeServer(grpcServer, service)

	serverLogger.Info("probe service registered successfully")

	lis, err := net.Listen("tcp", address)
	if err != nil {
		serverLogger.Error("failed to create listener", "address", address, "error", err)
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		serverLogger.Info("starting gRPC server", "address", lis.Addr().String(), "ready", true)

		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			serverLogger.Error("gRPC server stopped with error", "error", serveErr)
		} else {
			serverLogger.Info("gRPC server stopped gracefully")
		}
	}()

	return grpcServer, nil
}
