package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"netprobe/internal/netprobe/domain"
	"netprobe/internal/netprobe/probeapi"
	errs "netprobe/pkg/errors"
)

// DuplexResult is a duplex upload measurement with the server's per-chunk acks.
type DuplexResult struct {
	TransferResult
	Samples []domain.ThroughputSample
}

// summarise derives throughput from the acknowledgements. Server-side dt
// excludes client queuing; wall clock is the fallback when all dt are zero.
func summarise(samples []domain.ThroughputSample, wall time.Duration) DuplexResult {
	var bytes int64
	var seconds float64
	for _, s := range samples {
		bytes += s.Bytes
		seconds += s.ElapsedSeconds
	}
	elapsed := time.Duration(seconds * float64(time.Second))
	if elapsed <= 0 {
		elapsed = wall
	}
	return DuplexResult{TransferResult: newTransferResult(bytes, elapsed), Samples: samples}
}

func validateFrames(frameSize, frames int) error {
	if frameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", frameSize)
	}
	if frames <= 0 {
		return fmt.Errorf("frame count must be positive, got %d", frames)
	}
	return nil
}

// UploadWS sends frames binary messages of frameSize bytes over the duplex
// WebSocket and waits for the acknowledgement of each before sending the next.
func (c *Client) UploadWS(ctx context.Context, frameSize, frames int) (DuplexResult, error) {
	if err := validateFrames(frameSize, frames); err != nil {
		return DuplexResult{}, err
	}

	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += c.duplexPath

	ws, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return DuplexResult{}, fmt.Errorf("%w: dialing %s: %v", errs.ErrTransport, u.String(), err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	frame := make([]byte, frameSize)
	_, _ = fillReader{}.Read(frame)

	samples := make([]domain.ThroughputSample, 0, frames)
	start := time.Now()
	for i := 0; i < frames; i++ {
		if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return DuplexResult{}, fmt.Errorf("%w: sending frame %d: %v", errs.ErrTransport, i, err)
		}
		var ack domain.ThroughputSample
		if err := ws.ReadJSON(&ack); err != nil {
			return DuplexResult{}, fmt.Errorf("%w: reading ack %d: %v", errs.ErrTransport, i, err)
		}
		if ack.Bytes != int64(frameSize) {
			return DuplexResult{}, fmt.Errorf("%w: ack %d reports %d of %d bytes", errs.ErrTransport, i, ack.Bytes, frameSize)
		}
		samples = append(samples, ack)
	}
	wall := time.Since(start)

	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))

	return summarise(samples, wall), nil
}

// UploadGRPC runs the same measurement over the gRPC Probe/Upload stream at addr.
func UploadGRPC(ctx context.Context, addr string, frameSize, frames int, dialOpts ...grpc.DialOption) (DuplexResult, error) {
	if err := validateFrames(frameSize, frames); err != nil {
		return DuplexResult{}, err
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(frameSize + 1024)),
	}, dialOpts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return DuplexResult{}, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer conn.Close()

	stream, err := probeapi.NewProbeClient(conn).Upload(ctx)
	if err != nil {
		return DuplexResult{}, fmt.Errorf("%w: opening upload stream: %v", errs.ErrTransport, err)
	}

	frame := make([]byte, frameSize)
	_, _ = fillReader{}.Read(frame)
	msg := wrapperspb.Bytes(frame)

	samples := make([]domain.ThroughputSample, 0, frames)
	start := time.Now()
	for i := 0; i < frames; i++ {
		if err := stream.Send(msg); err != nil {
			return DuplexResult{}, fmt.Errorf("%w: sending frame %d: %v", errs.ErrTransport, i, err)
		}
		ack, err := stream.Recv()
		if err != nil {
			return DuplexResult{}, fmt.Errorf("%w: reading ack %d: %v", errs.ErrTransport, i, err)
		}
		sample, err := probeapi.SampleFromStruct(ack)
		if err != nil {
			return DuplexResult{}, fmt.Errorf("%w: ack %d: %v", errs.ErrTransport, i, err)
		}
		samples = append(samples, sample)
	}
	wall := time.Since(start)

	if err := stream.CloseSend(); err != nil {
		return DuplexResult{}, fmt.Errorf("%w: closing stream: %v", errs.ErrTransport, err)
	}
	if _, err := stream.Recv(); err != nil && !errors.Is(err, io.EOF) {
		return DuplexResult{}, fmt.Errorf("%w: finishing stream: %v", errs.ErrTransport, err)
	}

	return summarise(samples, wall), nil
}
