package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"netprobe/internal/netprobe/domain"
	errs "netprobe/pkg/errors"
	"netprobe/pkg/logger"
)

// Conn is one duplex transport carrying upload chunks in and acknowledgements out.
//
// Receive blocks until a whole chunk arrived and returns its length; the bytes
// themselves are discarded by the transport. It returns io.EOF when the peer
// closes cleanly.
type Conn interface {
	Receive(ctx context.Context) (int, error)
	Acknowledge(ctx context.Context, sample domain.ThroughputSample) error
	Close() error
}

// Observer receives session lifecycle events, typically for metrics.
type Observer interface {
	SessionOpened()
	SessionClosed(clean bool)
	ChunkAcknowledged(sample domain.ThroughputSample)
}

type nopObserver struct{}

func (nopObserver) SessionOpened()                           {}
func (nopObserver) SessionClosed(bool)                       {}
func (nopObserver) ChunkAcknowledged(domain.ThroughputSample) {}

// Summary describes a finished session.
type Summary struct {
	ID       string
	Bytes    int64
	Chunks   int64
	Duration time.Duration
	Clean    bool
	Err      error
	// States is the sequence of states the session went through
	States []State
}

// Handler runs the receive/acknowledge loop for duplex connections.
type Handler struct {
	logger   *logger.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Handler
type Option func(*Handler)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithObserver attaches lifecycle callbacks
func WithObserver(o Observer) Option {
	return func(h *Handler) {
		if o != nil {
			h.observer = o
		}
	}
}

func NewHandler(log *logger.Logger, opts ...Option) *Handler {
	if log == nil {
		log = logger.Default()
	}
	h := &Handler{
		logger:   log.WithField("component", "session-handler"),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs one session until the peer disconnects or a fault occurs, then
// closes conn. Faults are logged and reported in the Summary, never returned
// as errors, so a misbehaving peer cannot affect other connections.
func (h *Handler) Serve(ctx context.Context, conn Conn) Summary {
	s := newSession(uuid.NewString(), h.now())
	log := h.logger.WithField("sessionId", s.upload.ID)

	h.observer.SessionOpened()
	log.Debug("duplex session opened")

	err := h.loop(ctx, conn, s)
	clean := isCleanClose(err)

	if cerr := conn.Close(); cerr != nil && clean {
		log.Debug("error closing duplex connection", "error", cerr)
	}
	s.transition(Closed)
	h.observer.SessionClosed(clean)

	summary := Summary{
		ID:       s.upload.ID,
		Bytes:    s.upload.BytesReceived,
		Chunks:   s.upload.Chunks,
		Duration: h.now().Sub(s.upload.OpenedAt),
		Clean:    clean,
		States:   append([]State(nil), s.history...),
	}
	if !clean {
		summary.Err = err
		log.Warn("duplex session aborted", "bytes", summary.Bytes, "chunks", summary.Chunks, "error", err)
	} else {
		log.Info("duplex session closed", "bytes", summary.Bytes, "chunks", summary.Chunks, "duration", summary.Duration)
	}
	return summary
}

func (h *Handler) loop(ctx context.Context, conn Conn, s *Session) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrTransport, err)
		}

		s.transition(ReceivingChunk)
		n, err := conn.Receive(ctx)
		if err != nil {
			return err
		}

		sample := s.upload.Record(n, h.now())

		s.transition(Acknowledging)
		if err := conn.Acknowledge(ctx, sample); err != nil {
			return fmt.Errorf("%w: acknowledging chunk %d: %v", errs.ErrTransport, s.upload.Chunks, err)
		}
		h.observer.ChunkAcknowledged(sample)
	}
}

func isCleanClose(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, errs.ErrSessionClosed)
}
