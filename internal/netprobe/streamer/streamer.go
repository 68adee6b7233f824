package streamer

import (
	"context"
	"fmt"
	"io"

	"netprobe/internal/netprobe/domain"
	"netprobe/internal/netprobe/payload"
	errs "netprobe/pkg/errors"
	"netprobe/pkg/logger"
)

// Streamer emits a payload byte range to a transport in bounded blocks.
type Streamer struct {
	store  *payload.Store
	logger *logger.Logger
}

func New(store *payload.Store, log *logger.Logger) *Streamer {
	if log == nil {
		log = logger.Default()
	}
	return &Streamer{
		store:  store,
		logger: log.WithField("component", "streamer"),
	}
}

// Stream opens a lazy block sequence over [r.Start, r.End] of the named payload.
// The returned reader holds one file handle until drained or closed.
func (s *Streamer) Stream(name string, r domain.ByteRange) (*payload.RangeReader, error) {
	return s.store.OpenRange(name, r)
}

// Copy drains rr into w one block at a time and always closes rr. A failed
// write or a cancelled ctx is ErrTransport, a failed read is ErrIO. The
// returned count is the number of bytes handed to w.
func (s *Streamer) Copy(ctx context.Context, w io.Writer, rr *payload.RangeReader) (int64, error) {
	defer rr.Close()

	var written int64
	for block, err := range rr.All() {
		if err != nil {
			return written, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return written, fmt.Errorf("%w: %v", errs.ErrTransport, ctxErr)
		}

		n, werr := w.Write(block)
		written += int64(n)
		if werr != nil {
			return written, fmt.Errorf("%w: %v", errs.ErrTransport, werr)
		}
		if n != len(block) {
			return written, fmt.Errorf("%w: %v", errs.ErrTransport, io.ErrShortWrite)
		}
	}

	if remaining := rr.Remaining(); remaining != 0 {
		return written, fmt.Errorf("%w: %d bytes left unsent", errs.ErrIO, remaining)
	}
	return written, nil
}

// Send resolves, opens and copies a range in one call.
func (s *Streamer) Send(ctx context.Context, w io.Writer, name string, r domain.ByteRange) (int64, error) {
	rr, err := s.Stream(name, r)
	if err != nil {
		return 0, err
	}

	n, err := s.Copy(ctx, w, rr)
	if err != nil {
		s.logger.Debug("range stream ended early",
			"file", name, "range", r.ContentRange(), "sent", n, "error", err)
	}
	return n, err
}
