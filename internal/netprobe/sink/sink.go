package sink

import (
	"context"
	"errors"
	"fmt"
	"io"

	"netprobe/pkg/buffer"
	errs "netprobe/pkg/errors"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// Sink drains inbound byte streams, counting and discarding them. It never
// holds more than one chunk per stream and never touches disk.
type Sink struct {
	pool     *buffer.Pool
	maxBytes int64
}

// New creates a sink reading chunkSize bytes at a time. maxBytes <= 0 means unlimited.
func New(chunkSize int, maxBytes int64) (*Sink, error) {
	pool, err := buffer.NewPool(chunkSize)
	if err != nil {
		return nil, fmt.Errorf("invalid upload chunk size %d: %w", chunkSize, err)
	}
	return &Sink{pool: pool, maxBytes: maxBytes}, nil
}

// Consume reads r to a clean end-of-stream and returns the byte count.
// Any other termination is ErrTransport (or ErrTooLarge); the partial count
// is still returned but must not be reported as a successful upload.
func (s *Sink) Consume(ctx context.Context, r io.Reader) (int64, error) {
	return s.ConsumeChunks(ctx, r, nil)
}

// ConsumeChunks is Consume with a callback invoked after every read.
func (s *Sink) ConsumeChunks(ctx context.Context, r io.Reader, onChunk func(n int)) (int64, error) {
	buf := s.pool.Get()
	defer s.pool.Put(buf)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("%w: %v", errs.ErrTransport, err)
		}

		n, err := r.Read(*buf)
		if n > 0 {
			total += int64(n)
			if onChunk != nil {
				onChunk(n)
			}
			if s.maxBytes > 0 && total > s.maxBytes {
				return total, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, s.maxBytes)
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return total, nil
		default:
			return total, fmt.Errorf("%w: after %d bytes: %v", errs.ErrTransport, total, err)
		}
	}
}
