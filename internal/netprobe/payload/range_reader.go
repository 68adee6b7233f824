package payload

import (
	"fmt"
	"io"
	"iter"

	"netprobe/internal/netprobe/domain"
	"netprobe/pkg/buffer"
	errs "netprobe/pkg/errors"
	"netprobe/pkg/platform"
)

// RangeReader is a forward-only, non-restartable sequence of blocks covering
// one byte range. Each block is at most the pool's chunk size and is only
// valid until the next call to Next.
type RangeReader struct {
	file   platform.File
	pool   *buffer.Pool
	buf    *[]byte
	rng    domain.ByteRange
	offset int64
	err    error
	closed bool
}

func newRangeReader(f platform.File, r domain.ByteRange, pool *buffer.Pool) *RangeReader {
	return &RangeReader{
		file:   f,
		pool:   pool,
		buf:    pool.Get(),
		rng:    r,
		offset: r.Start,
	}
}

// Range returns the interval this reader covers
func (rr *RangeReader) Range() domain.ByteRange {
	return rr.rng
}

// Remaining returns the number of bytes not yet yielded
func (rr *RangeReader) Remaining() int64 {
	if rr.offset > rr.rng.End {
		return 0
	}
	return rr.rng.End - rr.offset + 1
}

// Next returns the next block, io.EOF once the whole range was yielded, or an
// ErrIO-wrapped error if the file could not deliver the bytes. A short file is
// an error, never an early EOF.
func (rr *RangeReader) Next() ([]byte, error) {
	if rr.err != nil {
		return nil, rr.err
	}
	if rr.closed {
		return nil, fmt.Errorf("%w: range reader closed", errs.ErrIO)
	}

	remaining := rr.Remaining()
	if remaining == 0 {
		rr.err = io.EOF
		rr.Close()
		return nil, io.EOF
	}

	block := *rr.buf
	if int64(len(block)) > remaining {
		block = block[:remaining]
	}

	n, err := rr.file.ReadAt(block, rr.offset)
	if n < len(block) {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		rr.err = fmt.Errorf("%w: reading %s at offset %d: %v", errs.ErrIO, rr.file.Name(), rr.offset+int64(n), err)
		rr.Close()
		return nil, rr.err
	}

	rr.offset += int64(n)
	return block[:n], nil
}

// All adapts the reader to a range-over-func sequence. The file is closed when
// iteration finishes, errors, or the consumer breaks out of the loop.
func (rr *RangeReader) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		defer rr.Close()
		for {
			block, err := rr.Next()
			if err == io.EOF {
				return
			}
			if !yield(block, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the file handle and the block buffer. Safe to call twice.
func (rr *RangeReader) Close() error {
	if rr.closed {
		return nil
	}
	rr.closed = true
	rr.pool.Put(rr.buf)
	rr.buf = nil
	return rr.file.Close()
}
