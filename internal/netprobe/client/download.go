package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	errs "netprobe/pkg/errors"
)

// DownloadOptions controls a multi-connection download.
type DownloadOptions struct {
	// Name of the payload; empty means the server default
	Name         string
	Connections  int
	FragmentSize int64
	// Duration stops handing out new fragments once elapsed (0 = cover the whole file)
	Duration time.Duration
}

func (o DownloadOptions) withDefaults() DownloadOptions {
	if o.Connections <= 0 {
		o.Connections = DefaultConnections
	}
	if o.FragmentSize <= 0 {
		o.FragmentSize = DefaultFragmentSize
	}
	return o
}

// fragmenter hands out consecutive byte ranges of a file to workers.
type fragmenter struct {
	mu       sync.Mutex
	next     int64
	size     int64
	fragSize int64
	deadline time.Time
}

func (f *fragmenter) take() (start, end int64, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.next >= f.size {
		return 0, 0, false
	}
	if !f.deadline.IsZero() && time.Now().After(f.deadline) {
		return 0, 0, false
	}
	start = f.next
	end = min(start+f.fragSize, f.size) - 1
	f.next = end + 1
	return start, end, true
}

// Download fetches /meta, then pulls the payload in ranged fragments over
// several parallel connections. Every fragment must arrive complete.
func (c *Client) Download(ctx context.Context, opts DownloadOptions) (TransferResult, error) {
	opts = opts.withDefaults()

	meta, err := c.Meta(ctx, opts.Name)
	if err != nil {
		return TransferResult{}, fmt.Errorf("failed to fetch payload metadata: %w", err)
	}

	frags := &fragmenter{size: meta.SizeBytes, fragSize: opts.FragmentSize}
	start := time.Now()
	if opts.Duration > 0 {
		frags.deadline = start.Add(opts.Duration)
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Connections; i++ {
		conn := i
		g.Go(func() error {
			for {
				s, e, ok := frags.take()
				if !ok {
					return nil
				}
				n, err := c.fetchRange(gctx, meta.Name, s, e)
				total.Add(n)
				if err != nil {
					c.logger.Debug("fragment failed", "connection", conn, "start", s, "end", e, "error", err)
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return TransferResult{}, err
	}

	result := newTransferResult(total.Load(), time.Since(start))
	c.logger.Debug("download finished", "file", meta.Name, "bytes", result.Bytes, "mbps", result.Mbps)
	return result, nil
}

func (c *Client) fetchRange(ctx context.Context, name string, start, end int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/internet-file", url.Values{"name": {name}}), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("%w: range %d-%d answered %d", ErrUnexpectedStatus, start, end, resp.StatusCode)
	}

	want := end - start + 1
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return n, fmt.Errorf("%w: range %d-%d after %d bytes: %v", errs.ErrTransport, start, end, n, err)
	}
	if n != want {
		return n, fmt.Errorf("%w: range %d-%d delivered %d of %d bytes", errs.ErrTransport, start, end, n, want)
	}
	return n, nil
}
