// Package client measures latency and throughput against a running netprobe server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"netprobe/internal/netprobe/domain"
	errs "netprobe/pkg/errors"
	"netprobe/pkg/logger"
)

// ErrUnexpectedStatus is returned when the server answers with a status the
// measurement cannot use.
var ErrUnexpectedStatus = errors.New("unexpected response status")

const (
	DefaultDuplexPath   = "/ws-upload"
	DefaultFragmentSize = 1024 * 1024
	DefaultConnections  = 4
	DefaultFrameSize    = 256 * 1024
)

// Client talks to one netprobe server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer
	duplexPath string
	logger     *logger.Logger
}

// Option configures a Client
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithDuplexPath(path string) Option {
	return func(c *Client) { c.duplexPath = path }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Transport: &http.Transport{DisableCompression: true}},
		dialer:     websocket.DefaultDialer,
		duplexPath: DefaultDuplexPath,
		logger:     logger.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "probe-client")
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path += path
	u.RawQuery = query.Encode()
	return u.String()
}

// TransferResult summarises one throughput measurement.
type TransferResult struct {
	Bytes   int64
	Elapsed time.Duration
	Mbps    float64
}

func newTransferResult(bytes int64, elapsed time.Duration) TransferResult {
	return TransferResult{
		Bytes:   bytes,
		Elapsed: elapsed,
		Mbps:    domain.NewThroughputSample(bytes, elapsed).MegabitsPerSecond(),
	}
}

// PingResult holds round-trip samples and their statistics.
type PingResult struct {
	Samples []time.Duration
	Min     time.Duration
	Avg     time.Duration
	Max     time.Duration
}

// Ping issues count GET /ping requests sequentially and records each round trip.
func (c *Client) Ping(ctx context.Context, count int) (PingResult, error) {
	if count <= 0 {
		return PingResult{}, fmt.Errorf("ping count must be positive, got %d", count)
	}

	var result PingResult
	var total time.Duration
	for i := 0; i < count; i++ {
		// The nonce defeats intermediaries that ignore the no-cache headers.
		target := c.endpoint("/ping", url.Values{"t": {strconv.FormatInt(time.Now().UnixNano(), 10)}})

		start := time.Now()
		var body struct {
			OK bool `json:"ok"`
		}
		if err := c.getJSON(ctx, target, &body); err != nil {
			return result, err
		}
		rtt := time.Since(start)
		if !body.OK {
			return result, fmt.Errorf("%w: ping not acknowledged", ErrUnexpectedStatus)
		}

		result.Samples = append(result.Samples, rtt)
		total += rtt
		if result.Min == 0 || rtt < result.Min {
			result.Min = rtt
		}
		if rtt > result.Max {
			result.Max = rtt
		}
	}
	result.Avg = total / time.Duration(len(result.Samples))
	return result, nil
}

// Meta fetches the descriptor of a payload; an empty name means the server default.
func (c *Client) Meta(ctx context.Context, name string) (domain.TestFile, error) {
	query := url.Values{}
	if name != "" {
		query.Set("name", name)
	}
	var meta domain.TestFile
	if err := c.getJSON(ctx, c.endpoint("/meta", query), &meta); err != nil {
		return domain.TestFile{}, err
	}
	return meta, nil
}

func (c *Client) getJSON(ctx context.Context, target string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", errs.ErrNotFound, target)
		}
		return fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, target)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding response: %v", errs.ErrTransport, err)
	}
	return nil
}

// Upload POSTs size bytes to /upload and checks the server counted all of them.
func (c *Client) Upload(ctx context.Context, size int64) (TransferResult, error) {
	if size < 0 {
		return TransferResult{}, fmt.Errorf("upload size must not be negative, got %d", size)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload", nil),
		io.LimitReader(fillReader{}, size))
	if err != nil {
		return TransferResult{}, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TransferResult{}, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return TransferResult{}, fmt.Errorf("%w: upload answered %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var body struct {
		ReceivedBytes int64 `json:"received_bytes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return TransferResult{}, fmt.Errorf("%w: decoding upload response: %v", errs.ErrTransport, err)
	}
	elapsed := time.Since(start)

	if body.ReceivedBytes != size {
		return TransferResult{}, fmt.Errorf("%w: server received %d of %d bytes", errs.ErrTransport, body.ReceivedBytes, size)
	}
	return newTransferResult(size, elapsed), nil
}

// fillReader yields an endless run of a fixed byte.
type fillReader struct{}

func (fillReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0xA5
	}
	return len(p), nil
}
