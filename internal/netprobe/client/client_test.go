package client

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"netprobe/internal/netprobe/metrics"
	"netprobe/internal/netprobe/payload"
	"netprobe/internal/netprobe/probeapi"
	"netprobe/internal/netprobe/server"
	"netprobe/pkg/config"
	errs "netprobe/pkg/errors"
	"netprobe/pkg/logger"
)

const payloadSize = 300_000

func quiet() *logger.Logger {
	return logger.NewWithConfig(logger.Config{Level: logger.ERROR, Output: io.Discard})
}

func startServer(t *testing.T) (*httptest.Server, *metrics.Metrics) {
	t.Helper()

	cfg := config.Default()
	cfg.Payload.Dir = t.TempDir()
	cfg.Payload.ChunkSize = config.MinChunkSize
	cfg.Payload.DefaultFile = "probe.bin"
	cfg.Payload.Files = []config.PayloadFile{{Name: "probe.bin", SizeMB: 1}}

	store, err := payload.NewStore(payload.OptionsFromConfig(&cfg), nil, quiet())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path("probe.bin"), make([]byte, payloadSize), 0644))

	m := metrics.New()
	srv, err := server.New(&cfg, store, m, quiet())
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, m
}

func newClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(baseURL, WithLogger(quiet()))
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"ftp://host", "localhost:8080", "://"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}
}

func TestPing(t *testing.T) {
	ts, _ := startServer(t)
	c := newClient(t, ts.URL)

	res, err := c.Ping(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, res.Samples, 5)
	assert.LessOrEqual(t, res.Min, res.Avg)
	assert.LessOrEqual(t, res.Avg, res.Max)

	_, err = c.Ping(context.Background(), 0)
	assert.Error(t, err)
}

func TestMeta(t *testing.T) {
	ts, _ := startServer(t)
	c := newClient(t, ts.URL)

	meta, err := c.Meta(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "probe.bin", meta.Name)
	assert.Equal(t, int64(payloadSize), meta.SizeBytes)

	_, err = c.Meta(context.Background(), "missing.bin")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDownload_CoversWholeFile(t *testing.T) {
	ts, m := startServer(t)
	c := newClient(t, ts.URL)

	res, err := c.Download(context.Background(), DownloadOptions{Connections: 3, FragmentSize: 64 * 1024})
	require.NoError(t, err)
	assert.Equal(t, int64(payloadSize), res.Bytes)
	assert.Positive(t, res.Elapsed)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DownloadedBytes.WithLabelValues("probe.bin")) == payloadSize
	}, time.Second, 10*time.Millisecond)
}

func TestDownload_FailsOnNonRangedServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/meta" {
			_, _ = io.WriteString(w, `{"name":"x.bin","size":100}`)
			return
		}
		_, _ = w.Write(make([]byte, 100))
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	_, err := c.Download(context.Background(), DownloadOptions{Connections: 2, FragmentSize: 10})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestDownload_StopsAtDeadline(t *testing.T) {
	var fragments atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/meta" {
			_, _ = io.WriteString(w, `{"name":"big.bin","size":1000000000}`)
			return
		}
		fragments.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(make([]byte, 10))
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	res, err := c.Download(context.Background(), DownloadOptions{
		Connections: 2, FragmentSize: 10, Duration: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, fragments.Load()*10, res.Bytes)
	assert.Less(t, res.Bytes, int64(1000000000))
}

func TestUpload(t *testing.T) {
	ts, _ := startServer(t)
	c := newClient(t, ts.URL)

	res, err := c.Upload(context.Background(), 3*1024*1024)
	require.NoError(t, err)
	assert.Equal(t, int64(3*1024*1024), res.Bytes)
}

func TestUploadWS(t *testing.T) {
	ts, _ := startServer(t)
	c := newClient(t, ts.URL)

	res, err := c.UploadWS(context.Background(), 32*1024, 8)
	require.NoError(t, err)
	require.Len(t, res.Samples, 8)
	assert.Equal(t, int64(8*32*1024), res.Bytes)
	for _, s := range res.Samples {
		assert.Equal(t, int64(32*1024), s.Bytes)
	}

	_, err = c.UploadWS(context.Background(), 0, 1)
	assert.Error(t, err)
}

func TestUploadGRPC(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	probeapi.RegisterProbeServer(srv, server.NewProbeService(nil, quiet()))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	res, err := UploadGRPC(context.Background(), "passthrough:///bufnet", 16*1024, 4,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	assert.Len(t, res.Samples, 4)
	assert.Equal(t, int64(4*16*1024), res.Bytes)
}
