package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netprobe/internal/netprobe/domain"
)

func TestSessionObserver(t *testing.T) {
	m := New()
	obs := m.SessionObserver("websocket")

	obs.SessionOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions.WithLabelValues("websocket")))

	obs.ChunkAcknowledged(domain.NewThroughputSample(1_000_000, time.Second))
	obs.ChunkAcknowledged(domain.NewThroughputSample(500, 0))
	assert.Equal(t, 1_000_500.0, testutil.ToFloat64(m.UploadedBytes.WithLabelValues("websocket")))

	obs.SessionClosed(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSessions.WithLabelValues("websocket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("websocket", "aborted")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveRequest("/ping", http.MethodGet, http.StatusOK)
	m.DownloadedBytes.WithLabelValues("25mb.bin").Add(42)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `netprobe_http_requests_total{code="200",method="GET",route="/ping"} 1`)
	assert.Contains(t, string(body), `netprobe_downloaded_bytes_total{file="25mb.bin"} 42`)
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveRequest("/upload", http.MethodPost, http.StatusOK)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Requests.WithLabelValues("/upload", http.MethodPost, "200")))
}
