package modes

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netprobe/pkg/config"
	"netprobe/pkg/logger"
)

func TestRunProvision_CreatesPayloads(t *testing.T) {
	cfg := config.Default()
	cfg.Payload.Dir = t.TempDir()
	cfg.Payload.Files = []config.PayloadFile{{Name: "1mb.bin", SizeMB: 1}}
	cfg.Payload.DefaultFile = "1mb.bin"

	require.NoError(t, RunProvision(context.Background(), &cfg))

	info, err := os.Stat(filepath.Join(cfg.Payload.Dir, "1mb.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024), info.Size())
}

func TestSetupLogger(t *testing.T) {
	t.Cleanup(func() { logger.Configure(logger.Config{Level: logger.INFO}) })

	cfg := config.Default()
	cfg.Logging.Level = "loud"
	assert.Error(t, SetupLogger(&cfg))

	cfg.Logging.Level = "debug"
	cfg.Logging.Output = filepath.Join(t.TempDir(), "netprobe.log")
	require.NoError(t, SetupLogger(&cfg))
	assert.True(t, logger.Default().IsDebugEnabled())

	logger.Info("hello")
	data, err := os.ReadFile(cfg.Logging.Output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

type fakeHTTPServer struct {
	shutdownErr error
	closed      bool
}

func (f *fakeHTTPServer) Shutdown(ctx context.Context) error { return f.shutdownErr }
func (f *fakeHTTPServer) Close() error {
	f.closed = true
	return nil
}

func TestShutdown(t *testing.T) {
	quiet := logger.NewWithConfig(logger.Config{Output: io.Discard})

	clean := &fakeHTTPServer{}
	require.NoError(t, shutdown(time.Second, clean, nil, quiet))
	assert.False(t, clean.closed)

	stuck := &fakeHTTPServer{shutdownErr: context.DeadlineExceeded}
	err := shutdown(time.Second, stuck, nil, quiet)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, stuck.closed)
}
