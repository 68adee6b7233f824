package payload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netprobe/internal/netprobe/domain"
	"netprobe/pkg/config"
	errs "netprobe/pkg/errors"
	"netprobe/pkg/logger"
	"netprobe/pkg/platform"
)

func newTestStore(t *testing.T, p platform.Platform, files ...config.PayloadFile) *Store {
	t.Helper()
	if len(files) == 0 {
		files = []config.PayloadFile{{Name: "1mb.bin", SizeMB: 1}}
	}
	store, err := NewStore(Options{
		Dir:         t.TempDir(),
		ChunkSize:   config.MinChunkSize,
		DefaultFile: files[0].Name,
		Files:       files,
	}, p, logger.NewWithConfig(logger.Config{Level: logger.ERROR, Output: io.Discard}))
	require.NoError(t, err)
	return store
}

// writeFixture places a known file in the store directory, bypassing Ensure.
func writeFixture(t *testing.T, store *Store, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(store.Path(name), data, 0644))
}

func fixtureBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestStore_EnsureCreatesExactSize(t *testing.T) {
	store := newTestStore(t, nil)

	created, err := store.Ensure("1mb.bin", 1024*1024)
	require.NoError(t, err)
	assert.True(t, created)

	info, err := os.Stat(store.Path("1mb.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024), info.Size())

	leftovers, err := filepath.Glob(filepath.Join(store.opts.Dir, ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp file must be renamed into place")
}

func TestStore_EnsureIsIdempotent(t *testing.T) {
	mock := platform.NewMockPlatform()
	store := newTestStore(t, mock)

	created, err := store.Ensure("1mb.bin", 1024*1024)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, mock.CreateCalls, 1)

	created, err = store.Ensure("1mb.bin", 1024*1024)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, mock.CreateCalls, 1, "second call must not write")

	info, err := os.Stat(store.Path("1mb.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024), info.Size())
}

func TestStore_EnsureRecreatesWrongSize(t *testing.T) {
	store := newTestStore(t, nil)
	writeFixture(t, store, "1mb.bin", []byte("short"))

	created, err := store.Ensure("1mb.bin", 1024*1024)
	require.NoError(t, err)
	assert.True(t, created)

	meta, err := store.Metadata("1mb.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024), meta.SizeBytes)
}

func TestStore_EnsureStorageFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(mp *platform.MockPlatform)
	}{
		{"create fails", func(mp *platform.MockPlatform) { mp.ShouldFailCreate = true }},
		{"disk full", func(mp *platform.MockPlatform) { mp.ShouldFailWrite = true }},
		{"rename fails", func(mp *platform.MockPlatform) { mp.ShouldFailRename = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := platform.NewMockPlatform()
			tt.setup(mock)
			store := newTestStore(t, mock)

			_, err := store.Ensure("1mb.bin", 1024*1024)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrStorage)

			_, statErr := os.Stat(store.Path("1mb.bin"))
			assert.True(t, os.IsNotExist(statErr), "a failed ensure must not leave a partial payload")

			leftovers, _ := filepath.Glob(filepath.Join(store.opts.Dir, ".*.tmp"))
			assert.Empty(t, leftovers)
		})
	}
}

func TestStore_EnsureAll(t *testing.T) {
	store := newTestStore(t, nil,
		config.PayloadFile{Name: "a.bin", SizeMB: 1},
		config.PayloadFile{Name: "b.bin", SizeMB: 2},
	)

	require.NoError(t, store.EnsureAll(context.Background()))

	a, err := store.Metadata("a.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), a.SizeBytes)

	b, err := store.Metadata("b.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(2<<20), b.SizeBytes)
}

func TestStore_EnsureAllHonoursCancellation(t *testing.T) {
	store := newTestStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.EnsureAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_MetadataNotFound(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.Metadata("1mb.bin")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.True(t, IsNotFound(err))

	_, err = store.Metadata("../../etc/passwd")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStore_LookupBySize(t *testing.T) {
	store := newTestStore(t, nil,
		config.PayloadFile{Name: "25mb.bin", SizeMB: 25},
		config.PayloadFile{Name: "100mb.bin", SizeMB: 100},
	)

	assert.Equal(t, "100mb.bin", store.LookupBySize("100"))
	assert.Equal(t, "25mb.bin", store.LookupBySize("25"))
	assert.Equal(t, "25mb.bin", store.LookupBySize(""))
	assert.Equal(t, "25mb.bin", store.LookupBySize("999"))
	assert.Equal(t, "25mb.bin", store.LookupBySize("lots"))
}

func TestRangeReader_YieldsExactRangeInBoundedBlocks(t *testing.T) {
	store := newTestStore(t, nil)
	data := fixtureBytes(3*config.MinChunkSize + 100)
	writeFixture(t, store, "1mb.bin", data)

	tests := []struct {
		name       string
		start, end int64
	}{
		{"full", 0, int64(len(data)) - 1},
		{"single byte", 7, 7},
		{"inside one block", 100, 199},
		{"spans blocks", 10, int64(2*config.MinChunkSize) + 10},
		{"tail", int64(len(data)) - 5, int64(len(data)) - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := domain.NewByteRange(tt.start, tt.end, int64(len(data)))
			require.NoError(t, err)

			rr, err := store.OpenRange("1mb.bin", r)
			require.NoError(t, err)

			var got bytes.Buffer
			for block, err := range rr.All() {
				require.NoError(t, err)
				assert.LessOrEqual(t, len(block), config.MinChunkSize)
				got.Write(block)
			}

			assert.Equal(t, data[tt.start:tt.end+1], got.Bytes())
			assert.Equal(t, int64(0), rr.Remaining())
		})
	}
}

func TestRangeReader_ReleasesHandleOnEveryExit(t *testing.T) {
	mock := platform.NewMockPlatform()
	store := newTestStore(t, mock)
	data := fixtureBytes(4 * config.MinChunkSize)
	writeFixture(t, store, "1mb.bin", data)
	full := domain.FullRange(int64(len(data)))

	// exhausted
	rr, err := store.OpenRange("1mb.bin", full)
	require.NoError(t, err)
	for range rr.All() {
	}
	assert.Equal(t, 0, mock.OpenFiles())

	// abandoned after the first block
	rr, err = store.OpenRange("1mb.bin", full)
	require.NoError(t, err)
	for range rr.All() {
		break
	}
	assert.Equal(t, 0, mock.OpenFiles())

	// never iterated
	rr, err = store.OpenRange("1mb.bin", full)
	require.NoError(t, err)
	assert.Equal(t, 1, mock.OpenFiles())
	require.NoError(t, rr.Close())
	require.NoError(t, rr.Close())
	assert.Equal(t, 0, mock.OpenFiles())
}

func TestRangeReader_ReadFailureTerminatesEarly(t *testing.T) {
	mock := platform.NewMockPlatform()
	mock.FailReadAfter = int64(config.MinChunkSize)
	store := newTestStore(t, mock)
	data := fixtureBytes(4 * config.MinChunkSize)
	writeFixture(t, store, "1mb.bin", data)

	rr, err := store.OpenRange("1mb.bin", domain.FullRange(int64(len(data))))
	require.NoError(t, err)

	var blocks int
	var lastErr error
	for _, err := range rr.All() {
		if err != nil {
			lastErr = err
			continue
		}
		blocks++
	}

	assert.Equal(t, 1, blocks)
	require.Error(t, lastErr)
	assert.ErrorIs(t, lastErr, errs.ErrIO)
	assert.Equal(t, 0, mock.OpenFiles())
}

func TestRangeReader_ShortFileIsAnError(t *testing.T) {
	store := newTestStore(t, nil)
	writeFixture(t, store, "1mb.bin", fixtureBytes(100))

	// The range claims more bytes than the file holds.
	rr, err := store.OpenRange("1mb.bin", domain.ByteRange{Start: 0, End: 199, TotalSize: 200})
	require.NoError(t, err)

	_, err = rr.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrIO)
	assert.False(t, errors.Is(err, io.EOF))
}

func TestStore_OpenRangeMissingFile(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.OpenRange("1mb.bin", domain.FullRange(10))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
