package payload

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"time"

	"netprobe/internal/netprobe/domain"
	"netprobe/pkg/buffer"
	"netprobe/pkg/config"
	errs "netprobe/pkg/errors"
	"netprobe/pkg/logger"
	"netprobe/pkg/platform"
)

// Options is the explicit configuration injected into a Store.
type Options struct {
	Dir         string
	ChunkSize   int
	DefaultFile string
	Files       []config.PayloadFile
}

// OptionsFromConfig extracts store options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dir:         cfg.Payload.Dir,
		ChunkSize:   cfg.Payload.ChunkSize,
		DefaultFile: cfg.Payload.DefaultFile,
		Files:       append([]config.PayloadFile(nil), cfg.Payload.Files...),
	}
}

// Store owns the payload files on disk. Files are written once by Ensure
// before serving starts and only read afterwards, so reads take no locks.
type Store struct {
	opts     Options
	platform platform.Platform
	pool     *buffer.Pool
	logger   *logger.Logger
	random   func() io.Reader
}

// NewStore creates a payload store over the given platform
func NewStore(opts Options, p platform.Platform, log *logger.Logger) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("payload directory is required")
	}
	if p == nil {
		p = platform.NewPlatform()
	}
	if log == nil {
		log = logger.Default()
	}

	pool, err := buffer.NewPool(opts.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("invalid payload chunk size %d: %w", opts.ChunkSize, err)
	}

	return &Store{
		opts:     opts,
		platform: p,
		pool:     pool,
		logger:   log.WithField("component", "payload-store"),
		random:   newRandomSource,
	}, nil
}

// ChunkSize returns the maximum block size yielded by range readers
func (s *Store) ChunkSize() int {
	return s.pool.Size()
}

// Path returns the on-disk location of a payload
func (s *Store) Path(name string) string {
	return filepath.Join(s.opts.Dir, name)
}

// EnsureAll provisions every configured payload. It must finish before the
// listener opens; any failure is fatal.
func (s *Store) EnsureAll(ctx context.Context) error {
	for _, f := range s.opts.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Ensure(f.Name, f.SizeBytes()); err != nil {
			return err
		}
	}
	return nil
}

// Ensure creates the payload with random content unless a file of exactly
// sizeBytes already exists. The file appears atomically: a temp file is
// filled and synced, then renamed into place. Reports whether it wrote.
func (s *Store) Ensure(name string, sizeBytes int64) (bool, error) {
	log := s.logger.WithFields("file", name, "sizeBytes", sizeBytes)

	if sizeBytes <= 0 {
		return false, fmt.Errorf("%w: invalid size %d for %s", errs.ErrStorage, sizeBytes, name)
	}

	path := s.Path(name)
	info, err := s.platform.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return false, fmt.Errorf("%w: %s is a directory", errs.ErrStorage, path)
	case err == nil && info.Size() == sizeBytes:
		log.Debug("payload already provisioned")
		return false, nil
	case err == nil:
		log.Info("payload has wrong size, recreating", "actualSize", info.Size())
	case s.platform.IsNotExist(err):
		log.Info("payload missing, creating")
	default:
		return false, fmt.Errorf("%w: stat %s: %v", errs.ErrStorage, path, err)
	}

	if err := s.platform.MkdirAll(s.opts.Dir, 0755); err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	start := time.Now()
	if err := s.writeAtomically(path, sizeBytes); err != nil {
		log.Error("failed to provision payload", "error", err)
		return false, fmt.Errorf("%w: provisioning %s: %v", errs.ErrStorage, name, err)
	}

	log.Info("payload provisioned", "duration", time.Since(start))
	return true, nil
}

func (s *Store) writeAtomically(path string, sizeBytes int64) error {
	tmp, err := s.platform.CreateTemp(s.opts.Dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = s.platform.Remove(tmp.Name())
		}
	}()

	buf := s.pool.Get()
	defer s.pool.Put(buf)

	if _, err := io.CopyBuffer(tmp, io.LimitReader(s.random(), sizeBytes), *buf); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := s.platform.Rename(tmp.Name(), path); err != nil {
		_ = s.platform.Remove(tmp.Name())
		committed = true
		return err
	}
	committed = true
	return nil
}

// Metadata returns name and size of a configured payload
func (s *Store) Metadata(name string) (domain.TestFile, error) {
	if !s.isConfigured(name) {
		return domain.TestFile{}, fmt.Errorf("%w: %s is not a configured payload", errs.ErrNotFound, name)
	}

	path := s.Path(name)
	info, err := s.platform.Stat(path)
	if err != nil {
		if s.platform.IsNotExist(err) {
			return domain.TestFile{}, fmt.Errorf("%w: %s", errs.ErrNotFound, name)
		}
		return domain.TestFile{}, fmt.Errorf("%w: stat %s: %v", errs.ErrIO, name, err)
	}
	if info.IsDir() {
		return domain.TestFile{}, fmt.Errorf("%w: %s", errs.ErrNotFound, name)
	}

	return domain.TestFile{Name: name, Path: path, SizeBytes: info.Size()}, nil
}

// DefaultFile returns the name served when a request does not pick one
func (s *Store) DefaultFile() string {
	return s.opts.DefaultFile
}

// Files returns the configured payload descriptors
func (s *Store) Files() []config.PayloadFile {
	return append([]config.PayloadFile(nil), s.opts.Files...)
}

// LookupBySize maps a "size in MB" query value to a payload name. Unknown
// or non-numeric sizes fall back to the default payload.
func (s *Store) LookupBySize(sizeMB string) string {
	if sizeMB == "" {
		return s.opts.DefaultFile
	}
	size, err := strconv.ParseInt(sizeMB, 10, 64)
	if err != nil {
		return s.opts.DefaultFile
	}
	for _, f := range s.opts.Files {
		if f.SizeMB == size {
			return f.Name
		}
	}
	return s.opts.DefaultFile
}

// OpenRange opens the payload and returns a reader over [r.Start, r.End].
// The caller owns exactly one file handle until the reader is exhausted or closed.
func (s *Store) OpenRange(name string, r domain.ByteRange) (*RangeReader, error) {
	if !s.isConfigured(name) {
		return nil, fmt.Errorf("%w: %s is not a configured payload", errs.ErrNotFound, name)
	}

	f, err := s.platform.Open(s.Path(name))
	if err != nil {
		if s.platform.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: open %s: %v", errs.ErrIO, name, err)
	}

	return newRangeReader(f, r, s.pool), nil
}

func (s *Store) isConfigured(name string) bool {
	for _, f := range s.opts.Files {
		if f.Name == name {
			return true
		}
	}
	return false
}

func newRandomSource() io.Reader {
	var seed [32]byte
	now := uint64(time.Now().UnixNano())
	binary.LittleEndian.PutUint64(seed[:8], now)
	binary.LittleEndian.PutUint64(seed[8:16], rand.Uint64())
	binary.LittleEndian.PutUint64(seed[16:24], rand.Uint64())
	binary.LittleEndian.PutUint64(seed[24:], rand.Uint64())
	return rand.NewChaCha8(seed)
}

// IsNotFound reports whether err means the payload is absent
func IsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
