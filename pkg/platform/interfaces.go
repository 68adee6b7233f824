package platform

import (
	"io"
	"os"
)

// File is the subset of *os.File the payload store needs.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	Name() string
	Stat() (os.FileInfo, error)
	Sync() error
}

// Platform abstracts the filesystem so storage faults can be injected in tests.
type Platform interface {
	Stat(name string) (os.FileInfo, error)
	Open(name string) (File, error)
	CreateTemp(dir, pattern string) (File, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
	MkdirAll(dir string, perm os.FileMode) error
	IsNotExist(err error) bool
}

// Ensure the OS platform implements Platform
var _ Platform = (*BasePlatform)(nil)
