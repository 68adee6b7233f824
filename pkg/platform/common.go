package platform

import (
	"os"
	"runtime"

	"netprobe/pkg/logger"
)

// BasePlatform performs real filesystem operations through the os package
type BasePlatform struct {
	logger *logger.Logger
}

// NewBasePlatform creates a new base platform
func NewBasePlatform() *BasePlatform {
	return &BasePlatform{
		logger: logger.New().WithField("component", "platform"),
	}
}

func (bp *BasePlatform) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (bp *BasePlatform) Open(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		// keep the *os.File nil-interface trap out of callers
		return nil, err
	}
	return f, nil
}

func (bp *BasePlatform) CreateTemp(dir, pattern string) (File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, NewPlatformError(runtime.GOOS, "create-temp", err)
	}
	return f, nil
}

func (bp *BasePlatform) Rename(oldpath, newpath string) error {
	if err := os.Rename(oldpath, newpath); err != nil {
		return NewPlatformError(runtime.GOOS, "rename", err)
	}
	return nil
}

func (bp *BasePlatform) Remove(name string) error {
	return os.Remove(name)
}

func (bp *BasePlatform) MkdirAll(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return NewPlatformError(runtime.GOOS, "mkdir", err)
	}
	return nil
}

func (bp *BasePlatform) IsNotExist(err error) bool {
	return os.IsNotExist(err)
}
