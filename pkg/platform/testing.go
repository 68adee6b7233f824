package platform

import (
	"os"
	"sync"
	"syscall"
)

// MockPlatform wraps the real filesystem with call tracking and fault injection
type MockPlatform struct {
	*BasePlatform

	mu sync.Mutex

	// Mock behavior flags
	ShouldFailCreate bool
	ShouldFailWrite  bool
	ShouldFailRename bool
	// FailReadAfter makes ReadAt on opened files fail once this many bytes were served (0 = never)
	FailReadAfter int64

	// Call tracking
	CreateCalls []string
	OpenCalls   []string
	RenameCalls []RenameCall
	openFiles   int
}

type RenameCall struct {
	From string
	To   string
}

// NewMockPlatform creates a new mock platform for testing
func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		BasePlatform: NewBasePlatform(),
		CreateCalls:  make([]string, 0),
		OpenCalls:    make([]string, 0),
		RenameCalls:  make([]RenameCall, 0),
	}
}

func (mp *MockPlatform) CreateTemp(dir, pattern string) (File, error) {
	mp.mu.Lock()
	mp.CreateCalls = append(mp.CreateCalls, dir)
	failCreate, failWrite := mp.ShouldFailCreate, mp.ShouldFailWrite
	mp.mu.Unlock()

	if failCreate {
		return nil, NewPlatformError("mock", "create-temp", os.ErrPermission)
	}

	f, err := mp.BasePlatform.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &mockFile{File: f, mp: mp, failWrite: failWrite}, nil
}

func (mp *MockPlatform) Open(name string) (File, error) {
	mp.mu.Lock()
	mp.OpenCalls = append(mp.OpenCalls, name)
	failAfter := mp.FailReadAfter
	mp.mu.Unlock()

	f, err := mp.BasePlatform.Open(name)
	if err != nil {
		return nil, err
	}

	mp.mu.Lock()
	mp.openFiles++
	mp.mu.Unlock()
	return &mockFile{File: f, mp: mp, failReadAfter: failAfter, tracked: true}, nil
}

func (mp *MockPlatform) Rename(oldpath, newpath string) error {
	mp.mu.Lock()
	mp.RenameCalls = append(mp.RenameCalls, RenameCall{From: oldpath, To: newpath})
	fail := mp.ShouldFailRename
	mp.mu.Unlock()

	if fail {
		return NewPlatformError("mock", "rename", os.ErrPermission)
	}
	return mp.BasePlatform.Rename(oldpath, newpath)
}

// OpenFiles returns the number of files opened through Open and not yet closed
func (mp *MockPlatform) OpenFiles() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.openFiles
}

// Reset clears all call tracking
func (mp *MockPlatform) Reset() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.CreateCalls = mp.CreateCalls[:0]
	mp.OpenCalls = mp.OpenCalls[:0]
	mp.RenameCalls = mp.RenameCalls[:0]
	mp.ShouldFailCreate = false
	mp.ShouldFailWrite = false
	mp.ShouldFailRename = false
	mp.FailReadAfter = 0
}

type mockFile struct {
	File
	mp            *MockPlatform
	failWrite     bool
	failReadAfter int64
	served        int64
	tracked       bool
	closed        bool
}

func (f *mockFile) Write(p []byte) (int, error) {
	if f.failWrite {
		return 0, NewPlatformError("mock", "write", syscall.ENOSPC)
	}
	return f.File.Write(p)
}

func (f *mockFile) ReadAt(p []byte, off int64) (int, error) {
	if f.failReadAfter > 0 && f.served >= f.failReadAfter {
		return 0, NewPlatformError("mock", "read", syscall.EIO)
	}
	n, err := f.File.ReadAt(p, off)
	f.served += int64(n)
	return n, err
}

func (f *mockFile) Close() error {
	if f.tracked && !f.closed {
		f.mp.mu.Lock()
		f.mp.openFiles--
		f.mp.mu.Unlock()
	}
	f.closed = true
	return f.File.Close()
}
