package mvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// FileStore is the low-level file I/O collaborator (§1, out of core scope):
// positional read/write, truncate, and force (durable sync). The store only
// ever calls these methods; it never assumes a particular backend.
type FileStore interface {
	ReadAt(buf []byte, off int64) (int, error)
	WriteAt(buf []byte, off int64) (int, error)
	Truncate(size int64) error
	Size() (int64, error)
	Sync() error
	Close() error
}

// osFileStore is a FileStore backed by a real file, using golang.org/x/sys/unix
// directly for positional I/O and fsync, in the same "talk to the kernel
// directly" style the teacher's pkg/storage/kv.go uses (there via raw
// syscall; here via the maintained golang.org/x/sys/unix wrapper).
type osFileStore struct {
	mu       sync.Mutex
	f        *os.File
	readOnly bool
}

// OpenFile opens (or creates) path as a FileStore. When readOnly is false an
// exclusive advisory lock is taken via flock(2), surfaced as ErrFileLocked
// on contention (§6 "FILE_LOCKED").
func OpenFile(path string, readOnly bool) (FileStore, error) {
	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrReadingFailed, path, err)
	}

	lockType := unix.LOCK_EX
	if readOnly {
		lockType = unix.LOCK_SH
	}
	if err := unix.Flock(int(f.Fd()), lockType|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrFileLocked, path, err)
	}

	return &osFileStore{f: f, readOnly: readOnly}, nil
}

func (s *osFileStore) ReadAt(buf []byte, off int64) (int, error) {
	n, err := unix.Pread(int(s.f.Fd()), buf, off)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrReadingFailed, err)
	}
	return n, nil
}

func (s *osFileStore) WriteAt(buf []byte, off int64) (int, error) {
	if s.readOnly {
		return 0, fmt.Errorf("%w: write to read-only file", ErrIllegalArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := unix.Pwrite(int(s.f.Fd()), buf, off)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrWritingFailed, err)
	}
	return n, nil
}

func (s *osFileStore) Truncate(size int64) error {
	if err := s.f.Truncate(size); err != nil {
		return fmt.Errorf("%w: %v", ErrWritingFailed, err)
	}
	return nil
}

func (s *osFileStore) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *osFileStore) Sync() error {
	if err := unix.Fsync(int(s.f.Fd())); err != nil {
		return fmt.Errorf("%w: fsync: %v", ErrWritingFailed, err)
	}
	return nil
}

func (s *osFileStore) Close() error {
	unix.Flock(int(s.f.Fd()), unix.LOCK_UN)
	return s.f.Close()
}

// memFileStore is an in-memory FileStore, used when Config.FileName is empty
// (an in-memory-only store per §4.1 "fileName: path ... (null = in-memory)").
type memFileStore struct {
	mu   sync.Mutex
	data []byte
}

func newMemFileStore() *memFileStore { return &memFileStore{} }

func (m *memFileStore) ReadAt(buf []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(buf, m.data[off:])
	return n, nil
}

func (m *memFileStore) WriteAt(buf []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := off + int64(len(buf))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:end], buf)
	return len(buf), nil
}

func (m *memFileStore) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func (m *memFileStore) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data)), nil
}

func (m *memFileStore) Sync() error { return nil }
func (m *memFileStore) Close() error { return nil }
