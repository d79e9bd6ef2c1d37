package sharc

import (
	"os"
	"path/filepath"
	"time"
)

// OSVFS implements VFS directly against the host filesystem.
type OSVFS struct{}

// NewOSVFS constructs the default, host-backed VFS.
func NewOSVFS() *OSVFS { return &OSVFS{} }

func (v *OSVFS) Open(path string, flags int, perm os.FileMode) (VFSFile, error) {
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return nil, err
	}
	return &osFile{File: f}, nil
}

func (v *OSVFS) Delete(path string) error { return os.Remove(path) }

func (v *OSVFS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (v *OSVFS) CurrentTime() time.Time { return time.Now().UTC() }

func (v *OSVFS) FullPath(path string) (string, error) { return filepath.Abs(path) }

// osFile wraps *os.File to satisfy VFSFile, adding platform-specific advisory
// locking via lock/unlock (os_file_unix.go / os_file_windows.go).
type osFile struct {
	*os.File
}

func (f *osFile) Sync() error { return f.File.Sync() }

func (f *osFile) Truncate(size int64) error { return f.File.Truncate(size) }

func (f *osFile) Size() (int64, error) {
	info, err := f.File.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *osFile) Lock(lockType LockType) error { return f.lock(lockType) }

func (f *osFile) Unlock() error { return f.unlock() }

func init() {
	RegisterVFS("os", NewOSVFS())
}
