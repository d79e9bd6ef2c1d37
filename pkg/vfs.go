package sharc

import (
	"io"
	"os"
	"time"
)

// ShareMode controls the OS-level locking regime a FileSource declares when
// opening a file-backed database (spec §6 configuration: file_share_mode).
type ShareMode int

const (
	ShareModeRead ShareMode = iota
	ShareModeReadWrite
)

// LockType enumerates the coarse-grained file locks a VFS may take,
// modelled on SQLite's lock escalation ladder.
type LockType int

const (
	LockNone LockType = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

// VFS is the virtual file system capability set a PageSource's file-backed
// variant is built on. Paths passed to VFS methods are expected to already
// be absolute.
type VFS interface {
	Open(path string, flags int, perm os.FileMode) (VFSFile, error)
	Delete(path string) error
	Exists(path string) (bool, error)
	CurrentTime() time.Time
	FullPath(path string) (string, error)
}

// VFSFile is an open file handle within a VFS.
type VFSFile interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
	Truncate(size int64) error
	Size() (int64, error)
	Lock(lockType LockType) error
	Unlock() error
}

var (
	vfsRegistry = make(map[string]VFS)
	defaultVFS  VFS
)

// RegisterVFS makes a VFS implementation available by name; the first
// registration becomes the default used when no name is specified.
func RegisterVFS(name string, vfs VFS) {
	vfsRegistry[name] = vfs
	if defaultVFS == nil {
		defaultVFS = vfs
	}
}

// GetVFS looks up a registered VFS, returning the default when name is "".
func GetVFS(name string) VFS {
	if name == "" {
		return defaultVFS
	}
	return vfsRegistry[name]
}
