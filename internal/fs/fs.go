// Package fs is the filesystem abstraction the block manager is built on
// (spec component C1): aligned positional I/O, range preallocation, and an
// fsync-with-directory-barrier durable close, behind an interface so tests
// can swap in an in-memory double without touching a real file.
package fs

import "os"

// File is the subset of *os.File the block manager drives directly.
type File interface {
	ReadAt(buf []byte, off int64) (int, error)
	WriteAt(buf []byte, off int64) (int, error)
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Sync() error
	Close() error
	Fd() uintptr
}

// FS is the capability surface the block manager needs from the host:
// open/read/write/truncate/fallocate/fsync/remove/size, the way spec.md
// §4.1 describes it. Real backs it with the OS; Mem backs it with a byte
// slice for unit tests that don't want real file descriptors.
type FS interface {
	OpenFile(path string, flag int, perm os.FileMode) (File, error)
	// Extend grows the file to newLen, preferring fallocate, falling back
	// to Truncate — see Real.Extend.
	Extend(f File, newLen int64) error
	// Remove deletes path. When durable is true the parent directory is
	// opened and fsynced afterward so the unlink survives a crash.
	Remove(path string, durable bool) error
}
