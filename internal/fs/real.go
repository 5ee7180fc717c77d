package fs

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wtstore/wtstore/internal/wtlog"
)

// Real implements FS against the host filesystem.
type Real struct{}

// NewReal returns the host filesystem.
func NewReal() *Real { return &Real{} }

var log = wtlog.WithComponent("fs")

// retryable reports whether err is one of the transient errnos spec.md
// §4.1 asks the filesystem layer to absorb internally rather than bubble
// up to the block manager.
func retryable(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EAGAIN, syscall.EBUSY, syscall.EINTR, syscall.EIO,
		syscall.EMFILE, syscall.ENFILE, syscall.ENOSPC:
		return true
	}
	return false
}

const (
	maxRetries   = 10
	retryBackoff = 50 * time.Millisecond
)

// withRetry runs op up to maxRetries times in all, with a fixed backoff
// after each failure with one of the transient errnos above.
func withRetry(op func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = op()
		if err == nil || !retryable(err) {
			return err
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("retrying after transient I/O error")
		time.Sleep(retryBackoff)
	}
	return err
}

func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	var f *os.File
	err := withRetry(func() (err error) {
		f, err = os.OpenFile(path, flag, perm)
		return err
	})
	if err != nil {
		return nil, err
	}
	if flag&os.O_CREATE != 0 {
		if derr := fsyncDir(filepath.Dir(path)); derr != nil {
			log.Warn().Err(derr).Str("path", path).Msg("directory fsync after create failed")
		}
	}
	return f, nil
}

// Extend grows f to newLen with fallocate, falling back to plain truncate
// when fallocate fails; there is no separate raw-syscall step between them.
func (r *Real) Extend(f File, newLen int64) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() >= newLen {
		return nil
	}
	if err := withRetry(func() error {
		return fallocate(f.Fd(), fi.Size(), newLen-fi.Size())
	}); err == nil {
		return nil
	}
	return withRetry(func() error {
		return f.Truncate(newLen)
	})
}

func (r *Real) Remove(path string, durable bool) error {
	if err := withRetry(func() error { return os.Remove(path) }); err != nil {
		return err
	}
	if durable {
		return fsyncDir(filepath.Dir(path))
	}
	return nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		// Best effort: some platforms (Windows) cannot open a directory.
		return nil
	}
	defer d.Close()
	return d.Sync()
}
