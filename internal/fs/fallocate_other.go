//go:build !linux

package fs

import "syscall"

// fallocate has no portable equivalent off Linux; return ENOTSUP so the
// caller falls back to Truncate, the same degrade path spec.md §4.1 allows
// ("fallocate then system-call fallback then ftruncate").
func fallocate(fd uintptr, offset, length int64) error {
	return syscall.ENOTSUP
}
