//go:build linux

package fs

import "golang.org/x/sys/unix"

func fallocate(fd uintptr, offset, length int64) error {
	return unix.Fallocate(int(fd), 0, offset, length)
}
