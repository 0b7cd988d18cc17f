//go:build linux

package backup

import (
	"os"

	"golang.org/x/sys/unix"
)

// sequential hints the kernel that f is read front to back once.
func sequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
