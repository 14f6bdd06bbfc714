//go:build unix

package fspool

import (
	"os"

	"golang.org/x/sys/unix"
)

// blockSize reads the preferred I/O block size via fstat.
//
// Errors (including EINTR exhaustion) degrade to "no hint"; sizing falls
// back to the fixed default rather than failing the open step.
func blockSize(f *os.File) int {
	var st unix.Stat_t

	for {
		err := unix.Fstat(int(f.Fd()), &st)
		if err == unix.EINTR {
			continue
		}

		if err != nil {
			return 0
		}

		return int(st.Blksize)
	}
}
