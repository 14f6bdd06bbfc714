package fspool

import "os"

// ============================================================================
// Internal stat backend contract
// ============================================================================
//
// Chunk sizing is written against one unexported, platform-dependent
// function. Implementations live in build-tagged backend files:
//   - Unix (linux, darwin, BSDs, ...): stat_unix.go (fstat Blksize)
//   - Other platforms (windows, ...):  stat_other.go (no hint)
//
// blockSize returns the filesystem's preferred I/O block size for the
// open file, or 0 when the platform offers no hint. Callers fall back to
// defaultBufferSize on 0.

// Function signature required by chunk sizing.
var _ func(*os.File) int = blockSize
