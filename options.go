package fspool

import "io/fs"

// PoolOption configures [New].
type PoolOption func(*poolOptions)

// WithThreads sets the worker count of the pool-owned executor.
//
// Values <= 0 use [DefaultThreads]. Ignored when [WithExecutor] is also
// given.
func WithThreads(n int) PoolOption {
	return func(o *poolOptions) {
		o.threads = n
	}
}

// WithExecutor runs all pool work on an externally managed executor.
//
// The pool does not close e; its lifecycle stays with the caller.
func WithExecutor(e Executor) PoolOption {
	return func(o *poolOptions) {
		o.executor = e
	}
}

type poolOptions struct {
	threads  int
	executor Executor
}

func applyPoolOptions(opts []PoolOption) poolOptions {
	cfg := poolOptions{}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if cfg.threads <= 0 {
		cfg.threads = DefaultThreads
	}

	return cfg
}

// ReadOption configures [FsPool.Read] and [FsPool.ReadHandle].
type ReadOption func(*readOptions)

// WithBufferSize fixes the chunk buffer size in bytes.
//
// When not set, the size is derived at open time: the OS block size of
// the file, capped by the file length, falling back to 8192 bytes on
// platforms without a block-size hint.
//
// Values <= 0 use the derived size.
func WithBufferSize(n int) ReadOption {
	return func(o *readOptions) {
		o.bufferSize = n
	}
}

// WithOwnedChunks copies each yielded chunk into its own allocation.
//
// By default chunks alias the stream's reused scratch buffer and are only
// valid until the next Poll. Owned chunks can be retained freely, at the
// cost of one allocation and copy per chunk.
func WithOwnedChunks() ReadOption {
	return func(o *readOptions) {
		o.ownedChunks = true
	}
}

type readOptions struct {
	// bufferSize overrides derived chunk sizing when > 0.
	bufferSize int
	// ownedChunks copies yielded chunks out of the scratch buffer.
	ownedChunks bool
}

func applyReadOptions(opts []ReadOption) readOptions {
	cfg := readOptions{}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return cfg
}

// WriteOption configures [FsPool.Write].
//
// The default opens write-only, creating the file if it is absent,
// without truncating or appending, with permissions 0666 (before umask).
type WriteOption func(*writeOptions)

// WithTruncate truncates the file to zero length on open.
func WithTruncate() WriteOption {
	return func(o *writeOptions) {
		o.truncate = true
	}
}

// WithAppend opens the file in append mode.
func WithAppend() WriteOption {
	return func(o *writeOptions) {
		o.append = true
	}
}

// WithNoCreate requires the file to already exist; the open fails with a
// not-found error otherwise.
func WithNoCreate() WriteOption {
	return func(o *writeOptions) {
		o.noCreate = true
	}
}

// WithPerm sets the permission bits used when the open creates the file.
func WithPerm(perm fs.FileMode) WriteOption {
	return func(o *writeOptions) {
		o.perm = perm
	}
}

type writeOptions struct {
	truncate bool
	append   bool
	noCreate bool
	perm     fs.FileMode
}

func applyWriteOptions(opts []WriteOption) writeOptions {
	cfg := writeOptions{perm: 0o666}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return cfg
}
