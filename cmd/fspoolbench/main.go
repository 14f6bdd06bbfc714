// Fspoolbench benchmarks the fspool library.
//
// It generates a dataset of files, then pushes them through pool-backed
// write sinks and read streams, reporting throughput per mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/fspool"
)

type benchFlags struct {
	dir      string
	files    int
	fileSize int
	threads  int
	streams  int
	mode     string
	seed     uint64
}

const (
	modeWrite     = "write"
	modeRead      = "read"
	modeRoundtrip = "roundtrip"
)

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	})))

	var f benchFlags

	flag.StringVar(&f.dir, "dir", "", "dataset directory (default: a temp dir)")
	flag.IntVar(&f.files, "files", 256, "number of files")
	flag.IntVar(&f.fileSize, "size", 256*1024, "bytes per file")
	flag.IntVar(&f.threads, "threads", fspool.DefaultThreads, "pool worker threads")
	flag.IntVar(&f.streams, "streams", runtime.GOMAXPROCS(0), "concurrent streams")
	flag.StringVar(&f.mode, "mode", modeRoundtrip, "write | read | roundtrip")
	flag.Uint64Var(&f.seed, "seed", 1, "dataset content seed")
	flag.Parse()

	if err := run(f); err != nil {
		slog.Error("bench failed", "err", err)
		os.Exit(1)
	}
}

func run(f benchFlags) error {
	dir := f.dir
	if dir == "" {
		var err error

		dir, err = os.MkdirTemp("", "fspoolbench-*")
		if err != nil {
			return fmt.Errorf("mkdtemp: %w", err)
		}

		defer func() { _ = os.RemoveAll(dir) }()
	}

	faker := gofakeit.New(f.seed)
	content := []byte(faker.LetterN(uint(f.fileSize)))

	pool := fspool.New(fspool.WithThreads(f.threads))
	defer func() { _ = pool.Close() }()

	slog.Info("bench starting",
		"mode", f.mode,
		"files", f.files,
		"size", f.fileSize,
		"threads", f.threads,
		"streams", f.streams,
		"dir", dir,
	)

	doWrite := f.mode == modeWrite || f.mode == modeRoundtrip
	doRead := f.mode == modeRead || f.mode == modeRoundtrip

	if f.mode == modeRead {
		// Reading needs an existing dataset; lay it down outside the
		// measured window.
		for i := range f.files {
			err := os.WriteFile(benchPath(dir, i), content, 0o644)
			if err != nil {
				return fmt.Errorf("seed dataset: %w", err)
			}
		}
	}

	if doWrite {
		elapsed, err := benchWrite(pool, dir, content, f)
		if err != nil {
			return err
		}

		report("write", f, elapsed)
	}

	if doRead {
		elapsed, err := benchRead(pool, dir, f)
		if err != nil {
			return err
		}

		report("read", f, elapsed)
	}

	return nil
}

func benchWrite(pool *fspool.FsPool, dir string, content []byte, f benchFlags) (time.Duration, error) {
	ctx := context.Background()
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(f.streams)

	for i := range f.files {
		g.Go(func() error {
			sink := pool.Write(benchPath(dir, i), fspool.WithTruncate())
			defer func() { _ = sink.Close() }()

			// Offer in pool-buffer-sized slices to exercise backpressure.
			for off := 0; off < len(content); off += 64 * 1024 {
				end := min(off+64*1024, len(content))

				err := sink.Write(ctx, content[off:end])
				if err != nil {
					return err
				}
			}

			for {
				err := sink.Flush()
				if errors.Is(err, fspool.ErrNotReady) {
					runtime.Gosched()

					continue
				}

				return err
			}
		})
	}

	err := g.Wait()

	return time.Since(start), err
}

func benchRead(pool *fspool.FsPool, dir string, f benchFlags) (time.Duration, error) {
	ctx := context.Background()
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(f.streams)

	for i := range f.files {
		g.Go(func() error {
			stream := pool.Read(benchPath(dir, i))
			defer func() { _ = stream.Close() }()

			total := 0

			for {
				chunk, err := stream.Next(ctx)
				if errors.Is(err, io.EOF) {
					break
				}

				if err != nil {
					return err
				}

				total += len(chunk)
			}

			if total != f.fileSize {
				return fmt.Errorf("file %d: read %d bytes, want %d", i, total, f.fileSize)
			}

			return nil
		})
	}

	err := g.Wait()

	return time.Since(start), err
}

func benchPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("bench-%05d.dat", i))
}

func report(op string, f benchFlags, elapsed time.Duration) {
	totalBytes := int64(f.files) * int64(f.fileSize)
	mbps := float64(totalBytes) / (1 << 20) / elapsed.Seconds()

	slog.Info("bench done",
		"op", op,
		"duration", elapsed.Round(time.Millisecond),
		"files", f.files,
		"bytes", totalBytes,
		"mb_per_sec", fmt.Sprintf("%.1f", mbps),
		"files_per_sec", fmt.Sprintf("%.0f", float64(f.files)/elapsed.Seconds()),
	)
}
