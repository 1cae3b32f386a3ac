package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/gocontext-ingest/internal/parser"
	"github.com/dshills/gocontext-ingest/pkg/types"
)

// FileResult is the coordinator's verdict for one file.
type FileResult struct {
	File   ScannedFile
	Status types.SupportStatus
	Parsed *types.ParseResult // nil unless Status is supported
	Err    error              // a *ParseFailure when Status is failed
}

// ParseOutcome collects the results of one coordinator pass. Results are in
// input order; files not reached because of cancellation are absent.
type ParseOutcome struct {
	Results   []FileResult
	Supported int
	Skipped   int
	Failed    int
	Cancelled bool
}

// ProgressFunc is called after each file with the number of files done.
type ProgressFunc func(done, total int, relPath string)

// Coordinator parses files with bounded parallelism and isolates per-file failures.
type Coordinator struct {
	Parsers *parser.Registry
	Workers int
	// Timeout bounds a single parse call. Zero means no bound.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *Metrics
}

// Run parses every supported file in files. cancelled is checked before each
// file; a parse call already in flight is never interrupted.
func (c *Coordinator) Run(ctx context.Context, root string, files []ScannedFile, cancelled func() bool, progress ProgressFunc) *ParseOutcome {
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([]FileResult, len(files))
	reached := make([]bool, len(files))
	var (
		mu   sync.Mutex
		done int
	)

	// In-flight parses outlive cancellation of the caller's context.
	parseCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, f := range files {
		if cancelled != nil && cancelled() {
			break
		}
		g.Go(func() error {
			if cancelled != nil && cancelled() {
				return nil
			}
			res := c.parseOne(parseCtx, root, f)
			if res.Status == types.StatusFailed {
				logger.Debug("parse failed",
					zap.String("root", root),
					zap.String("rel_path", f.RelPath),
					zap.Error(res.Err))
			}
			c.Metrics.RecordFile(string(res.Status))

			mu.Lock()
			results[i] = res
			reached[i] = true
			done++
			n := done
			if progress != nil {
				progress(n, len(files), f.RelPath)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := &ParseOutcome{Results: make([]FileResult, 0, len(files))}
	for i := range files {
		if !reached[i] {
			out.Cancelled = true
			continue
		}
		res := results[i]
		switch res.Status {
		case types.StatusSupported:
			out.Supported++
		case types.StatusSkipped:
			out.Skipped++
		case types.StatusFailed:
			out.Failed++
		}
		out.Results = append(out.Results, res)
	}
	if cancelled != nil && cancelled() {
		out.Cancelled = true
	}

	if out.Skipped > 0 {
		logger.Warn("skipped unsupported files",
			zap.String("root", root),
			zap.Int("skipped", out.Skipped))
	}
	return out
}

// parseOne never panics; a panicking parser counts as a failed file.
func (c *Coordinator) parseOne(ctx context.Context, root string, f ScannedFile) (res FileResult) {
	res.File = f
	if !f.Supported {
		res.Status = types.StatusSkipped
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			res.Status = types.StatusFailed
			res.Parsed = nil
			res.Err = &ParseFailure{RelPath: f.RelPath, Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	parsed := c.Parsers.Parse(ctx, types.ParseRequest{
		Root:        root,
		RelPath:     f.RelPath,
		ContentHash: f.Hash,
		Language:    f.Language,
	})
	if !parsed.OK() {
		res.Status = types.StatusFailed
		res.Err = &ParseFailure{RelPath: f.RelPath, Err: errors.New(parsed.Error)}
		return res
	}
	res.Status = types.StatusSupported
	res.Parsed = &parsed
	return res
}
