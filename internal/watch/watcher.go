// Package watch re-ingests a root after its files stop changing.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/ingest"
)

// DefaultDebounce is the quiet period used when Config.Debounce is zero.
const DefaultDebounce = 2 * time.Second

// ErrWatcherFailed indicates the filesystem watcher failed to initialize
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Starter starts an ingest run. *ingest.Engine implements it.
type Starter interface {
	StartIngest(ctx context.Context, p ingest.Params) (string, error)
}

// Config configures a Watcher.
type Config struct {
	Debounce time.Duration
	SkipDirs []string
}

// Watcher watches one root recursively and starts a delta ingest once changes
// settle.
type Watcher struct {
	starter   Starter
	params    ingest.Params
	skip      map[string]bool
	logger    *zap.Logger
	debouncer *Debouncer
	fsw       *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for params.RootPath. Nothing is watched until Start.
func New(starter Starter, params ingest.Params, cfg Config, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	skip := make(map[string]bool, len(cfg.SkipDirs))
	for _, d := range cfg.SkipDirs {
		skip[d] = true
	}
	params.RootPath = filepath.Clean(params.RootPath)
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		starter:   starter,
		params:    params,
		skip:      skip,
		logger:    logger.With(zap.String("root", params.RootPath)),
		debouncer: NewDebouncer(cfg.Debounce),
		fsw:       fsw,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start registers every directory under the root and begins processing events.
func (w *Watcher) Start() error {
	if err := w.addTree(w.params.RootPath); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("watching root")
	return nil
}

// Close stops watching and drops any pending ingest.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	w.debouncer.Cancel()
	return err
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The directory may be gone already
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.params.RootPath && w.ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(name string) bool {
	return w.skip[name] || strings.HasPrefix(name, ".")
}

// relevant reports whether no path element below the root is ignored.
func (w *Watcher) relevant(path string) bool {
	rel, err := filepath.Rel(w.params.RootPath, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.ignored(part) {
			return false
		}
	}
	return true
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || !w.relevant(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
			}
		}
	}
	w.logger.Debug("change detected", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
	w.debouncer.Trigger(func() { w.fire(true) })
}

// fire starts an ingest. A busy engine gets one more attempt after the next
// quiet period.
func (w *Watcher) fire(retry bool) {
	if w.ctx.Err() != nil {
		return
	}
	runID, err := w.starter.StartIngest(w.ctx, w.params)
	switch {
	case err == nil:
		w.logger.Info("re-ingest started", zap.String("run_id", runID))
	case ingest.IsBusy(err) && retry:
		w.logger.Info("ingest busy, retrying after debounce")
		w.debouncer.Trigger(func() { w.fire(false) })
	default:
		w.logger.Warn("re-ingest not started", zap.Error(err))
	}
}
