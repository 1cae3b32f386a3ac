package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/chunker"
	"github.com/dshills/gocontext-ingest/internal/embedder"
	"github.com/dshills/gocontext-ingest/internal/parser"
	"github.com/dshills/gocontext-ingest/internal/status"
	"github.com/dshills/gocontext-ingest/internal/storage"
	"github.com/dshills/gocontext-ingest/internal/vectorstore"
	"github.com/dshills/gocontext-ingest/pkg/types"
)

// Operations accepted by StartIngest.
const (
	OpIngest  = "ingest"
	OpReembed = "reembed"
)

// DefaultNamespace is the vector namespace used when none is configured.
const DefaultNamespace = "default"

// DefaultRunHistory bounds how many finished runs GetStatus can still answer for.
const DefaultRunHistory = 100

// EmbedderFunc resolves an embedder for a model id.
type EmbedderFunc func(model string) (embedder.Embedder, error)

// Deps are the engine's collaborators. Docs, Vectors, Parsers, Embedders and
// Chunker are required.
type Deps struct {
	Docs      storage.Store
	Vectors   vectorstore.Store
	Parsers   *parser.Registry
	Embedders EmbedderFunc
	Chunker   chunker.Strategy
	Publisher *status.Publisher
	Logger    *zap.Logger
	Metrics   *Metrics
	Clock     func() time.Time
}

// Options tune scanning and parsing.
type Options struct {
	Workers      int
	ParseTimeout time.Duration
	SkipDirs     []string
	MaxFileSize  int64
	Namespace    string
	RunHistory   int
}

// Params are the arguments of StartIngest.
type Params struct {
	RootPath    string
	Name        string
	Description string
	Model       string
	DryRun      bool
	Operation   string // ingest (default) or reembed
	Namespace   string // defaults to Options.Namespace
}

// RemoveResult reports whether removing a root released its namespace's model lock.
type RemoveResult struct {
	Unlocked bool `json:"unlocked"`
}

type run struct {
	id        string
	cancelled atomic.Bool
	done      chan struct{}
	started   time.Time

	mu sync.Mutex
	st status.Status
}

func (r *run) snapshot() status.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st
}

// Engine is the ingestion orchestrator. At most one run, or one root removal,
// is in progress at any time.
type Engine struct {
	deps    Deps
	opts    Options
	logger  *zap.Logger
	scanner *Scanner
	coord   *Coordinator
	persist *PersistenceWriter
	vectors *EmbeddingWriter
	lock    Lock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	runs  map[string]*run
	order []string
}

// New creates an engine.
func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Docs == nil:
		return nil, errors.New("ingest: document store is required")
	case deps.Vectors == nil:
		return nil, errors.New("ingest: vector store is required")
	case deps.Parsers == nil:
		return nil, errors.New("ingest: parser registry is required")
	case deps.Embedders == nil:
		return nil, errors.New("ingest: embedder resolver is required")
	case deps.Chunker == nil:
		return nil, errors.New("ingest: chunker is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Publisher == nil {
		deps.Publisher = status.NewPublisher(status.DefaultBuffer)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.RunHistory <= 0 {
		opts.RunHistory = DefaultRunHistory
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger,
		scanner: &Scanner{
			SkipDirs:    opts.SkipDirs,
			MaxFileSize: opts.MaxFileSize,
			Classify:    deps.Parsers.Classify,
		},
		coord: &Coordinator{
			Parsers: deps.Parsers,
			Workers: opts.Workers,
			Timeout: opts.ParseTimeout,
			Logger:  deps.Logger,
			Metrics: deps.Metrics,
		},
		persist: &PersistenceWriter{Docs: deps.Docs, Clock: deps.Clock},
		vectors: &EmbeddingWriter{
			Vectors: deps.Vectors,
			Chunker: deps.Chunker,
			Logger:  deps.Logger,
			Metrics: deps.Metrics,
		},
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]*run),
	}
	return e, nil
}

// Publisher returns the status publisher runs report to.
func (e *Engine) Publisher() *status.Publisher {
	return e.deps.Publisher
}

func (e *Engine) validate(p *Params) error {
	if p.RootPath == "" {
		return &ValidationError{Field: "root", Reason: "path is required"}
	}
	if !filepath.IsAbs(p.RootPath) {
		return &ValidationError{Field: "root", Reason: "path must be absolute"}
	}
	p.RootPath = filepath.Clean(p.RootPath)
	info, err := os.Stat(p.RootPath)
	if err != nil {
		return &ValidationError{Field: "root", Reason: err.Error()}
	}
	if !info.IsDir() {
		return &ValidationError{Field: "root", Reason: "not a directory"}
	}
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "name is required"}
	}
	if strings.TrimSpace(p.Model) == "" {
		return &ValidationError{Field: "model", Reason: "model is required"}
	}
	switch p.Operation {
	case "":
		p.Operation = OpIngest
	case OpIngest, OpReembed:
	default:
		return &ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", p.Operation)}
	}
	if p.Namespace == "" {
		p.Namespace = e.opts.Namespace
	}
	return nil
}

// StartIngest validates p, takes the lock and starts the run in the background.
// It returns a BusyError while another run or removal holds the lock and a
// ValidationError for bad parameters, including a model that does not match the
// namespace's locked model. Nothing is written before it returns.
func (e *Engine) StartIngest(ctx context.Context, p Params) (string, error) {
	if err := e.validate(&p); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	if !e.lock.TryAcquire(runID) {
		holder, _ := e.lock.Holder()
		return "", &BusyError{ActiveRunID: holder}
	}

	emb, err := e.prepare(ctx, p)
	if err != nil {
		e.lock.Release()
		return "", err
	}

	r := &run{
		id:      runID,
		done:    make(chan struct{}),
		started: e.deps.Clock(),
		st: status.Status{
			RunID:     runID,
			Root:      p.RootPath,
			Operation: p.Operation,
			Model:     p.Model,
			DryRun:    p.DryRun,
			State:     status.StateQueued,
			Message:   "queued",
		},
	}
	r.st.StartedAt = r.started
	e.register(r)
	e.deps.Metrics.RunStarted()
	e.publish(r)

	e.wg.Add(1)
	go e.execute(r, p, emb)
	return runID, nil
}

// prepare resolves the embedder and checks the model lock. It only reads.
func (e *Engine) prepare(ctx context.Context, p Params) (embedder.Embedder, error) {
	emb, err := e.deps.Embedders(p.Model)
	if err != nil {
		return nil, &ValidationError{Field: "model", Reason: err.Error()}
	}
	if err := CheckModelLock(ctx, e.deps.Vectors, p.Namespace, emb.Model()); err != nil {
		return nil, err
	}
	return emb, nil
}

func (e *Engine) register(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[r.id] = r
	e.order = append(e.order, r.id)
	for len(e.order) > e.opts.RunHistory {
		id := e.order[0]
		if oldest := e.runs[id]; oldest != nil && !oldest.snapshot().State.Terminal() {
			break
		}
		delete(e.runs, id)
		e.order = e.order[1:]
		e.deps.Publisher.Forget(id)
	}
}

func (e *Engine) lookup(runID string) (*run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[runID]
	return r, ok
}

// outcome is how a run ended.
type outcome struct {
	state   status.State
	message string
	err     error
}

func (e *Engine) execute(r *run, p Params, emb embedder.Embedder) {
	defer e.wg.Done()

	var out outcome
	defer func() {
		if rec := recover(); rec != nil {
			out = outcome{
				state:   status.StateError,
				message: "ingest failed",
				err:     &UnhandledError{Err: fmt.Errorf("panic: %v", rec)},
			}
		}
		e.finish(r, p, out)
		e.lock.Release()
		close(r.done)
	}()

	out = e.run(e.ctx, r, p, emb)
}

func (e *Engine) run(ctx context.Context, r *run, p Params, emb embedder.Embedder) outcome {
	logger := e.logger.With(zap.String("run_id", r.id), zap.String("root", p.RootPath))
	logger.Info("ingest run started",
		zap.String("operation", p.Operation),
		zap.String("model", p.Model),
		zap.Bool("dry_run", p.DryRun))

	e.update(r, func(st *status.Status) {
		st.State = status.StateScanning
		st.Message = "scanning"
	})

	// Reads from an unreachable document store degrade to a first ingest; the
	// structural commit is skipped later on.
	docsUp := true
	if err := e.deps.Docs.Ping(ctx); err != nil {
		docsUp = false
		logger.Warn("document store unavailable", zap.Error(err))
	}

	ledger := map[string]storage.FileRecord{}
	var prev *storage.Root
	if docsUp {
		var err error
		if ledger, err = e.deps.Docs.LoadLedger(ctx, p.RootPath); err != nil {
			return failed(fmt.Errorf("failed to load ledger: %w", err))
		}
		prev, err = e.deps.Docs.GetRoot(ctx, p.RootPath)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return failed(fmt.Errorf("failed to load root: %w", err))
		}
	}

	files, err := e.scanner.Scan(ctx, p.RootPath)
	if err != nil {
		return failed(err)
	}

	// A root whose last vector phase failed is rebuilt in full so the vectors
	// catch up with the ledger.
	full := p.Operation == OpReembed || (prev != nil && prev.Status == storage.RootError)
	changes := Diff(files, ledger, full)
	e.update(r, func(st *status.Status) {
		st.Counts.Files = len(files)
		st.Counts.Added = len(changes.Added)
		st.Counts.Changed = len(changes.Changed)
		st.Counts.Removed = len(changes.Removed)
		st.Counts.Unchanged = len(changes.Unchanged)
	})
	if changes.Empty() {
		return outcome{state: status.StateSkipped, message: "no changes"}
	}

	toProcess := changes.ToProcess()
	e.update(r, func(st *status.Status) {
		st.State = status.StateEmbedding
		st.Message = "parsing"
		st.FileTotal = len(toProcess)
	})

	phaseStart := e.deps.Clock()
	parsed := e.coord.Run(ctx, p.RootPath, toProcess, r.cancelled.Load, func(done, total int, relPath string) {
		e.progress(r, phaseStart, done, total, relPath)
	})
	e.update(r, func(st *status.Status) {
		st.Counts.Supported = parsed.Supported
		st.Counts.Skipped = parsed.Skipped
		st.Counts.Failed = parsed.Failed
	})

	// Last cancellation point. Once the commit begins the run finishes.
	if parsed.Cancelled || r.cancelled.Load() {
		return outcome{state: status.StateCancelled, message: "cancelled", err: ErrCancelled}
	}
	if p.DryRun {
		return outcome{state: status.StateCompleted, message: "dry run: nothing written"}
	}

	if err := e.vectors.EnsureModelLock(ctx, p.Namespace, emb.Model()); err != nil {
		return failed(err)
	}

	now := e.deps.Clock()
	root := &storage.Root{
		Path:         p.RootPath,
		Name:         p.Name,
		Description:  p.Description,
		ModelID:      emb.Model(),
		Namespace:    p.Namespace,
		Status:       storage.RootReady,
		Files:        len(files),
		LastIngestAt: now,
	}
	if prev != nil {
		root.Chunks = prev.Chunks
		root.Embedded = prev.Embedded
	}

	committed := false
	if docsUp {
		err := e.persist.Commit(ctx, CommitPlan{
			Root:     root,
			Affected: changes.Affected(),
			Results:  parsed.Results,
			Removed:  changes.Removed,
			Coverage: storage.Coverage{
				Supported:     parsed.Supported,
				Skipped:       parsed.Skipped,
				Failed:        parsed.Failed,
				LastIndexedAt: now,
			},
		})
		switch {
		case errors.Is(err, ErrStoreUnavailable):
			logger.Warn("document store unavailable", zap.Error(err))
		case err != nil:
			return failed(err)
		default:
			committed = true
		}
	}

	e.update(r, func(st *status.Status) {
		st.Message = "embedding"
		st.FileIndex = 0
		st.FileTotal = len(toProcess)
		st.CurrentFile = ""
	})
	byPath := make(map[string]*types.ParseResult, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Parsed != nil {
			byPath[res.File.RelPath] = res.Parsed
		}
	}
	phaseStart = e.deps.Clock()
	stats, embedErr := e.vectors.Write(ctx, EmbedJob{
		Root:      p.RootPath,
		Namespace: p.Namespace,
		Embedder:  emb,
		Affected:  changes.Affected(),
		Files:     toProcess,
		Parsed:    byPath,
		Rebuild:   full,
	}, func(done, total int, relPath string, s EmbedStats) {
		e.progress(r, phaseStart, done, total, relPath)
		e.update(r, func(st *status.Status) {
			st.Counts.Chunks = s.Chunks
			st.Counts.Embedded = s.Embedded
		})
	})

	collection := vectorstore.CollectionName(p.Namespace, p.RootPath)
	if n, err := e.deps.Vectors.Count(ctx, collection); err == nil {
		root.Chunks = n
	}
	root.Embedded = stats.Embedded
	if embedErr != nil {
		root.Status = storage.RootError
		root.LastError = embedErr.Error()
	}
	if committed {
		if err := e.persist.SaveRoot(ctx, root); err != nil {
			logger.Warn("failed to update root counts", zap.Error(err))
		}
	}

	if embedErr != nil {
		return failed(embedErr)
	}
	return outcome{state: status.StateCompleted, message: "completed"}
}

func failed(err error) outcome {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		var ue *UnhandledError
		if !errors.As(err, &ue) {
			err = &UnhandledError{Err: err}
		}
	}
	return outcome{state: status.StateError, message: "ingest failed", err: err}
}

func (e *Engine) progress(r *run, phaseStart time.Time, done, total int, relPath string) {
	elapsed := e.deps.Clock().Sub(phaseStart)
	e.update(r, func(st *status.Status) {
		st.CurrentFile = relPath
		st.FileIndex = done
		st.FileTotal = total
		if total > 0 {
			st.Percent = float64(done) * 100 / float64(total)
		}
		if done > 0 {
			perFile := elapsed / time.Duration(done)
			st.EtaMs = (perFile * time.Duration(total-done)).Milliseconds()
		}
	})
}

func (e *Engine) update(r *run, fn func(st *status.Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.st)
	// Published under the run's lock so sequence order matches state order.
	e.publishStatus(r.st)
}

func (e *Engine) publish(r *run) {
	e.publishStatus(r.snapshot())
}

func (e *Engine) publishStatus(st status.Status) {
	e.deps.Publisher.Publish(st.RunID, st)
	e.deps.Publisher.Publish(status.ActiveKey, st)
}

func (e *Engine) finish(r *run, p Params, out outcome) {
	if out.state == "" {
		out = failed(errors.New("run ended without a result"))
	}
	finished := e.deps.Clock()
	e.update(r, func(st *status.Status) {
		st.State = out.state
		st.Message = out.message
		st.FinishedAt = finished
		st.CurrentFile = ""
		st.EtaMs = 0
		if out.state == status.StateCompleted || out.state == status.StateSkipped {
			st.Percent = 100
		}
		if out.err != nil && out.state == status.StateError {
			st.LastError = out.err.Error()
		}
	})
	e.deps.Metrics.RunFinished(out.state, finished.Sub(r.started))

	st := r.snapshot()
	fields := []zap.Field{
		zap.String("run_id", r.id),
		zap.String("root", p.RootPath),
		zap.String("state", string(out.state)),
		zap.Duration("duration", finished.Sub(r.started)),
		zap.Int("files", st.Counts.Files),
		zap.Int("supported", st.Counts.Supported),
		zap.Int("skipped", st.Counts.Skipped),
		zap.Int("failed", st.Counts.Failed),
		zap.Int("chunks", st.Counts.Chunks),
		zap.Int("embedded", st.Counts.Embedded),
	}
	if out.state == status.StateError {
		e.logger.Error("ingest run finished", append(fields, zap.Error(out.err))...)
		return
	}
	e.logger.Info("ingest run finished", fields...)
}

// GetStatus returns the current view of a run.
func (e *Engine) GetStatus(runID string) (status.Status, error) {
	r, ok := e.lookup(runID)
	if !ok {
		return status.Status{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r.snapshot(), nil
}

// CancelRun asks a run to stop at the next file boundary. Cancelling a finished
// run does nothing.
func (e *Engine) CancelRun(runID string) error {
	r, ok := e.lookup(runID)
	if !ok {
		return &ValidationError{Field: "run_id", Reason: "unknown run " + runID}
	}
	if r.snapshot().State.Terminal() {
		return nil
	}
	if r.cancelled.CompareAndSwap(false, true) {
		e.update(r, func(st *status.Status) {
			if !st.State.Terminal() {
				st.Message = "cancelling"
			}
		})
	}
	return nil
}

// Wait blocks until the run is terminal or ctx is done.
func (e *Engine) Wait(ctx context.Context, runID string) (status.Status, error) {
	r, ok := e.lookup(runID)
	if !ok {
		return status.Status{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return r.snapshot(), ctx.Err()
	}
}

// ActiveRun returns the id of the run holding the lock, if any.
func (e *Engine) ActiveRun() (string, bool) {
	holder, held := e.lock.Holder()
	if !held {
		return "", false
	}
	if _, ok := e.lookup(holder); !ok {
		return "", false
	}
	return holder, true
}

// ListRoots lists every ingested root.
func (e *Engine) ListRoots(ctx context.Context) ([]*storage.Root, error) {
	return e.deps.Docs.ListRoots(ctx)
}

// RemoveRoot deletes a root's structural records, ledger and vectors. When it was
// the last root in its namespace the model lock is cleared and Unlocked is true.
func (e *Engine) RemoveRoot(ctx context.Context, rootPath string) (RemoveResult, error) {
	if rootPath == "" || !filepath.IsAbs(rootPath) {
		return RemoveResult{}, &ValidationError{Field: "root", Reason: "path must be absolute"}
	}
	rootPath = filepath.Clean(rootPath)

	if !e.lock.TryAcquire("remove:" + rootPath) {
		holder, _ := e.lock.Holder()
		return RemoveResult{}, &BusyError{ActiveRunID: holder}
	}
	defer e.lock.Release()

	namespace := e.opts.Namespace
	root, err := e.deps.Docs.GetRoot(ctx, rootPath)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Runs that embedded while the document store was down leave vectors
		// and a model lock behind without a root row.
		n, err := e.deps.Vectors.Count(ctx, vectorstore.CollectionName(namespace, rootPath))
		if err != nil {
			return RemoveResult{}, fmt.Errorf("failed to count vectors: %w", err)
		}
		if n == 0 {
			return RemoveResult{}, fmt.Errorf("%w: %s", ErrRootNotFound, rootPath)
		}
	case err != nil:
		return RemoveResult{}, err
	default:
		if root.Namespace != "" {
			namespace = root.Namespace
		}
		if err := e.persist.DeleteRoot(ctx, rootPath); err != nil {
			return RemoveResult{}, err
		}
	}
	if err := e.deps.Vectors.DeleteCollection(ctx, vectorstore.CollectionName(namespace, rootPath)); err != nil {
		return RemoveResult{}, fmt.Errorf("failed to delete vectors: %w", err)
	}

	remaining, err := e.deps.Docs.CountRootsInNamespace(ctx, namespace)
	if err != nil {
		return RemoveResult{}, err
	}
	var res RemoveResult
	if remaining == 0 {
		unlocked, err := vectorstore.UnlockModel(ctx, e.deps.Vectors, namespace)
		if err != nil {
			return RemoveResult{}, fmt.Errorf("failed to clear model lock: %w", err)
		}
		res.Unlocked = unlocked
	}

	e.logger.Info("root removed",
		zap.String("root", rootPath),
		zap.String("namespace", namespace),
		zap.Bool("unlocked", res.Unlocked))
	return res, nil
}

// Close cancels the active run and waits for it to end. In-flight store and
// embedding calls see a cancelled context, so a commit that has begun is rolled
// back.
func (e *Engine) Close() error {
	if id, ok := e.ActiveRun(); ok {
		_ = e.CancelRun(id)
	}
	e.cancel()
	e.wg.Wait()
	return nil
}
