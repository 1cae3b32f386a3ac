package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/gocontext-ingest/internal/chunker"
	"github.com/dshills/gocontext-ingest/internal/embedder"
	"github.com/dshills/gocontext-ingest/internal/parser"
	"github.com/dshills/gocontext-ingest/internal/status"
	"github.com/dshills/gocontext-ingest/internal/storage"
	"github.com/dshills/gocontext-ingest/internal/vectorstore"
	"github.com/dshills/gocontext-ingest/pkg/types"
)

// countingDocs wraps a real store and records every write made through it.
type countingDocs struct {
	storage.Store

	mu              sync.Mutex
	pingErr         error
	txs             int
	writes          int
	deletedStruct   []string
	upsertedRecords []string
	deletedRecords  []string
}

func (d *countingDocs) Ping(ctx context.Context) error {
	d.mu.Lock()
	err := d.pingErr
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.Store.Ping(ctx)
}

func (d *countingDocs) setPingErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pingErr = err
}

func (d *countingDocs) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := d.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.txs++
	d.mu.Unlock()
	return &countingTx{Tx: tx, d: d}, nil
}

func (d *countingDocs) record(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	if fn != nil {
		fn()
	}
}

func (d *countingDocs) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txs, d.writes = 0, 0
	d.deletedStruct, d.upsertedRecords, d.deletedRecords = nil, nil, nil
}

func (d *countingDocs) counts() (txs, writes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txs, d.writes
}

type countingTx struct {
	storage.Tx
	d *countingDocs
}

func (t *countingTx) UpsertRoot(ctx context.Context, root *storage.Root) error {
	t.d.record(nil)
	return t.Tx.UpsertRoot(ctx, root)
}

func (t *countingTx) DeleteRoot(ctx context.Context, path string) error {
	t.d.record(nil)
	return t.Tx.DeleteRoot(ctx, path)
}

func (t *countingTx) DeleteStructure(ctx context.Context, root string, relPaths []string) (int64, error) {
	t.d.record(func() { t.d.deletedStruct = append(t.d.deletedStruct, relPaths...) })
	return t.Tx.DeleteStructure(ctx, root, relPaths)
}

func (t *countingTx) InsertSymbols(ctx context.Context, root string, symbols []types.Symbol) error {
	t.d.record(nil)
	return t.Tx.InsertSymbols(ctx, root, symbols)
}

func (t *countingTx) InsertEdges(ctx context.Context, root string, edges []types.Edge) error {
	t.d.record(nil)
	return t.Tx.InsertEdges(ctx, root, edges)
}

func (t *countingTx) InsertReferences(ctx context.Context, root string, refs []types.Reference) error {
	t.d.record(nil)
	return t.Tx.InsertReferences(ctx, root, refs)
}

func (t *countingTx) InsertImports(ctx context.Context, root string, imports []types.ModuleImport) error {
	t.d.record(nil)
	return t.Tx.InsertImports(ctx, root, imports)
}

func (t *countingTx) UpsertFileRecords(ctx context.Context, records []storage.FileRecord) error {
	t.d.record(func() {
		for _, r := range records {
			t.d.upsertedRecords = append(t.d.upsertedRecords, r.RelPath)
		}
	})
	return t.Tx.UpsertFileRecords(ctx, records)
}

func (t *countingTx) DeleteFileRecords(ctx context.Context, root string, relPaths []string) error {
	t.d.record(func() { t.d.deletedRecords = append(t.d.deletedRecords, relPaths...) })
	return t.Tx.DeleteFileRecords(ctx, root, relPaths)
}

func (t *countingTx) UpsertCoverage(ctx context.Context, cov *storage.Coverage) error {
	t.d.record(nil)
	return t.Tx.UpsertCoverage(ctx, cov)
}

// countingVectors wraps a real vector store and records every write.
type countingVectors struct {
	vectorstore.Store

	mu           sync.Mutex
	writes       int
	addErr       error
	deletedPaths []string
	dropped      int
}

func (v *countingVectors) record(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.writes++
	if fn != nil {
		fn()
	}
}

func (v *countingVectors) Add(ctx context.Context, collection string, records []vectorstore.Record) error {
	v.record(nil)
	v.mu.Lock()
	err := v.addErr
	v.mu.Unlock()
	if err != nil {
		return err
	}
	return v.Store.Add(ctx, collection, records)
}

func (v *countingVectors) DeleteByPaths(ctx context.Context, collection string, relPaths []string) error {
	v.record(func() { v.deletedPaths = append(v.deletedPaths, relPaths...) })
	return v.Store.DeleteByPaths(ctx, collection, relPaths)
}

func (v *countingVectors) DeleteCollection(ctx context.Context, collection string) error {
	v.record(func() { v.dropped++ })
	return v.Store.DeleteCollection(ctx, collection)
}

func (v *countingVectors) SetNamespaceMeta(ctx context.Context, namespace string, meta map[string]string) error {
	v.record(nil)
	return v.Store.SetNamespaceMeta(ctx, namespace, meta)
}

func (v *countingVectors) setAddErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.addErr = err
}

func (v *countingVectors) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.writes, v.dropped = 0, 0
	v.deletedPaths = nil
}

func (v *countingVectors) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.writes
}

// namedEmbedder reports a chosen model id over the local provider's vectors.
type namedEmbedder struct {
	*embedder.LocalProvider
	model string
}

func (n namedEmbedder) Model() string { return n.model }

// blockingEmbedder never returns a vector until its context is cancelled.
type blockingEmbedder struct {
	namedEmbedder
	started func()
}

func (b blockingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	b.started()
	<-ctx.Done()
	return nil, ctx.Err()
}

const testModel = "model-a"

type harness struct {
	engine  *Engine
	docs    *countingDocs
	vectors *countingVectors
	logs    *observer.ObservedLogs
	pub     *status.Publisher

	parses  atomic.Int32
	onParse func(req types.ParseRequest)
}

type harnessOption func(*Deps, *Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	sqlite, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	h := &harness{
		docs:    &countingDocs{Store: sqlite},
		vectors: &countingVectors{Store: vectorstore.NewChromemStoreWithDB(chromem.NewDB(), nil)},
		pub:     status.NewPublisher(1024),
	}

	goParser := parser.NewGoParser()
	reg := parser.NewRegistry()
	reg.Register(types.LangGo, parser.ParserFunc(func(ctx context.Context, req types.ParseRequest) types.ParseResult {
		h.parses.Add(1)
		if h.onParse != nil {
			h.onParse(req)
		}
		return goParser.Parse(ctx, req)
	}), ".go")

	strategy, err := chunker.New(chunker.StrategySymbol, 200, nil)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	h.logs = logs

	deps := Deps{
		Docs:    h.docs,
		Vectors: h.vectors,
		Parsers: reg,
		Embedders: func(model string) (embedder.Embedder, error) {
			if model == "unknown-model" {
				return nil, embedder.ErrUnsupportedModel
			}
			return namedEmbedder{LocalProvider: embedder.NewLocalProvider(), model: model}, nil
		},
		Chunker:   strategy,
		Publisher: h.pub,
		Logger:    zap.New(core),
		Metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	options := Options{Workers: 1}
	for _, o := range opts {
		o(&deps, &options)
	}

	h.engine, err = New(deps, options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

func (h *harness) reset() {
	h.docs.reset()
	h.vectors.reset()
	h.parses.Store(0)
	h.logs.TakeAll()
}

// ingest starts a run and waits for it to finish.
func (h *harness) ingest(t *testing.T, p Params) status.Status {
	t.Helper()
	if p.Name == "" {
		p.Name = "test"
	}
	if p.Model == "" {
		p.Model = testModel
	}
	runID, err := h.engine.StartIngest(context.Background(), p)
	require.NoError(t, err)
	return h.wait(t, runID)
}

func (h *harness) wait(t *testing.T, runID string) status.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := h.engine.Wait(ctx, runID)
	require.NoError(t, err)
	return st
}

func (h *harness) ledger(t *testing.T, root string) map[string]string {
	t.Helper()
	recs, err := h.docs.LoadLedger(context.Background(), root)
	require.NoError(t, err)
	out := make(map[string]string, len(recs))
	for rel, r := range recs {
		out[rel] = r.ContentHash
	}
	return out
}

func goSource(name string) string {
	return "package sample\n\n// " + name + " does nothing.\nfunc " + name + "() {}\n"
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
