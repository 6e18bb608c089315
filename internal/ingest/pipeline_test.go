package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragfus/internal/extract"
	"github.com/fyrsmithlabs/ragfus/internal/ignore"
	"github.com/fyrsmithlabs/ragfus/internal/logging"
	"github.com/fyrsmithlabs/ragfus/internal/store"
	"github.com/fyrsmithlabs/ragfus/internal/telemetry"
)

var errEmbedFailed = errors.New("embed failed")

// fakeEmbedder derives a deterministic unit vector from the text.
type fakeEmbedder struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[strings.TrimSpace(text)] {
		return nil, errEmbedFailed
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum32()
	vec := []float32{float32(sum%7) + 1, float32(sum%5) + 1, 1}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	for i := range vec {
		vec[i] /= float32(math.Sqrt(float64(norm)))
	}
	return vec, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }
func (f *fakeEmbedder) Close() error   { return nil }

type fixture struct {
	pipeline *Pipeline
	store    *store.Store
	embedder *fakeEmbedder
	logs     *logging.TestLogger
	tel      *telemetry.TestTelemetry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb := &fakeEmbedder{fail: map[string]bool{}}
	logs := logging.NewTestLogger()
	tel := telemetry.NewTestTelemetry()

	p, err := NewPipeline(extract.New(), emb, st, logs.Logger,
		WithMetrics(NewMetricsWithMeter(tel.Meter("test"), nil)),
		WithTracer(tel.Tracer("test")),
	)
	require.NoError(t, err)

	return &fixture{pipeline: p, store: st, embedder: emb, logs: logs, tel: tel}
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func counterTotal(t *testing.T, tel *telemetry.TestTelemetry, name string) int64 {
	t.Helper()
	m, ok := tel.Metric(t, name)
	if !ok {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	st := &store.Store{}
	emb := &fakeEmbedder{}

	_, err := NewPipeline(nil, emb, st, nil)
	assert.Error(t, err)
	_, err = NewPipeline(extract.New(), nil, st, nil)
	assert.Error(t, err)
	_, err = NewPipeline(extract.New(), emb, nil, nil)
	assert.Error(t, err)
}

func TestIngestFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeFile(t, filepath.Join(t.TempDir(), "notes.txt"), "retrieval augmented generation")

	res := f.pipeline.IngestFile(ctx, path)
	require.True(t, res.OK, "ingest error: %v", res.Err)
	assert.Equal(t, path, res.Path)

	rows, err := f.store.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, path, rows[0].Path)
	assert.Equal(t, "retrieval augmented generation", rows[0].Text)

	vec, err := store.DecodeVector(rows[0].Embedding)
	require.NoError(t, err)
	assert.Len(t, vec, 3)

	f.tel.AssertSpanExists(t, "ingest.file")
	assert.Equal(t, int64(1), counterTotal(t, f.tel, "ragfus.ingest.files_total"))
}

func TestIngestFile_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeFile(t, filepath.Join(t.TempDir(), "notes.md"), "# heading")

	require.True(t, f.pipeline.IngestFile(ctx, path).OK)
	require.True(t, f.pipeline.IngestFile(ctx, path).OK)

	docs, embs, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 1, embs)
}

func TestIngestFile_EmptyContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeFile(t, filepath.Join(t.TempDir(), "blank.txt"), "  \n\t ")

	res := f.pipeline.IngestFile(ctx, path)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrEmptyContent)

	docs, _, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, docs, "empty files must not touch storage")
	assert.Zero(t, f.embedder.calls)
	f.logs.AssertLogged(t, zapcore.WarnLevel, "ingest failed")
}

func TestIngestFile_Unsupported(t *testing.T) {
	f := newFixture(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "data.xyz"), "payload")

	res := f.pipeline.IngestFile(context.Background(), path)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, extract.ErrUnsupportedFormat)
	assert.Equal(t, int64(1), counterTotal(t, f.tel, "ragfus.ingest.failures_total"))
}

func TestIngestFile_EmbeddingFailureKeepsDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.embedder.fail["poison"] = true
	path := writeFile(t, filepath.Join(t.TempDir(), "bad.txt"), "poison")

	res := f.pipeline.IngestFile(ctx, path)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, errEmbedFailed)

	docs, embs, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 0, embs)
}

func TestIngestDirectory_Resilience(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "first document")
	writeFile(t, filepath.Join(root, "b.md"), "second document")
	writeFile(t, filepath.Join(root, "nested", "c.csv"), "id,name\n1,third")
	writeFile(t, filepath.Join(root, "d.xyz"), "no reader for this")

	summary, err := f.pipeline.IngestDirectory(context.Background(), root,
		[]string{".txt", ".md", ".csv", ".xyz"})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.NotEmpty(t, summary.RunID)

	f.logs.AssertLogged(t, zapcore.InfoLevel, "directory ingestion finished")
	f.logs.AssertField(t, "directory ingestion finished", "ingest.run_id", summary.RunID)
	f.tel.AssertSpanAttribute(t, "ingest.directory", "processed", int64(3))
}

func TestIngestDirectory_Allowlist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.TXT"), "upper case extension")
	writeFile(t, filepath.Join(root, "skip.md"), "not in allowlist")
	writeFile(t, filepath.Join(root, "Makefile"), "all: build")

	summary, err := f.pipeline.IngestDirectory(ctx, root, []string{"txt", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Failed)

	docs, err := f.store.Documents(ctx)
	require.NoError(t, err)
	var names []string
	for _, d := range docs {
		names = append(names, filepath.Base(d.Path))
	}
	assert.ElementsMatch(t, []string{"keep.TXT", "Makefile"}, names)
}

func TestIngestDirectory_IgnoreFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	WithIgnore(ignore.NewParser([]string{".ragfusignore"}, nil))(f.pipeline)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".ragfusignore"), "# skip drafts\ndrafts/\n*.csv\n")
	writeFile(t, filepath.Join(root, "keep.txt"), "kept document")
	writeFile(t, filepath.Join(root, "drafts", "wip.txt"), "work in progress")
	writeFile(t, filepath.Join(root, "data", "table.csv"), "id\n1")

	summary, err := f.pipeline.IngestDirectory(ctx, root, []string{".txt", ".csv"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)

	docs, err := f.store.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "keep.txt", filepath.Base(docs[0].Path))
	f.tel.AssertSpanAttribute(t, "ingest.directory", "ignored", int64(2))
}

func TestIngestDirectory_DefaultAllowlist(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.py"), "print('hi')")
	writeFile(t, filepath.Join(root, "b.go"), "package main")

	summary, err := f.pipeline.IngestDirectory(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
}

func TestIngestDirectory_NotADirectory(t *testing.T) {
	f := newFixture(t)
	file := writeFile(t, filepath.Join(t.TempDir(), "a.txt"), "text")

	_, err := f.pipeline.IngestDirectory(context.Background(), file, nil)
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = f.pipeline.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestIngestDirectory_Cancelled(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.pipeline.IngestDirectory(ctx, root, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Processed)
}

func TestRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.InsertDocument(ctx, "/legacy/a.txt", "legacy text")
	require.NoError(t, err)
	// Historical non-unit vector.
	require.NoError(t, f.store.InsertEmbedding(ctx, id, store.EncodeVector([]float32{3, 4, 0})))
	_, err = f.store.InsertDocument(ctx, "/legacy/b.txt", "no embedding yet")
	require.NoError(t, err)
	_, err = f.store.InsertDocument(ctx, "/legacy/c.txt", "poison")
	require.NoError(t, err)
	f.embedder.fail["poison"] = true

	summary, err := f.pipeline.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	rows, err := f.store.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		vec, err := store.DecodeVector(row.Embedding)
		require.NoError(t, err)
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, norm, 1e-5, "row %d", row.ID)
	}
}

func TestNormalizeExtensions(t *testing.T) {
	set := NormalizeExtensions([]string{".TXT", "md", " .Pdf ", ""})
	assert.Equal(t, map[string]bool{".txt": true, ".md": true, ".pdf": true, "": true}, set)
}
