package retrieval

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragfus/internal/extract"
	"github.com/fyrsmithlabs/ragfus/internal/ingest"
	"github.com/fyrsmithlabs/ragfus/internal/logging"
	"github.com/fyrsmithlabs/ragfus/internal/store"
)

// tableEmbedder returns fixed vectors for known texts and a default
// direction for everything else.
type tableEmbedder struct {
	vectors map[string][]float32
}

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("empty input")
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e *tableEmbedder) Dimension() int { return 3 }
func (e *tableEmbedder) Close() error   { return nil }

type fixture struct {
	svc   *Service
	store *store.Store
	logs  *logging.TestLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb := &tableEmbedder{vectors: map[string][]float32{
		"query": {1, 0, 0},
	}}
	logs := logging.NewTestLogger()

	pipeline, err := ingest.NewPipeline(extract.New(), emb, st, logs.Logger)
	require.NoError(t, err)

	svc, err := NewService(emb, st, pipeline, logs.Logger, Options{})
	require.NoError(t, err)

	return &fixture{svc: svc, store: st, logs: logs}
}

// seed stores a document whose embedding scores sim against the query.
func (f *fixture) seed(t *testing.T, path, text string, sim float32) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.InsertDocument(ctx, path, text)
	require.NoError(t, err)
	y := float32(math.Sqrt(math.Max(0, float64(1-sim*sim))))
	require.NoError(t, f.store.InsertEmbedding(ctx, id, store.EncodeVector([]float32{sim, y, 0})))
	return id
}

func intPtr(v int) *int { return &v }

func TestNewService_RequiresDependencies(t *testing.T) {
	emb := &tableEmbedder{}
	_, err := NewService(nil, &store.Store{}, &ingest.Pipeline{}, nil, Options{})
	assert.Error(t, err)
	_, err = NewService(emb, nil, &ingest.Pipeline{}, nil, Options{})
	assert.Error(t, err)
	_, err = NewService(emb, &store.Store{}, nil, nil, Options{})
	assert.Error(t, err)
}

func TestSearch_RankingAndThreshold(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/a.txt", "alpha", 0.9)
	f.seed(t, "/docs/b.txt", "bravo", 0.5)
	f.seed(t, "/docs/c.txt", "charlie", 0.5)
	f.seed(t, "/docs/d.txt", "delta", 0.2)

	results, err := f.svc.Search(context.Background(), SearchRequest{
		Query:         "query",
		TopK:          intPtr(10),
		MinSimilarity: 0.3,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "/docs/a.txt", results[0].Path)
	assert.Equal(t, "/docs/b.txt", results[1].Path, "ties keep storage order")
	assert.Equal(t, "/docs/c.txt", results[2].Path)
	assert.InDelta(t, 0.9, results[0].Similarity, 1e-5)
	assert.Equal(t, "alpha", results[0].Preview)
}

func TestSearch_DefaultTopK(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 8; i++ {
		f.seed(t, filepath.Join("/docs", string(rune('a'+i))+".txt"), "text", 0.5)
	}

	results, err := f.svc.Search(context.Background(), SearchRequest{Query: "query"})
	require.NoError(t, err)
	assert.Len(t, results, DefaultTopK)

	results, err = f.svc.Search(context.Background(), SearchRequest{Query: "query", TopK: intPtr(0)})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_ExtensionFilter(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/a.pdf", "pdf text", 0.9)
	f.seed(t, "/docs/b.md", "markdown", 0.8)

	results, err := f.svc.Search(context.Background(), SearchRequest{
		Query:      "query",
		Extensions: []string{".md"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "/docs/b.md", results[0].Path)
}

func TestSearch_SkipsBadBlobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "/docs/good.txt", "good", 0.7)

	id, err := f.store.InsertDocument(ctx, "/docs/torn.txt", "torn")
	require.NoError(t, err)
	require.NoError(t, f.store.InsertEmbedding(ctx, id, []byte{1, 2, 3}))

	id, err = f.store.InsertDocument(ctx, "/docs/wide.txt", "wide")
	require.NoError(t, err)
	require.NoError(t, f.store.InsertEmbedding(ctx, id, store.EncodeVector([]float32{1, 0, 0, 0})))

	results, err := f.svc.Search(ctx, SearchRequest{Query: "query"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "/docs/good.txt", results[0].Path)
	assert.Len(t, f.logs.FilterMessage("skipping unusable embedding").All(), 2)
}

func TestSearch_EmptyQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Search(context.Background(), SearchRequest{Query: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSearch_EmptyStore(t *testing.T) {
	f := newFixture(t)
	results, err := f.svc.Search(context.Background(), SearchRequest{Query: "query"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(t, "/docs/a.txt", "alpha", 0.9)

	require.NoError(t, f.svc.Delete(ctx, id))
	f.logs.AssertLogged(t, zapcore.InfoLevel, "document deleted")

	err := f.svc.Delete(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	results, err := f.svc.Search(ctx, SearchRequest{Query: "query"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	first := f.seed(t, "/docs/a.txt", "alpha", 0.9)
	second := f.seed(t, "/docs/b.txt", "bravo", 0.5)

	docs, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, second, docs[0].ID)
	assert.Equal(t, first, docs[1].ID)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := strings.Repeat("ü", 6000)
	id := f.seed(t, "/docs/long.txt", long, 0.5)
	short := f.seed(t, "/docs/short.txt", "short text", 0.5)

	p, err := f.svc.Preview(ctx, id, 0)
	require.NoError(t, err)
	assert.True(t, p.Truncated)
	assert.Equal(t, 6000, p.TotalLength)
	assert.Equal(t, DefaultPreviewMax, len([]rune(p.Preview)))
	assert.Equal(t, "/docs/long.txt", p.Path)

	p, err = f.svc.Preview(ctx, short, 5)
	require.NoError(t, err)
	assert.True(t, p.Truncated)
	assert.Equal(t, "short", p.Preview)

	p, err = f.svc.Preview(ctx, short, 0)
	require.NoError(t, err)
	assert.False(t, p.Truncated)
	assert.Equal(t, "short text", p.Preview)

	_, err = f.svc.Preview(ctx, 9999, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIngestDirectory_InvalidRoot(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestIngestAndSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("some text"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.bin"), []byte("skipped"), 0o644))

	summary, err := f.svc.IngestDirectory(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)

	res := f.svc.IngestFile(ctx, filepath.Join(root, "a.txt"))
	assert.True(t, res.OK)

	rebuilt, err := f.svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rebuilt.Processed)

	results, err := f.svc.Search(ctx, SearchRequest{Query: "query", MinSimilarity: -1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.0, results[0].Similarity, 1e-6)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Documents: 1, Embeddings: 1}, stats)

	require.NoError(t, f.svc.Ping(ctx))
}

func TestService_RebuildClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "/docs/good.txt", "query", 0.2)
	f.seed(t, "/docs/empty.txt", "", 0.9)

	summary, err := f.svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Embeddings, "plain rebuild keeps the stale vector")

	summary, err = f.svc.RebuildClean(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	stats, err = f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Documents: 2, Embeddings: 1}, stats)

	results, err := f.svc.Search(ctx, SearchRequest{Query: "query", MinSimilarity: -1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "/docs/good.txt", results[0].Path)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestService_Reset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "/docs/a.txt", "alpha", 0.5)

	require.NoError(t, f.svc.Reset(ctx))

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	f.logs.AssertLogged(t, zapcore.InfoLevel, "store cleared")
}

func TestService_SearchSkipsNonFiniteEmbedding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := f.seed(t, "/docs/good.txt", "good", 0.5)
	bad, err := f.store.InsertDocument(ctx, "/docs/bad.txt", "bad")
	require.NoError(t, err)
	nan := float32(math.NaN())
	require.NoError(t, f.store.InsertEmbedding(ctx, bad, store.EncodeVector([]float32{nan, 0, 0})))

	results, err := f.svc.Search(ctx, SearchRequest{Query: "query", MinSimilarity: -1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, good, results[0].ID)

	f.logs.AssertLogged(t, zapcore.WarnLevel, "skipping non-finite embedding")
	f.logs.AssertField(t, "skipping non-finite embedding", "document_id", bad)
}
