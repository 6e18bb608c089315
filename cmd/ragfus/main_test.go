package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragfus/internal/config"
	"github.com/fyrsmithlabs/ragfus/internal/retrieval"
	"github.com/fyrsmithlabs/ragfus/internal/store"
)

// execute runs the root command against an isolated store and returns
// stdout.
func execute(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("RAGFUS_STORE_PATH", dbPath)
	t.Setenv("RAGFUS_LOGGING_LEVEL", "error")

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedStore(t *testing.T, dbPath string, docs map[string]string) map[string]int64 {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, dbPath)
	require.NoError(t, err)
	defer st.Close()

	ids := make(map[string]int64, len(docs))
	for path, text := range docs {
		id, err := st.InsertDocument(ctx, path, text)
		require.NoError(t, err)
		require.NoError(t, st.InsertEmbedding(ctx, id, store.EncodeVector([]float32{1, 0})))
		ids[path] = id
	}
	return ids
}

func TestRootCmd_Commands(t *testing.T) {
	want := []string{"serve", "mcp", "ingest", "search", "list", "preview", "delete", "rebuild", "clear", "version"}
	got := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		got[cmd.Name()] = true
	}
	for _, name := range want {
		assert.True(t, got[name], "missing command %q", name)
	}

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestSearchCmd_Flags(t *testing.T) {
	for _, name := range []string{"top-k", "ext", "min-similarity"} {
		assert.NotNil(t, searchCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "5", searchCmd.Flags().Lookup("top-k").DefValue)
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, filepath.Join(t.TempDir(), "documents.db"), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ragfus "+version)
}

func TestListCmd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "documents.db")

	out, err := execute(t, dbPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "0 documents")

	seedStore(t, dbPath, map[string]string{"/docs/a.txt": "alpha", "/docs/b.txt": "bravo"})

	out, err = execute(t, dbPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "/docs/a.txt")
	assert.Contains(t, out, "/docs/b.txt")
	assert.Contains(t, out, "2 documents")
}

func TestPreviewAndDeleteCmd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "documents.db")
	ids := seedStore(t, dbPath, map[string]string{"/docs/a.txt": "alpha bravo charlie"})
	id := ids["/docs/a.txt"]

	t.Cleanup(func() { previewMax = retrieval.DefaultPreviewMax })
	out, err := execute(t, dbPath, "preview", "--max", "5", itoa(id))
	require.NoError(t, err)
	assert.Contains(t, out, "/docs/a.txt")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "[truncated: 5 of 19 characters]")

	out, err = execute(t, dbPath, "delete", itoa(id))
	require.NoError(t, err)
	assert.Contains(t, out, "deleted successfully")

	_, err = execute(t, dbPath, "delete", itoa(id))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = execute(t, dbPath, "preview", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid document id")
}

func TestRebuildCmd_Flags(t *testing.T) {
	f := rebuildCmd.Flags().Lookup("clear")
	require.NotNil(t, f)
	assert.Equal(t, "false", f.DefValue)
}

func TestClearCmd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "documents.db")
	seedStore(t, dbPath, map[string]string{"/docs/a.txt": "alpha", "/docs/b.txt": "bravo"})
	t.Cleanup(func() { clearYes = false })

	_, err := execute(t, dbPath, "clear")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, err := execute(t, dbPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "2 documents")

	out, err = execute(t, dbPath, "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Store cleared")

	out, err = execute(t, dbPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "0 documents")
}

func TestIngestCmd_MissingPath(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "documents.db"), "ingest", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot ingest")
}

func TestLazyEmbedder_Dimension(t *testing.T) {
	l := newLazyEmbedder(configWithModel("BAAI/bge-small-en-v1.5", 0), nil)
	assert.Equal(t, 384, l.Dimension())

	l = newLazyEmbedder(configWithModel("custom", 42), nil)
	assert.Equal(t, 42, l.Dimension())

	assert.NoError(t, l.Close(), "closing an unloaded model is a no-op")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func configWithModel(model string, dimension int) config.EmbeddingsConfig {
	cfg := config.Default().Embeddings
	cfg.Model = model
	cfg.Dimension = dimension
	return cfg
}
