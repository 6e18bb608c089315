package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragfus/internal/retrieval"
)

var (
	ingestExtensions []string

	searchTopK          int
	searchExtensions    []string
	searchMinSimilarity float32

	previewMax int

	rebuildClear bool
	clearYes     bool
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(clearCmd)

	ingestCmd.Flags().StringSliceVar(&ingestExtensions, "ext", nil, "extensions to include when ingesting directories (default: ingest.extensions)")

	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", retrieval.DefaultTopK, "maximum number of results")
	searchCmd.Flags().StringSliceVar(&searchExtensions, "ext", nil, "only return documents with these extensions")
	searchCmd.Flags().Float32Var(&searchMinSimilarity, "min-similarity", 0, "drop results below this similarity")

	previewCmd.Flags().IntVar(&previewMax, "max", retrieval.DefaultPreviewMax, "maximum characters to print")

	rebuildCmd.Flags().BoolVar(&rebuildClear, "clear", false, "delete every embedding before re-embedding")
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm deleting every document")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Extract, embed and store files or directories",
	Long: `Extract text from each path, embed it and store it.

Directories are walked recursively; only files whose extension is in the
allowlist are processed. A file that fails is reported and skipped.

Examples:
  # Ingest a directory with the default allowlist
  ragfus ingest ./docs

  # Only PDFs and Markdown
  ragfus ingest ./docs --ext .pdf,.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	a, err := newApp(ctx, "stderr")
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var processed, failed int
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("cannot ingest %s: %w", path, err)
		}

		if !info.IsDir() {
			res := a.svc.IngestFile(ctx, path)
			if res.OK {
				processed++
			} else {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, res.Err)
			}
			continue
		}

		summary, err := a.svc.IngestDirectory(ctx, path, ingestExtensions)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		processed += summary.Processed
		failed += summary.Failed
	}

	printSummary(cmd, "Processed", processed, failed)
	return nil
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored documents by similarity",
	Long: `Embed the query and print the closest stored documents.

Examples:
  ragfus search "how are embeddings normalized"
  ragfus search --top-k 10 --ext .pdf "quarterly revenue"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	a, err := newApp(ctx, "stderr")
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	topK := searchTopK
	results, err := a.svc.Search(ctx, retrieval.SearchRequest{
		Query:         strings.Join(args, " "),
		TopK:          &topK,
		Extensions:    searchExtensions,
		MinSimilarity: searchMinSimilarity,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No matching documents")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. [%.4f] %s (id %d)\n", i+1, r.Similarity, r.Path, r.ID)
		fmt.Fprintf(out, "   %s\n", strings.Join(strings.Fields(r.Preview), " "))
	}
	return nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	a, err := newApp(ctx, "stderr")
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	docs, err := a.svc.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tPATH")
	for _, d := range docs {
		fmt.Fprintf(w, "%d\t%s\t%s\n", d.ID, d.CreatedAt.Local().Format(time.DateTime), d.Path)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d documents\n", len(docs))
	return nil
}

var previewCmd = &cobra.Command{
	Use:   "preview <id>",
	Short: "Print the text of a stored document",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

func runPreview(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	a, err := newApp(ctx, "stderr")
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	p, err := a.svc.Preview(ctx, id, previewMax)
	if err != nil {
		return notFound(err, id)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n\n%s\n", p.Path, p.Preview)
	if p.Truncated {
		fmt.Fprintf(out, "\n[truncated: %d of %d characters]\n", len([]rune(p.Preview)), p.TotalLength)
	}
	return nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored document and its embedding",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	a, err := newApp(ctx, "stderr")
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.svc.Delete(ctx, id); err != nil {
		return notFound(err, id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Document %d deleted successfully\n", id)
	return nil
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-embed every stored document",
	Long: `Re-embed every stored document with the configured model.

Run this after changing embeddings.model; vectors from different models are
not comparable. With --clear every embedding is deleted first, so a
document that fails to embed is left out of search results instead of
keeping its old vector.

Examples:
  ragfus rebuild
  ragfus rebuild --clear`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

func runRebuild(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	a, err := newApp(ctx, "stderr")
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	rebuild := a.svc.Rebuild
	if rebuildClear {
		// Nothing is deleted unless the model can be loaded.
		if err := a.embedder.Load(ctx); err != nil {
			return fmt.Errorf("failed to load embedding model: %w", err)
		}
		rebuild = a.svc.RebuildClean
	}

	summary, err := rebuild(ctx)
	if err != nil {
		return err
	}
	printSummary(cmd, "Rebuilt", summary.Processed, summary.Failed)
	return nil
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every document and embedding",
	Long: `Delete every document and embedding from the store.

The database file and its schema are kept. Pass --yes to confirm.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return errors.New("refusing to clear the store without --yes")
	}
	ctx := commandContext(cmd)

	a, err := newApp(ctx, "stderr")
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.svc.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Store cleared")
	return nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid document id %q", raw)
	}
	return id, nil
}

func notFound(err error, id int64) error {
	if errors.Is(err, retrieval.ErrNotFound) {
		return fmt.Errorf("document %d not found", id)
	}
	return err
}
