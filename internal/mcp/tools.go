package mcp

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragfus/internal/retrieval"
	"github.com/fyrsmithlabs/ragfus/internal/sanitize"
)

const (
	toolSearch  = "search_documents"
	toolList    = "list_documents"
	toolPreview = "preview_document"
	toolIngest  = "ingest_path"
	toolDelete  = "delete_document"
)

type searchInput struct {
	Query          string   `json:"query" jsonschema:"Natural language query to match against stored documents"`
	TopK           *int     `json:"top_k,omitempty" jsonschema:"Maximum results to return (default: 5)"`
	FileExtensions []string `json:"file_extensions,omitempty" jsonschema:"Only return documents with these extensions, e.g. .pdf"`
	MinSimilarity  float64  `json:"min_similarity,omitempty" jsonschema:"Drop results scoring below this cosine similarity (default: 0)"`
}

type searchHit struct {
	ID          int64   `json:"id"`
	Path        string  `json:"path"`
	Similarity  float64 `json:"similarity"`
	TextPreview string  `json:"text_preview"`
}

type searchOutput struct {
	Results []searchHit `json:"results" jsonschema:"Documents ordered by similarity, highest first"`
	Count   int         `json:"count" jsonschema:"Number of results"`
}

type listInput struct{}

type documentEntry struct {
	ID        int64  `json:"id"`
	Path      string `json:"path"`
	CreatedAt string `json:"created_at"`
}

type listOutput struct {
	Documents []documentEntry `json:"documents" jsonschema:"Stored documents, newest first"`
	Count     int             `json:"count" jsonschema:"Number of documents"`
}

type previewInput struct {
	ID  int64 `json:"id" jsonschema:"Document ID"`
	Max int   `json:"max,omitempty" jsonschema:"Maximum characters to return (default: 5000)"`
}

type previewOutput struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Preview     string `json:"preview"`
	Truncated   bool   `json:"truncated"`
	TotalLength int    `json:"total_length"`
}

type ingestInput struct {
	Path           string   `json:"path" jsonschema:"File or directory to ingest"`
	FileExtensions []string `json:"file_extensions,omitempty" jsonschema:"Extensions to include when path is a directory"`
}

type ingestOutput struct {
	Path      string `json:"path"`
	RunID     string `json:"run_id,omitempty"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

type deleteInput struct {
	ID int64 `json:"id" jsonschema:"Document ID"`
}

type deleteOutput struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolSearch,
		Description: "Search stored documents by semantic similarity to a query",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, searchOutput, error) {
		rec := s.metrics.begin(ctx, toolSearch)
		var toolErr error
		defer func() { rec.finish(toolErr) }()

		results, err := s.svc.Search(ctx, retrieval.SearchRequest{
			Query:         args.Query,
			TopK:          args.TopK,
			Extensions:    args.FileExtensions,
			MinSimilarity: float32(args.MinSimilarity),
		})
		if err != nil {
			toolErr = fmt.Errorf("search failed: %w", err)
			return nil, searchOutput{}, toolErr
		}

		out := searchOutput{Results: make([]searchHit, len(results)), Count: len(results)}
		for i, r := range results {
			out.Results[i] = searchHit{
				ID:          r.ID,
				Path:        r.Path,
				Similarity:  float64(r.Similarity),
				TextPreview: r.Preview,
			}
		}

		rec.count(out.Count)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Found %d documents", out.Count)},
			},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolList,
		Description: "List stored documents, newest first",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listInput) (*mcp.CallToolResult, listOutput, error) {
		rec := s.metrics.begin(ctx, toolList)
		var toolErr error
		defer func() { rec.finish(toolErr) }()

		docs, err := s.svc.List(ctx)
		if err != nil {
			toolErr = err
			return nil, listOutput{}, err
		}

		out := listOutput{Documents: make([]documentEntry, len(docs)), Count: len(docs)}
		for i, d := range docs {
			out.Documents[i] = documentEntry{
				ID:        d.ID,
				Path:      d.Path,
				CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
			}
		}

		rec.count(out.Count)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("%d documents stored", out.Count)},
			},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolPreview,
		Description: "Return the leading text of a stored document",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args previewInput) (*mcp.CallToolResult, previewOutput, error) {
		rec := s.metrics.begin(ctx, toolPreview)
		var toolErr error
		defer func() { rec.finish(toolErr) }()

		if args.Max < 0 {
			toolErr = fmt.Errorf("invalid max: must be positive")
			return nil, previewOutput{}, toolErr
		}

		p, err := s.svc.Preview(ctx, args.ID, args.Max)
		if err != nil {
			toolErr = err
			return nil, previewOutput{}, err
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: p.Preview},
			},
		}, previewOutput(p), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolIngest,
		Description: "Extract, embed and store a file, or every matching file under a directory",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
		rec := s.metrics.begin(ctx, toolIngest)
		var toolErr error
		defer func() { rec.finish(toolErr) }()

		path, err := sanitize.ValidatePath(args.Path, s.root)
		if err != nil {
			toolErr = fmt.Errorf("invalid path: %w", err)
			return nil, ingestOutput{}, toolErr
		}

		info, err := os.Stat(path)
		if err != nil {
			toolErr = fmt.Errorf("invalid path: %w", err)
			return nil, ingestOutput{}, toolErr
		}

		out := ingestOutput{Path: path}
		if info.IsDir() {
			summary, err := s.svc.IngestDirectory(ctx, path, args.FileExtensions)
			if err != nil {
				toolErr = fmt.Errorf("ingest failed: %w", err)
				return nil, ingestOutput{}, toolErr
			}
			out.RunID = summary.RunID
			out.Processed = summary.Processed
			out.Failed = summary.Failed
		} else {
			res := s.svc.IngestFile(ctx, path)
			if res.OK {
				out.Processed = 1
			} else {
				out.Failed = 1
				out.Error = res.Err.Error()
			}
		}

		s.logger.Info("ingest_path completed",
			zap.String("path", path),
			zap.Int("processed", out.Processed),
			zap.Int("failed", out.Failed),
		)

		rec.count(out.Processed)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Processed %d files (%d failed)", out.Processed, out.Failed)},
			},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolDelete,
		Description: "Delete a stored document and its embedding",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args deleteInput) (*mcp.CallToolResult, deleteOutput, error) {
		rec := s.metrics.begin(ctx, toolDelete)
		var toolErr error
		defer func() { rec.finish(toolErr) }()

		if err := s.svc.Delete(ctx, args.ID); err != nil {
			toolErr = err
			return nil, deleteOutput{}, err
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Document %d deleted", args.ID)},
			},
		}, deleteOutput{ID: args.ID, Deleted: true}, nil
	})
}
