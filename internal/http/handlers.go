package http

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragfus/internal/ingest"
	"github.com/fyrsmithlabs/ragfus/internal/retrieval"
	"github.com/fyrsmithlabs/ragfus/internal/sanitize"
)

// uploadExtensions are the file types accepted by POST /upload.
var uploadExtensions = map[string]bool{
	"txt":  true,
	"pdf":  true,
	"docx": true,
	"csv":  true,
	"py":   true,
}

var endpoints = []EndpointInfo{
	{Path: "/health", Method: http.MethodGet, Description: "Health check"},
	{Path: "/api", Method: http.MethodGet, Description: "API information"},
	{Path: "/upload", Method: http.MethodPost, Description: "Upload and process a document"},
	{Path: "/process_directory", Method: http.MethodPost, Description: "Process every matching file under a directory"},
	{Path: "/search", Method: http.MethodPost, Description: "Search documents by semantic similarity"},
	{Path: "/documents", Method: http.MethodGet, Description: "List stored documents"},
	{Path: "/documents/:id", Method: http.MethodDelete, Description: "Delete a document"},
	{Path: "/documents/:id/preview", Method: http.MethodGet, Description: "Preview document text"},
	{Path: "/rebuild", Method: http.MethodPost, Description: "Re-embed every stored document"},
	{Path: "/metrics", Method: http.MethodGet, Description: "Prometheus metrics"},
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.svc.Ping(c.Request().Context()); err != nil {
		s.logger.Warn(c.Request().Context(), "health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

func (s *Server) handleAPIInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, APIInfoResponse{
		Name:        "RAGfus API",
		Description: "API for document embedding and retrieval",
		Version:     s.config.Version,
		Endpoints:   endpoints,
	})
}

// handleUpload stores the "file" part under the upload directory and
// ingests it. Processing failures still answer 201 with status "error"
// because the file was saved.
func (s *Server) handleUpload(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return echo.NewHTTPError(http.StatusBadRequest, "No file part")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}
	if fh.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "No selected file")
	}
	if !allowedUpload(fh.Filename) {
		return echo.NewHTTPError(http.StatusBadRequest, "File type not allowed")
	}

	// Sanitizing may strip the extension along with leading dots.
	dest, err := sanitize.UploadPath(s.config.UploadDir, fh.Filename)
	if err != nil || !allowedUpload(dest) {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid file name")
	}

	if err := saveUpload(fh, dest); err != nil {
		return fmt.Errorf("saving upload: %w", err)
	}
	s.logger.Info(ctx, "file uploaded",
		zap.String("filename", fh.Filename),
		zap.String("path", dest),
		zap.Int64("size", fh.Size),
	)

	res := s.svc.IngestFile(ctx, dest)
	resp := UploadResponse{Status: "success", Path: dest}
	if !res.OK {
		resp.Status = "error"
		resp.Error = res.Err.Error()
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleProcessDirectory(c echo.Context) error {
	var req ProcessDirectoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.DirectoryPath) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Directory path is required")
	}

	dir, err := sanitize.ValidatePath(req.DirectoryPath, "")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid directory path")
	}

	summary, err := s.svc.IngestDirectory(c.Request().Context(), dir, req.FileExtensions)
	if err != nil {
		if errors.Is(err, retrieval.ErrInvalidRequest) {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid directory path")
		}
		return err
	}
	return c.JSON(http.StatusOK, batchResponse("Processed", summary))
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == nil || strings.TrimSpace(*req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Query is required")
	}

	sreq := retrieval.SearchRequest{
		Query:      *req.Query,
		TopK:       req.TopK,
		Extensions: req.FileExtensions,
	}
	if req.MinSimilarity != nil {
		sreq.MinSimilarity = float32(*req.MinSimilarity)
	}

	results, err := s.svc.Search(c.Request().Context(), sreq)
	if err != nil {
		return err
	}

	resp := SearchResponse{Results: make([]SearchResult, len(results))}
	for i, r := range results {
		resp.Results[i] = SearchResult{
			ID:          r.ID,
			Path:        r.Path,
			Similarity:  float64(r.Similarity),
			TextPreview: r.Preview,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	resp := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		resp[i] = DocumentResponse{ID: d.ID, Path: d.Path, CreatedAt: d.CreatedAt}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	id, err := documentID(c)
	if err != nil {
		return err
	}

	if err := s.svc.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, retrieval.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Document %d not found", id))
		}
		return err
	}
	return c.JSON(http.StatusOK, DeleteResponse{
		Status:  "success",
		Message: fmt.Sprintf("Document %d deleted successfully", id),
	})
}

func (s *Server) handlePreviewDocument(c echo.Context) error {
	id, err := documentID(c)
	if err != nil {
		return err
	}

	limit := 0
	if raw := c.QueryParam("max"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "max must be a positive integer")
		}
	}

	p, err := s.svc.Preview(c.Request().Context(), id, limit)
	if err != nil {
		if errors.Is(err, retrieval.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Document %d not found", id))
		}
		return err
	}
	return c.JSON(http.StatusOK, PreviewResponse{
		ID:          p.ID,
		Path:        p.Path,
		Preview:     p.Preview,
		Truncated:   p.Truncated,
		TotalLength: p.TotalLength,
	})
}

func (s *Server) handleRebuild(c echo.Context) error {
	summary, err := s.svc.Rebuild(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batchResponse("Rebuilt", summary))
}

func documentID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	return id, nil
}

func batchResponse(verb string, summary ingest.Summary) BatchResponse {
	return BatchResponse{
		Status:    "success",
		Message:   fmt.Sprintf("%s %d files (%d failed)", verb, summary.Processed, summary.Failed),
		RunID:     summary.RunID,
		Processed: summary.Processed,
		Failed:    summary.Failed,
	}
}

// allowedUpload reports whether name has an extension accepted for upload.
func allowedUpload(name string) bool {
	ext := filepath.Ext(name)
	if ext == "" {
		return false
	}
	return uploadExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

func saveUpload(fh *multipart.FileHeader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
