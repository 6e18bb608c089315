package http

import "time"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EndpointInfo describes one route in GET /api.
type EndpointInfo struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// APIInfoResponse is the response body for GET /api.
type APIInfoResponse struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Version     string         `json:"version,omitempty"`
	Endpoints   []EndpointInfo `json:"endpoints"`
}

// UploadResponse is the response body for POST /upload.
type UploadResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
	Error  string `json:"error,omitempty"`
}

// ProcessDirectoryRequest is the request body for POST /process_directory.
// A missing file_extensions uses the configured allowlist; an empty list
// matches nothing.
type ProcessDirectoryRequest struct {
	DirectoryPath  string   `json:"directory_path"`
	FileExtensions []string `json:"file_extensions"`
}

// BatchResponse reports a directory or rebuild run.
type BatchResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	RunID     string `json:"run_id,omitempty"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// SearchRequest is the request body for POST /search.
type SearchRequest struct {
	Query          *string  `json:"query"`
	TopK           *int     `json:"top_k"`
	FileExtensions []string `json:"file_extensions"`
	MinSimilarity  *float64 `json:"min_similarity"`
}

// SearchResult is one ranked document.
type SearchResult struct {
	ID          int64   `json:"id"`
	Path        string  `json:"path"`
	Similarity  float64 `json:"similarity"`
	TextPreview string  `json:"text_preview"`
}

// SearchResponse is the response body for POST /search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// DocumentResponse is one entry of GET /documents.
type DocumentResponse struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// DeleteResponse is the response body for DELETE /documents/:id.
type DeleteResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PreviewResponse is the response body for GET /documents/:id/preview.
type PreviewResponse struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Preview     string `json:"preview"`
	Truncated   bool   `json:"truncated"`
	TotalLength int    `json:"total_length"`
}
