// Package store persists documents and their embeddings in SQLite.
//
// The layout is two tables, documents and embeddings, linked by
// embeddings.document_id. It is kept compatible with existing data files so
// no migrations are run beyond CREATE TABLE IF NOT EXISTS.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    file_path TEXT UNIQUE,
    document_text TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS embeddings (
    id INTEGER PRIMARY KEY,
    document_id INTEGER,
    embedding BLOB,
    FOREIGN KEY (document_id) REFERENCES documents (id)
);
`

// Document is a stored document.
type Document struct {
	ID   int64
	Path string
	Text string
}

// DocumentInfo is the listing view of a document.
type DocumentInfo struct {
	ID        int64
	Path      string
	CreatedAt time.Time
}

// Row is one joined (document, embedding) pair.
type Row struct {
	ID        int64
	Path      string
	Text      string
	Embedding []byte
}

// Store is a SQLite-backed document and embedding store. Safe for
// concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertDocument stores text under path and returns the document id. An
// existing path is left untouched and its id returned.
func (s *Store) InsertDocument(ctx context.Context, path, text string) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO documents (file_path, document_text) VALUES (?, ?)`,
			path, text); err != nil {
			return fmt.Errorf("inserting document: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM documents WHERE file_path = ?`, path).Scan(&id); err != nil {
			return fmt.Errorf("reading document id: %w", err)
		}
		return nil
	})
	return id, err
}

// InsertEmbedding sets the embedding of docID, replacing any previous one.
func (s *Store) InsertEmbedding(ctx context.Context, docID int64, embedding []byte) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM embeddings WHERE document_id = ?`, docID); err != nil {
			return fmt.Errorf("removing previous embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO embeddings (document_id, embedding) VALUES (?, ?)`,
			docID, embedding); err != nil {
			return fmt.Errorf("inserting embedding: %w", err)
		}
		return nil
	})
}

// FetchAll returns every document that has an embedding, ordered by id.
// Legacy databases may hold several embedding rows for one document; only
// the most recently inserted one is returned.
func (s *Store) FetchAll(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.file_path, d.document_text, e.embedding
		FROM documents d
		JOIN embeddings e ON e.id = (
			SELECT MAX(id) FROM embeddings WHERE document_id = d.id
		)
		ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var text sql.NullString
		if err := rows.Scan(&r.ID, &r.Path, &text, &r.Embedding); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Text = text.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// Documents returns every stored document, with or without an embedding.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_path, document_text FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		var text sql.NullString
		if err := rows.Scan(&d.ID, &d.Path, &text); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.Text = text.String
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return out, nil
}

// DeleteDocument removes a document and its embedding atomically. It
// reports whether anything was deleted.
func (s *Store) DeleteDocument(ctx context.Context, id int64) (bool, error) {
	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting embedding: %w", err)
		}
		n, _ := res.RowsAffected()
		affected += n

		res, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting document: %w", err)
		}
		n, _ = res.RowsAffected()
		affected += n
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// List returns all documents, newest first.
func (s *Store) List(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_path, created_at FROM documents ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentInfo
	for rows.Next() {
		var d DocumentInfo
		var created any
		if err := rows.Scan(&d.ID, &d.Path, &created); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.CreatedAt = parseTimestamp(created)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return out, nil
}

// Preview returns the path and full text of a document.
func (s *Store) Preview(ctx context.Context, id int64) (string, string, error) {
	var path string
	var text sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT file_path, document_text FROM documents WHERE id = ?`, id).Scan(&path, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("reading document: %w", err)
	}
	return path, text.String, nil
}

// Count returns the number of documents and embeddings.
func (s *Store) Count(ctx context.Context) (documents, embeddings int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM embeddings)`).
		Scan(&documents, &embeddings)
	if err != nil {
		return 0, 0, fmt.Errorf("counting documents: %w", err)
	}
	return documents, embeddings, nil
}

// ClearEmbeddings removes every embedding, keeping documents.
func (s *Store) ClearEmbeddings(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		return fmt.Errorf("clearing embeddings: %w", err)
	}
	return nil
}

// Clear removes every embedding and document.
func (s *Store) Clear(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
			return fmt.Errorf("clearing embeddings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
			return fmt.Errorf("clearing documents: %w", err)
		}
		return nil
	})
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05Z07:00",
	time.RFC3339Nano,
}

// parseTimestamp accepts the driver's time.Time or the textual
// CURRENT_TIMESTAMP form written by other SQLite clients.
func parseTimestamp(v any) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
