package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")
)

// ValidatePath checks a client-supplied path and returns it cleaned and
// absolute. Paths with a ".." component are rejected; names that merely
// contain two dots, such as "report..v2.txt", are not.
//
// If allowedRoot is non-empty, the path must also resolve inside it.
func ValidatePath(path, allowedRoot string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrEmptyPath
	}

	if hasParentComponent(path) {
		return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if allowedRoot != "" {
		absRoot, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: path escapes allowed root", ErrPathTraversal)
		}
	}

	return absPath, nil
}

func hasParentComponent(path string) bool {
	parts := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	for _, part := range parts {
		if part == ".." {
			return true
		}
	}
	return false
}

// UploadPath returns the destination for an uploaded file named name inside
// dir, or an error when nothing safe remains of the name.
func UploadPath(dir, name string) (string, error) {
	clean := Filename(name)
	if clean == "" {
		return "", fmt.Errorf("%w: %q has no usable characters", ErrEmptyPath, name)
	}
	return ValidatePath(filepath.Join(dir, clean), dir)
}
