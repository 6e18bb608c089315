package sanitize

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		root    string
		wantErr error
	}{
		{"absolute", filepath.Join(root, "docs"), "", nil},
		{"inside root", filepath.Join(root, "docs", "a.txt"), root, nil},
		{"root itself", root, root, nil},
		{"traversal", root + "/../etc", "", ErrPathTraversal},
		{"traversal mid path", root + "/docs/../../etc", "", ErrPathTraversal},
		{"backslash traversal", `..\secret.txt`, "", ErrPathTraversal},
		{"double dot in name", filepath.Join(root, "report..v2.txt"), root, nil},
		{"dotted directory", filepath.Join(root, "v1..v2", "a.txt"), root, nil},
		{"outside root", "/etc/passwd", root, ErrPathTraversal},
		{"empty", "", "", ErrEmptyPath},
		{"blank", "   ", "", ErrEmptyPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePath(tt.path, tt.root)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got))
		})
	}
}

func TestValidatePath_RelativeBecomesAbsolute(t *testing.T) {
	got, err := ValidatePath("docs/a.txt", "")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "a.txt", filepath.Base(got))
}

func TestUploadPath(t *testing.T) {
	dir := t.TempDir()

	got, err := UploadPath(dir, "../../secret plan.txt")
	require.NoError(t, err)
	abs, _ := filepath.Abs(filepath.Join(dir, "secret_plan.txt"))
	assert.Equal(t, abs, got)

	_, err = UploadPath(dir, "../..")
	assert.ErrorIs(t, err, ErrEmptyPath)

	got, err = UploadPath(dir, "report..v2.txt")
	require.NoError(t, err)
	abs, _ = filepath.Abs(filepath.Join(dir, "report..v2.txt"))
	assert.Equal(t, abs, got)
}
