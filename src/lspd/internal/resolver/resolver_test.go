package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lsp-cli/lspd/src/lspd/entity"
	"github.com/lsp-cli/lspd/src/lspd/factory"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/lsp-cli/lspd/src/lspd/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) Resolver {
	return &resolver{
		languages: []entity.LanguageConfig{
			factory.GoLanguage(),
			{
				Name:       "python",
				Command:    []string{"pyright-langserver", "--stdio"},
				Markers:    []string{"pyproject.toml"},
				Extensions: []string{".py"},
			},
		},
		fs: fs.New(),
	}
}

// writeTree creates a workspace with a marker at root and a nested source file.
func writeTree(t *testing.T, marker string, source string) (root string, sourcePath string) {
	root = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, marker), []byte{}, 0644))

	nested := filepath.Join(root, "internal", "pkg")
	require.NoError(t, os.MkdirAll(nested, 0755))
	sourcePath = filepath.Join(nested, source)
	require.NoError(t, os.WriteFile(sourcePath, []byte("package pkg\n"), 0644))
	return root, sourcePath
}

func TestResolveFileToMarkerRoot(t *testing.T) {
	r := newTestResolver(t)
	root, sourcePath := writeTree(t, "go.mod", "a.go")

	ws, err := r.Resolve(context.Background(), entity.Locate{Path: sourcePath})
	require.NoError(t, err)
	assert.Equal(t, root, ws.Root)
	assert.Equal(t, "go", ws.Language.Name)
}

func TestResolveDirectory(t *testing.T) {
	r := newTestResolver(t)
	root, sourcePath := writeTree(t, "pyproject.toml", "a.py")

	ws, err := r.Resolve(context.Background(), entity.Locate{Path: filepath.Dir(sourcePath)})
	require.NoError(t, err)
	assert.Equal(t, root, ws.Root)
	assert.Equal(t, "python", ws.Language.Name)
}

func TestResolveExtensionSelectsLanguage(t *testing.T) {
	r := newTestResolver(t)

	// Both markers present; the file extension must pick the language.
	root, _ := writeTree(t, "go.mod", "a.go")
	require.NoError(t, os.WriteFile(filepath.Join(root, "pyproject.toml"), []byte{}, 0644))
	pyFile := filepath.Join(root, "internal", "pkg", "b.py")
	require.NoError(t, os.WriteFile(pyFile, []byte("x = 1\n"), 0644))

	ws, err := r.Resolve(context.Background(), entity.Locate{Path: pyFile})
	require.NoError(t, err)
	assert.Equal(t, "python", ws.Language.Name)
}

func TestResolveErrors(t *testing.T) {
	r := newTestResolver(t)

	t.Run("empty path", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), entity.Locate{})
		assert.True(t, errors.IsKind(err, errors.KindInvalidRequest))
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), entity.Locate{Path: filepath.Join(t.TempDir(), "nope.go")})
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})

	t.Run("unknown extension", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "a.zig")
		require.NoError(t, os.WriteFile(path, []byte{}, 0644))

		_, err := r.Resolve(context.Background(), entity.Locate{Path: path})
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})

	t.Run("no marker above file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "a.go")
		require.NoError(t, os.WriteFile(path, []byte{}, 0644))

		_, err := r.Resolve(context.Background(), entity.Locate{Path: path})
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})
}

func TestResolveNearestMarkerWins(t *testing.T) {
	r := newTestResolver(t)
	outer, sourcePath := writeTree(t, "go.mod", "a.go")

	// A nested module root should shadow the outer one.
	inner := filepath.Dir(sourcePath)
	require.NoError(t, os.WriteFile(filepath.Join(inner, "go.mod"), []byte{}, 0644))

	ws, err := r.Resolve(context.Background(), entity.Locate{Path: sourcePath})
	require.NoError(t, err)
	assert.Equal(t, inner, ws.Root)
	assert.NotEqual(t, outer, ws.Root)
}
