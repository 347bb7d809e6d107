package capability

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lsp-cli/lspd/src/lspd/gateway/langserver/langservermock"
	"github.com/lsp-cli/lspd/src/lspd/internal/clock"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/lsp-cli/lspd/src/lspd/internal/fs"
	"github.com/lsp-cli/lspd/src/lspd/internal/resolver"
	"github.com/lsp-cli/lspd/src/lspd/repository/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	uberconfig "go.uber.org/config"
	"go.uber.org/fx/fxtest"
	gomock "go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type testHarness struct {
	controller Controller
	client     *langservermock.MockClient
	root       string
	file       string
}

// newHarness wires a controller onto a real resolver and session manager,
// with a temp Go workspace and a mocked language-server client behind it.
func newHarness(t *testing.T) *testHarness {
	ctrl := gomock.NewController(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/w\n"), 0644))
	file := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(file, []byte("package main\n"), 0644))

	provider, err := uberconfig.NewStaticProvider(map[string]interface{}{
		"languages": []map[string]interface{}{
			{
				"name":       "go",
				"command":    []string{"gopls", "serve"},
				"markers":    []string{"go.mod"},
				"extensions": []string{".go"},
			},
		},
		"sessions": map[string]interface{}{
			"callTimeoutSeconds": 5,
		},
	})
	require.NoError(t, err)

	res, err := resolver.New(resolver.Params{Config: provider, FS: fs.New()})
	require.NoError(t, err)

	client := langservermock.NewMockClient(ctrl)
	done := make(chan struct{})
	var doneRecv <-chan struct{} = done
	client.EXPECT().Start(gomock.Any()).Return(nil).AnyTimes()
	client.EXPECT().Done().Return(doneRecv).AnyTimes()
	client.EXPECT().Close(gomock.Any()).Return(nil).AnyTimes()
	client.EXPECT().Err().Return(nil).AnyTimes()

	f := langservermock.NewMockFactory(ctrl)
	f.EXPECT().New(gomock.Any()).Return(client).AnyTimes()

	manager, err := session.NewManager(session.Params{
		Config:    provider,
		Lifecycle: fxtest.NewLifecycle(t),
		Logger:    zap.NewNop().Sugar(),
		Stats:     tally.NewTestScope("", nil),
		Clock:     clock.New(),
		Factory:   f,
	})
	require.NoError(t, err)
	t.Cleanup(func() { manager.ShutdownAll(context.Background()) })

	c, err := New(Params{
		Logger:   zap.NewNop().Sugar(),
		Stats:    tally.NewTestScope("", nil),
		Resolver: res,
		Sessions: manager,
		FS:       fs.New(),
	})
	require.NoError(t, err)

	return &testHarness{controller: c, client: client, root: root, file: file}
}

func locateBody(t *testing.T, path string, line, column uint32) json.RawMessage {
	raw, err := json.Marshal(map[string]interface{}{
		"locate": map[string]interface{}{"path": path, "line": line, "column": column},
	})
	require.NoError(t, err)
	return raw
}

// expectCall stubs one LSP exchange, writing the marshalled response into the
// result argument.
func expectCall(t *testing.T, client *langservermock.MockClient, method string, response interface{}) {
	client.EXPECT().Call(gomock.Any(), method, gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, method string, params, result interface{}) error {
			data, err := json.Marshal(response)
			require.NoError(t, err)
			return json.Unmarshal(data, result)
		})
}

func TestDispatchUnknownCapability(t *testing.T) {
	h := newHarness(t)

	_, err := h.controller.Dispatch(context.Background(), "mystery", locateBody(t, h.file, 1, 1))
	assert.True(t, errors.IsKind(err, errors.KindUnknownCapability))
}

func TestDispatchMalformedBody(t *testing.T) {
	h := newHarness(t)

	_, err := h.controller.Dispatch(context.Background(), "hover", json.RawMessage(`{"locate": 42}`))
	assert.True(t, errors.IsKind(err, errors.KindInvalidRequest))
}

func TestDispatchUnresolvablePath(t *testing.T) {
	h := newHarness(t)

	_, err := h.controller.Dispatch(context.Background(), "hover", locateBody(t, filepath.Join(h.root, "missing.go"), 1, 1))
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestDispatchHover(t *testing.T) {
	h := newHarness(t)

	expectCall(t, h.client, protocol.MethodTextDocumentHover, &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.Markdown, Value: "func main()"},
	})

	value, err := h.controller.Dispatch(context.Background(), "hover", locateBody(t, h.file, 0, 8))
	require.NoError(t, err)

	hover, ok := value.(*protocol.Hover)
	require.True(t, ok)
	assert.Equal(t, "func main()", hover.Contents.Value)
}

func TestDispatchHoverEmptyResult(t *testing.T) {
	h := newHarness(t)

	expectCall(t, h.client, protocol.MethodTextDocumentHover, nil)

	value, err := h.controller.Dispatch(context.Background(), "hover", locateBody(t, h.file, 0, 0))
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestDispatchDefinitionSingleLocation(t *testing.T) {
	h := newHarness(t)

	// Some servers return a bare Location rather than an array.
	expectCall(t, h.client, protocol.MethodTextDocumentDefinition, protocol.Location{
		URI: uri.File(h.file),
	})

	value, err := h.controller.Dispatch(context.Background(), "definition", locateBody(t, h.file, 0, 8))
	require.NoError(t, err)

	locs, ok := value.([]protocol.Location)
	require.True(t, ok)
	require.Len(t, locs, 1)
	assert.Equal(t, uri.File(h.file), locs[0].URI)
}

func TestDispatchReferences(t *testing.T) {
	h := newHarness(t)

	expectCall(t, h.client, protocol.MethodTextDocumentReferences, []protocol.Location{
		{URI: uri.File(h.file)},
		{URI: uri.File(h.file)},
	})

	value, err := h.controller.Dispatch(context.Background(), "references", locateBody(t, h.file, 0, 8))
	require.NoError(t, err)

	locs, ok := value.([]protocol.Location)
	require.True(t, ok)
	assert.Len(t, locs, 2)
}

func TestDispatchSymbolRequiresQuery(t *testing.T) {
	h := newHarness(t)

	raw, err := json.Marshal(map[string]interface{}{
		"locate": map[string]interface{}{"path": h.root},
	})
	require.NoError(t, err)

	_, err = h.controller.Dispatch(context.Background(), "symbol", raw)
	assert.True(t, errors.IsKind(err, errors.KindInvalidRequest))
}

func TestDispatchRenameValidation(t *testing.T) {
	h := newHarness(t)

	t.Run("missing newName", func(t *testing.T) {
		_, err := h.controller.Dispatch(context.Background(), "rename/preview", locateBody(t, h.file, 0, 8))
		assert.True(t, errors.IsKind(err, errors.KindInvalidRequest))
	})

	t.Run("missing position", func(t *testing.T) {
		raw, err := json.Marshal(map[string]interface{}{
			"locate":  map[string]interface{}{"path": h.file},
			"newName": "fresh",
		})
		require.NoError(t, err)

		_, err = h.controller.Dispatch(context.Background(), "rename/preview", raw)
		assert.True(t, errors.IsKind(err, errors.KindInvalidRequest))
	})
}

func renameBody(t *testing.T, path string, newName string) json.RawMessage {
	raw, err := json.Marshal(map[string]interface{}{
		"locate":  map[string]interface{}{"path": path, "line": 0, "column": 8},
		"newName": newName,
	})
	require.NoError(t, err)
	return raw
}

func renameEditFor(path string, newText string) *protocol.WorkspaceEdit {
	return &protocol.WorkspaceEdit{
		Changes: map[uri.URI][]protocol.TextEdit{
			uri.File(path): {
				{
					Range: protocol.Range{
						Start: protocol.Position{Line: 0, Character: 8},
						End:   protocol.Position{Line: 0, Character: 12},
					},
					NewText: newText,
				},
			},
		},
	}
}

func TestDispatchRenamePreviewLeavesFilesUntouched(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.file, []byte("package main\n"), 0644))

	expectCall(t, h.client, protocol.MethodTextDocumentRename, renameEditFor(h.file, "core"))

	value, err := h.controller.Dispatch(context.Background(), "rename/preview", renameBody(t, h.file, "core"))
	require.NoError(t, err)

	preview, ok := value.(*RenamePreview)
	require.True(t, ok)
	require.Len(t, preview.Files, 1)
	assert.Equal(t, h.file, preview.Files[0].Path)
	assert.Contains(t, preview.Files[0].Patch, "--- "+h.file)

	content, err := os.ReadFile(h.file)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))
}

func TestDispatchRenameExecuteRewritesFiles(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.file, []byte("package main\n"), 0644))

	expectCall(t, h.client, protocol.MethodTextDocumentRename, renameEditFor(h.file, "core"))

	value, err := h.controller.Dispatch(context.Background(), "rename/execute", renameBody(t, h.file, "core"))
	require.NoError(t, err)

	result, ok := value.(*RenameResult)
	require.True(t, ok)
	assert.Equal(t, []string{h.file}, result.Changed)

	content, err := os.ReadFile(h.file)
	require.NoError(t, err)
	assert.Equal(t, "package core\n", string(content))
}

func TestDispatchRenameNoEdit(t *testing.T) {
	h := newHarness(t)

	expectCall(t, h.client, protocol.MethodTextDocumentRename, nil)

	value, err := h.controller.Dispatch(context.Background(), "rename/execute", renameBody(t, h.file, "core"))
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestCapabilitiesSorted(t *testing.T) {
	h := newHarness(t)

	names := h.controller.Capabilities()
	assert.Equal(t, []string{
		"definition",
		"hover",
		"implementation",
		"outline",
		"references",
		"rename/execute",
		"rename/preview",
		"symbol",
		"typeDefinition",
	}, names)
}
