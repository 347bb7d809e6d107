package capability

import (
	"context"
	"sort"

	"github.com/lsp-cli/lspd/src/lspd/entity"
	"github.com/lsp-cli/lspd/src/lspd/gateway/langserver"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/lsp-cli/lspd/src/lspd/mapper"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// RenameRequest renames the symbol at a position. The same request shape
// serves both the preview and execute capabilities.
type RenameRequest struct {
	Loc     entity.Locate `json:"locate"`
	NewName string        `json:"newName"`
}

// Locate implements Request.
func (r *RenameRequest) Locate() entity.Locate { return r.Loc }

// Validate implements Validator.
func (r *RenameRequest) Validate() error {
	if r.NewName == "" {
		return errors.New("newName is required")
	}
	if !r.Loc.HasPosition() {
		return errors.New("rename requires a line position")
	}
	return nil
}

// FileChange is one file's rendered change in a rename preview.
type FileChange struct {
	Path  string `json:"path"`
	Patch string `json:"patch"`
}

// RenamePreview is the result of rename/preview: the patches that would be
// applied, without touching any file.
type RenamePreview struct {
	Files []FileChange `json:"files"`
}

// RenameResult is the result of rename/execute: the files rewritten on disk.
type RenameResult struct {
	Changed []string `json:"changed"`
}

func (c *controller) renamePreview(ctx context.Context, client langserver.Client, req Request) (interface{}, error) {
	r := req.(*RenameRequest)
	changes, err := c.renameEdits(ctx, client, r)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, nil
	}

	preview := &RenamePreview{Files: make([]FileChange, 0, len(changes))}
	for _, target := range sortedTargets(changes) {
		path := target.Filename()
		before, err := c.fs.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.KindNotFound, err, "reading rename target")
		}
		after, err := mapper.ApplyTextEdits(before, changes[target])
		if err != nil {
			return nil, errors.Wrap(errors.KindProtocol, err, "applying rename edits")
		}
		preview.Files = append(preview.Files, FileChange{
			Path:  path,
			Patch: mapper.RenderPatch(path, before, after),
		})
	}
	return preview, nil
}

func (c *controller) renameExecute(ctx context.Context, client langserver.Client, req Request) (interface{}, error) {
	r := req.(*RenameRequest)
	changes, err := c.renameEdits(ctx, client, r)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, nil
	}

	// Stage every rewrite before touching disk so a bad edit changes nothing.
	type staged struct {
		path    string
		content []byte
	}
	writes := make([]staged, 0, len(changes))
	for _, target := range sortedTargets(changes) {
		path := target.Filename()
		before, err := c.fs.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.KindNotFound, err, "reading rename target")
		}
		after, err := mapper.ApplyTextEdits(before, changes[target])
		if err != nil {
			return nil, errors.Wrap(errors.KindProtocol, err, "applying rename edits")
		}
		writes = append(writes, staged{path: path, content: after})
	}

	result := &RenameResult{Changed: make([]string, 0, len(writes))}
	for _, w := range writes {
		if err := c.fs.WriteFile(w.path, w.content); err != nil {
			return nil, errors.Wrap(errors.KindProtocol, err, "writing rename target")
		}
		result.Changed = append(result.Changed, w.path)
	}
	c.logger.Infow("rename applied", "newName", r.NewName, "files", len(result.Changed))
	return result, nil
}

// renameEdits asks the server for the workspace edit and flattens it per file.
func (c *controller) renameEdits(ctx context.Context, client langserver.Client, r *RenameRequest) (map[uri.URI][]protocol.TextEdit, error) {
	params := &protocol.RenameParams{
		TextDocumentPositionParams: mapper.LocateToTextDocumentPosition(r.Loc),
		NewName:                    r.NewName,
	}
	var edit *protocol.WorkspaceEdit
	if err := client.Call(ctx, protocol.MethodTextDocumentRename, params, &edit); err != nil {
		return nil, err
	}
	return mapper.WorkspaceEditChanges(edit), nil
}

func sortedTargets(changes map[uri.URI][]protocol.TextEdit) []uri.URI {
	targets := make([]uri.URI, 0, len(changes))
	for target := range changes {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}
