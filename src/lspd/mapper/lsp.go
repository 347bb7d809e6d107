// Package mapper converts between wire shapes, protocol types, and domain
// entities.
package mapper

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lsp-cli/lspd/src/lspd/entity"
	protocolmapper "github.com/lsp-cli/lspd/src/lspd/internal/protocol"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// DecodeParams maps the parameters of a jsonrpc2.Request into the given value.
func DecodeParams(req jsonrpc2.Request, v interface{}) error {
	if err := json.Unmarshal(req.Params(), v); err != nil {
		return fmt.Errorf("%s: %w", jsonrpc2.ErrParse, err)
	}
	return nil
}

// LocateToPosition maps a Locate's optional position to a protocol.Position.
// Missing line or column default to zero.
func LocateToPosition(l entity.Locate) protocol.Position {
	pos := protocol.Position{}
	if l.Line != nil {
		pos.Line = *l.Line
	}
	if l.Column != nil {
		pos.Character = *l.Column
	}
	return pos
}

// LocateToTextDocumentPosition maps a Locate to the common LSP positional
// parameter block.
func LocateToTextDocumentPosition(l entity.Locate) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri.File(l.Path)},
		Position:     LocateToPosition(l),
	}
}

// LocationsFromRaw normalizes a definition-style response, which servers may
// return as null, a single Location, or an array of Locations.
func LocationsFromRaw(raw json.RawMessage) ([]protocol.Location, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var many []protocol.Location
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one protocol.Location
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("unexpected location shape: %w", err)
	}
	return []protocol.Location{one}, nil
}

// WorkspaceEditChanges flattens a WorkspaceEdit into per-URI text edits,
// merging the legacy Changes map and versioned DocumentChanges.
func WorkspaceEditChanges(edit *protocol.WorkspaceEdit) map[uri.URI][]protocol.TextEdit {
	changes := make(map[uri.URI][]protocol.TextEdit)
	if edit == nil {
		return changes
	}
	for u, edits := range edit.Changes {
		changes[u] = append(changes[u], edits...)
	}
	for _, dc := range edit.DocumentChanges {
		changes[dc.TextDocument.URI] = append(changes[dc.TextDocument.URI], dc.Edits...)
	}
	return changes
}

// ApplyTextEdits applies LSP text edits to document content and returns the
// updated content. Edits are applied last-to-first so earlier offsets stay
// valid.
func ApplyTextEdits(content []byte, edits []protocol.TextEdit) ([]byte, error) {
	m := protocolmapper.NewTextOffsetMapper(content)

	type offsetEdit struct {
		start, end int
		text       string
	}
	resolved := make([]offsetEdit, 0, len(edits))
	for _, e := range edits {
		start, err := m.PositionOffset(e.Range.Start)
		if err != nil {
			return nil, fmt.Errorf("resolving edit start: %w", err)
		}
		end, err := m.PositionOffset(e.Range.End)
		if err != nil {
			return nil, fmt.Errorf("resolving edit end: %w", err)
		}
		if end < start {
			return nil, fmt.Errorf("edit range end %d before start %d", end, start)
		}
		resolved = append(resolved, offsetEdit{start: start, end: end, text: e.NewText})
	}

	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].start > resolved[j].start
	})

	out := make([]byte, len(content))
	copy(out, content)
	for _, e := range resolved {
		if e.end > len(out) {
			return nil, fmt.Errorf("edit range [%d,%d) beyond content length %d", e.start, e.end, len(out))
		}
		out = append(out[:e.start], append([]byte(e.text), out[e.end:]...)...)
	}
	return out, nil
}

// RenderPatch renders a plain line diff of the change from before to after
// for one file. Lines are emitted verbatim, prefixed with " ", "-", or "+".
func RenderPatch(path string, before, after []byte) string {
	dmp := diffmatchpatch.New()
	src, dst, lines := dmp.DiffLinesToChars(string(before), string(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(src, dst, false), lines)

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", path, path)
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
