package capability

import (
	"context"
	"encoding/json"

	"github.com/lsp-cli/lspd/src/lspd/entity"
	"github.com/lsp-cli/lspd/src/lspd/gateway/langserver"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/lsp-cli/lspd/src/lspd/mapper"
	"go.lsp.dev/protocol"
)

// HoverRequest asks for hover documentation at a position.
type HoverRequest struct {
	Loc entity.Locate `json:"locate"`
}

// Locate implements Request.
func (r *HoverRequest) Locate() entity.Locate { return r.Loc }

// DefinitionRequest asks for the definition sites of the symbol at a position.
type DefinitionRequest struct {
	Loc entity.Locate `json:"locate"`
}

// Locate implements Request.
func (r *DefinitionRequest) Locate() entity.Locate { return r.Loc }

// TypeDefinitionRequest asks for the type definition of the symbol at a
// position.
type TypeDefinitionRequest struct {
	Loc entity.Locate `json:"locate"`
}

// Locate implements Request.
func (r *TypeDefinitionRequest) Locate() entity.Locate { return r.Loc }

// ImplementationRequest asks for the implementations of the symbol at a
// position.
type ImplementationRequest struct {
	Loc entity.Locate `json:"locate"`
}

// Locate implements Request.
func (r *ImplementationRequest) Locate() entity.Locate { return r.Loc }

// ReferencesRequest asks for all references to the symbol at a position.
type ReferencesRequest struct {
	Loc                entity.Locate `json:"locate"`
	IncludeDeclaration bool          `json:"includeDeclaration"`
}

// Locate implements Request.
func (r *ReferencesRequest) Locate() entity.Locate { return r.Loc }

// OutlineRequest asks for the symbol outline of a whole document.
type OutlineRequest struct {
	Loc entity.Locate `json:"locate"`
}

// Locate implements Request.
func (r *OutlineRequest) Locate() entity.Locate { return r.Loc }

// SymbolRequest searches workspace symbols matching a query. The locate path
// routes the search to a workspace; no position is needed.
type SymbolRequest struct {
	Loc   entity.Locate `json:"locate"`
	Query string        `json:"query"`
}

// Locate implements Request.
func (r *SymbolRequest) Locate() entity.Locate { return r.Loc }

// Validate implements Validator.
func (r *SymbolRequest) Validate() error {
	if r.Query == "" {
		return errors.New("query is required")
	}
	return nil
}

func (c *controller) hover(ctx context.Context, client langserver.Client, req Request) (interface{}, error) {
	r := req.(*HoverRequest)
	params := &protocol.HoverParams{
		TextDocumentPositionParams: mapper.LocateToTextDocumentPosition(r.Loc),
	}
	var result *protocol.Hover
	if err := client.Call(ctx, protocol.MethodTextDocumentHover, params, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result, nil
}

func (c *controller) definition(ctx context.Context, client langserver.Client, req Request) (interface{}, error) {
	r := req.(*DefinitionRequest)
	params := &protocol.DefinitionParams{
		TextDocumentPositionParams: mapper.LocateToTextDocumentPosition(r.Loc),
	}
	return locations(ctx, client, protocol.MethodTextDocumentDefinition, params)
}

func (c *controller) typeDefinition(ctx context.Context, client langserver.Client, req Request) (interface{}, error) {
	r := req.(*TypeDefinitionRequest)
	params := &protocol.TypeDefinitionParams{
		TextDocumentPositionParams: mapper.LocateToTextDocumentPosition(r.Loc),
	}
	return locations(ctx, client, protocol.MethodTextDocumentTypeDefinition, params)
}

func (c *controller) implementation(ctx context.Context, client langserver.Client, req Request) (interface{}, error) {
	r := req.(*ImplementationRequest)
	params := &protocol.ImplementationParams{
		TextDocumentPositionParams: mapper.LocateToTextDocumentPosition(r.Loc),
	}
	return locations(ctx, client, protocol.MethodTextDocumentImplementation, params)
}

func (c *controller) references(ctx context.Context, client langserver.Client, req Request) (interface{}, error) {
	r := req.(*ReferencesRequest)
	params := &protocol.ReferenceParams{
		TextDocumentPositionParams: mapper.LocateToTextDocumentPosition(r.Loc),
		Context: protocol.ReferenceContext{
			IncludeDeclaration: r.IncludeDeclaration,
		},
	}
	var result []protocol.Location
	if err := client.Call(ctx, protocol.MethodTextDocumentReferences, params, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

func (c *controller) outline(ctx context.Context, client langserver.Client, req Request) (interface{}, error) {
	r := req.(*OutlineRequest)
	params := &protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{
			URI: mapper.LocateToTextDocumentPosition(r.Loc).TextDocument.URI,
		},
	}
	var result []protocol.SymbolInformation
	if err := client.Call(ctx, protocol.MethodTextDocumentDocumentSymbol, params, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

func (c *controller) symbol(ctx context.Context, client langserver.Client, req Request) (interface{}, error) {
	r := req.(*SymbolRequest)
	params := &protocol.WorkspaceSymbolParams{Query: r.Query}
	var result []protocol.SymbolInformation
	if err := client.Call(ctx, protocol.MethodWorkspaceSymbol, params, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

// locations issues a definition-style call and normalizes the response, which
// servers return as null, a single Location, or an array.
func locations(ctx context.Context, client langserver.Client, method string, params interface{}) (interface{}, error) {
	var raw json.RawMessage
	if err := client.Call(ctx, method, params, &raw); err != nil {
		return nil, err
	}
	locs, err := mapper.LocationsFromRaw(raw)
	if err != nil {
		return nil, errors.Wrap(errors.KindProtocol, err, "decoding locations")
	}
	if len(locs) == 0 {
		return nil, nil
	}
	return locs, nil
}
