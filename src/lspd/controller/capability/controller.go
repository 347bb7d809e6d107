// Package capability implements the capability registry and dispatcher. Each
// capability maps a typed request to an LSP exchange executed inside the
// owning workspace session.
package capability

import (
	"context"
	"encoding/json"

	"github.com/lsp-cli/lspd/src/lspd/gateway/langserver"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/lsp-cli/lspd/src/lspd/internal/fs"
	"github.com/lsp-cli/lspd/src/lspd/internal/resolver"
	"github.com/lsp-cli/lspd/src/lspd/repository/session"
	tally "github.com/uber-go/tally"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the capability controller.
var Module = fx.Provide(New)

// Handler executes one capability call against a live language-server client.
type Handler func(ctx context.Context, client langserver.Client, req Request) (interface{}, error)

// Controller dispatches named capability requests to workspace sessions.
type Controller interface {
	// Dispatch parses the raw request body for the named capability,
	// resolves its workspace, and executes it on that workspace's session.
	Dispatch(ctx context.Context, name string, raw json.RawMessage) (interface{}, error)
	// Capabilities lists the registered capability names.
	Capabilities() []string
}

// Params are inbound parameters to construct the controller.
type Params struct {
	fx.In

	Logger   *zap.SugaredLogger
	Stats    tally.Scope
	Resolver resolver.Resolver
	Sessions session.Manager
	FS       fs.LspdFS
}

type controller struct {
	logger   *zap.SugaredLogger
	stats    tally.Scope
	resolver resolver.Resolver
	sessions session.Manager
	fs       fs.LspdFS
	registry *Registry
}

// New creates the controller with the full capability table registered and
// sealed.
func New(p Params) (Controller, error) {
	c := &controller{
		logger:   p.Logger,
		stats:    p.Stats.SubScope("capabilities"),
		resolver: p.Resolver,
		sessions: p.Sessions,
		fs:       p.FS,
		registry: NewRegistry(),
	}

	descriptors := []Descriptor{
		{Name: "hover", NewRequest: func() Request { return &HoverRequest{} }, Handle: c.hover},
		{Name: "definition", NewRequest: func() Request { return &DefinitionRequest{} }, Handle: c.definition},
		{Name: "typeDefinition", NewRequest: func() Request { return &TypeDefinitionRequest{} }, Handle: c.typeDefinition},
		{Name: "implementation", NewRequest: func() Request { return &ImplementationRequest{} }, Handle: c.implementation},
		{Name: "references", NewRequest: func() Request { return &ReferencesRequest{} }, Handle: c.references},
		{Name: "outline", NewRequest: func() Request { return &OutlineRequest{} }, Handle: c.outline},
		{Name: "symbol", NewRequest: func() Request { return &SymbolRequest{} }, Handle: c.symbol},
		{Name: "rename/preview", NewRequest: func() Request { return &RenameRequest{} }, Handle: c.renamePreview},
		{Name: "rename/execute", NewRequest: func() Request { return &RenameRequest{} }, Handle: c.renameExecute},
	}
	for _, d := range descriptors {
		if err := c.registry.Register(d); err != nil {
			return nil, err
		}
	}
	c.registry.Seal()

	return c, nil
}

// Dispatch routes one capability call. Unknown names and malformed bodies are
// rejected before any session is touched.
func (c *controller) Dispatch(ctx context.Context, name string, raw json.RawMessage) (interface{}, error) {
	d, ok := c.registry.Get(name)
	if !ok {
		c.stats.Counter("unknown").Inc(1)
		return nil, errors.E(errors.KindUnknownCapability, "unknown capability %q", name)
	}

	req := d.NewRequest()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, req); err != nil {
			return nil, errors.Wrap(errors.KindInvalidRequest, err, "malformed request body")
		}
	}
	if v, ok := req.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, errors.Wrap(errors.KindInvalidRequest, err, "invalid request")
		}
	}

	workspace, err := c.resolver.Resolve(ctx, req.Locate())
	if err != nil {
		return nil, err
	}

	s, err := c.sessions.GetOrCreate(ctx, workspace)
	if err != nil {
		return nil, err
	}

	// Apply the default call deadline only when the caller brought none.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.sessions.CallTimeout())
		defer cancel()
	}

	c.stats.Tagged(map[string]string{"capability": name}).Counter("dispatched").Inc(1)
	value, err := s.Execute(ctx, func(ctx context.Context, client langserver.Client) (interface{}, error) {
		return d.Handle(ctx, client, req)
	})
	if err != nil {
		c.stats.Tagged(map[string]string{"capability": name}).Counter("failed").Inc(1)
		return nil, err
	}
	return value, nil
}

// Capabilities lists the registered capability names in sorted order.
func (c *controller) Capabilities() []string {
	return c.registry.Names()
}
