// Package langserver defines the opaque client boundary to a language
// server, plus the stdio-based implementation used in production. The
// session layer depends only on the Client and Factory interfaces, so any
// concrete client can be swapped in without touching the manager.
package langserver

import (
	"context"

	"github.com/lsp-cli/lspd/src/lspd/entity"
	"github.com/lsp-cli/lspd/src/lspd/internal/executor"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the stdio-backed client factory.
var Module = fx.Provide(NewFactory)

// Client is one language-server connection for one workspace root.
// Exactly one component (the owning session) may issue calls on it.
type Client interface {
	// Start launches the server and completes the initialize handshake.
	Start(ctx context.Context) error
	// Call issues a single request and decodes the result.
	Call(ctx context.Context, method string, params, result interface{}) error
	// Close releases the connection. Idempotent.
	Close(ctx context.Context) error
	// Done is closed when the connection is lost or released.
	Done() <-chan struct{}
	// Err reports why the connection ended. Valid after Done is closed.
	Err() error
}

// Factory creates Clients for workspaces.
type Factory interface {
	New(workspace entity.Workspace) Client
}

// Params are the parameters required to create a new Factory.
type Params struct {
	fx.In

	Logger   *zap.SugaredLogger
	Executor executor.Executor
}

type factory struct {
	logger   *zap.SugaredLogger
	executor executor.Executor
}

// NewFactory returns a Factory producing stdio clients.
func NewFactory(p Params) Factory {
	return &factory{
		logger:   p.Logger,
		executor: p.Executor,
	}
}

func (f *factory) New(workspace entity.Workspace) Client {
	return newStdioClient(workspace, f.logger, f.executor)
}
