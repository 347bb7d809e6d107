package endpoint

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/lsp-cli/lspd/src/lspd/controller/capability"
	"github.com/lsp-cli/lspd/src/lspd/entity"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/lsp-cli/lspd/src/lspd/internal/resolver"
	"github.com/lsp-cli/lspd/src/lspd/repository/session"
	tally "github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Capability methods are named "capability/<name>"; everything else on the
// socket is an admin method.
const (
	_capabilityPrefix = "capability/"

	// MethodServerList lists the live sessions.
	MethodServerList = "server/list"
	// MethodServerCapabilities lists the registered capability names.
	MethodServerCapabilities = "server/capabilities"
	// MethodServerStop shuts down the session owning one workspace.
	MethodServerStop = "server/stop"
	// MethodServerShutdown stops the whole daemon.
	MethodServerShutdown = "server/shutdown"
)

// StopParams identify the workspace to stop by any path inside it.
type StopParams struct {
	Path string `json:"path"`
}

// StopResult reports the outcome of server/stop.
type StopResult struct {
	Root    string `json:"root"`
	Stopped bool   `json:"stopped"`
}

type router struct {
	uuid         uuid.UUID
	logger       *zap.SugaredLogger
	stats        tally.Scope
	capabilities capability.Controller
	sessions     session.Manager
	resolver     resolver.Resolver
	shutdowner   fx.Shutdowner
}

func newRouter(id uuid.UUID, logger *zap.SugaredLogger, stats tally.Scope, capabilities capability.Controller, sessions session.Manager, res resolver.Resolver, shutdowner fx.Shutdowner) *router {
	return &router{
		uuid:         id,
		logger:       logger,
		stats:        stats,
		capabilities: capabilities,
		sessions:     sessions,
		resolver:     res,
		shutdowner:   shutdowner,
	}
}

// HandleReq handles routing for a single request.
func (r *router) HandleReq(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	method := req.Method()

	if name, ok := strings.CutPrefix(method, _capabilityPrefix); ok {
		result, err := r.capabilities.Dispatch(ctx, name, req.Params())
		if err != nil {
			r.logger.Debugw("capability failed", "capability", name, "error", err)
		}
		return reply(ctx, result, mapError(err))
	}

	switch method {
	case MethodServerList:
		return reply(ctx, r.sessions.Snapshot(ctx), nil)

	case MethodServerCapabilities:
		return reply(ctx, r.capabilities.Capabilities(), nil)

	case MethodServerStop:
		return r.stop(ctx, reply, req)

	case MethodServerShutdown:
		r.logger.Infow("shutdown requested", zap.Stringer("uuid", r.uuid))
		err := reply(ctx, "shutting down", nil)
		if shutdownErr := r.shutdowner.Shutdown(); shutdownErr != nil {
			r.logger.Errorw("shutdown signal failed", "error", shutdownErr)
		}
		return err

	default:
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}
}

// stop resolves the given path to its workspace root and shuts that session
// down. Stopping a workspace without a session is not an error.
func (r *router) stop(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params StopParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return reply(ctx, nil, mapError(errors.Wrap(errors.KindInvalidRequest, err, "malformed request body")))
	}

	workspace, err := r.resolver.Resolve(ctx, entity.Locate{Path: params.Path})
	if err != nil {
		return reply(ctx, nil, mapError(err))
	}

	stopped, err := r.sessions.StopWorkspace(ctx, workspace.Root)
	if err != nil {
		return reply(ctx, nil, mapError(err))
	}
	return reply(ctx, StopResult{Root: workspace.Root, Stopped: stopped}, nil)
}
