// Package app assembles the lspd daemon application.
package app

import (
	"context"
	"time"

	"github.com/lsp-cli/lspd/src/lspd/controller/capability"
	"github.com/lsp-cli/lspd/src/lspd/gateway/langserver"
	"github.com/lsp-cli/lspd/src/lspd/handler/endpoint"
	"github.com/lsp-cli/lspd/src/lspd/internal/clock"
	"github.com/lsp-cli/lspd/src/lspd/internal/core"
	"github.com/lsp-cli/lspd/src/lspd/internal/executor"
	"github.com/lsp-cli/lspd/src/lspd/internal/fs"
	"github.com/lsp-cli/lspd/src/lspd/internal/resolver"
	"github.com/lsp-cli/lspd/src/lspd/internal/sockinfo"
	"github.com/lsp-cli/lspd/src/lspd/repository/session"
	tally "github.com/uber-go/tally"
	"go.uber.org/fx"
)

// Module defines the lspd daemon application module.
var Module = fx.Options(
	langserver.Module, // outbounds
	endpoint.Module,   // inbounds
	capability.Module,
	session.Module,
	resolver.Module,
	fs.Module,
	clock.Module,
	executor.Module,
	sockinfo.Module,
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "lspd",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
	// The endpoint is constructed lazily by fx; force it into the graph so
	// the socket is actually served.
	fx.Invoke(func(endpoint.Endpoint) {}),
)
