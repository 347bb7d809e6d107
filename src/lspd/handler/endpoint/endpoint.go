// Package endpoint serves the daemon's JSON-RPC surface over a unix domain
// socket and routes inbound requests to the capability and admin handlers.
package endpoint

import (
	"context"
	"fmt"
	"net"
	"path/filepath"

	"github.com/gofrs/uuid"
	"github.com/lsp-cli/lspd/src/lspd/controller/capability"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/lsp-cli/lspd/src/lspd/internal/fs"
	"github.com/lsp-cli/lspd/src/lspd/internal/resolver"
	"github.com/lsp-cli/lspd/src/lspd/internal/sockinfo"
	"github.com/lsp-cli/lspd/src/lspd/repository/session"
	tally "github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeySocket = "inbound.socket"
	_outputKeySocket = "socket"
)

// Module is an fx module to serve the unix socket endpoint.
var Module = fx.Provide(New)

// Endpoint accepts connections on the daemon socket and serves each one as a
// JSON-RPC stream.
type Endpoint interface {
	ServeStream(ctx context.Context, conn jsonrpc2.Conn) error
}

type module struct {
	socketPath string

	ln           net.Listener
	logger       *zap.SugaredLogger
	stats        tally.Scope
	fs           fs.LspdFS
	infoFile     sockinfo.SockInfoFile
	capabilities capability.Controller
	sessions     session.Manager
	resolver     resolver.Resolver
	shutdowner   fx.Shutdowner
}

// Params define values to be used by the endpoint.
type Params struct {
	fx.In

	Config       config.Provider
	Lifecycle    fx.Lifecycle
	Logger       *zap.SugaredLogger
	Stats        tally.Scope
	FS           fs.LspdFS
	InfoFile     sockinfo.SockInfoFile
	Capabilities capability.Controller
	Sessions     session.Manager
	Resolver     resolver.Resolver
	Shutdowner   fx.Shutdowner
}

// New creates the endpoint and registers its lifecycle: the socket is bound
// and served on start and closed on stop.
func New(p Params) (Endpoint, error) {
	if p.Lifecycle == nil || p.Config == nil {
		return nil, errors.New("required parameters are missing")
	}

	m := module{
		logger:       p.Logger,
		stats:        p.Stats.SubScope("endpoint"),
		fs:           p.FS,
		infoFile:     p.InfoFile,
		capabilities: p.Capabilities,
		sessions:     p.Sessions,
		resolver:     p.Resolver,
		shutdowner:   p.Shutdowner,
	}

	if err := m.processConfig(p.Config); err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: m.OnStart,
		OnStop:  m.OnStop,
	})

	return &m, nil
}

// OnStart binds the unix socket and begins accepting connections.
func (m *module) OnStart(ctx context.Context) error {
	if err := m.setup(); err != nil {
		return err
	}

	go m.start()
	return nil
}

// OnStop closes the listener; in-flight session teardown is owned by the
// session manager's own lifecycle hook.
func (m *module) OnStop(ctx context.Context) error {
	if m.ln == nil {
		return nil
	}
	return m.ln.Close()
}

// ServeStream handles one client connection until it closes.
func (m *module) ServeStream(ctx context.Context, conn jsonrpc2.Conn) error {
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}

	r := newRouter(id, m.logger, m.stats, m.capabilities, m.sessions, m.resolver, m.shutdowner)
	m.logger.Infow("client connected", zap.Stringer("uuid", id))

	// Each request replies from its own goroutine; the connection's read
	// loop never waits on a handler, so calls pipelined on one connection
	// stay independent across workspace roots.
	conn.Go(ctx, func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		go func() {
			if err := r.HandleReq(ctx, reply, req); err != nil {
				m.logger.Debugw("request failed", "method", req.Method(), "error", err)
			}
		}()
		return nil
	})

	<-conn.Done()
	m.logger.Infow("client disconnected", zap.Stringer("uuid", id))
	return conn.Err()
}

// setup removes any stale socket left by a previous run and binds a new one.
func (m *module) setup() error {
	if m.socketPath == "" {
		return errors.New("setup called before socket path is set")
	}

	if err := m.fs.MkdirAll(filepath.Dir(m.socketPath)); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if exists, err := m.fs.Exists(m.socketPath); err != nil {
		return err
	} else if exists {
		// A live daemon would be holding the info file; a leftover socket
		// from an unclean exit is safe to replace.
		if err := m.fs.Remove(m.socketPath); err != nil {
			return fmt.Errorf("removing stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", m.socketPath)
	if err != nil {
		return fmt.Errorf("binding socket %q: %w", m.socketPath, err)
	}
	m.ln = ln
	return nil
}

// start publishes the socket address and serves connections until the
// listener closes.
func (m *module) start() {
	if err := m.infoFile.UpdateField(_outputKeySocket, m.socketPath); err != nil {
		panic(err)
	}

	m.logger.Infow("serving on unix socket", zap.String("socket", m.socketPath))
	if err := jsonrpc2.Serve(context.Background(), m.ln, m, 0); err != nil {
		m.logger.Debugw("listener closed", "error", err)
	}
}

// processConfig will parse the configuration for any values required by this module.
func (m *module) processConfig(cfg config.Provider) error {
	val := cfg.Get(_configKeySocket)
	if err := val.Populate(&m.socketPath); err != nil {
		return fmt.Errorf("getting config field %q: %w", _configKeySocket, err)
	}

	if m.socketPath == "" {
		return fmt.Errorf("missing field %q in config", _configKeySocket)
	}

	return nil
}
