package langserver

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/lsp-cli/lspd/src/lspd/entity"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/lsp-cli/lspd/src/lspd/internal/executor"
	"github.com/lsp-cli/lspd/src/lspd/mapper"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

const _closeGrace = 2 * time.Second

type stdioClient struct {
	workspace entity.Workspace
	logger    *zap.SugaredLogger
	executor  executor.Executor

	cmd  *exec.Cmd
	conn jsonrpc2.Conn

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func newStdioClient(workspace entity.Workspace, logger *zap.SugaredLogger, exe executor.Executor) Client {
	return &stdioClient{
		workspace: workspace,
		logger:    logger.With("workspaceRoot", workspace.Root, "language", workspace.Language.Name),
		executor:  exe,
		done:      make(chan struct{}),
	}
}

// Start spawns the configured server command with the workspace root as its
// working directory and completes the initialize handshake. The caller's
// context bounds the handshake.
func (c *stdioClient) Start(ctx context.Context) error {
	command := c.workspace.Language.Command
	if len(command) == 0 {
		return errors.E(errors.KindClientSpawn, "no command configured for language %q", c.workspace.Language.Name)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = c.workspace.Root

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(errors.KindClientSpawn, err, "opening stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(errors.KindClientSpawn, err, "opening stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(errors.KindClientSpawn, err, "opening stderr pipe")
	}

	if err := c.executor.Start(cmd); err != nil {
		return errors.Wrap(errors.KindClientSpawn, err, "starting language server")
	}
	c.cmd = cmd

	go c.drainStderr(stderr)

	stream := jsonrpc2.NewStream(&stdioPipe{in: stdin, out: stdout})
	c.conn = jsonrpc2.NewConn(stream)
	c.conn.Go(context.Background(), c.handle)

	go func() {
		<-c.conn.Done()
		c.terminate(c.conn.Err())
	}()
	go func() {
		err := c.executor.Wait(cmd)
		if err == nil {
			err = errors.New("language server exited")
		}
		c.terminate(err)
	}()

	if err := c.handshake(ctx); err != nil {
		c.Close(ctx)
		return errors.Wrap(errors.KindClientSpawn, err, "initialize handshake")
	}

	c.logger.Infow("language server started")
	return nil
}

func (c *stdioClient) handshake(ctx context.Context) error {
	params := &protocol.InitializeParams{
		RootURI: uri.File(c.workspace.Root),
		WorkspaceFolders: []protocol.WorkspaceFolder{{
			URI:  string(uri.File(c.workspace.Root)),
			Name: filepath.Base(c.workspace.Root),
		}},
		Capabilities: protocol.ClientCapabilities{},
	}

	var result protocol.InitializeResult
	if _, err := c.conn.Call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return err
	}
	return c.conn.Notify(ctx, protocol.MethodInitialized, &protocol.InitializedParams{})
}

// Call issues a single request against the server connection.
func (c *stdioClient) Call(ctx context.Context, method string, params, result interface{}) error {
	conn := c.conn
	if conn == nil {
		return errors.E(errors.KindProtocol, "client not started")
	}
	_, err := conn.Call(ctx, method, params, result)
	return err
}

// Close releases the connection: best-effort shutdown/exit, then the stream
// is closed and the process reaped. Idempotent.
func (c *stdioClient) Close(ctx context.Context) error {
	var closeErr error
	c.closeOnce.Do(func() {
		if c.conn != nil {
			graceCtx, cancel := context.WithTimeout(ctx, _closeGrace)
			defer cancel()
			c.conn.Call(graceCtx, protocol.MethodShutdown, nil, nil)
			c.conn.Notify(graceCtx, protocol.MethodExit, nil)
			closeErr = c.conn.Close()
		}
		if c.cmd != nil && c.cmd.Process != nil {
			c.cmd.Process.Kill()
		}
		c.terminate(errors.New("client closed"))
		c.logger.Infow("language server closed")
	})
	return closeErr
}

func (c *stdioClient) Done() <-chan struct{} {
	return c.done
}

func (c *stdioClient) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *stdioClient) terminate(err error) {
	c.doneOnce.Do(func() {
		c.errMu.Lock()
		if err == nil {
			err = errors.New("language server connection closed")
		}
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

// handle answers server-to-client traffic. lspd has no interactive surface,
// so notifications are logged and requests get empty but valid replies.
func (c *stdioClient) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	switch req.Method() {
	case protocol.MethodWindowLogMessage, protocol.MethodWindowShowMessage:
		c.logger.Debugw("server message", "method", req.Method(), "params", string(req.Params()))
		return reply(ctx, nil, nil)

	case protocol.MethodTextDocumentPublishDiagnostics, protocol.MethodTelemetryEvent, "$/progress":
		return reply(ctx, nil, nil)

	case protocol.MethodWorkspaceConfiguration:
		var params protocol.ConfigurationParams
		if err := mapper.DecodeParams(req, &params); err != nil {
			return reply(ctx, nil, err)
		}
		return reply(ctx, make([]interface{}, len(params.Items)), nil)

	case protocol.MethodWorkspaceWorkspaceFolders:
		return reply(ctx, []protocol.WorkspaceFolder{{
			URI:  string(uri.File(c.workspace.Root)),
			Name: filepath.Base(c.workspace.Root),
		}}, nil)

	case protocol.MethodClientRegisterCapability, protocol.MethodClientUnregisterCapability,
		protocol.MethodWorkDoneProgressCreate:
		return reply(ctx, nil, nil)

	default:
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}
}

func (c *stdioClient) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.logger.Debugw("server stderr", "line", scanner.Text())
	}
}

// stdioPipe joins the child's stdout (reads) and stdin (writes) into a
// single ReadWriteCloser for the jsonrpc2 stream.
type stdioPipe struct {
	in  io.WriteCloser
	out io.ReadCloser
}

func (p *stdioPipe) Read(b []byte) (int, error)  { return p.out.Read(b) }
func (p *stdioPipe) Write(b []byte) (int, error) { return p.in.Write(b) }

func (p *stdioPipe) Close() error {
	inErr := p.in.Close()
	outErr := p.out.Close()
	if inErr != nil {
		return inErr
	}
	return outErr
}
