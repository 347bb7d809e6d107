package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lsp-cli/lspd/src/lspd/internal/core"
	"go.lsp.dev/jsonrpc2"
)

const (
	_configKeyInfoFile = "serverInfoFilePath"
	_infoKeySocket     = "socket"
	_spawnWait         = 10 * time.Second
	_dialTimeout       = 1 * time.Second
)

// client is one short-lived JSON-RPC connection to the daemon socket.
type client struct {
	conn jsonrpc2.Conn
}

// dial connects to the daemon, starting it first if no live socket is
// advertised.
func dial(ctx context.Context) (*client, error) {
	socket, err := discoverSocket(ctx)
	if err != nil {
		return nil, err
	}

	netConn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon at %s: %w", socket, err)
	}

	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(netConn))
	conn.Go(ctx, jsonrpc2.MethodNotFoundHandler)
	return &client{conn: conn}, nil
}

// call issues one request and returns the raw result for rendering.
func (c *client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	if _, err := c.conn.Call(ctx, method, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *client) close() error {
	return c.conn.Close()
}

// callContext returns the per-command context with the --timeout deadline.
func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(_timeoutFlag)*time.Second)
}

// discoverSocket returns a dialable daemon socket, spawning the daemon and
// waiting for it to advertise itself when needed.
func discoverSocket(ctx context.Context) (string, error) {
	infoPath, err := infoFilePath()
	if err != nil {
		return "", err
	}

	if socket := readSocket(infoPath); socket != "" && alive(socket) {
		return socket, nil
	}

	if _noSpawnFlag {
		return "", fmt.Errorf("daemon is not running (info file %s)", infoPath)
	}

	if err := spawnDaemon(); err != nil {
		return "", fmt.Errorf("starting daemon: %w", err)
	}
	return waitForSocket(ctx, infoPath)
}

// infoFilePath reads the advertised info file location from the daemon's own
// configuration, so client and daemon always agree on it.
func infoFilePath() (string, error) {
	cfg, err := core.NewConfig()
	if err != nil {
		return "", err
	}

	var path string
	if err := cfg.Get(_configKeyInfoFile).Populate(&path); err != nil {
		return "", fmt.Errorf("getting config field %q: %w", _configKeyInfoFile, err)
	}
	if path == "" {
		return "", fmt.Errorf("missing field %q in config", _configKeyInfoFile)
	}
	return path, nil
}

// readSocket returns the socket path advertised in the info file, or empty
// if the file is absent or unreadable.
func readSocket(infoPath string) string {
	data, err := os.ReadFile(infoPath)
	if err != nil {
		return ""
	}
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return ""
	}
	return fields[_infoKeySocket]
}

// alive reports whether the socket accepts connections.
func alive(socket string) bool {
	conn, err := net.DialTimeout("unix", socket, _dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// spawnDaemon starts this binary's daemon subcommand in its own session so
// it outlives the client process.
func spawnDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, "daemon")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// waitForSocket watches for the info file to appear and returns the first
// advertised socket that accepts connections.
func waitForSocket(ctx context.Context, infoPath string) (string, error) {
	dir := filepath.Dir(infoPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return "", err
	}

	// The daemon may have written the file before the watch was in place.
	if socket := readSocket(infoPath); socket != "" && alive(socket) {
		return socket, nil
	}

	deadline := time.NewTimer(_spawnWait)
	defer deadline.Stop()

	for {
		select {
		case event := <-watcher.Events:
			if event.Name != infoPath {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if socket := readSocket(infoPath); socket != "" && alive(socket) {
				return socket, nil
			}

		case err := <-watcher.Errors:
			return "", fmt.Errorf("watching for daemon startup: %w", err)

		case <-deadline.C:
			return "", fmt.Errorf("daemon did not come up within %s", _spawnWait)

		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
