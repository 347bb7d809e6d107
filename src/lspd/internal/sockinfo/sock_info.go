// Package sockinfo manages the server info file that advertises the
// daemon's socket address to local callers.
package sockinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/lsp-cli/lspd/src/lspd/internal/fs"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _configKeyInfoFile = "serverInfoFilePath"

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// SockInfoFile is an interface to manage contents of a single server info file.
// It stores connection info for reference by the CLI and other local tools,
// and is written at service launch and removed at shutdown.
type SockInfoFile interface {
	UpdateField(key string, value string) error
	Path() string
}

type module struct {
	infofile     string
	logger       *zap.SugaredLogger
	fs           fs.LspdFS
	fileContents map[string]string
	mu           sync.Mutex
}

// Params define values to be used by SockInfoFile.
type Params struct {
	fx.In

	Config    config.Provider
	Lifecycle fx.Lifecycle
	Logger    *zap.SugaredLogger
	FS        fs.LspdFS
}

// New creates a new SockInfoFile which manages contents of a single server info file.
func New(p Params) (SockInfoFile, error) {
	m := module{
		logger:       p.Logger,
		fs:           p.FS,
		fileContents: make(map[string]string),
	}

	if err := m.processConfig(p.Config); err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: m.OnStop,
	})

	return &m, nil
}

// OnStop removes the info file so callers never discover a dead daemon.
func (m *module) OnStop(ctx context.Context) error {
	if m.infofile == "" {
		return nil
	}
	if err := m.fs.Remove(m.infofile); err != nil {
		m.logger.Warnw("removing server info file", "path", m.infofile, "error", err)
	}
	return nil
}

// Path returns the configured info file location.
func (m *module) Path() string {
	return m.infofile
}

// UpdateField stores a key/value pair and rewrites the file.
func (m *module) UpdateField(key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fileContents[key] = value
	jsonOutput, err := json.Marshal(m.fileContents)
	if err != nil {
		return fmt.Errorf("marshalling json: %w", err)
	}

	if err := m.fs.MkdirAll(filepath.Dir(m.infofile)); err != nil {
		return fmt.Errorf("creating info file directory: %w", err)
	}
	if err := m.fs.WriteFile(m.infofile, jsonOutput); err != nil {
		return fmt.Errorf("writing info file: %w", err)
	}

	m.logger.Debugw("updated server info file", "path", m.infofile, "key", key)
	return nil
}

func (m *module) processConfig(cfg config.Provider) error {
	val := cfg.Get(_configKeyInfoFile)
	if err := val.Populate(&m.infofile); err != nil {
		return fmt.Errorf("getting config field %q: %w", _configKeyInfoFile, err)
	}

	if m.infofile == "" {
		return fmt.Errorf("missing field %q in config", _configKeyInfoFile)
	}

	return nil
}
