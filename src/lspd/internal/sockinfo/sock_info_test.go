package sockinfo

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lsp-cli/lspd/src/lspd/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func newInfoFile(t *testing.T, path string) SockInfoFile {
	provider, err := config.NewStaticProvider(map[string]interface{}{
		"serverInfoFilePath": path,
	})
	require.NoError(t, err)

	m, err := New(Params{
		Config:    provider,
		Lifecycle: fxtest.NewLifecycle(t),
		Logger:    zap.NewNop().Sugar(),
		FS:        fs.New(),
	})
	require.NoError(t, err)
	return m
}

func TestUpdateField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.json")
	m := newInfoFile(t, path)

	require.NoError(t, m.UpdateField("socket", "/tmp/lspd.sock"))
	require.NoError(t, m.UpdateField("pid", "1234"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "/tmp/lspd.sock", fields["socket"])
	assert.Equal(t, "1234", fields["pid"])
}

func TestUpdateFieldOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.json")
	m := newInfoFile(t, path)

	require.NoError(t, m.UpdateField("socket", "/tmp/old.sock"))
	require.NoError(t, m.UpdateField("socket", "/tmp/new.sock"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "/tmp/new.sock", fields["socket"])
}

func TestPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.json")
	m := newInfoFile(t, path)
	assert.Equal(t, path, m.Path())
}

func TestOnStopRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.json")
	m := newInfoFile(t, path)

	require.NoError(t, m.UpdateField("socket", "/tmp/lspd.sock"))
	require.FileExists(t, path)

	impl, ok := m.(*module)
	require.True(t, ok)
	require.NoError(t, impl.OnStop(context.Background()))
	assert.NoFileExists(t, path)
}

func TestMissingConfig(t *testing.T) {
	provider, err := config.NewStaticProvider(map[string]interface{}{})
	require.NoError(t, err)

	_, err = New(Params{
		Config:    provider,
		Lifecycle: fxtest.NewLifecycle(t),
		Logger:    zap.NewNop().Sugar(),
		FS:        fs.New(),
	})
	assert.Error(t, err)
}
