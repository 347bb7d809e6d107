package core

import (
	"fmt"
	"os"
	"path/filepath"

	uberconfig "go.uber.org/config"
	"go.uber.org/fx"
)

// ConfigModule provides the configuration provider into an Fx application.
var ConfigModule = fx.Options(
	fx.Provide(NewConfig),
)

// Config wraps a config provider loaded from the lspd config directory.
type Config struct {
	provider uberconfig.Provider
}

// Get returns the value at the given dotted path.
func (c Config) Get(path string) uberconfig.Value {
	return c.provider.Get(path)
}

// Name identifies this provider.
func (c Config) Name() string {
	return "config"
}

// NewConfig loads the YAML configuration. The config directory contains a
// meta.yaml listing the files to merge, in ascending priority order.
// Environment variable references of the form ${NAME:default} are expanded.
func NewConfig() (uberconfig.Provider, error) {
	configDir := getConfigDir()

	metaPath := filepath.Join(configDir, "meta.yaml")
	metaProvider, err := uberconfig.NewYAML(
		uberconfig.File(metaPath),
		uberconfig.Expand(os.LookupEnv),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load meta configuration: %w", err)
	}

	var configFiles []string
	if err := metaProvider.Get("files").Populate(&configFiles); err != nil {
		return nil, fmt.Errorf("failed to read files list from meta.yaml: %w", err)
	}

	// Files listed in meta.yaml are optional; only merge those present.
	var options []uberconfig.YAMLOption
	for _, file := range configFiles {
		fullPath := filepath.Join(configDir, file)
		if _, err := os.Stat(fullPath); err == nil {
			options = append(options, uberconfig.File(fullPath))
		}
	}

	if len(options) == 0 {
		return nil, fmt.Errorf("no configuration files found in %s", configDir)
	}
	options = append(options, uberconfig.Expand(os.LookupEnv))

	provider, err := uberconfig.NewYAML(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return Config{provider: provider}, nil
}

// getConfigDir returns the path to the configuration directory.
func getConfigDir() string {
	if configDir := os.Getenv("LSPD_CONFIG_DIR"); configDir != "" {
		return configDir
	}

	// Default location relative to the workspace root.
	return "src/lspd/config"
}
