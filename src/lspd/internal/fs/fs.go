// Package fs wraps the filesystem operations used by lspd.
package fs

import (
	"os"
	"path/filepath"

	"go.uber.org/fx"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// LspdFS will wrap the filesystem operations used by lspd.
type LspdFS interface {
	Abs(path string) (string, error)
	DirExists(path string) (bool, error)
	FileExists(path string) (bool, error)
	Exists(path string) (bool, error)
	IsDir(path string) (bool, error)
	MkdirAll(path string) error
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
	Remove(name string) error
	UserCacheDir() (string, error)
}

type fsImpl struct{}

// New creates a new LspdFS.
func New() LspdFS {
	return fsImpl{}
}

// Abs returns an absolute representation of path.
func (fsImpl) Abs(path string) (string, error) { return filepath.Abs(path) }

// DirExists returns true if the path exists and is a directory.
func (fsImpl) DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// FileExists returns true if the path exists and is a regular file.
func (fsImpl) FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// Exists returns true if the path exists, regardless of type.
func (fsImpl) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// IsDir returns true if the path is a directory.
func (fsImpl) IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// MkdirAll creates a directory along with any necessary parents.
func (fsImpl) MkdirAll(path string) error { return os.MkdirAll(path, 0755) }

// ReadFile reads the named file and returns the contents.
func (fsImpl) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

// WriteFile writes data to the named file, creating it if necessary.
func (fsImpl) WriteFile(name string, data []byte) error {
	return os.WriteFile(name, data, 0644)
}

// Remove removes the named file or empty directory.
func (fsImpl) Remove(name string) error { return os.Remove(name) }

// UserCacheDir returns the user's cache directory.
func (fsImpl) UserCacheDir() (string, error) { return os.UserCacheDir() }
