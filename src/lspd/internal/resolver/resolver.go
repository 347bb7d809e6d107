// Package resolver maps a Locate to the workspace root that owns it,
// by searching upward for a language's project marker files.
package resolver

import (
	"context"
	"path/filepath"

	"github.com/lsp-cli/lspd/src/lspd/entity"
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"github.com/lsp-cli/lspd/src/lspd/internal/fs"
	"go.uber.org/config"
	"go.uber.org/fx"
)

const _configKeyLanguages = "languages"

// Module provides a new Resolver.
var Module = fx.Provide(New)

// Resolver resolves a Locate to a workspace root. Resolution is a pure
// computation over the filesystem and is safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, locate entity.Locate) (entity.Workspace, error)
}

// Params are the parameters required to create a new Resolver.
type Params struct {
	fx.In

	Config config.Provider
	FS     fs.LspdFS
}

type resolver struct {
	languages []entity.LanguageConfig
	fs        fs.LspdFS
}

// New creates a Resolver from the configured language list.
func New(p Params) (Resolver, error) {
	var languages []entity.LanguageConfig
	if err := p.Config.Get(_configKeyLanguages).Populate(&languages); err != nil {
		return nil, err
	}
	if len(languages) == 0 {
		return nil, errors.New("no languages configured")
	}
	return &resolver{languages: languages, fs: p.FS}, nil
}

// Resolve walks from the locate path toward the filesystem root, returning
// the first directory containing a project marker for a matching language.
func (r *resolver) Resolve(ctx context.Context, locate entity.Locate) (entity.Workspace, error) {
	if locate.Path == "" {
		return entity.Workspace{}, errors.E(errors.KindInvalidRequest, "locate path is required")
	}

	path, err := r.fs.Abs(locate.Path)
	if err != nil {
		return entity.Workspace{}, errors.Wrap(errors.KindInvalidRequest, err, "invalid locate path")
	}

	exists, err := r.fs.Exists(path)
	if err != nil {
		return entity.Workspace{}, errors.Wrap(errors.KindNotFound, err, path)
	}
	if !exists {
		return entity.Workspace{}, errors.E(errors.KindNotFound, "no such path: %s", path)
	}

	isDir, err := r.fs.IsDir(path)
	if err != nil {
		return entity.Workspace{}, errors.Wrap(errors.KindNotFound, err, path)
	}

	dir := path
	if !isDir {
		dir = filepath.Dir(path)
	}

	candidates := r.candidates(path, isDir)
	if len(candidates) == 0 {
		return entity.Workspace{}, errors.E(errors.KindNotFound, "no language configured for %s", path)
	}

	for {
		for _, lang := range candidates {
			for _, marker := range lang.Markers {
				found, err := r.fs.Exists(filepath.Join(dir, marker))
				if err != nil {
					continue
				}
				if found {
					return entity.Workspace{Root: dir, Language: lang}, nil
				}
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return entity.Workspace{}, errors.E(errors.KindNotFound, "no workspace marker found above %s", path)
}

// candidates narrows the language list by file extension. Directory paths
// match all configured languages.
func (r *resolver) candidates(path string, isDir bool) []entity.LanguageConfig {
	if isDir {
		return r.languages
	}

	matched := make([]entity.LanguageConfig, 0, 1)
	for _, lang := range r.languages {
		if lang.MatchesExtension(path) {
			matched = append(matched, lang)
		}
	}
	return matched
}
