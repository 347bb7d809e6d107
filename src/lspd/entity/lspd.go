// Package entity contains the domain types for the lspd service.
package entity

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Locate identifies a file path plus an optional position at which a
// capability operation applies.
type Locate struct {
	Path   string  `json:"path"`
	Line   *uint32 `json:"line,omitempty"`
	Column *uint32 `json:"column,omitempty"`
}

// HasPosition reports whether the locate carries a line number.
func (l Locate) HasPosition() bool {
	return l.Line != nil
}

// String implements fmt.Stringer.
func (l Locate) String() string {
	if l.Line == nil {
		return l.Path
	}
	if l.Column == nil {
		return fmt.Sprintf("%s:%d", l.Path, *l.Line)
	}
	return fmt.Sprintf("%s:%d:%d", l.Path, *l.Line, *l.Column)
}

// LanguageConfig describes one supported language server.
type LanguageConfig struct {
	// Name is a short identifier such as "go" or "python".
	Name string `yaml:"name" json:"name"`
	// Command is the language server invocation, argv style.
	Command []string `yaml:"command" json:"command"`
	// Markers are file or directory names whose presence identifies a
	// workspace root for this language.
	Markers []string `yaml:"markers" json:"markers"`
	// Extensions are the file extensions handled by this server,
	// including the leading dot.
	Extensions []string `yaml:"extensions" json:"extensions"`
}

// MatchesExtension reports whether the given path's extension belongs to
// this language.
func (c LanguageConfig) MatchesExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range c.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Workspace is a resolved workspace root together with the language server
// configuration responsible for it.
type Workspace struct {
	// Root is the canonical absolute path of the workspace.
	Root string `json:"root"`
	// Language is the server configuration matched during resolution.
	Language LanguageConfig `json:"language"`
}

// SessionState tracks the lifecycle of a single language-server session.
type SessionState int32

// Session lifecycle states. A session loops between Ready and Busy while
// serving calls, and ends in Closed or Failed.
const (
	StateStarting SessionState = iota
	StateReady
	StateBusy
	StateTerminating
	StateClosed
	StateFailed
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateTerminating:
		return "terminating"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final for the session.
func (s SessionState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
