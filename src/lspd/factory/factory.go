// Package factory provides user-defined factories for values used in tests.
package factory

import (
	"github.com/gofrs/uuid"
	"github.com/lsp-cli/lspd/src/lspd/entity"
	"go.lsp.dev/jsonrpc2"
)

// UUID is a user-defined factory for a random uuid.UUID.
func UUID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}

// JSONRPCRequest is a user-defined factory for a JSON-RPC request containing the specified method and parameters.
func JSONRPCRequest(method string, params interface{}) jsonrpc2.Request {
	req, _ := jsonrpc2.NewCall(jsonrpc2.NewNumberID(5), method, params)
	return req
}

// Locate is a factory for a Locate at the given path and position.
func Locate(path string, line, column uint32) entity.Locate {
	return entity.Locate{Path: path, Line: &line, Column: &column}
}

// LocatePath is a factory for a position-less Locate.
func LocatePath(path string) entity.Locate {
	return entity.Locate{Path: path}
}

// GoLanguage is a factory for a Go language server configuration.
func GoLanguage() entity.LanguageConfig {
	return entity.LanguageConfig{
		Name:       "go",
		Command:    []string{"gopls", "serve"},
		Markers:    []string{"go.mod", "go.work"},
		Extensions: []string{".go"},
	}
}

// Workspace is a factory for a resolved Go workspace at the given root.
func Workspace(root string) entity.Workspace {
	return entity.Workspace{Root: root, Language: GoLanguage()}
}
