package endpoint

import (
	"github.com/lsp-cli/lspd/src/lspd/internal/errors"
	"go.lsp.dev/jsonrpc2"
)

// Service-specific JSON-RPC error codes, in the implementation-defined range
// below the reserved block.
const (
	_codeNotFound          jsonrpc2.Code = -32090
	_codeClientSpawn       jsonrpc2.Code = -32091
	_codeClientUnavailable jsonrpc2.Code = -32092
	_codeTimeout           jsonrpc2.Code = -32093
	_codeCancelled         jsonrpc2.Code = -32094
	_codeProtocol          jsonrpc2.Code = -32095
)

// mapError converts a domain error to the JSON-RPC error returned on the
// wire. Nil passes through so successful replies stay untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var code jsonrpc2.Code
	switch errors.KindOf(err) {
	case errors.KindUnknownCapability:
		code = jsonrpc2.MethodNotFound
	case errors.KindInvalidRequest:
		code = jsonrpc2.InvalidParams
	case errors.KindNotFound:
		code = _codeNotFound
	case errors.KindClientSpawn:
		code = _codeClientSpawn
	case errors.KindClientUnavailable:
		code = _codeClientUnavailable
	case errors.KindTimeout:
		code = _codeTimeout
	case errors.KindCancelled:
		code = _codeCancelled
	case errors.KindProtocol:
		code = _codeProtocol
	default:
		code = jsonrpc2.InternalError
	}

	return jsonrpc2.NewError(code, err.Error())
}
