// Package dispatcher serves catalog operations to COMMS requesters.
package dispatcher

import "encoding/json"

// Methods understood by the dispatcher.
const (
	MethodExecute = "execute"
	MethodInfo    = "info"
	MethodList    = "list"
)

// Error codes.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeMethodNotFound  = "METHOD_NOT_FOUND"
	CodeAddressInvalid  = "ADDRESS_INVALID"
	CodeParamsInvalid   = "PARAMS_INVALID"
	CodeAPIError        = "API_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
)

// Request is the JSON envelope of an incoming request.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is the JSON envelope of a reply.
type Response struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result any          `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes a failed request. Name carries the client error
// discriminator, e.g. "ApiURLError" or a server result type.
type ErrorDetail struct {
	Code      string `json:"code"`
	Name      string `json:"name,omitempty"`
	Message   string `json:"message"`
	Status    int    `json:"status,omitempty"`
	Retryable bool   `json:"retryable"`
}

// ExecuteParams are the params of MethodExecute. Strict defaults to true.
type ExecuteParams struct {
	Endpoint     string `json:"endpoint"`
	Parameters   any    `json:"parameters,omitempty"`
	ParametersKV any    `json:"parameterskv,omitempty"`
	Strict       *bool  `json:"strict,omitempty"`
}

// InfoParams are the params of MethodInfo.
type InfoParams struct {
	Endpoint string `json:"endpoint"`
}

// ListParams are the params of MethodList. Catalog is "<catalog>[:<path>]".
type ListParams struct {
	Catalog string `json:"catalog"`
}
