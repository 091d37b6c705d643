package mcp

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers classify failures with errors.Is; every error
// produced by this package wraps exactly one of these sentinels (or is an
// *RPCError for failures the remote server reported).
var (
	// ErrConfiguration marks a server definition that fails structural
	// validation.
	ErrConfiguration = errors.New("invalid server configuration")
	// ErrPlatformUnsupported marks a stdio connect attempt on a runtime
	// that cannot spawn processes.
	ErrPlatformUnsupported = errors.New("platform cannot spawn server processes")
	// ErrProcessSpawn marks a child process that could not be started.
	ErrProcessSpawn = errors.New("failed to start server process")
	// ErrNetwork marks a failure reaching the endpoint.
	ErrNetwork = errors.New("network failure")
	// ErrTransport marks a failure on an established channel, including
	// unexpected channel death.
	ErrTransport = errors.New("transport failure")
	// ErrTimeout marks a request that exceeded its allotted time.
	ErrTimeout = errors.New("request timed out")
	// ErrServerNotFound marks an operation against an unknown server id.
	ErrServerNotFound = errors.New("server not found")
	// ErrServerNotConnected marks a tool call against a server that is
	// not in the connected state.
	ErrServerNotConnected = errors.New("server not connected")
)

// RPCError is a JSON-RPC error response from the remote server. For tool
// calls this is a business outcome, surfaced as an unsuccessful
// InvocationResult rather than an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// HTTPStatusError is a non-2xx response from an HTTP endpoint. It is a
// transport failure (errors.Is(err, ErrTransport) holds) that callers
// can tell apart from a malformed body by inspecting the status code.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) Unwrap() error {
	return ErrTransport
}
