// Package mcp implements the Model Context Protocol (MCP) client subsystem:
// transports, request correlation, connection management, tool discovery
// and tool invocation.
package mcp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// TransportKind selects the wire shape used to reach a server.
type TransportKind string

const (
	// TransportStdio runs the server as a child process and speaks
	// newline-delimited JSON over its stdin/stdout.
	TransportStdio TransportKind = "stdio"
	// TransportHTTP issues one POST per request against an endpoint.
	TransportHTTP TransportKind = "http"
	// TransportWebSocket holds one persistent duplex socket to the endpoint.
	TransportWebSocket TransportKind = "websocket"
)

// ServerDefinition is the durable configuration for one MCP server.
type ServerDefinition struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Transport   TransportKind     `json:"transport"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     string            `json:"command,omitempty"`
	Arguments   []string          `json:"arguments,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	AutoConnect bool              `json:"autoConnect"`
	Enabled     bool              `json:"enabled"`
	Timeout     int               `json:"timeoutMs,omitempty"` // milliseconds, overrides defaults
}

// Validate checks that exactly the fields required by the transport kind
// are populated.
func (d *ServerDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrConfiguration)
	}

	switch d.Transport {
	case TransportStdio:
		if d.Command == "" {
			return fmt.Errorf("%w: command is required for stdio transport", ErrConfiguration)
		}
	case TransportHTTP, TransportWebSocket:
		if d.URL == "" {
			return fmt.Errorf("%w: url is required for %s transport", ErrConfiguration, d.Transport)
		}
		u, err := url.Parse(d.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: malformed url %q", ErrConfiguration, d.URL)
		}
	default:
		return fmt.Errorf("%w: unknown transport kind %q", ErrConfiguration, d.Transport)
	}

	return nil
}

// ConnectionStatus represents the connection state machine position.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// ToolDescriptor describes one invocable capability offered by a server.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	ServerID    string          `json:"serverId"`
}

// ConnectionState is the volatile per-server runtime status.
type ConnectionState struct {
	ServerID        string           `json:"serverId"`
	Status          ConnectionStatus `json:"status"`
	Tools           []ToolDescriptor `json:"tools,omitempty"`
	LastConnectedAt *time.Time       `json:"lastConnectedAt,omitempty"`
	LastActivityAt  *time.Time       `json:"lastActivityAt,omitempty"`
	ErrorMessage    string           `json:"errorMessage,omitempty"`
	ToolCallCount   int64            `json:"toolCallCount"`
}

// InvocationResult is the outcome of one tool call. Business-level tool
// failures are reported here with Success false, never as errors.
type InvocationResult struct {
	ToolName   string          `json:"toolName"`
	Success    bool            `json:"success"`
	Content    json.RawMessage `json:"content,omitempty"`
	Error      string          `json:"error,omitempty"`
	ExecutedAt time.Time       `json:"executedAt"`
	DurationMs int64           `json:"durationMs"`
}

// ProtocolVersion is the MCP protocol version spoken by this client.
const ProtocolVersion = "2024-11-05"

// ClientInfo identifies this client during the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies the remote server, from the handshake response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeRequest is the capability-handshake request payload.
type InitializeRequest struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// InitializeResponse is the capability-handshake response payload.
type InitializeResponse struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// Tool is the wire representation of a tool in tools/list responses.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResponse represents a tools/list response.
type ListToolsResponse struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams represents tools/call request parameters.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResponse represents a tools/call response.
type CallToolResponse struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents one piece of tool response content.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
