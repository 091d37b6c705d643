// Package echo provides an MCP server with echo and file-reading tools,
// used as a live fixture for exercising the stdio transport.
package echo

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with the echo and read_file tools.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"echo",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	echoTool := mcp.NewTool("echo",
		mcp.WithDescription("Echoes the message back to the caller"),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message to echo"),
		),
	)
	s.AddTool(echoTool, echoHandler)

	readFileTool := mcp.NewTool("read_file",
		mcp.WithDescription("Reads a file from the local filesystem"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path of the file to read"),
		),
	)
	s.AddTool(readFileTool, readFileHandler)

	return s
}

// echoHandler handles the echo tool call.
func echoHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	message, ok := args["message"].(string)
	if !ok {
		return mcp.NewToolResultError("message argument is required"), nil
	}
	return mcp.NewToolResultText(message), nil
}

// readFileHandler handles the read_file tool call. Filesystem failures
// are tool results, not protocol errors.
func readFileHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("path argument is required"), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read %s: %v", path, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
