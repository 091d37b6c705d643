package echo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callTool(t *testing.T, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	server := NewServer()
	tool := server.GetTool(name)
	require.NotNil(t, tool, "%s tool should exist", name)

	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := tool.Handler(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.Len(t, result.Content, 1)
	textContent, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "content should be text")
	return textContent.Text
}

func TestEchoServer_Echo(t *testing.T) {
	result := callTool(t, "echo", map[string]any{"message": "hello there"})
	assert.False(t, result.IsError)
	assert.Equal(t, "hello there", textOf(t, result))
}

func TestEchoServer_EchoMissingMessage(t *testing.T) {
	result := callTool(t, "echo", map[string]any{})
	assert.True(t, result.IsError)
}

func TestEchoServer_ReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("file contents"), 0o644))

	result := callTool(t, "read_file", map[string]any{"path": path})
	assert.False(t, result.IsError)
	assert.Equal(t, "file contents", textOf(t, result))
}

func TestEchoServer_ReadFileMissing(t *testing.T) {
	result := callTool(t, "read_file", map[string]any{"path": "/no/such/file"})
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "/no/such/file")
}

func TestEchoServer_HasTools(t *testing.T) {
	server := NewServer()

	for _, name := range []string{"echo", "read_file"} {
		tool := server.GetTool(name)
		require.NotNil(t, tool, "%s tool should exist", name)
		assert.Equal(t, name, tool.Tool.Name)
		assert.NotEmpty(t, tool.Tool.Description)
	}
}
