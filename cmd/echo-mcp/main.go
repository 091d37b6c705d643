// Command echo-mcp runs the echo MCP server over stdio.
// This is used for testing the MCP client integration.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"
	"github.com/toolbridge-ai/toolbridge/pkg/mcpserver/echo"
)

func main() {
	s := echo.NewServer()
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
