package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/toolbridge-ai/toolbridge/internal/mcp"
)

var (
	callParams []string
	callJSON   string
)

var callCmd = &cobra.Command{
	Use:   "call <server> <tool>",
	Short: "Invoke a tool on a server",
	Long: `Connect to a server and invoke one of its tools.

Examples:
  toolbridge call fs read_file --param path=/etc/hosts
  toolbridge call web search --json '{"query":"golang","limit":5}'`,
	Args: cobra.ExactArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringArrayVar(&callParams, "param", nil, "Tool parameter KEY=VALUE (repeatable)")
	callCmd.Flags().StringVar(&callJSON, "json", "", "Tool parameters as a JSON object")
}

func runCall(cmd *cobra.Command, args []string) error {
	svc, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	def, err := resolveServer(svc, args[0])
	if err != nil {
		return err
	}
	toolName := args[1]

	params, err := buildToolParams()
	if err != nil {
		return err
	}

	if err := svc.Connect(context.Background(), def.ID); err != nil {
		return err
	}

	result, err := svc.CallTool(context.Background(), def.ID, toolName, params)
	if err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("tool %s failed after %dms: %s", toolName, result.DurationMs, result.Error)
	}

	var resp mcp.CallToolResponse
	if err := json.Unmarshal(result.Content, &resp); err != nil {
		// Fall back to the raw payload for servers with exotic shapes.
		fmt.Println(string(result.Content))
		return nil
	}
	for _, piece := range resp.Content {
		if piece.Type == "text" {
			fmt.Println(piece.Text)
		} else {
			fmt.Printf("[%s content]\n", piece.Type)
		}
	}
	return nil
}

// buildToolParams merges --json and --param inputs, with --param entries
// winning on key collisions.
func buildToolParams() (map[string]any, error) {
	params := map[string]any{}

	if callJSON != "" {
		if err := json.Unmarshal([]byte(callJSON), &params); err != nil {
			return nil, fmt.Errorf("parse --json: %w", err)
		}
	}

	for _, pair := range callParams {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", pair)
		}
		params[key] = value
	}

	return params, nil
}
