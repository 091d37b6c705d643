package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/toolbridge-ai/toolbridge/internal/service"
)

var toolsCmd = &cobra.Command{
	Use:   "tools [server]",
	Short: "List tools discovered on connected servers",
	Long: `List the tools available across MCP servers. With no argument every
enabled server is connected and queried; with a server id or name only
that server is queried.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
	svc, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	serverID := ""
	if len(args) > 0 {
		def, err := resolveServer(svc, args[0])
		if err != nil {
			return err
		}
		serverID = def.ID
		if err := svc.Connect(context.Background(), serverID); err != nil {
			return err
		}
	} else {
		connectEnabled(svc)
	}

	tools, err := svc.ListAvailableTools(serverID)
	if err != nil {
		return err
	}

	names := serverNames(svc)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tSERVER\tDESCRIPTION\t")
	for _, tool := range tools {
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", tool.Name, names[tool.ServerID], tool.Description)
	}
	return w.Flush()
}

// connectEnabled connects every enabled server, logging failures rather
// than aborting the listing.
func connectEnabled(svc *service.Service) {
	for _, def := range svc.ListServerDefinitions() {
		if !def.Enabled {
			continue
		}
		if err := svc.Connect(context.Background(), def.ID); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", def.Name, err)
		}
	}
}

// serverNames maps server ids to display names.
func serverNames(svc *service.Service) map[string]string {
	names := make(map[string]string)
	for _, def := range svc.ListServerDefinitions() {
		names[def.ID] = def.Name
	}
	return names
}
