package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/toolbridge-ai/toolbridge/internal/mcp"
)

var (
	addName        string
	addTransport   string
	addURL         string
	addCommand     string
	addArgs        []string
	addEnv         []string
	addHeaders     []string
	addAutoConnect bool
	addDisabled    bool
	addTimeout     int
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage MCP server definitions",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers",
	RunE:  runServersList,
}

var serversAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a server definition",
	Long: `Add an MCP server definition to the encrypted store.

Examples:
  toolbridge servers add --name fs --transport stdio --command mcp-fs --arg --root --arg /data
  toolbridge servers add --name web --transport http --url https://example.com/mcp --header "Authorization=Bearer tok"
  toolbridge servers add --name stream --transport websocket --url wss://example.com/mcp --auto-connect`,
	RunE: runServersAdd,
}

var serversRemoveCmd = &cobra.Command{
	Use:   "remove <server>",
	Short: "Remove a server definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runServersRemove,
}

var serversEnableCmd = &cobra.Command{
	Use:   "enable <server>",
	Short: "Enable a server",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setServerEnabled(args[0], true) },
}

var serversDisableCmd = &cobra.Command{
	Use:   "disable <server>",
	Short: "Disable a server",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setServerEnabled(args[0], false) },
}

func init() {
	serversAddCmd.Flags().StringVar(&addName, "name", "", "Display name (required)")
	serversAddCmd.Flags().StringVar(&addTransport, "transport", "", "Transport: stdio|http|websocket (required)")
	serversAddCmd.Flags().StringVar(&addURL, "url", "", "Endpoint URL (http/websocket)")
	serversAddCmd.Flags().StringVar(&addCommand, "command", "", "Executable to spawn (stdio)")
	serversAddCmd.Flags().StringArrayVar(&addArgs, "arg", nil, "Command argument (repeatable)")
	serversAddCmd.Flags().StringArrayVar(&addEnv, "env", nil, "Environment entry KEY=VALUE (repeatable)")
	serversAddCmd.Flags().StringArrayVar(&addHeaders, "header", nil, "HTTP header KEY=VALUE (repeatable)")
	serversAddCmd.Flags().BoolVar(&addAutoConnect, "auto-connect", false, "Connect automatically on startup")
	serversAddCmd.Flags().BoolVar(&addDisabled, "disabled", false, "Store the server disabled")
	serversAddCmd.Flags().IntVar(&addTimeout, "timeout", 0, "Per-server timeout in milliseconds")
	serversAddCmd.MarkFlagRequired("name")
	serversAddCmd.MarkFlagRequired("transport")

	serversCmd.AddCommand(serversListCmd)
	serversCmd.AddCommand(serversAddCmd)
	serversCmd.AddCommand(serversRemoveCmd)
	serversCmd.AddCommand(serversEnableCmd)
	serversCmd.AddCommand(serversDisableCmd)
}

func runServersList(cmd *cobra.Command, args []string) error {
	svc, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTRANSPORT\tTARGET\tENABLED\tAUTO\t")

	for _, def := range svc.ListServerDefinitions() {
		target := def.URL
		if def.Transport == mcp.TransportStdio {
			target = strings.TrimSpace(def.Command + " " + strings.Join(def.Arguments, " "))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%t\t\n",
			def.ID, def.Name, def.Transport, target, def.Enabled, def.AutoConnect)
	}

	return w.Flush()
}

func runServersAdd(cmd *cobra.Command, args []string) error {
	svc, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	env, err := parsePairs(addEnv)
	if err != nil {
		return err
	}
	headers, err := parsePairs(addHeaders)
	if err != nil {
		return err
	}

	def := mcp.ServerDefinition{
		Name:        addName,
		Transport:   mcp.TransportKind(addTransport),
		URL:         addURL,
		Headers:     headers,
		Command:     addCommand,
		Arguments:   addArgs,
		Environment: env,
		AutoConnect: addAutoConnect,
		Enabled:     !addDisabled,
		Timeout:     addTimeout,
	}

	stored, err := svc.AddServer(context.Background(), def)
	if err != nil {
		return err
	}

	fmt.Printf("added server %s (%s)\n", stored.Name, stored.ID)
	return nil
}

func runServersRemove(cmd *cobra.Command, args []string) error {
	svc, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	def, err := resolveServer(svc, args[0])
	if err != nil {
		return err
	}

	if err := svc.RemoveServer(context.Background(), def.ID); err != nil {
		return err
	}
	fmt.Printf("removed server %s (%s)\n", def.Name, def.ID)
	return nil
}

func setServerEnabled(arg string, enabled bool) error {
	svc, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	def, err := resolveServer(svc, arg)
	if err != nil {
		return err
	}

	def.Enabled = enabled
	if err := svc.UpdateServer(context.Background(), def); err != nil {
		return err
	}

	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	fmt.Printf("%s server %s (%s)\n", verb, def.Name, def.ID)
	return nil
}

// parsePairs splits repeated KEY=VALUE flags into a map.
func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", pair)
		}
		out[key] = value
	}
	return out, nil
}
