package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect <server>",
	Short: "Connect to a server and report its discovered tools",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <server>",
	Short: "Disconnect from a server",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisconnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	svc, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	def, err := resolveServer(svc, args[0])
	if err != nil {
		return err
	}

	if err := svc.Connect(context.Background(), def.ID); err != nil {
		return err
	}

	state, err := svc.GetConnectionState(def.ID)
	if err != nil {
		return err
	}

	fmt.Printf("connected to %s (%d tools)\n", def.Name, len(state.Tools))
	for _, tool := range state.Tools {
		fmt.Printf("  %s\t%s\n", tool.Name, tool.Description)
	}
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	svc, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	def, err := resolveServer(svc, args[0])
	if err != nil {
		return err
	}

	if err := svc.Disconnect(def.ID); err != nil {
		return err
	}
	fmt.Printf("disconnected from %s\n", def.Name)
	return nil
}
