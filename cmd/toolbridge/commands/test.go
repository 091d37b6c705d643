package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test <server>",
	Short: "Test connectivity to a server without connecting it",
	Long: `Probe a stored server definition with a throwaway connection. The
full handshake and tool discovery run, then the probe is torn down; the
server's tracked connection state is never touched.`,
	Args: cobra.ExactArgs(1),
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	svc, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	def, err := resolveServer(svc, args[0])
	if err != nil {
		return err
	}

	if !svc.TestConnection(context.Background(), def) {
		return fmt.Errorf("connection test failed for %s, run with --print-logs for details", def.Name)
	}

	fmt.Printf("connection to %s OK\n", def.Name)
	return nil
}
