package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/dualane/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP lane gate server",
	Long: "Runs dualane as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes lane tools: dualane_check, dualane_filter, dualane_scan, dualane_verify.\n" +
		"Every decision is written to the audit trail.",
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	srv, err := mcp.New(mcp.Config{
		Manager:  ws.manager(uuid.NewString(), ws.trail),
		Handoffs: ws.handoffs,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	fmt.Fprintln(os.Stderr, "dualane MCP server running on stdio")
	return srv.Run(ctx)
}
