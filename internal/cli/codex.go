package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var codexTarget string

func init() {
	rootCmd.AddCommand(codexCmd)
	codexCmd.Flags().StringVar(&codexTarget, "target", "", "Code the task refers to (file path, or inline text)")
	addGeneratorFlags(codexCmd)
}

var codexCmd = &cobra.Command{
	Use:   "codex <task>",
	Short: "Run the read-only lane and write a signed handoff",
	Long: "Runs the codex lane with read-only tools, extracts the proposed patch,\n" +
		"generates the SBOM and attestation, signs the bundle and persists a\n" +
		"handoff for the claude lane.",
	Args: cobra.ExactArgs(1),
	RunE: runCodex,
}

func runCodex(cmd *cobra.Command, args []string) error {
	target, err := readTarget(codexTarget)
	if err != nil {
		return err
	}
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	ctrl, err := ws.controller()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	h, err := ctrl.ExecuteAsCodex(ctx, args[0], target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: %s\n", ctrl.AuditPath())
		return err
	}
	fmt.Printf("handoff %s ready\n", h.ID)
	fmt.Printf("  patch:       %s\n", h.Artifacts.PatchFile)
	fmt.Printf("  sbom:        %s\n", h.Artifacts.SBOMFile)
	fmt.Printf("  attestation: %s\n", h.Artifacts.AttestationFile)
	fmt.Printf("  bundle hash: %s\n", h.Artifacts.CombinedHash)
	fmt.Printf("  audit:       %s\n", ctrl.AuditPath())
	return nil
}

// readTarget returns the file's content when s names a readable file, and
// s itself otherwise.
func readTarget(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	info, err := os.Stat(s)
	if err != nil || info.IsDir() {
		return s, nil
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return "", fmt.Errorf("read target: %w", err)
	}
	return string(data), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
