package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/dualane/internal/handoff"
)

var claudeHandoff string

func init() {
	rootCmd.AddCommand(claudeCmd)
	claudeCmd.Flags().StringVar(&claudeHandoff, "handoff", "", "Handoff id or path to handoff-<id>.json (required)")
	claudeCmd.MarkFlagRequired("handoff")
	addGeneratorFlags(claudeCmd)
}

var claudeCmd = &cobra.Command{
	Use:   "claude",
	Short: "Verify a handoff and run the write-enabled lane",
	Long: "Loads a handoff, verifies its context signature, artifact signature\n" +
		"and bundle hash, then runs the claude lane to apply the patch.\n" +
		"Any verification failure stops the workflow before the lane runs.",
	Args: cobra.NoArgs,
	RunE: runClaude,
}

func runClaude(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	h, err := resolveHandoff(ws.handoffs, claudeHandoff)
	if err != nil {
		return err
	}
	ctrl, err := ws.controller()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	res, err := ctrl.ExecuteAsClaude(ctx, h)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: %s\n", ctrl.AuditPath())
		return err
	}
	printApplied(res.HandoffFile, res.AppliedFiles, res.AuditFile)
	return nil
}

// resolveHandoff accepts a handoff id or a file path.
func resolveHandoff(store *handoff.Store, ref string) (*handoff.Handoff, error) {
	if _, ok := handoff.IDFromFileName(ref); ok {
		if _, err := os.Stat(ref); err == nil {
			return handoff.ReadFile(ref)
		}
	}
	return store.Load(ref)
}

func printApplied(handoffFile string, files []string, auditFile string) {
	fmt.Println("workflow complete")
	if handoffFile != "" {
		fmt.Printf("  handoff: %s\n", handoffFile)
	}
	for _, f := range files {
		fmt.Printf("  applied: %s\n", f)
	}
	fmt.Printf("  audit:   %s\n", auditFile)
}
