package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var runTarget string

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runTarget, "target", "", "Code the task refers to (file path, or inline text)")
	addGeneratorFlags(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run both lanes end to end",
	Long:  "Runs the codex lane, then verifies the handoff and runs the claude lane.",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflow,
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	target, err := readTarget(runTarget)
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

	res, err := ctrl.Run(ctx, args[0], target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: %s\n", ctrl.AuditPath())
		return err
	}
	printApplied(res.HandoffFile, res.AppliedFiles, res.AuditFile)
	return nil
}
