package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/dualane/internal/handoff"
)

var verifyFormat string

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVarP(&verifyFormat, "format", "f", "text", "Output format (text|json)")
}

var verifyCmd = &cobra.Command{
	Use:   "verify <handoff>",
	Short: "Re-check a persisted handoff without running a lane",
	Long: "Runs the checks the claude lane performs before it starts: direction,\n" +
		"status, context signature, artifact binding, patch signature and bundle\n" +
		"hash. Exits 0 if every check passes, 1 otherwise.",
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	h, err := resolveHandoff(ws.handoffs, args[0])
	if err != nil {
		return err
	}
	report := handoff.Verify(ws.manager(uuid.NewString(), ws.trail), h)

	switch verifyFormat {
	case "json":
		if err := printJSON(report); err != nil {
			return err
		}
	default:
		fmt.Printf("handoff %s\n", report.HandoffID)
		for _, c := range report.Checks {
			mark := "ok  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("  %s %-10s %s\n", mark, c.Name, c.Detail)
		}
	}
	if !report.OK() {
		os.Exit(1)
	}
	return nil
}
