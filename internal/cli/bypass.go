package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/dualane/internal/lane"
)

var (
	bypassLane   string
	bypassReason string
)

func init() {
	rootCmd.AddCommand(bypassCmd)
	bypassCmd.Flags().StringVar(&bypassLane, "lane", "", "Lane the grant is bound to (required)")
	bypassCmd.Flags().StringVar(&bypassReason, "reason", "", "Justification, at least 20 characters (required)")
	bypassCmd.MarkFlagRequired("lane")
	bypassCmd.MarkFlagRequired("reason")
}

var bypassCmd = &cobra.Command{
	Use:   "bypass <operation>",
	Short: "Validate one operation under an audited emergency bypass",
	Long: "Issues a single-use bypass grant bound to --lane and validates the\n" +
		"operation with it. The grant and its use are both recorded in the\n" +
		"audit trail. Operations the lane already allows do not consume it.",
	Args: cobra.ExactArgs(1),
	RunE: runBypass,
}

func runBypass(cmd *cobra.Command, args []string) error {
	l, err := lane.Parse(bypassLane)
	if err != nil {
		return err
	}
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	m := ws.manager(uuid.NewString(), ws.trail)
	grant, err := m.Bypass(l, bypassReason)
	if err != nil {
		return err
	}
	v, err := m.ValidateWithBypass(args[0], l, grant)
	if err != nil {
		return err
	}
	if !v.Allowed {
		fmt.Fprintf(os.Stderr, "DENIED: %s\n", v.Reason)
		os.Exit(1)
	}
	fmt.Printf("ALLOWED (%s): %s\n", v.Reason, args[0])
	fmt.Printf("  grant:    %s\n", grant.ID)
	fmt.Printf("  workflow: %s\n", m.WorkflowID())
	return nil
}
