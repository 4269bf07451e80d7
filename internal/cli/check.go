package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/dualane/internal/lane"
)

var (
	checkLane   string
	checkFormat string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkLane, "lane", "codex", "Lane to check against (codex|claude)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
}

var checkCmd = &cobra.Command{
	Use:   "check <operation>...",
	Short: "Check operations against a lane's permission table",
	Long: "Evaluates each operation, e.g. 'Bash(git diff HEAD)', against the\n" +
		"lane's table and reports the decision and deciding pattern.\n\n" +
		"Exit code 0 if all are allowed, 1 if any are denied.",
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

// CheckResult is one operation's decision.
type CheckResult struct {
	Operation string `json:"operation"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
	Pattern   string `json:"pattern,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	l, err := lane.Parse(checkLane)
	if err != nil {
		return err
	}
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	m := ws.manager(uuid.NewString(), ws.trail)
	results := make([]CheckResult, 0, len(args))
	denied := 0
	for _, op := range args {
		v := m.ValidateOperation(op, l)
		if !v.Allowed {
			denied++
		}
		results = append(results, CheckResult{Operation: op, Allowed: v.Allowed, Reason: v.Reason, Pattern: v.Pattern})
	}

	switch checkFormat {
	case "json":
		if err := printJSON(results); err != nil {
			return err
		}
	default:
		for _, r := range results {
			verdict := "ALLOW"
			if !r.Allowed {
				verdict = "DENY "
			}
			fmt.Printf("%s %-40s %s\n", verdict, r.Operation, r.Reason)
		}
	}
	if denied > 0 {
		os.Exit(1)
	}
	return nil
}
