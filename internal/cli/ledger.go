package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/ledger"
)

var (
	ledgerWorkflow string
	ledgerLane     string
	ledgerEvent    string
	ledgerFailures bool
	ledgerLimit    int
	ledgerFormat   string
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerQueryCmd)
	ledgerCmd.AddCommand(ledgerHandoffsCmd)
	ledgerCmd.PersistentFlags().IntVarP(&ledgerLimit, "limit", "n", 50, "Maximum rows")
	ledgerCmd.PersistentFlags().StringVarP(&ledgerFormat, "format", "f", "text", "Output format (text|json)")
	ledgerQueryCmd.Flags().StringVar(&ledgerWorkflow, "workflow", "", "Only entries for this workflow id")
	ledgerQueryCmd.Flags().StringVar(&ledgerLane, "lane", "", "Only entries for this lane")
	ledgerQueryCmd.Flags().StringVar(&ledgerEvent, "event", "", "Only entries with this event")
	ledgerQueryCmd.Flags().BoolVar(&ledgerFailures, "failures", false, "Only failed entries")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Query the SQLite audit and handoff index",
}

var ledgerQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List audit entries, newest first",
	Args:  cobra.NoArgs,
	RunE:  runLedgerQuery,
}

var ledgerHandoffsCmd = &cobra.Command{
	Use:   "handoffs",
	Short: "List recorded handoffs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runLedgerHandoffs,
}

func openLedger() (*ledger.Ledger, error) {
	home, err := homeDir()
	if err != nil {
		return nil, err
	}
	return ledger.Open(filepath.Join(home, ledgerFileName))
}

func runLedgerQuery(cmd *cobra.Command, args []string) error {
	led, err := openLedger()
	if err != nil {
		return err
	}
	defer led.Close()

	entries, err := led.Entries(cmd.Context(), ledger.Query{
		WorkflowID:   ledgerWorkflow,
		Lane:         ledgerLane,
		Event:        audit.Event(ledgerEvent),
		FailuresOnly: ledgerFailures,
		Limit:        ledgerLimit,
	})
	if err != nil {
		return err
	}
	if ledgerFormat == "json" {
		return printJSON(entries)
	}
	for _, e := range entries {
		status := "ok  "
		if !e.Success {
			status = "FAIL"
		}
		fmt.Printf("%s %s %-15s %-7s %-30s %s\n", e.Timestamp, status, e.Event, e.Lane, e.Operation, e.Reason)
	}
	return nil
}

func runLedgerHandoffs(cmd *cobra.Command, args []string) error {
	led, err := openLedger()
	if err != nil {
		return err
	}
	defer led.Close()

	rows, err := led.Handoffs(cmd.Context(), ledgerLimit)
	if err != nil {
		return err
	}
	if ledgerFormat == "json" {
		return printJSON(rows)
	}
	for _, r := range rows {
		fmt.Printf("%s %s %s->%s %-6s %s\n", r.Timestamp, r.ID, r.FromLane, r.ToLane, r.Status, r.PatchFile)
	}
	return nil
}
