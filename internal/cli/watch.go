package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/dualane/internal/handoff"
	"github.com/ppiankov/dualane/internal/watch"
)

var watchExisting bool

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "Also process handoffs already in the directory")
	addGeneratorFlags(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the claude lane for every new handoff",
	Long: "Watches the handoff directory and runs a verified claude lane workflow\n" +
		"for each handoff file that appears. Runs until interrupted.",
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()
	if _, err := ws.generator(); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	w := watch.New(ws.handoffs.Dir(), claudeHandler(ws), ws.logger)
	fmt.Fprintf(os.Stderr, "watching %s\n", ws.handoffs.Dir())
	return w.Run(ctx, watchExisting)
}

// claudeHandler runs one claude workflow per handoff file.
func claudeHandler(ws *workspace) watch.Handler {
	return func(ctx context.Context, path string) {
		h, err := handoff.ReadFile(path)
		if err != nil {
			ws.logger.Warn("skipping unreadable handoff", "path", path, "error", err)
			return
		}
		ctrl, err := ws.controller()
		if err != nil {
			ws.logger.Error("create controller", "error", err)
			return
		}
		res, err := ctrl.ExecuteAsClaude(ctx, h)
		if err != nil {
			ws.logger.Error("handoff rejected", "handoff", h.ID, "workflow", ctrl.WorkflowID(), "error", err)
			return
		}
		ws.logger.Info("handoff applied", "handoff", h.ID, "workflow", res.WorkflowID, "files", res.AppliedFiles)
	}
}
