package cli

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	batchParallel int
	batchFormat   string
)

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().IntVarP(&batchParallel, "parallel", "p", 4, "Maximum concurrent workflows")
	batchCmd.Flags().StringVarP(&batchFormat, "format", "f", "text", "Output format (text|json)")
	addGeneratorFlags(batchCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch <tasks.yaml>",
	Short: "Run independent workflows concurrently",
	Long: "Reads a YAML list of tasks and runs one full workflow per task.\n" +
		"Workflows share the audit trail and the ledger but nothing else.\n" +
		"A failed workflow does not stop the others; exit code 1 if any failed.\n\n" +
		"  tasks:\n" +
		"    - task: add null check to f\n" +
		"      target: src/a.js",
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

// BatchTask is one entry of a batch file.
type BatchTask struct {
	Task   string `yaml:"task"`
	Target string `yaml:"target"`
}

type batchFile struct {
	Tasks []BatchTask `yaml:"tasks"`
}

// BatchResult is the outcome of one batch workflow.
type BatchResult struct {
	Task       string   `json:"task"`
	WorkflowID string   `json:"workflow_id"`
	State      string   `json:"state"`
	Applied    []string `json:"applied_files,omitempty"`
	AuditFile  string   `json:"audit_file"`
	Error      string   `json:"error,omitempty"`
}

func loadBatch(path string) ([]BatchTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse batch file %s: %w", path, err)
	}
	for i, t := range f.Tasks {
		if t.Task == "" {
			return nil, fmt.Errorf("batch file %s: task %d is empty", path, i)
		}
	}
	return f.Tasks, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	tasks, err := loadBatch(args[0])
	if err != nil {
		return err
	}
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

	results := runTasks(ctx, ws, tasks, batchParallel)

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	switch batchFormat {
	case "json":
		if err := printJSON(results); err != nil {
			return err
		}
	default:
		for _, r := range results {
			status := r.State
			if r.Error != "" {
				status += ": " + r.Error
			}
			fmt.Printf("%-40s %s\n", truncateTask(r.Task, 40), status)
		}
		fmt.Printf("\n%d workflows, %d failed\n", len(results), failed)
	}
	if failed > 0 {
		os.Exit(1)
	}
	return nil
}

// runTasks runs every task as its own workflow with at most parallel in
// flight. Results are in task order.
func runTasks(ctx context.Context, ws *workspace, tasks []BatchTask, parallel int) []BatchResult {
	results := make([]BatchResult, len(tasks))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, t := range tasks {
		g.Go(func() error {
			r := BatchResult{Task: t.Task}
			defer func() {
				mu.Lock()
				results[i] = r
				mu.Unlock()
			}()

			mu.Lock()
			ctrl, err := ws.controller()
			mu.Unlock()
			if err != nil {
				r.State = "failed"
				r.Error = err.Error()
				return nil
			}
			r.WorkflowID = ctrl.WorkflowID()
			r.AuditFile = ctrl.AuditPath()

			target, err := readTarget(t.Target)
			if err != nil {
				r.State = "failed"
				r.Error = err.Error()
				return nil
			}
			res, err := ctrl.Run(ctx, t.Task, target)
			r.State = ctrl.State().String()
			if err != nil {
				r.Error = err.Error()
				return nil
			}
			r.Applied = res.AppliedFiles
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// truncateTask shortens s to n runes for table output.
func truncateTask(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
