package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/dualane/internal/artifact"
	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/controller"
	"github.com/ppiankov/dualane/internal/handoff"
	"github.com/ppiankov/dualane/internal/lane"
	"github.com/ppiankov/dualane/internal/laneexec"
	"github.com/ppiankov/dualane/internal/ledger"
	"github.com/ppiankov/dualane/internal/secctx"
	"github.com/ppiankov/dualane/internal/signing"
)

// State directory layout.
const (
	configDirName   = "config"
	artifactDirName = "artifacts"
	handoffDirName  = "handoffs"
	auditDirName    = "audit"
	trailFileName   = "audit.jsonl"
	ledgerFileName  = "ledger.db"
	tablesFileName  = "lanes.yaml"
)

var (
	genResponses string
	genModel     string
	genTimeout   time.Duration
)

// addGeneratorFlags registers the flags shared by commands that call a
// generator.
func addGeneratorFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&genResponses, "responses", "", "YAML file of fixed per-lane responses (offline mode)")
	cmd.Flags().StringVar(&genModel, "model", "", "Anthropic model (default $DUALANE_MODEL or "+laneexec.DefaultModel+")")
	cmd.Flags().DurationVar(&genTimeout, "timeout", 5*time.Minute, "Per-lane generation timeout")
}

// homeDir resolves --home, then DUALANE_HOME, then ~/.dualane.
func homeDir() (string, error) {
	if flagHome != "" {
		return flagHome, nil
	}
	if h := os.Getenv("DUALANE_HOME"); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".dualane"), nil
}

func environment() string {
	if flagEnv != "" {
		return flagEnv
	}
	return signing.EnvironmentFromEnv()
}

// workspace holds the state shared by every workflow a command runs: the
// permission tables, the live audit trail and the handoff store. Each
// workflow gets its own trail switch so one lane's AUDIT_TRAIL_ENABLED
// never mutes a concurrent workflow.
type workspace struct {
	home     string
	env      string
	tables   *lane.Tables
	signer   *signing.Signer
	trailLog *audit.Log
	ledger   *ledger.Ledger
	trail    audit.Sink
	handoffs *handoff.Store
	logger   *slog.Logger

	gen laneexec.Generator
}

func openWorkspace() (*workspace, error) {
	home, err := homeDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", home, err)
	}

	tablesPath := flagTables
	if tablesPath == "" {
		tablesPath = filepath.Join(home, tablesFileName)
	}
	tables, err := lane.LoadTables(tablesPath)
	if err != nil {
		return nil, fmt.Errorf("load lane tables: %w", err)
	}

	store, err := handoff.NewStore(filepath.Join(home, handoffDirName))
	if err != nil {
		return nil, err
	}
	trailLog, err := audit.Open(filepath.Join(home, trailFileName))
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	led, err := ledger.Open(filepath.Join(home, ledgerFileName))
	if err != nil {
		trailLog.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	env := environment()
	return &workspace{
		home:     home,
		env:      env,
		tables:   tables,
		signer:   signing.NewSigner(signing.EnvKeyProvider{Environment: env}),
		trailLog: trailLog,
		ledger:   led,
		trail:    audit.Multi{trailLog, led},
		handoffs: store,
		logger:   slog.Default(),
	}, nil
}

func (w *workspace) Close() error {
	return errors.Join(w.trailLog.Close(), w.ledger.Close())
}

func (w *workspace) path(name string) string {
	return filepath.Join(w.home, name)
}

// manager creates a Manager for one workflow, feeding sink.
func (w *workspace) manager(workflowID string, sink audit.Sink) *secctx.Manager {
	return secctx.NewManager(secctx.Config{
		Tables: w.tables,
		Signer: w.signer,
		Sink:   sink,
		Environment: map[string]string{
			"DUALANE_ENV":  w.env,
			"DUALANE_HOME": w.home,
		},
		WorkflowID: workflowID,
		Logger:     w.logger,
	})
}

// generator builds the generator once: fixed responses when --responses
// is set, the Anthropic API otherwise.
func (w *workspace) generator() (laneexec.Generator, error) {
	if w.gen != nil {
		return w.gen, nil
	}
	if genResponses != "" {
		g, err := loadResponses(genResponses)
		if err != nil {
			return nil, err
		}
		w.gen = g
		return g, nil
	}
	g, err := laneexec.NewAnthropicGenerator("", genModel)
	if err != nil {
		return nil, err
	}
	w.gen = g
	return g, nil
}

// controller creates a controller for a fresh workflow.
func (w *workspace) controller() (*controller.Controller, error) {
	gen, err := w.generator()
	if err != nil {
		return nil, err
	}
	trail := audit.NewSwitch(w.trail)
	m := w.manager(uuid.NewString(), trail)
	return controller.New(controller.Config{
		Manager:   m,
		Client:    laneexec.NewClient(gen, w.logger),
		Artifacts: artifact.NewGenerator(w.path(artifactDirName), m),
		Handoffs:  w.handoffs,
		ConfigDir: w.path(configDirName),
		AuditDir:  w.path(auditDirName),
		Trail:     trail,
		Index:     w.ledger,
		Timeout:   genTimeout,
		Logger:    w.logger,
	})
}

// responsesFile is the shape of a --responses file.
type responsesFile struct {
	Codex  string `yaml:"codex"`
	Claude string `yaml:"claude"`
}

func loadResponses(path string) (*laneexec.StaticGenerator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read responses: %w", err)
	}
	var f responsesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse responses %s: %w", path, err)
	}
	return &laneexec.StaticGenerator{Responses: map[lane.Lane]string{
		lane.ReadOnly:     f.Codex,
		lane.WriteEnabled: f.Claude,
	}}, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
