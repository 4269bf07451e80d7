package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/dualane/internal/telemetry"
)

var (
	flagHome     string
	flagLogLevel string
	flagEnv      string
	flagTables   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "State directory (default $DUALANE_HOME or ~/.dualane)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&flagEnv, "env", "", "Signing environment tag (default $DUALANE_ENV or development)")
	rootCmd.PersistentFlags().StringVar(&flagTables, "lanes", "", "Path to lanes.yaml permission additions (default <home>/lanes.yaml)")
}

var rootCmd = &cobra.Command{
	Use:   "dualane",
	Short: "Dual-lane permission control and artifact integrity for code generation",
	Long: "Runs a read-only codex lane that proposes a patch and a write-enabled\n" +
		"claude lane that applies it. Every lane operation is validated against\n" +
		"the lane's permission table, and every handoff is signed and verified.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := parseLevel(flagLogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		if err := telemetry.Init(cmd.Context(), "dualane", version); err != nil {
			slog.Warn("telemetry disabled", "error", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(context.Background())
	},
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
