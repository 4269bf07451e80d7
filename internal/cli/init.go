package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/dualane/internal/lane"
	"github.com/ppiankov/dualane/internal/laneconfig"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing lane files and lanes.yaml")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap the dualane state directory",
	Long: `Creates the state directory, lane configuration files and an empty
lanes.yaml permission additions file.

  <home>/config/codex.env    read-only lane settings
  <home>/config/claude.env   write-enabled lane settings
  <home>/lanes.yaml          extra allow/deny patterns per lane`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	home, err := homeDir()
	if err != nil {
		return err
	}

	var created []string
	for _, dir := range []string{configDirName, artifactDirName, handoffDirName, auditDirName} {
		if err := os.MkdirAll(filepath.Join(home, dir), 0o755); err != nil {
			return fmt.Errorf("create %s directory: %w", dir, err)
		}
	}

	configDir := filepath.Join(home, configDirName)
	for _, l := range []lane.Lane{lane.ReadOnly, lane.WriteEnabled} {
		if initForce {
			path := laneconfig.FilePath(configDir, l)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}
		cfg, wrote, err := laneconfig.Load(configDir, l)
		if err != nil {
			return err
		}
		if wrote {
			created = append(created, cfg.Path)
		}
	}

	tablesPath := filepath.Join(home, tablesFileName)
	content, err := defaultTablesYAML()
	if err != nil {
		return fmt.Errorf("generate lanes.yaml: %w", err)
	}
	if wrote, err := writeIfMissing(tablesPath, content); err != nil {
		return err
	} else if wrote {
		created = append(created, tablesPath)
	}

	fmt.Println("dualane init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, path := range created {
			fmt.Printf("  %s\n", path)
		}
		fmt.Println()
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
		fmt.Println()
	}

	fmt.Println("Check a lane decision:")
	fmt.Println("  dualane check --lane codex 'Bash(git diff HEAD)'")
	fmt.Println()
	fmt.Println("Run a workflow:")
	fmt.Println("  dualane run --target src/a.js 'add a null check to f'")
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// defaultTablesYAML generates a commented lanes.yaml with no additions.
func defaultTablesYAML() (string, error) {
	data, err := yaml.Marshal(lane.TablesFile{
		Codex:  lane.Additions{Allow: []string{}, Deny: []string{}},
		Claude: lane.Additions{Deny: []string{}},
	})
	if err != nil {
		return "", err
	}
	header := "# dualane lane permission additions.\n" +
		"# Patterns are merged over the built-in tables; deny always wins.\n" +
		"# Forms: Tool, Tool(exact params), Tool(prefix:*), Tool(glob *)\n" +
		"# The claude lane is unrestricted and accepts deny patterns only.\n" +
		"#\n"
	return header + string(data), nil
}
