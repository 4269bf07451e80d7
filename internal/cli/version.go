package cli

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/ppiankov/dualane/internal/cli.version=..."
var (
	version = "dev"
	commit  = ""
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info, _ := debug.ReadBuildInfo()
		out, _ := json.MarshalIndent(versionInfo(info), "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	},
}

// versionInfo merges the linker-set values with what the Go toolchain
// embedded. An ldflags commit wins over vcs.revision.
func versionInfo(info *debug.BuildInfo) map[string]string {
	out := map[string]string{
		"name":    "dualane",
		"version": version,
	}
	rev := commit
	if info != nil {
		out["go"] = info.GoVersion
		if version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			out["version"] = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if rev == "" {
					rev = s.Value
				}
			case "vcs.modified":
				if s.Value == "true" {
					out["modified"] = s.Value
				}
			}
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" {
		out["commit"] = rev
	}
	return out
}
