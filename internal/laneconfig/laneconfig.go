// Package laneconfig loads the per-lane KEY=VALUE configuration files and
// provisions lane-safe defaults when a file is missing.
package laneconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/ppiankov/dualane/internal/fsutil"
	"github.com/ppiankov/dualane/internal/lane"
)

// Keys recognised in a lane file.
const (
	KeyEnableWrite  = "ENABLE_WRITE_OPERATIONS"
	KeyReadOnlyMode = "READ_ONLY_MODE"
	KeyBranchPrefix = "ALLOWED_BRANCH_PREFIX"
	KeyAuditTrail   = "AUDIT_TRAIL_ENABLED"
)

// ErrUnsafe rejects a read-only lane file that claims write access.
var ErrUnsafe = errors.New("laneconfig: read-only lane configured with write access")

// Config is one lane's settings.
type Config struct {
	Lane                  lane.Lane
	Path                  string
	EnableWriteOperations bool
	ReadOnlyMode          bool
	AllowedBranchPrefix   string
	AuditTrailEnabled     bool
}

// Defaults returns the safe settings for a lane. The read-only lane is
// always write-disabled.
func Defaults(l lane.Lane) Config {
	write := l == lane.WriteEnabled
	return Config{
		Lane:                  l,
		EnableWriteOperations: write,
		ReadOnlyMode:          !write,
		AllowedBranchPrefix:   string(l) + "/",
		AuditTrailEnabled:     true,
	}
}

// FilePath returns <dir>/<lane>.env.
func FilePath(dir string, l lane.Lane) string {
	return filepath.Join(dir, string(l)+".env")
}

// Load reads the lane file from dir. A missing file is created with
// Defaults and created is true. A read-only lane file that enables writes
// or disables read-only mode returns ErrUnsafe; it is never downgraded
// silently.
func Load(dir string, l lane.Lane) (cfg Config, created bool, err error) {
	if !l.Valid() {
		return Config{}, false, fmt.Errorf("laneconfig: unknown lane %q", l)
	}
	path := FilePath(dir, l)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg = Defaults(l)
		cfg.Path = path
		if err := fsutil.WriteFileAtomic(path, cfg.Encode(), 0644); err != nil {
			return Config{}, false, fmt.Errorf("laneconfig: provision %s: %w", path, err)
		}
		return cfg, true, nil
	} else if err != nil {
		return Config{}, false, fmt.Errorf("laneconfig: stat %s: %w", path, err)
	}

	cfg, err = read(path, l)
	if err != nil {
		return Config{}, false, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, false, err
	}
	return cfg, false, nil
}

func read(path string, l lane.Lane) (Config, error) {
	d := Defaults(l)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.SetDefault(KeyEnableWrite, strconv.FormatBool(d.EnableWriteOperations))
	v.SetDefault(KeyReadOnlyMode, strconv.FormatBool(d.ReadOnlyMode))
	v.SetDefault(KeyBranchPrefix, d.AllowedBranchPrefix)
	v.SetDefault(KeyAuditTrail, strconv.FormatBool(d.AuditTrailEnabled))
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("laneconfig: read %s: %w", path, err)
	}

	cfg := Config{
		Lane:                l,
		Path:                path,
		AllowedBranchPrefix: strings.TrimSpace(v.GetString(KeyBranchPrefix)),
	}
	var errs []error
	for _, b := range []struct {
		key string
		dst *bool
	}{
		{KeyEnableWrite, &cfg.EnableWriteOperations},
		{KeyReadOnlyMode, &cfg.ReadOnlyMode},
		{KeyAuditTrail, &cfg.AuditTrailEnabled},
	} {
		raw := strings.TrimSpace(v.GetString(b.key))
		val, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a boolean", b.key, raw))
			continue
		}
		*b.dst = val
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("laneconfig: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings that would widen the read-only lane.
func (c Config) Validate() error {
	if c.Lane == lane.ReadOnly && (c.EnableWriteOperations || !c.ReadOnlyMode) {
		return fmt.Errorf("%w (%s)", ErrUnsafe, c.Path)
	}
	if c.AllowedBranchPrefix == "" {
		return fmt.Errorf("laneconfig: %s: %s must not be empty", c.Path, KeyBranchPrefix)
	}
	return nil
}

// Encode renders the file form of c.
func (c Config) Encode() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# dualane %s lane configuration\n", c.Lane)
	fmt.Fprintf(&b, "%s=%t\n", KeyEnableWrite, c.EnableWriteOperations)
	fmt.Fprintf(&b, "%s=%t\n", KeyReadOnlyMode, c.ReadOnlyMode)
	fmt.Fprintf(&b, "%s=%s\n", KeyBranchPrefix, c.AllowedBranchPrefix)
	fmt.Fprintf(&b, "%s=%t\n", KeyAuditTrail, c.AuditTrailEnabled)
	return []byte(b.String())
}
