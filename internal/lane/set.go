package lane

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ReadOnlyAllowed is the built-in allow list for the codex lane.
var ReadOnlyAllowed = []string{
	"Read",
	"Grep",
	"Glob",
	"LS",
	"Bash(ls:*)",
	"Bash(cat:*)",
	"Bash(grep:*)",
	"Bash(git diff:*)",
	"Bash(git log:*)",
	"Bash(git status:*)",
	"Bash(git show:*)",
}

// ReadOnlyDenied is the built-in deny list for the codex lane.
// Entries here can be extended but never removed.
var ReadOnlyDenied = []string{
	"Write",
	"Edit",
	"MultiEdit",
	"NotebookEdit",
	"Bash(git commit:*)",
	"Bash(git push:*)",
	"Bash(git add:*)",
	"Bash(git reset:*)",
	"Bash(git checkout:*)",
	"Bash(git merge:*)",
	"Bash(git rebase:*)",
	"Bash(rm:*)",
	"Bash(mv:*)",
	"Bash(cp:*)",
	"Bash(chmod:*)",
	"Bash(chown:*)",
	"Bash(tee:*)",
	"Bash(dd:*)",
	"Bash(npm install:*)",
}

// PermissionSet is the allow/deny table of one lane.
type PermissionSet struct {
	Unrestricted bool
	Allowed      []Pattern
	Denied       []Pattern
}

// Compile parses allow and deny pattern strings into a PermissionSet.
// Any malformed pattern rejects the whole set.
func Compile(allowed, denied []string, unrestricted bool) (PermissionSet, error) {
	set := PermissionSet{Unrestricted: unrestricted}
	if unrestricted && len(allowed) > 0 {
		return PermissionSet{}, fmt.Errorf("unrestricted set must not list allow patterns")
	}
	for _, s := range allowed {
		p, err := ParsePattern(s)
		if err != nil {
			return PermissionSet{}, fmt.Errorf("allow: %w", err)
		}
		set.Allowed = append(set.Allowed, p)
	}
	for _, s := range denied {
		p, err := ParsePattern(s)
		if err != nil {
			return PermissionSet{}, fmt.Errorf("deny: %w", err)
		}
		set.Denied = append(set.Denied, p)
	}
	return set, nil
}

// DefaultSet returns the built-in permission set for a lane.
// Unknown lanes get an empty restricted set, which denies everything.
func DefaultSet(l Lane) PermissionSet {
	switch l {
	case ReadOnly:
		set, err := Compile(ReadOnlyAllowed, ReadOnlyDenied, false)
		if err != nil {
			panic(err)
		}
		return set
	case WriteEnabled:
		return PermissionSet{Unrestricted: true}
	}
	return PermissionSet{}
}

// Decision is the outcome of evaluating one operation.
type Decision struct {
	Allowed bool
	Reason  string
	// Pattern is the rule that decided, empty when no rule matched.
	Pattern string
}

// compoundOperator splits shell parameters into individual commands.
var compoundOperator = regexp.MustCompile("&&|\\|\\||\\$\\(|[;|&\n<>`]")

// Evaluate decides an operation against the set. Deny is checked before
// allow; a match on both is a denial.
func (s PermissionSet) Evaluate(operation string) Decision {
	op := ParseOperation(operation)

	for _, p := range s.Denied {
		if p.Match(op) {
			return Decision{Reason: "denied by pattern " + p.String(), Pattern: p.String()}
		}
	}

	compound := op.HasParam && !op.Malformed && compoundOperator.MatchString(op.Param)
	if compound {
		for _, seg := range segments(op.Param) {
			segOp := Operation{Raw: op.Base + "(" + seg + ")", Base: op.Base, Param: seg, HasParam: true}
			for _, p := range s.Denied {
				if p.Match(segOp) {
					return Decision{
						Reason:  fmt.Sprintf("compound segment %q denied by pattern %s", seg, p.String()),
						Pattern: p.String(),
					}
				}
			}
		}
	}

	if s.Unrestricted {
		return Decision{Allowed: true, Reason: "unrestricted lane"}
	}

	if op.Malformed {
		return Decision{Reason: "malformed operation"}
	}

	skippedGlob := false
	for _, p := range s.Allowed {
		if !p.Match(op) {
			continue
		}
		if compound && p.Kind() == KindGlob {
			skippedGlob = true
			continue
		}
		return Decision{Allowed: true, Reason: "allowed by pattern " + p.String(), Pattern: p.String()}
	}

	if skippedGlob {
		return Decision{Reason: "compound shell command not covered by allow list"}
	}
	return Decision{Reason: "not in allow list"}
}

// IsAllowed reports whether the set permits the operation.
func (s PermissionSet) IsAllowed(operation string) bool {
	return s.Evaluate(operation).Allowed
}

// IsAllowed reports whether set permits operation.
func IsAllowed(operation string, set PermissionSet) bool {
	return set.IsAllowed(operation)
}

func segments(param string) []string {
	var out []string
	for _, part := range compoundOperator.Split(param, -1) {
		part = strings.Trim(strings.TrimSpace(part), "()")
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Snapshot is the serializable form of a PermissionSet, embedded in
// security contexts.
type Snapshot struct {
	Unrestricted bool     `json:"unrestricted"`
	Allowed      []string `json:"allowed"`
	Denied       []string `json:"denied"`
}

// Snapshot returns the serializable form of the set.
func (s PermissionSet) Snapshot() Snapshot {
	snap := Snapshot{
		Unrestricted: s.Unrestricted,
		Allowed:      []string{},
		Denied:       []string{},
	}
	for _, p := range s.Allowed {
		snap.Allowed = append(snap.Allowed, p.String())
	}
	for _, p := range s.Denied {
		snap.Denied = append(snap.Denied, p.String())
	}
	return snap
}

// Equal reports whether two snapshots list the same rules in the same order.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.Unrestricted == other.Unrestricted &&
		slices.Equal(s.Allowed, other.Allowed) &&
		slices.Equal(s.Denied, other.Denied)
}
