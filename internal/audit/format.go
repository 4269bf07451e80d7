package audit

import (
	"encoding/json"
	"fmt"
	"strings"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders entries as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s – %s UTC\n", result.Summary.FirstTimestamp, result.Summary.LastTimestamp)
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		outcome := "OK"
		if !e.Success {
			outcome = "FAIL"
		}
		fmt.Fprintf(&b, "%-24s %-7s %-15s %-5s %-32s %s\n",
			e.Timestamp, e.Lane, e.Event, outcome, truncate(e.Operation, 32), e.Reason)
	}

	b.WriteString(separator + "\n")
	s := result.Summary
	fmt.Fprintf(&b, "Total: %d | ok: %d | failed: %d | bypass: %d | handoff: %d\n",
		s.Total, s.SuccessCount, s.FailureCount, s.BypassCount, s.HandoffCount)
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-2]) + ".."
}
