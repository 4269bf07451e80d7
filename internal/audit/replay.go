package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplayFilter holds filtering criteria for replaying a log.
type ReplayFilter struct {
	WorkflowID string
	Lane       string
	Event      Event
	From       time.Time // zero value = no lower bound
	To         time.Time // zero value = no upper bound
}

// ReplaySummary holds counts over the replayed entries.
type ReplaySummary struct {
	Total          int    `json:"total"`
	SuccessCount   int    `json:"success_count"`
	FailureCount   int    `json:"failure_count"`
	BypassCount    int    `json:"bypass_count"`
	HandoffCount   int    `json:"handoff_count"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Filter  ReplayFilter  `json:"-"`
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads a JSONL audit log and returns entries matching the filter.
// Malformed lines abort the replay rather than being skipped.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{Filter: filter, Entries: []Entry{}}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if !filter.matches(e) {
			continue
		}
		result.Entries = append(result.Entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	result.Summary = Summarize(result.Entries)
	return result, nil
}

func (f ReplayFilter) matches(e Entry) bool {
	if f.WorkflowID != "" && e.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Lane != "" && e.Lane != f.Lane {
		return false
	}
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// Summarize counts outcomes over entries.
func Summarize(entries []Entry) ReplaySummary {
	var s ReplaySummary
	for _, e := range entries {
		s.Total++
		if e.Success {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
		switch e.Event {
		case EventBypass, EventBypassUsed:
			s.BypassCount++
		case EventHandoff:
			s.HandoffCount++
		}
		if s.FirstTimestamp == "" {
			s.FirstTimestamp = e.Timestamp
		}
		s.LastTimestamp = e.Timestamp
	}
	return s
}
