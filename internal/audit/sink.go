package audit

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Sink receives audit entries as they are produced.
type Sink interface {
	Append(entry Entry) error
}

// Memory is an in-process Sink, used by tests and as the per-workflow
// collector that feeds the snapshot file.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Append implements Sink.
func (m *Memory) Append(entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Multi fans an entry out to several sinks. Every sink is attempted.
type Multi []Sink

// Append implements Sink.
func (m Multi) Append(entry Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Switch forwards entries to Sink only while on. It starts on.
type Switch struct {
	Sink Sink
	off  atomic.Bool
}

// NewSwitch wraps s.
func NewSwitch(s Sink) *Switch {
	return &Switch{Sink: s}
}

// Set turns forwarding on or off.
func (s *Switch) Set(on bool) { s.off.Store(!on) }

// On reports whether entries are forwarded.
func (s *Switch) On() bool { return !s.off.Load() }

// Append implements Sink.
func (s *Switch) Append(entry Entry) error {
	if s.off.Load() || s.Sink == nil {
		return nil
	}
	return s.Sink.Append(entry)
}
