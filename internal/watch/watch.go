// Package watch runs a handler for every handoff file that appears in the
// handoff directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/dualane/internal/handoff"
)

const (
	debounceDefault = 200 * time.Millisecond
	workersDefault  = 2
	maxQueueSize    = 200
)

// Handler processes one handoff file.
type Handler func(ctx context.Context, path string)

// Watcher dispatches new handoff files to a fixed worker pool. Each path
// is handled at most once per watcher.
type Watcher struct {
	dir      string
	handler  Handler
	debounce time.Duration
	workers  int
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// New creates a Watcher for dir.
func New(dir string, handler Handler, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		handler:  handler,
		debounce: debounceDefault,
		workers:  workersDefault,
		logger:   logger,
		seen:     make(map[string]bool),
	}
}

// claim marks path as handled and reports whether it was new.
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[path] {
		return false
	}
	w.seen[path] = true
	return true
}

// Run watches until ctx is cancelled. When existing is true, handoff files
// already present are queued first.
func (w *Watcher) Run(ctx context.Context, existing bool) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", w.dir, err)
	}

	queue := make(chan string, maxQueueSize)
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range queue {
				w.handle(ctx, path)
			}
		}()
	}

	enqueue := func(path string) {
		if !w.claim(path) {
			return
		}
		select {
		case queue <- path:
		case <-ctx.Done():
		}
	}

	if existing {
		paths, err := Existing(w.dir)
		if err != nil {
			w.logger.Warn("scan existing handoffs failed", "dir", w.dir, "error", err)
		}
		for _, p := range paths {
			enqueue(p)
		}
	}

	var mu sync.Mutex
	ready := make(map[string]bool)
	flush := func() {
		mu.Lock()
		batch := make([]string, 0, len(ready))
		for p := range ready {
			batch = append(batch, p)
		}
		ready = make(map[string]bool)
		mu.Unlock()
		for _, p := range batch {
			enqueue(p)
		}
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	defer func() {
		timer.Stop()
		if ctx.Err() == nil {
			flush()
		}
		close(queue)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			flush()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if _, ok := handoff.IDFromFileName(event.Name); !ok {
				continue
			}
			mu.Lock()
			ready[event.Name] = true
			mu.Unlock()

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handoff handler panicked", "path", path, "panic", r)
		}
	}()
	w.handler(ctx, path)
}

// Existing returns the handoff files already in dir.
func Existing(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := handoff.IDFromFileName(e.Name()); ok {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
