// Package watch reloads mapping definitions and extension scripts when they
// change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrRunning is returned when Run is called on a watcher that is already
// running.
var ErrRunning = errors.New("watch: already running")

// DefaultInterval is the quiet period before a batch of changes is
// delivered.
const DefaultInterval = 100 * time.Millisecond

// DefaultExtensions are the file types watched when none are configured.
var DefaultExtensions = []string{".smtt", ".risor"}

// Config selects what a Watcher observes.
type Config struct {
	// Paths are files or directories; directories are watched recursively.
	Paths      []string
	Interval   time.Duration
	Extensions []string
}

// ReloadFunc receives the changed files of one debounced batch, sorted.
type ReloadFunc func(ctx context.Context, changed []string) error

// Watcher batches file changes and hands them to a ReloadFunc.
type Watcher struct {
	fs       *fsnotify.Watcher
	cfg      Config
	log      *slog.Logger
	debounce *Debouncer

	mu      sync.Mutex
	running bool
	pending map[string]struct{}
}

// New creates a watcher. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) (*Watcher, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create: %w", err)
	}
	w := &Watcher{
		fs:       fw,
		cfg:      cfg,
		log:      logger,
		debounce: NewDebouncer(cfg.Interval),
		pending:  make(map[string]struct{}),
	}
	for _, p := range cfg.Paths {
		if err := w.add(p); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run delivers change batches to reload until ctx is done. Reload errors
// are logged; watching continues.
func (w *Watcher) Run(ctx context.Context, reload ReloadFunc) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrRunning
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.debounce.Stop()
		w.fs.Close()
	}()

	w.log.Info("watching mappings", "paths", w.cfg.Paths, "interval", w.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("mapping changed", "path", ev.Name, "op", ev.Op.String())
			w.mu.Lock()
			w.pending[ev.Name] = struct{}{}
			w.mu.Unlock()
			w.debounce.Trigger(func() { w.flush(ctx, reload) })
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watch error", "error", err)
		}
	}
}

func (w *Watcher) flush(ctx context.Context, reload ReloadFunc) {
	w.mu.Lock()
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	clear(w.pending)
	w.mu.Unlock()
	if len(changed) == 0 {
		return
	}
	slices.Sort(changed)
	if err := reload(ctx, changed); err != nil {
		w.log.Error("reload failed", "files", changed, "error", err)
	}
}

func (w *Watcher) add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		// Editors replace files on save; watch the directory and filter.
		return w.fs.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fs.Add(p); err != nil {
			return fmt.Errorf("watch: %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	return slices.Contains(w.cfg.Extensions, ext)
}

// Debouncer runs the most recent callback once no trigger has arrived for
// its interval.
type Debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

// NewDebouncer returns a debouncer with the given quiet period.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules callback, replacing any pending one.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		cb := d.callback
		d.callback = nil
		stopped := d.stopped
		d.mu.Unlock()
		if cb != nil && !stopped {
			cb()
		}
	})
}

// Stop cancels any pending callback. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
