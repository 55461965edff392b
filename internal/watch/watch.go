// Package watch re-indexes a synced folder when its contents change.
// fsnotify watches are not recursive, so every directory below the root is
// watched individually and new directories are added as they appear.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/docchat-go/internal/logging"
)

// DefaultDebounce is the quiet period before a burst of events triggers a
// rebuild. Sync clients write files in several steps.
const DefaultDebounce = 2 * time.Second

// Config configures a Folder watcher.
type Config struct {
	// Root is the directory to watch, recursively.
	Root string

	// Debounce is the quiet period that closes a burst (default: DefaultDebounce).
	Debounce time.Duration

	// Relevant reports whether a file path can affect the index, typically
	// (*loader.Loader).Supports. Nil treats every file as relevant.
	Relevant func(path string) bool

	// OnChange is called once per burst with the sorted changed paths.
	// Errors are logged; the watcher keeps running.
	OnChange func(ctx context.Context, changed []string) error

	// Logger receives watcher events. If nil, logging.FromContext is used.
	Logger *slog.Logger
}

// Folder watches one directory tree.
type Folder struct {
	cfg     Config
	watcher *fsnotify.Watcher
}

// New validates cfg and registers watches on Root and every directory below
// it, so events are captured from the moment New returns.
func New(cfg Config) (*Folder, error) {
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("watch: OnChange must not be nil")
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", cfg.Root)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: creating watcher: %w", err)
	}
	f := &Folder{cfg: cfg, watcher: w}
	if err := f.addTree(cfg.Root); err != nil {
		_ = w.Close()
		return nil, err
	}
	return f, nil
}

// Run dispatches debounced change bursts until ctx is cancelled, then
// releases the watcher. A pending burst is dropped on cancellation.
func (f *Folder) Run(ctx context.Context) error {
	defer f.watcher.Close() //nolint:errcheck // shutting down

	log := f.cfg.Logger
	if log == nil {
		log = logging.FromContext(ctx)
	}
	log = log.With(slog.String("root", f.cfg.Root))
	log.Info("watch: watching folder", slog.Duration("debounce", f.cfg.Debounce))

	timer := time.NewTimer(f.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()

	pending := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			if !f.handle(ev, log) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(f.cfg.Debounce)

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch: watcher error", slog.Any("error", err))

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			slices.Sort(changed)
			clear(pending)

			log.Info("watch: change detected, rebuilding", slog.Int("paths", len(changed)))
			if err := f.cfg.OnChange(ctx, changed); err != nil {
				log.Warn("watch: rebuild failed", slog.Any("error", err))
			}
		}
	}
}

// handle classifies ev and reports whether it belongs to the pending burst.
// New directories are added to the watch set.
func (f *Folder) handle(ev fsnotify.Event, log *slog.Logger) bool {
	if hidden(ev.Name) {
		return false
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// The path is gone; a directory has no extension to filter on.
		return filepath.Ext(ev.Name) == "" || f.relevant(ev.Name)

	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return false
		}
		if info.IsDir() {
			if !ev.Has(fsnotify.Create) {
				return false
			}
			if err := f.addTree(ev.Name); err != nil {
				log.Warn("watch: adding directory", slog.String("path", ev.Name), slog.Any("error", err))
			}
			return true
		}
		return f.relevant(ev.Name)
	}
	return false
}

// relevant applies the configured file filter.
func (f *Folder) relevant(path string) bool {
	return f.cfg.Relevant == nil || f.cfg.Relevant(path)
}

// addTree watches dir and every non-hidden directory below it.
func (f *Folder) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("watch: walking %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(path) {
			return filepath.SkipDir
		}
		if err := f.watcher.Add(path); err != nil {
			return fmt.Errorf("watch: adding %s: %w", path, err)
		}
		return nil
	})
}

// hidden reports dot files and Office lock files ("~$report.docx").
func hidden(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$")
}
