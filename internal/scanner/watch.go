package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is a batch of files that changed within one debounce window.
type Change struct {
	// Paths are absolute and sorted. A path may no longer exist.
	Paths []string
	Time  time.Time
}

// WatchOptions configures a Watcher.
type WatchOptions struct {
	Options
	// Debounce collects events until no new one arrives for this long.
	Debounce time.Duration
}

// DefaultWatchOptions watches program descriptions with a short debounce.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{Options: DefaultOptions(), Debounce: 200 * time.Millisecond}
}

// Watcher reports changes to engine files below a root directory.
// Directories created after the watcher starts are watched too.
type Watcher struct {
	root    string
	opts    WatchOptions
	scanner *Scanner
	fsw     *fsnotify.Watcher
}

// NewWatcher watches every directory under root except hidden and excluded
// ones. Ignore files are not consulted.
func NewWatcher(root string, opts WatchOptions) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{root: absRoot, opts: opts, scanner: New(opts.Options), fsw: fsw}
	if err := w.addTree(absRoot); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) skipDir(name string) bool {
	if w.opts.SkipHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return w.scanner.excluded(name)
}

// Run delivers changes to fn until ctx is done. fn runs on the calling
// goroutine; events arriving meanwhile are batched for the next call.
func (w *Watcher) Run(ctx context.Context, fn func(Change)) error {
	defer w.fsw.Close()

	pending := make(map[string]bool)
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				pending[event.Name] = true
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch error: %w", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			fn(Change{Paths: paths, Time: time.Now()})
		}
	}
}

// handle watches new directories and reports whether event concerns a
// wanted file.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == event.Op {
		return false
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.skipDir(info.Name()) {
				// Best effort: a directory removed right away is not an error.
				_ = w.addTree(event.Name)
			}
			return false
		}
	}
	name := filepath.Base(event.Name)
	if w.opts.SkipHidden && strings.HasPrefix(name, ".") {
		return false
	}
	kind := KindOf(event.Name)
	return kind != "" && w.scanner.wanted(kind)
}
