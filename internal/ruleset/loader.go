package ruleset

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader holds the current rule set for a file or directory and can
// hot-reload it when the source changes.
type Loader struct {
	path   string
	policy Policy
	logger *slog.Logger

	mu       sync.RWMutex
	current  *Set
	onChange []func(*Set)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string, policy Policy, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{path: path, policy: policy, logger: logger}
	set, err := Load(path, policy)
	if err != nil {
		return nil, err
	}
	l.current = set
	return l, nil
}

// Path returns the watched rule source.
func (l *Loader) Path() string { return l.path }

// Rules returns the current (latest) rule set.
func (l *Loader) Rules() *Set {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the rules reload.
func (l *Loader) OnChange(fn func(*Set)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Reload forces an immediate re-read of the rule source. On error the
// previous set stays current.
func (l *Loader) Reload() (*Set, error) {
	set, err := Load(l.path, l.policy)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = set
	callbacks := make([]func(*Set), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(set)
	}
	return set, nil
}

// Watch starts a background goroutine that reloads rules on file changes.
// A single rule file is watched through its directory so that editors
// which save by renaming over the file keep triggering reloads.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	single := !info.IsDir()
	dir := l.path
	if single {
		dir = filepath.Dir(l.path)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !l.relevant(ev, single) {
					continue
				}
				set, err := l.Reload()
				if err != nil {
					l.logger.Warn("rule reload failed, keeping previous rules", "path", l.path, "error", err)
					continue
				}
				l.logger.Info("rules reloaded", "path", l.path, "rules", len(set.Rules), "file_errors", len(set.Errors))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("rules watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// relevant filters directory noise: chmod-only events are ignored, and
// only the watched file counts when single is set, any rule file otherwise.
func (l *Loader) relevant(ev fsnotify.Event, single bool) bool {
	if !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
		return false
	}
	if filepath.Clean(ev.Name) == filepath.Clean(l.path) {
		return true
	}
	return !single && IsRuleFile(ev.Name)
}
