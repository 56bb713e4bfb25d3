package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"truststack/internal/logging"
)

// rubricFile is the on-disk shape of configs/rubric.yaml.
type rubricFile struct {
	Version           int      `yaml:"version"`
	EnabledAttributes []string `yaml:"enabled_attributes"`
}

// Rubric holds the enabled-attribute set. Reloads swap the set
// atomically; a reload that fails validation keeps the old set.
type Rubric struct {
	path string

	mu      sync.RWMutex
	enabled []string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// LoadRubric reads and validates the rubric file.
func LoadRubric(path string) (*Rubric, error) {
	r := &Rubric{path: path}
	enabled, err := readRubric(path)
	if err != nil {
		return nil, err
	}
	r.enabled = enabled
	return r, nil
}

func readRubric(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubric: %w", err)
	}
	var file rubricFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse rubric: %w", err)
	}
	if len(file.EnabledAttributes) == 0 {
		return nil, fmt.Errorf("rubric %s enables no attributes", path)
	}

	var unknown []string
	seen := make(map[string]bool)
	var enabled []string
	for _, id := range file.EnabledAttributes {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := registry[id]; !ok {
			unknown = append(unknown, id)
			continue
		}
		enabled = append(enabled, id)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("rubric %s names unknown attributes: %s", path, strings.Join(unknown, ", "))
	}
	return enabled, nil
}

// Enabled returns the enabled attribute ids in rubric order.
func (r *Rubric) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.enabled))
	copy(out, r.enabled)
	return out
}

// IsEnabled reports whether one attribute is enabled.
func (r *Rubric) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.enabled {
		if e == id {
			return true
		}
	}
	return false
}

// AnyEnabled reports whether any of the given attributes is enabled.
func (r *Rubric) AnyEnabled(ids ...string) bool {
	for _, id := range ids {
		if r.IsEnabled(id) {
			return true
		}
	}
	return false
}

// Reload re-reads the rubric file. On validation failure the current
// set stays in effect and the error is returned.
func (r *Rubric) Reload() error {
	enabled, err := readRubric(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()
	logging.Detect("rubric reloaded: %d attributes enabled", len(enabled))
	return nil
}

// Watch hot-reloads the rubric when the file changes. Editors often
// replace the file, so the parent directory is watched.
func (r *Rubric) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rubric watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}

	r.mu.Lock()
	r.watcher = watcher
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		target := filepath.Clean(r.path)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.Reload(); err != nil {
					logging.DetectWarn("rubric reload rejected, keeping previous set: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.DetectWarn("rubric watcher: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running.
func (r *Rubric) Close() {
	r.mu.Lock()
	watcher := r.watcher
	done := r.done
	r.watcher = nil
	r.mu.Unlock()

	if watcher != nil {
		watcher.Close()
		<-done
	}
}
