// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
)

// Repository holds the reading definitions of one monitoring session.
//
// Definitions are stored once and handed out as clones. The repository also
// owns the id counter used for reading instances; the counter restarts
// whenever the repository is cleaned or reloaded.
type Repository struct {
	logger logr.Logger

	mu          sync.RWMutex
	definitions map[string]ReadingDefinition
	// monitor class -> configuration source that declared it
	monitors map[string]string
	lastID   int
}

// NewRepository creates an empty repository.
func NewRepository(logger logr.Logger) *Repository {
	r := &Repository{logger: logger.WithName("repository")}
	r.cleanLocked()
	return r
}

// AddDefinition registers def under name. An existing definition with the same
// name is replaced.
func (r *Repository) AddDefinition(name string, def ReadingDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(name, def)
}

func (r *Repository) addLocked(name string, def ReadingDefinition) {
	key := readingKey(name)
	if old, exists := r.definitions[key]; exists {
		r.logger.Info("Replacing reading definition",
			"reading", name, "old_monitor", old.MonitorName, "new_monitor", def.MonitorName)
	}
	r.definitions[key] = def.Clone()
}

// Definition returns a copy of the named definition. Names are matched case-insensitively.
func (r *Repository) Definition(name string) (ReadingDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[readingKey(name)]
	if !ok {
		return ReadingDefinition{}, fmt.Errorf("%w: %q", ErrUnsupportedMetric, name)
	}
	return def.Clone(), nil
}

// Definitions returns copies of all definitions sorted by name.
func (r *Repository) Definitions() []ReadingDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ReadingDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def.Clone())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// AssignID returns the next reading id. Ids start at 1.
func (r *Repository) AssignID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	return r.lastID
}

// IsLoaded reports whether at least one definition is present.
func (r *Repository) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.definitions) > 0
}

// cleanLocked removes every definition and restarts the id counter.
func (r *Repository) cleanLocked() {
	r.definitions = make(map[string]ReadingDefinition)
	r.monitors = make(map[string]string)
	r.lastID = 0
}

// Reload replaces the whole repository content with the definitions declared
// by sources. On any error the repository is left empty and the error is
// returned; it is never partially populated.
func (r *Repository) Reload(sources ...ConfigSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cleanLocked()
	for _, source := range sources {
		if err := r.loadLocked(source); err != nil {
			r.cleanLocked()
			return err
		}
	}

	r.logger.Info("Loaded reading definitions", "sources", len(sources), "readings", len(r.definitions))
	return nil
}

func (r *Repository) loadLocked(source ConfigSource) error {
	monitors, err := source.parse()
	if err != nil {
		return err
	}

	for _, monitor := range monitors {
		if first, exists := r.monitors[monitor.Class]; exists {
			return &DuplicateMonitorError{
				MonitorClass: monitor.Class,
				First:        first,
				Second:       source.Origin,
			}
		}
		for _, def := range monitor.Readings {
			r.addLocked(def.Name, def)
			r.logger.V(1).Info(def.String())
		}
		r.monitors[monitor.Class] = source.Origin
	}
	return nil
}
