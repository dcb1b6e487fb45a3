// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/Axway/ats-framework-sub003/pkg/monitoring"
)

const defaultDebounce = 250 * time.Millisecond

var ErrNoDefinitions = errors.New("no definition files found")

// FSLoaderOpt configures an FSLoader.
type FSLoaderOpt func(fl *FSLoader)

// WithDebounce sets how long the loader waits for a burst of file events to
// settle before reloading.
func WithDebounce(d time.Duration) FSLoaderOpt {
	return func(fl *FSLoader) {
		if d >= 0 {
			fl.debounce = d
		}
	}
}

// FSLoader loads reading definitions from the *.xml, *.yaml and *.yml files
// under a directory into a repository, and reloads the repository whenever
// one of them changes.
//
// A reload first validates the new set of files on its own. Invalid files
// never reach the repository, which keeps the definitions of the last
// successful load.
type FSLoader struct {
	mu sync.RWMutex

	basePath string
	repo     *monitoring.Repository
	watcher  *fsnotify.Watcher
	logger   logr.Logger
	debounce time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	subs     subscriptions

	files     []string
	closeOnce sync.Once
	closeErr  error
}

// NewFSLoader loads basePath into repo and starts watching it. It fails when
// the initial load fails.
func NewFSLoader(basePath string, repo *monitoring.Repository, logger logr.Logger, opts ...FSLoaderOpt) (*FSLoader, error) {
	fsLogger := logger.WithName("config.loader.fs")

	fl := &FSLoader{
		basePath: basePath,
		repo:     repo,
		logger:   fsLogger,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fl)
	}

	if update := fl.reload(); update.Status != StatusOK {
		return nil, fmt.Errorf("failed to load definitions from %s: %w", basePath, update.Err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := addWatches(watcher, basePath, fsLogger); err != nil {
		if cerr := watcher.Close(); cerr != nil {
			fsLogger.Error(cerr, "failed to close fs watcher")
		}
		return nil, fmt.Errorf("failed to add watches: %w", err)
	}
	fl.watcher = watcher

	fl.wg.Add(1)
	go fl.processEvents()

	return fl, nil
}

// Files returns the definition files of the last successful load.
func (fl *FSLoader) Files() []string {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return append([]string(nil), fl.files...)
}

func (fl *FSLoader) Watch(filters Filters) <-chan Update {
	// ch will be nil if closed
	return fl.subs.add(filters)
}

func (fl *FSLoader) Close() error {
	fl.closeOnce.Do(func() {
		close(fl.done)
		if fl.watcher != nil {
			fl.closeErr = fl.watcher.Close()
		}
		fl.wg.Wait()
		fl.subs.close()
	})
	return fl.closeErr
}

func (fl *FSLoader) processEvents() {
	defer fl.wg.Done()

	// pending fires once a burst of events has settled
	var pending <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(fl.debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(fl.debounce)
		}
		pending = timer.C
	}

	for {
		select {
		case <-fl.done:
			return
		case event, ok := <-fl.watcher.Events:
			if !ok {
				return
			}
			if fl.watchNewDir(event) {
				// the directory may have been moved in with files already in it
				schedule()
				continue
			}
			if !fl.relevant(event) {
				continue
			}
			fl.logger.V(1).Info("received file event", "file", event.Name, "op", event.Op)
			schedule()
		case <-pending:
			pending = nil
			update := fl.reload()
			if dropped := fl.subs.send(update); dropped > 0 {
				fl.logger.Info("subscribers missed a definitions update", "dropped", dropped)
			}
		case err, ok := <-fl.watcher.Errors:
			if !ok {
				return
			}
			fl.logger.Error(err, "filesystem watcher error")
		}
	}
}

// watchNewDir adds watches for a directory created under basePath and
// reports whether event was such a creation.
func (fl *FSLoader) watchNewDir(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) {
		return false
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() {
		return false
	}
	if err := addWatches(fl.watcher, event.Name, fl.logger); err != nil {
		fl.logger.Error(err, "failed to watch new directory", "path", event.Name)
	}
	return true
}

func (fl *FSLoader) relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return isConfigFile(event.Name)
}

// reload reads every definition file and swaps them into the repository
// when they are valid together.
func (fl *FSLoader) reload() Update {
	sources, err := LoadSources(fl.basePath)
	files := make([]string, len(sources))
	for i, s := range sources {
		files[i] = s.Origin
	}
	if err == nil && len(sources) == 0 {
		err = ErrNoDefinitions
	}
	if err == nil {
		// validate on a scratch repository first; Reload empties the
		// repository it fails on
		err = monitoring.NewRepository(logr.Discard()).Reload(sources...)
	}
	if err != nil {
		fl.logger.Error(err, "rejected definition files, keeping the previous definitions", "path", fl.basePath)
		return Update{Files: files, Status: StatusInvalid, Err: err}
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if err := fl.repo.Reload(sources...); err != nil {
		return Update{Files: files, Status: StatusInvalid, Err: err}
	}
	fl.files = files
	readings := len(fl.repo.Definitions())
	fl.logger.Info("loaded definition files", "files", len(files), "readings", readings)
	return Update{Files: files, Readings: readings, Status: StatusOK}
}

// LoadSources reads the definition files under dir, sorted by path. Other
// files are ignored.
func LoadSources(dir string) ([]monitoring.ConfigSource, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(paths)

	sources := make([]monitoring.ConfigSource, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read definition file: %w", err)
		}
		sources = append(sources, monitoring.ConfigSource{
			Origin: path,
			Format: monitoring.FormatFromPath(path),
			Data:   data,
		})
	}
	return sources, nil
}

func isConfigFile(filename string) bool {
	if strings.HasPrefix(filepath.Base(filename), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".xml" || ext == ".yaml" || ext == ".yml"
}

func addWatches(watcher *fsnotify.Watcher, path string, logger logr.Logger) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.V(1).Info("skipping path with error", "path", walkPath, "error", err)
			return nil
		}

		if d.IsDir() {
			if err := watcher.Add(walkPath); err != nil {
				return err
			}
			logger.V(1).Info("watching directory", "path", walkPath)
		}

		return nil
	})
}

var _ Loader = (*FSLoader)(nil)
