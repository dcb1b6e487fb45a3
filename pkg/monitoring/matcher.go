// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// ProcessSource is the part of the data source the matcher needs.
type ProcessSource interface {
	ProcessArgs(pid int) ([]string, error)
	ProcessUser(pid int) (string, error)
}

// PatternSpec describes the processes to monitor under one pattern.
type PatternSpec struct {
	// Pattern must match the whole start command of a process.
	Pattern string
	// Alias is the display name of matched processes.
	Alias string
	// Username restricts matching to processes of this user. Empty matches any user.
	Username string
}

// key identifies the spec. Specs sharing a pattern but differing in alias or
// username are tracked separately.
func (s PatternSpec) key() string {
	return s.Pattern + "\x00" + s.Username + "\x00" + s.Alias
}

// MatchedProcess is an operating system process matched to a pattern.
type MatchedProcess struct {
	PID          int
	Pattern      string
	AliasBase    string
	AliasIndex   int
	StartCommand string
}

// Alias returns the display name: the alias for the first process matched
// under a pattern, "alias [k+1]" for the k-th one after it.
func (p MatchedProcess) Alias() string {
	if p.AliasIndex == 0 {
		return p.AliasBase
	}
	return p.AliasBase + " [" + strconv.Itoa(p.AliasIndex+1) + "]"
}

func (p MatchedProcess) String() string {
	return fmt.Sprintf("pid = %d, pattern = '%s', alias = '%s', start command = '%s'",
		p.PID, p.Pattern, p.Alias(), p.StartCommand)
}

// ProcessMatcher tracks which live processes match the configured patterns.
//
// Alias indexes are handed out per pattern spec and never reused, even after
// the process holding an index exits. Matched pids are never re-evaluated while
// they stay alive. The matcher is not safe for concurrent use.
type ProcessMatcher struct {
	logger logr.Logger
	source ProcessSource

	compiled map[string]*regexp.Regexp
	// spec key -> matched processes in discovery order
	buckets map[string][]MatchedProcess
	matched map[int]bool
	// spec key -> last alias index handed out
	indexes map[string]int
}

// NewProcessMatcher creates a matcher reading process details from source.
func NewProcessMatcher(logger logr.Logger, source ProcessSource) *ProcessMatcher {
	return &ProcessMatcher{
		logger:   logger.WithName("process-matcher"),
		source:   source,
		compiled: make(map[string]*regexp.Regexp),
		buckets:  make(map[string][]MatchedProcess),
		matched:  make(map[int]bool),
		indexes:  make(map[string]int),
	}
}

// Compile validates the patterns of specs. Refresh compiles on demand, so
// calling Compile is only needed to surface bad patterns early.
func (m *ProcessMatcher) Compile(specs []PatternSpec) error {
	for _, spec := range specs {
		if _, err := m.regexp(spec.Pattern); err != nil {
			return err
		}
	}
	return nil
}

func (m *ProcessMatcher) regexp(pattern string) (*regexp.Regexp, error) {
	if re, ok := m.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("invalid process recognition pattern %q: %w", pattern, err)
	}
	m.compiled[pattern] = re
	return re, nil
}

// Refresh matches the live processes that are not tracked yet against specs
// and retires tracked processes that are no longer alive. It returns the
// processes matched in this pass, in discovery order, and the retired pids.
//
// Processes whose start command or owner cannot be read are skipped and
// evaluated again on the next refresh.
func (m *ProcessMatcher) Refresh(live []int, specs []PatternSpec) ([]MatchedProcess, []int, error) {
	unique := make([]PatternSpec, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if seen[spec.key()] {
			continue
		}
		seen[spec.key()] = true
		unique = append(unique, spec)
	}
	if err := m.Compile(unique); err != nil {
		return nil, nil, err
	}

	finished := make(map[int]bool, len(m.matched))
	for pid := range m.matched {
		finished[pid] = true
	}

	var newly []MatchedProcess
	for _, pid := range live {
		if m.matched[pid] {
			delete(finished, pid)
			continue
		}

		startCommand, ok := m.startCommand(pid)
		if !ok {
			continue
		}

		var username string
		var usernameResolved, usernameFailed bool
		for _, spec := range unique {
			if spec.Username != "" {
				if !usernameResolved && !usernameFailed {
					owner, err := m.source.ProcessUser(pid)
					if err != nil {
						m.logger.V(2).Info("Failed to get process owner", "pid", pid, "error", err)
						usernameFailed = true
					} else {
						username = owner
						usernameResolved = true
					}
				}
				if !usernameResolved || !strings.EqualFold(spec.Username, username) {
					continue
				}
			}

			if !m.compiled[spec.Pattern].MatchString(startCommand) {
				continue
			}

			process := MatchedProcess{
				PID:          pid,
				Pattern:      spec.Pattern,
				AliasBase:    spec.Alias,
				AliasIndex:   m.nextIndex(spec.key()),
				StartCommand: startCommand,
			}
			m.buckets[spec.key()] = append(m.buckets[spec.key()], process)
			m.matched[pid] = true
			newly = append(newly, process)
			m.logger.Info("We will monitor process", "process", process.String())
		}
	}

	retired := make([]int, 0, len(finished))
	for pid := range finished {
		retired = append(retired, pid)
	}
	sort.Ints(retired)
	for _, pid := range retired {
		m.retire(pid)
	}

	return newly, retired, nil
}

// startCommand returns the argument vector joined with spaces. Processes
// without a readable command line report false.
func (m *ProcessMatcher) startCommand(pid int) (string, bool) {
	args, err := m.source.ProcessArgs(pid)
	if err != nil {
		m.logger.V(2).Info("Failed to get process arguments", "pid", pid, "error", err)
		return "", false
	}
	command := strings.TrimSpace(strings.Join(args, " "))
	return command, command != ""
}

func (m *ProcessMatcher) nextIndex(key string) int {
	next, ok := m.indexes[key]
	if !ok {
		next = -1
	}
	next++
	m.indexes[key] = next
	return next
}

func (m *ProcessMatcher) retire(pid int) {
	delete(m.matched, pid)
	for key, processes := range m.buckets {
		kept := processes[:0]
		for _, p := range processes {
			if p.PID == pid {
				m.logger.Info("This process is no more alive", "process", p.String())
				continue
			}
			kept = append(kept, p)
		}
		m.buckets[key] = kept
	}
}

// Processes returns the live processes matched under spec in discovery order.
func (m *ProcessMatcher) Processes(spec PatternSpec) []MatchedProcess {
	processes := m.buckets[spec.key()]
	result := make([]MatchedProcess, len(processes))
	copy(result, processes)
	return result
}
