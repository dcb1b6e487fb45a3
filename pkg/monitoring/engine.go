// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/Axway/ats-framework-sub003/pkg/sysinfo"
)

// ReadingValue is one polled value keyed by the instance id.
type ReadingValue struct {
	ID    int
	Value string
}

// InstanceDescriptor describes a reading instance to consumers that only see ids in polls.
type InstanceDescriptor struct {
	ID                int
	MonitorName       string
	Name              string
	Unit              string
	ParentName        string
	IsParentAggregate bool
	Parameters        map[string]string
}

// Option configures an Engine.
type Option func(e *Engine)

// WithLogger sets the engine logger.
func WithLogger(logger logr.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRepository sets the repository handing out instance ids.
func WithRepository(repo *Repository) Option {
	return func(e *Engine) {
		e.repo = repo
	}
}

// WithProcessOverflowBarrier overrides the wraparound point assumed for
// per-process CPU time and page fault counters.
func WithProcessOverflowBarrier(barrier int64) Option {
	return func(e *Engine) {
		if barrier > 0 {
			e.barrier = barrier
		}
	}
}

// Engine is one monitoring session: it owns the reading instances built from
// a set of definitions and polls them against a data source.
//
// Init, PollFirst, PollNext, TakeNewInstances and Deinit are serialized, so a
// poll cycle always observes a consistent set of instances.
type Engine struct {
	logger  logr.Logger
	source  sysinfo.SystemInformation
	repo    *Repository
	now     func() time.Time
	barrier int64

	mu          sync.Mutex
	initialized bool
	closed      bool

	ctx         *factoryContext
	matcher     *ProcessMatcher
	dynamicDefs []ReadingDefinition
	specs       []PatternSpec

	static  []*instance
	dynamic []*instance
	// reading name -> pid identifiers of the dynamic instances
	identifiers map[string]bool

	aggregates     []*ParentProcessAggregate
	aggregateIndex map[string]int
}

// NewEngine creates an engine reading from source.
func NewEngine(source sysinfo.SystemInformation, opts ...Option) *Engine {
	e := &Engine{
		logger:  logr.Discard(),
		source:  source,
		now:     time.Now,
		barrier: DefaultProcessOverflowBarrier,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithName("monitoring-engine")
	if e.repo == nil {
		e.repo = NewRepository(e.logger)
	}
	return e
}

// Init builds the reading instances of defs. System readings are created
// right away; process readings are created on the polls that find matching
// processes.
func (e *Engine) Init(defs []ReadingDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrNotInitialized
	}
	if e.initialized {
		return ErrAlreadyInitialized
	}

	numCPUs, err := e.source.NumCPUs()
	if err != nil {
		return fmt.Errorf("failed to get number of CPUs: %w", err)
	}
	if numCPUs < 1 {
		numCPUs = 1
	}
	if err := e.source.Refresh(); err != nil {
		return fmt.Errorf("failed to refresh system information: %w", err)
	}

	e.ctx = &factoryContext{
		logger:                 e.logger,
		source:                 e.source,
		now:                    e.now,
		numCPUs:                numCPUs,
		nextID:                 e.repo.AssignID,
		processOverflowBarrier: e.barrier,
	}
	e.matcher = NewProcessMatcher(e.logger, e.source)
	e.identifiers = make(map[string]bool)
	e.aggregateIndex = make(map[string]int)
	e.aggregates = nil
	e.static = nil
	e.dynamic = nil
	e.dynamicDefs = nil
	e.specs = nil

	var staticDefs []ReadingDefinition
	for _, def := range defs {
		if def.Dynamic {
			e.dynamicDefs = append(e.dynamicDefs, def.Clone())
		} else {
			staticDefs = append(staticDefs, def.Clone())
		}
	}

	for _, def := range e.dynamicDefs {
		e.specs = append(e.specs, patternSpec(def))

		parentName := def.Parameter(ParamProcessParentName)
		if parentName == "" {
			continue
		}
		key := aggregateKey(parentName, def.Name)
		if _, exists := e.aggregateIndex[key]; exists {
			continue
		}
		e.aggregateIndex[key] = len(e.aggregates)
		e.aggregates = append(e.aggregates, newParentProcessAggregate(e.repo.AssignID(), parentName, def))
	}
	if err := e.matcher.Compile(e.specs); err != nil {
		return err
	}

	built := make(map[string]bool)
	for _, def := range staticDefs {
		key := readingKey(def.Name)
		if built[key] {
			continue
		}
		factory, ok := staticRegistry[key]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnsupportedReading, def.Name)
		}
		instances, err := factory(e.ctx, def)
		if err != nil {
			return fmt.Errorf("failed to create reading %q: %w", def.Name, err)
		}
		built[key] = true
		e.static = append(e.static, instances...)
	}

	e.initialized = true
	e.logger.Info("Monitoring session initialized",
		"static", len(e.static), "process_readings", len(e.dynamicDefs), "parents", len(e.aggregates))
	return nil
}

// PollFirst runs the first poll cycle of the session. Rates have no previous
// value to compare against and report 0.
func (e *Engine) PollFirst() ([]ReadingValue, error) {
	return e.poll()
}

// PollNext runs one poll cycle.
func (e *Engine) PollNext() ([]ReadingValue, error) {
	return e.poll()
}

func (e *Engine) poll() ([]ReadingValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, ErrNotInitialized
	}

	for _, agg := range e.aggregates {
		agg.Reset()
	}
	if len(e.dynamicDefs) > 0 {
		e.reconcile()
	}
	if err := e.source.Refresh(); err != nil {
		return nil, fmt.Errorf("failed to refresh system information: %w", err)
	}

	values := make([]ReadingValue, 0, len(e.static)+len(e.dynamic)+len(e.aggregates))
	for _, in := range e.static {
		values = append(values, readingValue(in))
	}
	for _, in := range e.dynamic {
		values = append(values, readingValue(in))
	}
	for _, agg := range e.aggregates {
		values = append(values, readingValue(agg))
	}

	e.logger.V(1).Info("Poll cycle completed", "values", len(values))
	return values, nil
}

func readingValue(in ReadingInstance) ReadingValue {
	return ReadingValue{
		ID:    in.ID(),
		Value: strconv.FormatFloat(float64(in.Poll()), 'f', -1, 32),
	}
}

// reconcile drops the instances of processes that are gone and creates
// instances for newly matched processes.
func (e *Engine) reconcile() {
	live, err := e.source.ProcessList()
	if err != nil {
		e.logger.Error(err, "Failed to list processes, process readings are not updated this cycle")
		return
	}
	_, retired, err := e.matcher.Refresh(live, e.specs)
	if err != nil {
		e.logger.Error(err, "Failed to match processes")
		return
	}

	if len(retired) > 0 {
		gone := make(map[int]bool, len(retired))
		for _, pid := range retired {
			gone[pid] = true
		}
		kept := e.dynamic[:0]
		for _, in := range e.dynamic {
			if gone[in.pid] {
				delete(e.identifiers, in.identifier)
				continue
			}
			kept = append(kept, in)
		}
		for i := len(kept); i < len(e.dynamic); i++ {
			e.dynamic[i] = nil
		}
		e.dynamic = kept
	}

	for _, def := range e.dynamicDefs {
		for _, process := range e.matcher.Processes(patternSpec(def)) {
			identifier := def.Name + "->" + strconv.Itoa(process.PID)
			if e.identifiers[identifier] {
				continue
			}
			in, ok := e.newProcessInstance(def, process)
			if !ok {
				continue
			}
			in.identifier = identifier
			e.identifiers[identifier] = true
			e.dynamic = append(e.dynamic, in)
		}
	}
}

func patternSpec(def ReadingDefinition) PatternSpec {
	return PatternSpec{
		Pattern:  def.Parameter(ParamProcessRecognitionPattern),
		Alias:    def.Parameter(ParamProcessAlias),
		Username: def.Parameter(ParamProcessUsername),
	}
}

func (e *Engine) newProcessInstance(def ReadingDefinition, process MatchedProcess) (*instance, bool) {
	kind, ok := dynamicRegistry[readingKey(def.Name)]
	if !ok {
		e.logger.V(1).Info("Unknown process reading, skipping it", "reading", def.Name)
		return nil, false
	}
	if kind.noWindows && isWindows {
		return nil, false
	}

	d := def.Clone()
	d.Name = "[process] " + process.Alias() + " - " + kind.suffix
	d.SetParameter(ParamProcessAlias, process.Alias())
	d.SetParameter(ParamProcessInternalName, process.AliasBase)
	d.SetParameter(ParamProcessStartCommand, process.StartCommand)
	d.SetParameter(ParamProcessReadingID, kind.readingID)

	norm := 1.0
	if kind.scaleByUnit {
		norm = memoryNormalization(d.Unit)
	}
	in := e.ctx.newInstance(d, norm)
	in.pid = process.PID
	in.aggregates = &e.aggregates
	if parentName := def.Parameter(ParamProcessParentName); parentName != "" {
		if idx, ok := e.aggregateIndex[aggregateKey(parentName, def.Name)]; ok {
			in.parent = idx
		}
	}
	kind.build(e.ctx, in)
	return in, true
}

// TakeNewInstances returns the instances created since the previous call.
// Consumers use it to learn what the ids of the following polls stand for.
func (e *Engine) TakeNewInstances() []InstanceDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()

	var descriptors []InstanceDescriptor
	take := func(instances []*instance) {
		for _, in := range instances {
			if !in.fresh {
				continue
			}
			in.fresh = false
			descriptors = append(descriptors, describe(in.def, false))
		}
	}
	take(e.static)
	take(e.dynamic)
	for _, agg := range e.aggregates {
		if !agg.fresh {
			continue
		}
		agg.fresh = false
		descriptors = append(descriptors, describe(agg.def, true))
	}
	return descriptors
}

func describe(def ReadingDefinition, aggregate bool) InstanceDescriptor {
	d := def.Clone()
	return InstanceDescriptor{
		ID:                d.ID,
		MonitorName:       d.MonitorName,
		Name:              d.Name,
		Unit:              d.Unit,
		ParentName:        d.Parameter(ParamProcessParentName),
		IsParentAggregate: aggregate,
		Parameters:        d.Parameters,
	}
}

// Instances returns the live reading instances in poll order.
func (e *Engine) Instances() []ReadingInstance {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]ReadingInstance, 0, len(e.static)+len(e.dynamic)+len(e.aggregates))
	for _, in := range e.static {
		result = append(result, in)
	}
	for _, in := range e.dynamic {
		result = append(result, in)
	}
	for _, agg := range e.aggregates {
		result = append(result, agg)
	}
	return result
}

// Deinit ends the session and closes the data source. The engine cannot be
// used afterwards.
func (e *Engine) Deinit() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrNotInitialized
	}
	e.closed = true
	e.initialized = false
	e.static = nil
	e.dynamic = nil
	e.aggregates = nil

	if err := e.source.Close(); err != nil {
		return fmt.Errorf("failed to close system information: %w", err)
	}
	return nil
}
