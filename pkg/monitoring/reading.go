// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import (
	"fmt"
	"runtime"
	"time"

	"github.com/go-logr/logr"

	"github.com/Axway/ats-framework-sub003/pkg/sysinfo"
)

var isWindows = runtime.GOOS == "windows"

// ReadingInstance is a live poller for one reading, optionally bound to one process.
type ReadingInstance interface {
	// ID is stable for the lifetime of the instance.
	ID() int
	// Definition describes the instance: its own name, unit and parameters.
	Definition() ReadingDefinition
	// PID is the monitored process, 0 for system readings.
	PID() int
	// Poll returns the current value, or -1 when it is unavailable this cycle.
	Poll() float32
}

// noParent marks an instance that does not report into a parent aggregate.
const noParent = -1

// instance is the single ReadingInstance implementation. Per kind behaviour
// lives in the compute function; the cross-poll state lives in state.
type instance struct {
	def    ReadingDefinition
	pid    int
	parent int
	state  *pollState

	// identifier dedups process instances, empty for system readings.
	identifier string

	compute func(in *instance) float32

	// aggregates is the engine owned table parent points into.
	aggregates *[]*ParentProcessAggregate

	fresh bool
}

var _ ReadingInstance = (*instance)(nil)

func (in *instance) ID() int                       { return in.def.ID }
func (in *instance) Definition() ReadingDefinition { return in.def.Clone() }
func (in *instance) PID() int                      { return in.pid }

func (in *instance) Poll() float32 {
	return in.compute(in)
}

// addValueToParent adds v to the parent aggregate of this cycle, if any.
func (in *instance) addValueToParent(v float32) {
	if in.parent == noParent || in.aggregates == nil {
		return
	}
	(*in.aggregates)[in.parent].Add(v)
}

// factoryContext is what reading factories get from the engine.
type factoryContext struct {
	logger  logr.Logger
	source  sysinfo.SystemInformation
	now     func() time.Time
	numCPUs int
	nextID  func() int

	processOverflowBarrier int64
}

func (c *factoryContext) newInstance(def ReadingDefinition, normalization float64) *instance {
	def.ID = c.nextID()
	return &instance{
		def:    def,
		parent: noParent,
		state:  newPollState(c.now, normalization),
		fresh:  true,
	}
}

// unavailableOn logs a failed native query and returns the unavailable marker.
func (c *factoryContext) unavailableOn(in *instance, err error) float32 {
	c.logger.V(1).Info("Reading unavailable this cycle", "reading", in.def.Name, "pid", in.pid, "error", err)
	return unavailable
}

// staticFactory builds the instances of a system reading. A factory may
// return no instance when the reading does not apply to this platform.
type staticFactory func(ctx *factoryContext, def ReadingDefinition) ([]*instance, error)

// dynamicKind builds the instance of a process reading for one matched process.
type dynamicKind struct {
	// readingID distinguishes the process readings of one process.
	readingID string
	// suffix is appended to "[process] <alias> - " to name the instance.
	suffix string
	build  func(ctx *factoryContext, in *instance)
	// scaleByUnit applies the byte conversion of the definition unit.
	scaleByUnit bool
	// noWindows marks kinds the platform cannot provide on Windows.
	noWindows bool
}

var (
	staticRegistry  = make(map[string]staticFactory)
	dynamicRegistry = make(map[string]dynamicKind)
)

// registerStatic adds a system reading implementation. It panics if the name
// is already registered.
func registerStatic(name string, factory staticFactory) {
	key := readingKey(name)
	if _, exists := staticRegistry[key]; exists {
		panic(fmt.Sprintf("Reading %q already registered", name))
	}
	staticRegistry[key] = factory
}

// registerDynamic adds a process reading implementation. It panics if the
// name is already registered.
func registerDynamic(name string, kind dynamicKind) {
	key := readingKey(name)
	if _, exists := dynamicRegistry[key]; exists {
		panic(fmt.Sprintf("Process reading %q already registered", name))
	}
	dynamicRegistry[key] = kind
}

// single wraps one instance into a factory result.
func single(in *instance) ([]*instance, error) {
	return []*instance{in}, nil
}
