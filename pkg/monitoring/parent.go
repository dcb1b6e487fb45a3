// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

// ParentProcessAggregate sums one process reading over every process
// monitored under the same parent name. Children add their value while they
// are polled; the aggregate is polled after them and starts over next cycle.
type ParentProcessAggregate struct {
	def        ReadingDefinition
	parentName string
	sum        float32
	fresh      bool
}

func newParentProcessAggregate(id int, parentName string, def ReadingDefinition) *ParentProcessAggregate {
	d := def.Clone()
	d.ID = id
	d.Dynamic = false
	d.SetParameter(ParamProcessParentName, parentName)
	return &ParentProcessAggregate{def: d, parentName: parentName, fresh: true}
}

var _ ReadingInstance = (*ParentProcessAggregate)(nil)

func (p *ParentProcessAggregate) ID() int                       { return p.def.ID }
func (p *ParentProcessAggregate) Definition() ReadingDefinition { return p.def.Clone() }
func (p *ParentProcessAggregate) PID() int                      { return 0 }

// ParentName is the name the children were grouped under.
func (p *ParentProcessAggregate) ParentName() string { return p.parentName }

// Reset drops whatever was accumulated.
func (p *ParentProcessAggregate) Reset() { p.sum = 0 }

// Add accumulates one child value.
func (p *ParentProcessAggregate) Add(v float32) { p.sum += v }

// Poll returns the accumulated sum and resets it.
func (p *ParentProcessAggregate) Poll() float32 {
	v := p.sum
	p.sum = 0
	return v
}

func aggregateKey(parentName, readingName string) string {
	return parentName + "-" + readingName
}
