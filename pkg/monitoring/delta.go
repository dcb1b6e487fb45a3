// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import (
	"math"
	"strings"
	"time"
)

const (
	// OverflowValue is where native byte counters wrap around.
	OverflowValue int64 = 2 * math.MaxInt32

	// DefaultProcessOverflowBarrier is the wraparound point assumed for
	// per-process CPU time and page fault counters. It is an estimate, which
	// is why the engine allows overriding it.
	DefaultProcessOverflowBarrier = OverflowValue / 10000

	// processMinElapsed is the shortest interval a per-process rate is
	// computed over. Shorter intervals happen right after a process is
	// matched and report 0.
	processMinElapsed int64 = 900

	// unavailable is reported when a value cannot be produced this cycle.
	unavailable float32 = -1
)

type overflowCounter struct {
	last  int64
	count int64
}

// pollState is the cross-poll state of one reading instance: the last
// cumulative value, the last poll time and the overflow tracking of every
// native counter the instance reads.
type pollState struct {
	now           func() time.Time
	lastValue     int64
	lastPoll      time.Time
	overflows     map[string]*overflowCounter
	normalization float64
}

func newPollState(now func() time.Time, normalization float64) *pollState {
	return &pollState{
		now:           now,
		lastPoll:      now(),
		overflows:     make(map[string]*overflowCounter),
		normalization: normalization,
	}
}

// fixOverflow returns raw corrected by the number of wraparounds seen so far
// for key. A non-negative raw value lower than the previous one counts as a
// wraparound.
func (s *pollState) fixOverflow(key string, raw, barrier int64) int64 {
	counter, ok := s.overflows[key]
	if !ok {
		counter = &overflowCounter{}
		s.overflows[key] = counter
	}
	if raw < counter.last && raw >= 0 {
		counter.count++
	}
	counter.last = raw
	return raw + barrier*counter.count
}

// elapsedMillis returns the milliseconds since the previous call (or since
// construction) and moves the poll time forward. A clock going backwards
// yields 0 and keeps the previous poll time.
func (s *pollState) elapsedMillis() int64 {
	current := s.now()
	if current.Before(s.lastPoll) {
		return 0
	}
	elapsed := current.Sub(s.lastPoll).Milliseconds()
	s.lastPoll = current
	return elapsed
}

// rate returns (value - lastValue) normalized per second and remembers value
// as the new baseline. A negative value is reported as unavailable.
func (s *pollState) rate(value int64) float32 {
	if value < 0 {
		return unavailable
	}
	delta := float64(value-s.lastValue) * s.normalization
	s.lastValue = value

	elapsed := s.elapsedMillis()
	if elapsed <= 0 {
		return 0
	}
	return truncate2(delta / (float64(elapsed) / 1000))
}

// toFloatWith2Decimals applies the normalization factor to non-negative
// values and truncates to two decimal digits.
func (s *pollState) toFloatWith2Decimals(v float64) float32 {
	if v >= 0 {
		v *= s.normalization
	}
	return truncate2(v)
}

// level returns a non-negative value scaled by the normalization factor.
func (s *pollState) level(v int64) float32 {
	if v < 0 {
		return unavailable
	}
	return float32(float64(v) * s.normalization)
}

// truncate2 drops everything after the second decimal digit, rounding
// towards zero. Values within 1e-11 below a two-digit decimal snap up to it,
// so a reported value exceeds the measured one by less than 1e-11.
func truncate2(v float64) float32 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return unavailable
	}
	scaled := v * 100
	// 0.29*100 is 28.999999999999996 in binary floating point; the 1e-9
	// window on the scaled value is 1e-11 on v
	if r := math.Round(scaled); math.Abs(scaled-r) < 1e-9 {
		return float32(r / 100)
	}
	return float32(math.Trunc(scaled) / 100)
}

// fixLong maps every negative native value to the unavailable marker.
func fixLong(v int64) int64 {
	if v < 0 {
		return -1
	}
	return v
}

// fixDouble maps negative and NaN native values to the unavailable marker.
func fixDouble(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return -1
	}
	return v
}

// percent converts a 0..1 share into a percentage with two decimal digits.
func percent(v float64) float32 {
	v = fixDouble(v)
	if v < 0 {
		return unavailable
	}
	return truncate2(v * 100)
}

// memoryNormalization returns the factor converting bytes into unit.
// Rate units such as "KB/sec" use their size prefix. Unknown units are treated as MB.
func memoryNormalization(unit string) float64 {
	u := strings.ToUpper(strings.TrimSpace(unit))
	if i := strings.Index(u, "/"); i >= 0 {
		u = strings.TrimSpace(u[:i])
	}
	switch u {
	case "B", "BYTE", "BYTES":
		return 1
	case "KB", "KIB":
		return 1.0 / 1024
	case "GB", "GIB":
		return 1.0 / (1024 * 1024 * 1024)
	default:
		return 1.0 / (1024 * 1024)
	}
}
