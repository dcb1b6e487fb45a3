// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sysinfo

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
)

// cpuTimes are the aggregate CPU times in seconds.
type cpuTimes struct {
	user, nice, system, idle, iowait, irq, softirq, steal float64
}

func fromTimesStat(t cpu.TimesStat) *cpuTimes {
	return &cpuTimes{
		user:    t.User,
		nice:    t.Nice,
		system:  t.System,
		idle:    t.Idle,
		iowait:  t.Iowait,
		irq:     t.Irq,
		softirq: t.Softirq,
		steal:   t.Steal,
	}
}

// Guest time is already accounted in user time.
func (t cpuTimes) total() float64 {
	return t.user + t.nice + t.system + t.idle + t.iowait + t.irq + t.softirq + t.steal
}

func (h *Host) sampleCPU() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sampleCPULocked()
}

// sampleCPULocked recomputes CPU percentages against the previous sample.
// The first sample uses the times accumulated since boot.
func (h *Host) sampleCPULocked() error {
	times, err := h.backend.cpuTimes(h.ctx)
	if err != nil {
		return err
	}
	if len(times) == 0 {
		return fmt.Errorf("no aggregate cpu times: %w", ErrNotSupported)
	}
	current := fromTimesStat(times[0])

	base := cpuTimes{}
	if h.prevCPU != nil {
		base = *h.prevCPU
	}
	h.prevCPU = current

	// Times went backwards (e.g. CPU hotplug); keep the last percentages.
	delta := current.total() - base.total()
	if delta <= 0 {
		return nil
	}

	h.cpuPerc = CPUPercent{
		User: positive(current.user-base.user) / delta,
		Sys:  positive(current.system-base.system) / delta,
		Wait: positive(current.iowait-base.iowait) / delta,
		Idle: positive(current.idle-base.idle) / delta,
	}
	return nil
}

func positive(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// CPUPercent returns the CPU time shares measured between the last two refreshes.
func (h *Host) CPUPercent() (CPUPercent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return CPUPercent{}, ErrClosed
	}
	return h.cpuPerc, nil
}

// LoadAverage returns the 1, 5 and 15 minute load averages.
func (h *Host) LoadAverage() (LoadAverage, error) {
	if err := h.checkOpen(); err != nil {
		return LoadAverage{}, err
	}

	avg, err := h.backend.loadAvg(h.ctx)
	if err != nil {
		return LoadAverage{}, fmt.Errorf("failed to read load average: %w", err)
	}
	return LoadAverage{One: avg.Load1, Five: avg.Load5, Fifteen: avg.Load15}, nil
}
