// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import (
	"github.com/Axway/ats-framework-sub003/pkg/sysinfo"
)

func init() {
	registerDynamic(ReadingProcessCPUUsageUser, dynamicKind{
		readingID: "1",
		suffix:    "CPU usage - User",
		build:     processCPU(func(t sysinfo.ProcessCPUTime) int64 { return t.User }),
	})
	registerDynamic(ReadingProcessCPUUsageKernel, dynamicKind{
		readingID: "2",
		suffix:    "CPU usage - Kernel",
		build:     processCPU(func(t sysinfo.ProcessCPUTime) int64 { return t.Sys }),
	})
	registerDynamic(ReadingProcessCPUUsageTotal, dynamicKind{
		readingID: "3",
		suffix:    "CPU usage - Total",
		build:     processCPU(func(t sysinfo.ProcessCPUTime) int64 { return t.Total }),
	})
	registerDynamic(ReadingProcessMemoryVirtual, dynamicKind{
		readingID:   "5",
		suffix:      "Virtual memory",
		build:       processMemory(func(m sysinfo.ProcessMemory) int64 { return m.Virtual }),
		scaleByUnit: true,
	})
	registerDynamic(ReadingProcessMemoryResident, dynamicKind{
		readingID:   "6",
		suffix:      "Resident memory",
		build:       processMemory(func(m sysinfo.ProcessMemory) int64 { return m.Resident }),
		scaleByUnit: true,
	})
	registerDynamic(ReadingProcessMemoryShared, dynamicKind{
		readingID:   "7",
		suffix:      "Shared memory",
		build:       processMemory(func(m sysinfo.ProcessMemory) int64 { return m.Shared }),
		scaleByUnit: true,
		noWindows:   true,
	})
	registerDynamic(ReadingProcessMemoryPageFaults, dynamicKind{
		readingID: "8",
		suffix:    "Memory page faults",
		build:     processPageFaults,
	})
}

// processCPU reports the share of one CPU the process used since the last
// poll, averaged over all CPUs, as a percentage.
func processCPU(field func(sysinfo.ProcessCPUTime) int64) func(*factoryContext, *instance) {
	return func(ctx *factoryContext, in *instance) {
		key := in.def.Name
		cpuTime := func() (int64, error) {
			t, err := ctx.source.ProcessCPUTime(in.pid)
			if err != nil {
				return -1, err
			}
			return fixLong(in.state.fixOverflow(key, field(t), ctx.processOverflowBarrier)), nil
		}
		if v, err := cpuTime(); err == nil && v >= 0 {
			in.state.lastValue = v
		}

		in.compute = func(in *instance) float32 {
			v, err := cpuTime()
			if err != nil {
				return ctx.unavailableOn(in, err)
			}
			if v < 0 {
				return unavailable
			}
			delta := float64(v-in.state.lastValue) / float64(ctx.numCPUs)
			in.state.lastValue = v

			var pct float32
			if elapsed := in.state.elapsedMillis(); elapsed > processMinElapsed {
				pct = truncate2(delta/float64(elapsed)) * 100
			}
			in.addValueToParent(pct)
			return pct
		}
	}
}

func processMemory(field func(sysinfo.ProcessMemory) int64) func(*factoryContext, *instance) {
	return func(ctx *factoryContext, in *instance) {
		in.compute = func(in *instance) float32 {
			mem, err := ctx.source.ProcessMemory(in.pid)
			if err != nil {
				return ctx.unavailableOn(in, err)
			}
			v := in.state.toFloatWith2Decimals(float64(field(mem)))
			in.addValueToParent(v)
			return v
		}
	}
}

// processPageFaults reports minor plus major faults per second.
func processPageFaults(ctx *factoryContext, in *instance) {
	key := in.def.Name
	faults := func() (int64, error) {
		n, err := ctx.source.ProcessPageFaults(in.pid)
		if err != nil {
			return -1, err
		}
		return fixLong(in.state.fixOverflow(key, n, ctx.processOverflowBarrier)), nil
	}
	if v, err := faults(); err == nil && v >= 0 {
		in.state.lastValue = v
	}

	in.compute = func(in *instance) float32 {
		v, err := faults()
		if err != nil {
			return ctx.unavailableOn(in, err)
		}
		if v < 0 {
			return unavailable
		}
		delta := float64(v - in.state.lastValue)
		in.state.lastValue = v

		var perSecond float32
		if elapsed := in.state.elapsedMillis(); elapsed > processMinElapsed {
			perSecond = truncate2(delta / (float64(elapsed) / 1000))
		}
		in.addValueToParent(perSecond)
		return perSecond
	}
}
