// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sysinfo

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// gopsutil reports pswpin/pswpout multiplied by a fixed 4 KiB page.
const swapPageBytes = 4 * 1024

// Memory reports physical memory usage.
//
// Used and Free are the kernel's raw numbers. ActualFree also counts buffers
// and page cache as free since the kernel reclaims them on demand.
func (h *Host) Memory() (Memory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	vm, err := h.virtualMemoryLocked()
	if err != nil {
		return Memory{}, err
	}

	total := int64(vm.Total)
	free := int64(vm.Free)
	actualFree := free + int64(vm.Buffers) + int64(vm.Cached)
	if actualFree > total {
		actualFree = total
	}

	return Memory{
		Total:      total,
		Used:       total - free,
		Free:       free,
		ActualUsed: total - actualFree,
		ActualFree: actualFree,
	}, nil
}

// Swap reports swap usage in bytes and the cumulative swap page counters.
func (h *Host) Swap() (Swap, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cycle, err := h.current()
	if err != nil {
		return Swap{}, err
	}
	if cycle.swap == nil {
		sm, err := h.backend.swapMemory(h.ctx)
		if err != nil {
			return Swap{}, fmt.Errorf("failed to read swap memory: %w", err)
		}
		cycle.swap = sm
	}

	sm := cycle.swap
	return Swap{
		Total:   int64(sm.Total),
		Used:    int64(sm.Total) - int64(sm.Free),
		Free:    int64(sm.Free),
		PageIn:  int64(sm.Sin / swapPageBytes),
		PageOut: int64(sm.Sout / swapPageBytes),
	}, nil
}

// Must be called with h.mu held.
func (h *Host) virtualMemoryLocked() (*mem.VirtualMemoryStat, error) {
	cycle, err := h.current()
	if err != nil {
		return nil, err
	}
	if cycle.vmem != nil {
		return cycle.vmem, nil
	}

	vm, err := h.backend.virtualMemory(h.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read virtual memory: %w", err)
	}
	if vm.Total == 0 {
		return nil, fmt.Errorf("total memory unknown: %w", ErrNotSupported)
	}
	cycle.vmem = vm
	return vm, nil
}
