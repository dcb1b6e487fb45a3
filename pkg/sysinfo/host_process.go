// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sysinfo

import (
	"fmt"
	"math"
	"strconv"
)

// ProcessList returns the pids of all running processes.
func (h *Host) ProcessList() ([]int, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	pids, err := h.backend.pids(h.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	result := make([]int, 0, len(pids))
	for _, pid := range pids {
		if pid > 0 {
			result = append(result, int(pid))
		}
	}
	return result, nil
}

// ProcessArgs returns the argument vector of a process. Kernel threads have
// an empty command line and yield an empty slice.
func (h *Host) ProcessArgs(pid int) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, err := h.processLocked(pid)
	if err != nil {
		return nil, err
	}
	args, err := p.CmdlineSliceWithContext(h.ctx)
	if err != nil {
		return nil, processError(pid, err)
	}
	if args == nil {
		return []string{}, nil
	}
	return args, nil
}

// ProcessUser returns the name of the user owning the process. When the uid
// has no passwd entry the numeric uid is returned.
func (h *Host) ProcessUser(pid int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, err := h.processLocked(pid)
	if err != nil {
		return "", err
	}
	name, err := p.UsernameWithContext(h.ctx)
	if err == nil && name != "" {
		return name, nil
	}

	uids, uidErr := p.UidsWithContext(h.ctx)
	if uidErr != nil {
		return "", processError(pid, uidErr)
	}
	if len(uids) == 0 {
		return "", fmt.Errorf("pid %d: no uid: %w", pid, ErrNotSupported)
	}
	return strconv.Itoa(int(uids[0])), nil
}

// ProcessCPUTime returns the user and kernel CPU time of a process in milliseconds.
func (h *Host) ProcessCPUTime(pid int) (ProcessCPUTime, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, err := h.processLocked(pid)
	if err != nil {
		return ProcessCPUTime{}, err
	}
	times, err := p.TimesWithContext(h.ctx)
	if err != nil {
		return ProcessCPUTime{}, processError(pid, err)
	}

	userMs := secondsToMillis(times.User)
	sysMs := secondsToMillis(times.System)
	return ProcessCPUTime{User: userMs, Sys: sysMs, Total: userMs + sysMs}, nil
}

func secondsToMillis(s float64) int64 {
	return int64(math.Round(s * 1000))
}

// ProcessPageFaults returns the number of minor and major page faults of a process.
func (h *Host) ProcessPageFaults(pid int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, err := h.processLocked(pid)
	if err != nil {
		return 0, err
	}
	faults, err := p.PageFaultsWithContext(h.ctx)
	if err != nil {
		return 0, processError(pid, err)
	}
	return int64(faults.MinorFaults + faults.MajorFaults), nil
}

// ProcessMemory returns the virtual, resident and shared memory of a process.
func (h *Host) ProcessMemory(pid int) (ProcessMemory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, err := h.processLocked(pid)
	if err != nil {
		return ProcessMemory{}, err
	}
	info, err := p.MemoryInfoExWithContext(h.ctx)
	if err != nil {
		return ProcessMemory{}, processError(pid, err)
	}
	return ProcessMemory{
		Virtual:  int64(info.VMS),
		Resident: int64(info.RSS),
		Shared:   int64(info.Shared),
	}, nil
}

// processLocked returns the cycle's handle for pid. Must be called with h.mu held.
func (h *Host) processLocked(pid int) (processHandle, error) {
	cycle, err := h.current()
	if err != nil {
		return nil, err
	}
	if p, ok := cycle.processes[int32(pid)]; ok {
		return p, nil
	}

	p, err := h.backend.process(h.ctx, int32(pid))
	if err != nil {
		return nil, processError(pid, err)
	}
	cycle.processes[int32(pid)] = p
	return p, nil
}
