// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Compile-time interface check
var _ SystemInformation = (*Host)(nil)

// Host implements SystemInformation with gopsutil.
//
// System-wide counters are fetched at most once per sampling cycle and shared
// by every query in that cycle. Process handles are cached for the cycle too,
// so a pid that disappears mid-cycle fails on its next read.
type Host struct {
	logger  logr.Logger
	ctx     context.Context
	backend backend

	mu     sync.Mutex
	closed bool
	cycle  *snapshot

	// CPU percentages are computed between two consecutive refreshes.
	prevCPU *cpuTimes
	cpuPerc CPUPercent
}

type snapshot struct {
	vmem      *mem.VirtualMemoryStat
	swap      *mem.SwapMemoryStat
	diskIO    map[string]disk.IOCountersStat
	netIO     map[string]NetworkInterfaceStat
	netIfs    []string
	snmp      *NetstatTCP
	tcpStates *TCPStates
	processes map[int32]processHandle
}

func newSnapshot() *snapshot {
	return &snapshot{processes: make(map[int32]processHandle)}
}

// NewHost creates a gopsutil backed data source reading from config.HostProcPath
// and takes the first CPU sample.
func NewHost(logger logr.Logger, config Config) (*Host, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newHost(logger, hostContext(config.HostProcPath), gopsutilBackend{})
}

func newHost(logger logr.Logger, ctx context.Context, b backend) (*Host, error) {
	h := &Host{
		logger:  logger.WithName("sysinfo"),
		ctx:     ctx,
		backend: b,
		cycle:   newSnapshot(),
	}
	if err := h.sampleCPU(); err != nil {
		return nil, fmt.Errorf("failed to sample cpu times: %w", err)
	}
	return h, nil
}

// Refresh drops the cached counters and takes a new CPU sample.
func (h *Host) Refresh() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	h.cycle = newSnapshot()
	return h.sampleCPULocked()
}

// NumCPUs returns the number of logical CPUs.
func (h *Host) NumCPUs() (int, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	return h.backend.cpuCounts(h.ctx)
}

// Close releases the data source. Every later query returns ErrClosed.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.cycle = nil
	return nil
}

func (h *Host) checkOpen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return nil
}

// current returns the snapshot of the running cycle, or ErrClosed.
// Must be called with h.mu held.
func (h *Host) current() (*snapshot, error) {
	if h.closed {
		return nil, ErrClosed
	}
	return h.cycle, nil
}

// processError maps a failed per-process read to ErrNoSuchProcess when the process is gone.
func processError(pid int, err error) error {
	if errors.Is(err, process.ErrorProcessNotRunning) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
	}
	return fmt.Errorf("pid %d: %w", pid, err)
}
