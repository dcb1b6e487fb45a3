// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build !integration

package monitoring

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Axway/ats-framework-sub003/pkg/sysinfo"
)

type fakeProcess struct {
	args    []string
	user    string
	userErr error
	cpu     sysinfo.ProcessCPUTime
	memory  sysinfo.ProcessMemory
	faults  int64
}

// fakeSource is an in-memory SystemInformation for engine and matcher tests.
type fakeSource struct {
	mu sync.Mutex

	numCPUs    int
	refreshErr error
	refreshes  int
	closed     bool

	swap    sysinfo.Swap
	memory  sysinfo.Memory
	memErr  error
	load    sysinfo.LoadAverage
	cpu     sysinfo.CPUPercent
	netstat sysinfo.NetstatTCP
	tcp     sysinfo.TCPStates

	filesystems []sysinfo.FileSystem
	disks       map[string]sysinfo.DiskUsage

	interfaces []string
	ifStats    map[string]sysinfo.NetworkInterfaceStat

	processes map[int]*fakeProcess
	listErr   error
}

var _ sysinfo.SystemInformation = (*fakeSource)(nil)

func newFakeSource() *fakeSource {
	return &fakeSource{
		numCPUs:   1,
		disks:     make(map[string]sysinfo.DiskUsage),
		ifStats:   make(map[string]sysinfo.NetworkInterfaceStat),
		processes: make(map[int]*fakeProcess),
	}
}

func (f *fakeSource) Refresh() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeSource) NumCPUs() (int, error) { return f.numCPUs, nil }

func (f *fakeSource) Swap() (sysinfo.Swap, error) { return f.swap, nil }

func (f *fakeSource) Memory() (sysinfo.Memory, error) { return f.memory, f.memErr }

func (f *fakeSource) FileSystems() ([]sysinfo.FileSystem, error) { return f.filesystems, nil }

func (f *fakeSource) DiskUsage(device string) (sysinfo.DiskUsage, error) {
	usage, ok := f.disks[device]
	if !ok {
		return sysinfo.DiskUsage{}, fmt.Errorf("%s: %w", device, sysinfo.ErrNotSupported)
	}
	return usage, nil
}

func (f *fakeSource) LoadAverage() (sysinfo.LoadAverage, error) { return f.load, nil }

func (f *fakeSource) CPUPercent() (sysinfo.CPUPercent, error) { return f.cpu, nil }

func (f *fakeSource) NetworkInterfaces() ([]string, error) { return f.interfaces, nil }

func (f *fakeSource) NetworkInterfaceStat(name string) (sysinfo.NetworkInterfaceStat, error) {
	stat, ok := f.ifStats[name]
	if !ok {
		return sysinfo.NetworkInterfaceStat{}, errors.New("no such interface")
	}
	return stat, nil
}

func (f *fakeSource) NetstatTCP() (sysinfo.NetstatTCP, error) { return f.netstat, nil }

func (f *fakeSource) TCPStates() (sysinfo.TCPStates, error) { return f.tcp, nil }

func (f *fakeSource) ProcessList() ([]int, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	pids := make([]int, 0, len(f.processes))
	for pid := range f.processes {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

func (f *fakeSource) process(pid int) (*fakeProcess, error) {
	p, ok := f.processes[pid]
	if !ok {
		return nil, sysinfo.ErrNoSuchProcess
	}
	return p, nil
}

func (f *fakeSource) ProcessArgs(pid int) ([]string, error) {
	p, err := f.process(pid)
	if err != nil {
		return nil, err
	}
	return p.args, nil
}

func (f *fakeSource) ProcessUser(pid int) (string, error) {
	p, err := f.process(pid)
	if err != nil {
		return "", err
	}
	return p.user, p.userErr
}

func (f *fakeSource) ProcessCPUTime(pid int) (sysinfo.ProcessCPUTime, error) {
	p, err := f.process(pid)
	if err != nil {
		return sysinfo.ProcessCPUTime{}, err
	}
	return p.cpu, nil
}

func (f *fakeSource) ProcessMemory(pid int) (sysinfo.ProcessMemory, error) {
	p, err := f.process(pid)
	if err != nil {
		return sysinfo.ProcessMemory{}, err
	}
	return p.memory, nil
}

func (f *fakeSource) ProcessPageFaults(pid int) (int64, error) {
	p, err := f.process(pid)
	if err != nil {
		return 0, err
	}
	return p.faults, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
