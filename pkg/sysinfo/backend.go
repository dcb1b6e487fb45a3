// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sysinfo

import (
	"context"

	"github.com/shirou/gopsutil/v3/common"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// backend is the set of gopsutil calls Host is built on.
type backend interface {
	cpuCounts(ctx context.Context) (int, error)
	cpuTimes(ctx context.Context) ([]cpu.TimesStat, error)
	virtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error)
	swapMemory(ctx context.Context) (*mem.SwapMemoryStat, error)
	partitions(ctx context.Context) ([]disk.PartitionStat, error)
	diskIOCounters(ctx context.Context) (map[string]disk.IOCountersStat, error)
	loadAvg(ctx context.Context) (*load.AvgStat, error)
	netIOCounters(ctx context.Context) ([]net.IOCountersStat, error)
	protoCounters(ctx context.Context) ([]net.ProtoCountersStat, error)
	tcpConnections(ctx context.Context) ([]net.ConnectionStat, error)
	pids(ctx context.Context) ([]int32, error)
	process(ctx context.Context, pid int32) (processHandle, error)
}

// processHandle is the subset of *process.Process used per pid.
type processHandle interface {
	CmdlineSliceWithContext(ctx context.Context) ([]string, error)
	UsernameWithContext(ctx context.Context) (string, error)
	UidsWithContext(ctx context.Context) ([]int32, error)
	TimesWithContext(ctx context.Context) (*cpu.TimesStat, error)
	MemoryInfoExWithContext(ctx context.Context) (*process.MemoryInfoExStat, error)
	PageFaultsWithContext(ctx context.Context) (*process.PageFaultsStat, error)
}

var _ processHandle = (*process.Process)(nil)

// hostContext points gopsutil at procPath instead of /proc.
func hostContext(procPath string) context.Context {
	return context.WithValue(context.Background(), common.EnvKey,
		common.EnvMap{common.HostProcEnvKey: procPath})
}

type gopsutilBackend struct{}

func (gopsutilBackend) cpuCounts(ctx context.Context) (int, error) {
	return cpu.CountsWithContext(ctx, true)
}

func (gopsutilBackend) cpuTimes(ctx context.Context) ([]cpu.TimesStat, error) {
	return cpu.TimesWithContext(ctx, false)
}

func (gopsutilBackend) virtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

func (gopsutilBackend) swapMemory(ctx context.Context) (*mem.SwapMemoryStat, error) {
	return mem.SwapMemoryWithContext(ctx)
}

func (gopsutilBackend) partitions(ctx context.Context) ([]disk.PartitionStat, error) {
	return disk.PartitionsWithContext(ctx, true)
}

func (gopsutilBackend) diskIOCounters(ctx context.Context) (map[string]disk.IOCountersStat, error) {
	return disk.IOCountersWithContext(ctx)
}

func (gopsutilBackend) loadAvg(ctx context.Context) (*load.AvgStat, error) {
	return load.AvgWithContext(ctx)
}

func (gopsutilBackend) netIOCounters(ctx context.Context) ([]net.IOCountersStat, error) {
	return net.IOCountersWithContext(ctx, true)
}

func (gopsutilBackend) protoCounters(ctx context.Context) ([]net.ProtoCountersStat, error) {
	return net.ProtoCountersWithContext(ctx, []string{"tcp"})
}

func (gopsutilBackend) tcpConnections(ctx context.Context) ([]net.ConnectionStat, error) {
	return net.ConnectionsWithContext(ctx, "tcp")
}

func (gopsutilBackend) pids(ctx context.Context) ([]int32, error) {
	return process.PidsWithContext(ctx)
}

func (gopsutilBackend) process(ctx context.Context, pid int32) (processHandle, error) {
	return process.NewProcessWithContext(ctx, pid)
}
