// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package sysinfo is the data source behind the system monitor. It exposes a
// fixed query surface over native operating system counters and ships an
// implementation backed by gopsutil.
package sysinfo

import "errors"

var (
	// ErrNotSupported is returned when a metric cannot be produced on this host.
	ErrNotSupported = errors.New("not supported on this system")

	// ErrNoSuchProcess is returned when the requested process no longer exists.
	ErrNoSuchProcess = errors.New("no such process")

	// ErrClosed is returned by every query once the data source has been closed.
	ErrClosed = errors.New("system information source is closed")
)

// SystemInformation is the query interface consumed by the monitoring engine.
//
// Refresh starts a new sampling cycle: values read after a Refresh are
// consistent with each other until the next call. Any per-device or
// per-process query may fail; callers treat such failures as "unavailable
// this cycle".
type SystemInformation interface {
	Refresh() error
	NumCPUs() (int, error)

	Swap() (Swap, error)
	Memory() (Memory, error)

	FileSystems() ([]FileSystem, error)
	DiskUsage(device string) (DiskUsage, error)

	LoadAverage() (LoadAverage, error)
	CPUPercent() (CPUPercent, error)

	NetworkInterfaces() ([]string, error)
	NetworkInterfaceStat(name string) (NetworkInterfaceStat, error)

	NetstatTCP() (NetstatTCP, error)
	TCPStates() (TCPStates, error)

	ProcessList() ([]int, error)
	ProcessArgs(pid int) ([]string, error)
	ProcessUser(pid int) (string, error)
	ProcessCPUTime(pid int) (ProcessCPUTime, error)
	ProcessMemory(pid int) (ProcessMemory, error)
	ProcessPageFaults(pid int) (int64, error)

	Close() error
}

// Swap holds swap space usage in bytes and cumulative page counters.
type Swap struct {
	Total   int64
	Used    int64
	Free    int64
	PageIn  int64
	PageOut int64
}

// Memory holds physical memory usage in bytes. The Actual values treat
// buffers and page cache as free memory.
type Memory struct {
	Total      int64
	Used       int64
	Free       int64
	ActualUsed int64
	ActualFree int64
}

// FileSystemType classifies a mounted file system.
type FileSystemType int

const (
	FileSystemUnknown FileSystemType = iota
	FileSystemLocalDisk
	FileSystemNetwork
	FileSystemVirtual
)

// FileSystem describes one mounted file system.
type FileSystem struct {
	DevName  string
	DirName  string
	TypeName string
	Type     FileSystemType
}

// DiskUsage holds cumulative I/O byte counters of a block device.
type DiskUsage struct {
	ReadBytes  int64
	WriteBytes int64
}

// LoadAverage holds the 1, 5 and 15 minute run queue averages.
type LoadAverage struct {
	One     float64
	Five    float64
	Fifteen float64
}

// CPUPercent holds CPU time shares for the last sampling cycle as fractions in [0, 1].
type CPUPercent struct {
	User float64
	Sys  float64
	Wait float64
	Idle float64
}

// NetworkInterfaceStat holds cumulative byte counters of one network interface.
type NetworkInterfaceStat struct {
	RxBytes int64
	TxBytes int64
}

// NetstatTCP holds the cumulative TCP protocol counters.
type NetstatTCP struct {
	ActiveOpens  int64
	PassiveOpens int64
	AttemptFails int64
	EstabResets  int64
	CurrEstab    int64
	InSegs       int64
	OutSegs      int64
	RetransSegs  int64
	InErrs       int64
	OutRsts      int64
}

// TCPStates holds the number of sockets in each TCP state.
type TCPStates struct {
	Established   int64
	SynSent       int64
	SynRecv       int64
	FinWait1      int64
	FinWait2      int64
	TimeWait      int64
	Close         int64
	CloseWait     int64
	LastAck       int64
	Listen        int64
	Closing       int64
	Bound         int64
	Idle          int64
	TotalInbound  int64
	TotalOutbound int64
}

// ProcessCPUTime holds cumulative CPU time of a process in milliseconds.
type ProcessCPUTime struct {
	User  int64
	Sys   int64
	Total int64
}

// ProcessMemory holds the memory footprint of a process in bytes.
type ProcessMemory struct {
	Virtual  int64
	Resident int64
	Shared   int64
}
