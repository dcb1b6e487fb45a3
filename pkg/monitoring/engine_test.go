// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build !integration

package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axway/ats-framework-sub003/pkg/sysinfo"
)

const mib = 1024 * 1024

func newTestEngine(t *testing.T, source *fakeSource, clock *fakeClock, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(testr.New(t)), WithClock(clock.Now)}, opts...)
	return NewEngine(source, opts...)
}

func processDef(name, unit, parent, pattern, alias string) ReadingDefinition {
	def := NewReadingDefinition("process", name, unit, true)
	def.SetParameter(ParamProcessRecognitionPattern, pattern)
	def.SetParameter(ParamProcessAlias, alias)
	if parent != "" {
		def.SetParameter(ParamProcessParentName, parent)
	}
	return def
}

func TestEngine_MemoryAndProcessCPU(t *testing.T) {
	source := newFakeSource()
	source.memory = sysinfo.Memory{Used: 512 * mib}
	source.processes[100] = &fakeProcess{
		args: []string{"java", "-jar", "app.jar"},
		cpu:  sysinfo.ProcessCPUTime{Total: 1000},
	}
	clock := newFakeClock()

	repo := NewRepository(testr.New(t))
	repo.AddDefinition(ReadingMemoryUsed, NewReadingDefinition("system", ReadingMemoryUsed, "MB", false))
	repo.AddDefinition(ReadingProcessCPUUsageTotal, NewReadingDefinition("process", ReadingProcessCPUUsageTotal, "%", true))

	catalog := NewCatalog(repo)
	defs, err := catalog.ExpandSystemMetrics([]string{ReadingMemoryUsed})
	require.NoError(t, err)
	processDefs, err := catalog.ExpandProcessMetrics("", "java.*", "java", "", []string{ReadingProcessCPUUsageTotal})
	require.NoError(t, err)
	defs = append(defs, processDefs...)

	engine := newTestEngine(t, source, clock, WithRepository(repo))
	require.NoError(t, engine.Init(defs))

	created := engine.TakeNewInstances()
	require.Len(t, created, 1)
	assert.Equal(t, 1, created[0].ID)
	assert.Equal(t, ReadingMemoryUsed, created[0].Name)

	values, err := engine.PollFirst()
	require.NoError(t, err)
	assert.Equal(t, []ReadingValue{{ID: 1, Value: "512"}, {ID: 2, Value: "0"}}, values)

	created = engine.TakeNewInstances()
	require.Len(t, created, 1)
	cpu := created[0]
	assert.Equal(t, 2, cpu.ID)
	assert.Equal(t, "[process] java - CPU usage - Total", cpu.Name)
	assert.Equal(t, "%", cpu.Unit)
	assert.False(t, cpu.IsParentAggregate)
	assert.Equal(t, "java", cpu.Parameters[ParamProcessAlias])
	assert.Equal(t, "java", cpu.Parameters[ParamProcessInternalName])
	assert.Equal(t, "java.*", cpu.Parameters[ParamProcessRecognitionPattern])
	assert.Equal(t, "3", cpu.Parameters[ParamProcessReadingID])
	assert.Equal(t, "java -jar app.jar", cpu.Parameters[ParamProcessStartCommand])

	clock.Advance(1500 * time.Millisecond)
	source.processes[100].cpu.Total = 1300

	values, err = engine.PollNext()
	require.NoError(t, err)
	assert.Equal(t, []ReadingValue{{ID: 1, Value: "512"}, {ID: 2, Value: "20"}}, values)
	assert.Empty(t, engine.TakeNewInstances())
}

func TestEngine_ProcessLifecycle(t *testing.T) {
	source := newFakeSource()
	source.processes[100] = &fakeProcess{args: []string{"java", "-jar", "app.jar"}}
	clock := newFakeClock()

	engine := newTestEngine(t, source, clock)
	require.NoError(t, engine.Init([]ReadingDefinition{
		processDef(ReadingProcessCPUUsageTotal, "%", "", "java.*", "java"),
	}))

	_, err := engine.PollFirst()
	require.NoError(t, err)
	first := engine.TakeNewInstances()
	require.Len(t, first, 1)

	t.Run("instances are not duplicated", func(t *testing.T) {
		clock.Advance(time.Second)
		values, err := engine.PollNext()
		require.NoError(t, err)
		assert.Len(t, values, 1)
		assert.Len(t, engine.Instances(), 1)
		assert.Empty(t, engine.TakeNewInstances())
	})

	t.Run("retired process is dropped on the next poll", func(t *testing.T) {
		delete(source.processes, 100)
		source.processes[101] = &fakeProcess{args: []string{"java", "-server"}}

		clock.Advance(time.Second)
		values, err := engine.PollNext()
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.NotEqual(t, first[0].ID, values[0].ID)

		created := engine.TakeNewInstances()
		require.Len(t, created, 1)
		assert.Equal(t, "[process] java [2] - CPU usage - Total", created[0].Name)
		assert.Equal(t, "java [2]", created[0].Parameters[ParamProcessAlias])
		assert.Equal(t, "java", created[0].Parameters[ParamProcessInternalName])
		assert.Equal(t, values[0].ID, created[0].ID)
	})

	t.Run("process list failure keeps current instances", func(t *testing.T) {
		source.listErr = errors.New("proc unavailable")
		defer func() { source.listErr = nil }()

		clock.Advance(time.Second)
		values, err := engine.PollNext()
		require.NoError(t, err)
		assert.Len(t, values, 1)
	})
}

func TestEngine_ProcessCPUGuard(t *testing.T) {
	source := newFakeSource()
	source.processes[7] = &fakeProcess{args: []string{"worker"}, cpu: sysinfo.ProcessCPUTime{User: 100}}
	clock := newFakeClock()

	engine := newTestEngine(t, source, clock)
	require.NoError(t, engine.Init([]ReadingDefinition{
		processDef(ReadingProcessCPUUsageUser, "%", "", "worker", "w"),
	}))
	_, err := engine.PollFirst()
	require.NoError(t, err)

	// too short an interval to compute a meaningful share
	clock.Advance(500 * time.Millisecond)
	source.processes[7].cpu.User = 400
	values, err := engine.PollNext()
	require.NoError(t, err)
	assert.Equal(t, "0", values[0].Value)

	clock.Advance(time.Second)
	source.processes[7].cpu.User = 650
	values, err = engine.PollNext()
	require.NoError(t, err)
	assert.Equal(t, "25", values[0].Value)
}

func TestEngine_ProcessCPUAveragedOverCPUs(t *testing.T) {
	source := newFakeSource()
	source.numCPUs = 4
	source.processes[7] = &fakeProcess{args: []string{"worker"}, cpu: sysinfo.ProcessCPUTime{Total: 0}}
	clock := newFakeClock()

	engine := newTestEngine(t, source, clock)
	require.NoError(t, engine.Init([]ReadingDefinition{
		processDef(ReadingProcessCPUUsageTotal, "%", "", "worker", "w"),
	}))
	_, err := engine.PollFirst()
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	source.processes[7].cpu.Total = 4000
	values, err := engine.PollNext()
	require.NoError(t, err)
	assert.Equal(t, "50", values[0].Value)
}

func TestEngine_ProcessOverflowBarrier(t *testing.T) {
	source := newFakeSource()
	source.processes[7] = &fakeProcess{args: []string{"worker"}, cpu: sysinfo.ProcessCPUTime{Total: 900}}
	clock := newFakeClock()

	engine := newTestEngine(t, source, clock, WithProcessOverflowBarrier(1000))
	require.NoError(t, engine.Init([]ReadingDefinition{
		processDef(ReadingProcessCPUUsageTotal, "%", "", "worker", "w"),
	}))
	_, err := engine.PollFirst()
	require.NoError(t, err)

	clock.Advance(time.Second)
	source.processes[7].cpu.Total = 100
	values, err := engine.PollNext()
	require.NoError(t, err)
	assert.Equal(t, "20", values[0].Value)
}

func TestEngine_PageFaults(t *testing.T) {
	source := newFakeSource()
	source.processes[7] = &fakeProcess{args: []string{"worker"}, faults: 1000}
	clock := newFakeClock()

	engine := newTestEngine(t, source, clock)
	require.NoError(t, engine.Init([]ReadingDefinition{
		processDef(ReadingProcessMemoryPageFaults, "faults/sec", "", "worker", "w"),
	}))
	values, err := engine.PollFirst()
	require.NoError(t, err)
	assert.Equal(t, "0", values[0].Value)

	clock.Advance(2 * time.Second)
	source.processes[7].faults = 1500
	values, err = engine.PollNext()
	require.NoError(t, err)
	assert.Equal(t, "250", values[0].Value)

	created := engine.TakeNewInstances()
	require.Len(t, created, 1)
	assert.Equal(t, "[process] w - Memory page faults", created[0].Name)
	assert.Equal(t, "8", created[0].Parameters[ParamProcessReadingID])
}

func TestEngine_ParentAggregate(t *testing.T) {
	source := newFakeSource()
	source.processes[10] = &fakeProcess{args: []string{"java", "a"}, memory: sysinfo.ProcessMemory{Resident: 100 * mib}}
	source.processes[11] = &fakeProcess{args: []string{"java", "b"}, memory: sysinfo.ProcessMemory{Resident: 50 * mib}}
	clock := newFakeClock()

	engine := newTestEngine(t, source, clock)
	require.NoError(t, engine.Init([]ReadingDefinition{
		processDef(ReadingProcessMemoryResident, "MB", "app", "java.*", "java"),
	}))

	created := engine.TakeNewInstances()
	require.Len(t, created, 1)
	parent := created[0]
	assert.True(t, parent.IsParentAggregate)
	assert.Equal(t, "app", parent.ParentName)
	assert.Equal(t, ReadingProcessMemoryResident, parent.Name)
	assert.Equal(t, 1, parent.ID)

	values, err := engine.PollFirst()
	require.NoError(t, err)
	assert.Equal(t, []ReadingValue{
		{ID: 2, Value: "100"},
		{ID: 3, Value: "50"},
		{ID: 1, Value: "150"},
	}, values)

	children := engine.TakeNewInstances()
	require.Len(t, children, 2)
	assert.Equal(t, "app", children[0].ParentName)
	assert.Equal(t, "[process] java [2] - Resident memory", children[1].Name)

	delete(source.processes, 11)
	clock.Advance(time.Second)
	values, err = engine.PollNext()
	require.NoError(t, err)
	assert.Equal(t, []ReadingValue{{ID: 2, Value: "100"}, {ID: 1, Value: "100"}}, values)
}

func TestEngine_SystemReadings(t *testing.T) {
	source := newFakeSource()
	source.cpu = sysinfo.CPUPercent{User: 0.1, Sys: 0.05, Wait: 0.05, Idle: 0.8}
	source.load = sysinfo.LoadAverage{One: 1.239, Five: 0.5, Fifteen: 0.25}
	source.swap = sysinfo.Swap{Total: 2048 * mib, Used: 512 * mib, PageIn: 12, PageOut: 34}
	source.memory = sysinfo.Memory{ActualFree: 3 * 1024}
	source.netstat = sysinfo.NetstatTCP{ActiveOpens: 7, InErrs: 2}
	source.tcp = sysinfo.TCPStates{Listen: 3, TotalOutbound: 5}
	clock := newFakeClock()

	tests := []struct {
		name string
		unit string
		want string
	}{
		{ReadingCPUUsageUser, "%", "10"},
		{ReadingCPUUsageKernel, "%", "5"},
		{ReadingCPUUsageTotal, "%", "20"},
		{ReadingCPULoadLastMinute, "", "1.23"},
		{ReadingCPULoadLast15Minutes, "", "0.25"},
		{ReadingVirtualMemoryTotal, "MB", "2048"},
		{ReadingVirtualMemoryUsed, "GB", "0.5"},
		{ReadingVirtualMemoryPagesIn, "pages", "12"},
		{ReadingVirtualMemoryPagesOut, "pages", "34"},
		{ReadingMemoryActualFree, "KB", "3"},
		{ReadingNetstatActiveOpenings, "count", "7"},
		{ReadingNetstatInErrors, "count", "2"},
		{ReadingTCPListen, "count", "3"},
		{ReadingTCPTotalOutbound, "count", "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, source, clock)
			require.NoError(t, engine.Init([]ReadingDefinition{
				NewReadingDefinition("system", tt.name, tt.unit, false),
			}))
			values, err := engine.PollFirst()
			require.NoError(t, err)
			require.Len(t, values, 1)
			assert.Equal(t, tt.want, values[0].Value)
		})
	}

	t.Run("source failure reports -1", func(t *testing.T) {
		failing := newFakeSource()
		failing.memErr = errors.New("meminfo unreadable")
		engine := newTestEngine(t, failing, clock)
		require.NoError(t, engine.Init([]ReadingDefinition{
			NewReadingDefinition("system", ReadingMemoryUsed, "MB", false),
		}))
		values, err := engine.PollFirst()
		require.NoError(t, err)
		assert.Equal(t, "-1", values[0].Value)
	})
}

func TestEngine_NetworkInterfaces(t *testing.T) {
	source := newFakeSource()
	source.interfaces = []string{"lo", "eth0", "eth0:1"}
	source.ifStats["lo"] = sysinfo.NetworkInterfaceStat{}
	source.ifStats["eth0"] = sysinfo.NetworkInterfaceStat{RxBytes: 1024, TxBytes: 2048}
	source.ifStats["eth0:1"] = sysinfo.NetworkInterfaceStat{RxBytes: 1024, TxBytes: 2048}
	clock := newFakeClock()

	engine := newTestEngine(t, source, clock)
	require.NoError(t, engine.Init([]ReadingDefinition{
		NewReadingDefinition("system", ReadingNetworkTraffic, "KB/sec", false),
	}))

	created := engine.TakeNewInstances()
	names := make([]string, 0, len(created))
	for _, c := range created {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"NIC lo TX data", "NIC lo RX data", "NIC eth0 TX data", "NIC eth0 RX data"}, names)

	clock.Advance(2 * time.Second)
	source.ifStats["eth0"] = sysinfo.NetworkInterfaceStat{RxBytes: 2048, TxBytes: 6144}
	values, err := engine.PollFirst()
	require.NoError(t, err)
	assert.Equal(t, []ReadingValue{
		{ID: 1, Value: "0"},
		{ID: 2, Value: "0"},
		{ID: 3, Value: "2"},
		{ID: 4, Value: "0.5"},
	}, values)
}

func TestEngine_IODevices(t *testing.T) {
	source := newFakeSource()
	source.filesystems = []sysinfo.FileSystem{
		{DevName: "/dev/sda1", DirName: "/", Type: sysinfo.FileSystemLocalDisk},
		{DevName: "/dev/sda1", DirName: "/var", Type: sysinfo.FileSystemLocalDisk},
		{DevName: "/dev/sdb", DirName: "/data", Type: sysinfo.FileSystemLocalDisk},
		{DevName: "server:/export", DirName: "/mnt", Type: sysinfo.FileSystemNetwork},
	}
	source.disks["/dev/sda1"] = sysinfo.DiskUsage{}
	clock := newFakeClock()

	engine := newTestEngine(t, source, clock)
	require.NoError(t, engine.Init([]ReadingDefinition{
		NewReadingDefinition("system", ReadingIOReadBytesAllDevices, "MB/sec", false),
		NewReadingDefinition("system", ReadingIOWriteBytesAllDevices, "MB/sec", false),
	}))

	created := engine.TakeNewInstances()
	require.Len(t, created, 2)
	for _, c := range created {
		assert.Equal(t, "Monitored devices: '/dev/sda1'", c.Parameters[ParamCustomMessage])
	}

	clock.Advance(time.Second)
	source.disks["/dev/sda1"] = sysinfo.DiskUsage{ReadBytes: 3 * mib, WriteBytes: mib}
	values, err := engine.PollFirst()
	require.NoError(t, err)
	assert.Equal(t, []ReadingValue{{ID: 1, Value: "3"}, {ID: 2, Value: "1"}}, values)
}

func TestEngine_NoMonitoredDevices(t *testing.T) {
	engine := newTestEngine(t, newFakeSource(), newFakeClock())
	require.NoError(t, engine.Init([]ReadingDefinition{
		NewReadingDefinition("system", ReadingIOReadBytesAllDevices, "MB/sec", false),
	}))

	created := engine.TakeNewInstances()
	require.Len(t, created, 1)
	assert.Equal(t, "No monitored devices!", created[0].Parameters[ParamCustomMessage])
}

func TestEngine_Lifecycle(t *testing.T) {
	t.Run("poll before init", func(t *testing.T) {
		engine := newTestEngine(t, newFakeSource(), newFakeClock())
		_, err := engine.PollFirst()
		assert.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("init twice", func(t *testing.T) {
		engine := newTestEngine(t, newFakeSource(), newFakeClock())
		require.NoError(t, engine.Init(nil))
		assert.ErrorIs(t, engine.Init(nil), ErrAlreadyInitialized)
	})

	t.Run("deinit closes the source", func(t *testing.T) {
		source := newFakeSource()
		engine := newTestEngine(t, source, newFakeClock())
		require.NoError(t, engine.Init(nil))
		require.NoError(t, engine.Deinit())
		assert.True(t, source.closed)

		_, err := engine.PollNext()
		assert.ErrorIs(t, err, ErrNotInitialized)
		assert.ErrorIs(t, engine.Init(nil), ErrNotInitialized)
		assert.ErrorIs(t, engine.Deinit(), ErrNotInitialized)
	})

	t.Run("unsupported static reading", func(t *testing.T) {
		engine := newTestEngine(t, newFakeSource(), newFakeClock())
		err := engine.Init([]ReadingDefinition{NewReadingDefinition("system", "Disk temperature", "C", false)})
		assert.ErrorIs(t, err, ErrUnsupportedReading)
	})

	t.Run("invalid process pattern", func(t *testing.T) {
		engine := newTestEngine(t, newFakeSource(), newFakeClock())
		err := engine.Init([]ReadingDefinition{processDef(ReadingProcessCPUUsageTotal, "%", "", "java(", "j")})
		assert.Error(t, err)
	})

	t.Run("unknown process reading is skipped", func(t *testing.T) {
		source := newFakeSource()
		source.processes[1] = &fakeProcess{args: []string{"java"}}
		engine := newTestEngine(t, source, newFakeClock())
		require.NoError(t, engine.Init([]ReadingDefinition{processDef("Process handles", "count", "", "java", "j")}))

		values, err := engine.PollFirst()
		require.NoError(t, err)
		assert.Empty(t, values)
	})

	t.Run("refresh failure is returned", func(t *testing.T) {
		source := newFakeSource()
		engine := newTestEngine(t, source, newFakeClock())
		require.NoError(t, engine.Init(nil))

		refreshErr := errors.New("snapshot failed")
		source.refreshErr = refreshErr
		_, err := engine.PollNext()
		assert.ErrorIs(t, err, refreshErr)
	})
}
