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
	memoryLevels := map[string]func(sysinfo.Memory) int64{
		ReadingMemoryUsed:       func(m sysinfo.Memory) int64 { return m.Used },
		ReadingMemoryFree:       func(m sysinfo.Memory) int64 { return m.Free },
		ReadingMemoryActualUsed: func(m sysinfo.Memory) int64 { return m.ActualUsed },
		ReadingMemoryActualFree: func(m sysinfo.Memory) int64 { return m.ActualFree },
	}
	for name, field := range memoryLevels {
		registerStatic(name, memoryReading(field))
	}

	swapLevels := map[string]func(sysinfo.Swap) int64{
		ReadingVirtualMemoryTotal: func(s sysinfo.Swap) int64 { return s.Total },
		ReadingVirtualMemoryUsed:  func(s sysinfo.Swap) int64 { return s.Used },
		ReadingVirtualMemoryFree:  func(s sysinfo.Swap) int64 { return s.Free },
	}
	for name, field := range swapLevels {
		registerStatic(name, swapReading(field, true))
	}
	registerStatic(ReadingVirtualMemoryPagesIn, swapReading(func(s sysinfo.Swap) int64 { return s.PageIn }, false))
	registerStatic(ReadingVirtualMemoryPagesOut, swapReading(func(s sysinfo.Swap) int64 { return s.PageOut }, false))

	loads := map[string]func(sysinfo.LoadAverage) float64{
		ReadingCPULoadLastMinute:    func(l sysinfo.LoadAverage) float64 { return l.One },
		ReadingCPULoadLast5Minutes:  func(l sysinfo.LoadAverage) float64 { return l.Five },
		ReadingCPULoadLast15Minutes: func(l sysinfo.LoadAverage) float64 { return l.Fifteen },
	}
	for name, field := range loads {
		registerStatic(name, loadReading(field))
	}

	usages := map[string]func(sysinfo.CPUPercent) float64{
		ReadingCPUUsageWait:   func(c sysinfo.CPUPercent) float64 { return c.Wait },
		ReadingCPUUsageKernel: func(c sysinfo.CPUPercent) float64 { return c.Sys },
		ReadingCPUUsageUser:   func(c sysinfo.CPUPercent) float64 { return c.User },
		ReadingCPUUsageTotal: func(c sysinfo.CPUPercent) float64 {
			return fixDouble(c.Sys) + fixDouble(c.User) + fixDouble(c.Wait)
		},
	}
	for name, field := range usages {
		registerStatic(name, cpuUsageReading(field))
	}

	netstat := map[string]func(sysinfo.NetstatTCP) int64{
		ReadingNetstatActiveOpenings:   func(n sysinfo.NetstatTCP) int64 { return n.ActiveOpens },
		ReadingNetstatPassiveOpenings:  func(n sysinfo.NetstatTCP) int64 { return n.PassiveOpens },
		ReadingNetstatFailedAttempts:   func(n sysinfo.NetstatTCP) int64 { return n.AttemptFails },
		ReadingNetstatResetConnections: func(n sysinfo.NetstatTCP) int64 { return n.EstabResets },
		ReadingNetstatCurrentConns:     func(n sysinfo.NetstatTCP) int64 { return n.CurrEstab },
		ReadingNetstatSegmentsReceived: func(n sysinfo.NetstatTCP) int64 { return n.InSegs },
		ReadingNetstatSegmentsSent:     func(n sysinfo.NetstatTCP) int64 { return n.OutSegs },
		ReadingNetstatSegmentsRetrans:  func(n sysinfo.NetstatTCP) int64 { return n.RetransSegs },
		ReadingNetstatOutResets:        func(n sysinfo.NetstatTCP) int64 { return n.OutRsts },
		ReadingNetstatInErrors:         func(n sysinfo.NetstatTCP) int64 { return n.InErrs },
	}
	for name, field := range netstat {
		registerStatic(name, netstatReading(field))
	}

	states := map[string]func(sysinfo.TCPStates) int64{
		ReadingTCPClose:         func(s sysinfo.TCPStates) int64 { return s.Close },
		ReadingTCPListen:        func(s sysinfo.TCPStates) int64 { return s.Listen },
		ReadingTCPSynSent:       func(s sysinfo.TCPStates) int64 { return s.SynSent },
		ReadingTCPSynReceived:   func(s sysinfo.TCPStates) int64 { return s.SynRecv },
		ReadingTCPEstablished:   func(s sysinfo.TCPStates) int64 { return s.Established },
		ReadingTCPCloseWait:     func(s sysinfo.TCPStates) int64 { return s.CloseWait },
		ReadingTCPLastAck:       func(s sysinfo.TCPStates) int64 { return s.LastAck },
		ReadingTCPFinWait1:      func(s sysinfo.TCPStates) int64 { return s.FinWait1 },
		ReadingTCPFinWait2:      func(s sysinfo.TCPStates) int64 { return s.FinWait2 },
		ReadingTCPClosing:       func(s sysinfo.TCPStates) int64 { return s.Closing },
		ReadingTCPTimeWait:      func(s sysinfo.TCPStates) int64 { return s.TimeWait },
		ReadingTCPBound:         func(s sysinfo.TCPStates) int64 { return s.Bound },
		ReadingTCPIdle:          func(s sysinfo.TCPStates) int64 { return s.Idle },
		ReadingTCPTotalInbound:  func(s sysinfo.TCPStates) int64 { return s.TotalInbound },
		ReadingTCPTotalOutbound: func(s sysinfo.TCPStates) int64 { return s.TotalOutbound },
	}
	for name, field := range states {
		registerStatic(name, tcpStateReading(field))
	}
}

func memoryReading(field func(sysinfo.Memory) int64) staticFactory {
	return func(ctx *factoryContext, def ReadingDefinition) ([]*instance, error) {
		in := ctx.newInstance(def, memoryNormalization(def.Unit))
		in.compute = func(in *instance) float32 {
			mem, err := ctx.source.Memory()
			if err != nil {
				return ctx.unavailableOn(in, err)
			}
			return in.state.level(field(mem))
		}
		return single(in)
	}
}

// swapReading reports swap sizes scaled by the unit, or the raw page
// counters when scaled is false.
func swapReading(field func(sysinfo.Swap) int64, scaled bool) staticFactory {
	return func(ctx *factoryContext, def ReadingDefinition) ([]*instance, error) {
		norm := 1.0
		if scaled {
			norm = memoryNormalization(def.Unit)
		}
		in := ctx.newInstance(def, norm)
		in.compute = func(in *instance) float32 {
			swap, err := ctx.source.Swap()
			if err != nil {
				return ctx.unavailableOn(in, err)
			}
			return in.state.level(field(swap))
		}
		return single(in)
	}
}

func loadReading(field func(sysinfo.LoadAverage) float64) staticFactory {
	return func(ctx *factoryContext, def ReadingDefinition) ([]*instance, error) {
		if isWindows {
			ctx.logger.V(1).Info("Load average is not available on this platform", "reading", def.Name)
			return nil, nil
		}
		in := ctx.newInstance(def, 1)
		in.compute = func(in *instance) float32 {
			load, err := ctx.source.LoadAverage()
			if err != nil {
				return ctx.unavailableOn(in, err)
			}
			v := fixDouble(field(load))
			if v < 0 {
				return unavailable
			}
			return truncate2(v)
		}
		return single(in)
	}
}

func cpuUsageReading(field func(sysinfo.CPUPercent) float64) staticFactory {
	return func(ctx *factoryContext, def ReadingDefinition) ([]*instance, error) {
		in := ctx.newInstance(def, 1)
		in.compute = func(in *instance) float32 {
			usage, err := ctx.source.CPUPercent()
			if err != nil {
				return ctx.unavailableOn(in, err)
			}
			return percent(field(usage))
		}
		return single(in)
	}
}

func netstatReading(field func(sysinfo.NetstatTCP) int64) staticFactory {
	return func(ctx *factoryContext, def ReadingDefinition) ([]*instance, error) {
		in := ctx.newInstance(def, 1)
		in.compute = func(in *instance) float32 {
			counters, err := ctx.source.NetstatTCP()
			if err != nil {
				return ctx.unavailableOn(in, err)
			}
			return in.state.level(field(counters))
		}
		return single(in)
	}
}

func tcpStateReading(field func(sysinfo.TCPStates) int64) staticFactory {
	return func(ctx *factoryContext, def ReadingDefinition) ([]*instance, error) {
		in := ctx.newInstance(def, 1)
		in.compute = func(in *instance) float32 {
			states, err := ctx.source.TCPStates()
			if err != nil {
				return ctx.unavailableOn(in, err)
			}
			return in.state.level(field(states))
		}
		return single(in)
	}
}
