// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sysinfo

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/net"
)

// NetworkInterfaces lists interface names in kernel order.
func (h *Host) NetworkInterfaces() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cycle, err := h.netIOLocked()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cycle.netIfs))
	copy(names, cycle.netIfs)
	return names, nil
}

// NetworkInterfaceStat returns the cumulative byte counters of one interface.
func (h *Host) NetworkInterfaceStat(name string) (NetworkInterfaceStat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cycle, err := h.netIOLocked()
	if err != nil {
		return NetworkInterfaceStat{}, err
	}
	stat, ok := cycle.netIO[name]
	if !ok {
		return NetworkInterfaceStat{}, fmt.Errorf("interface %q: %w", name, ErrNotSupported)
	}
	return stat, nil
}

// Must be called with h.mu held.
func (h *Host) netIOLocked() (*snapshot, error) {
	cycle, err := h.current()
	if err != nil {
		return nil, err
	}
	if cycle.netIO != nil {
		return cycle, nil
	}

	counters, err := h.backend.netIOCounters(h.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read interface counters: %w", err)
	}
	stats := make(map[string]NetworkInterfaceStat, len(counters))
	names := make([]string, 0, len(counters))
	for _, c := range counters {
		if _, dup := stats[c.Name]; !dup {
			names = append(names, c.Name)
		}
		stats[c.Name] = NetworkInterfaceStat{RxBytes: int64(c.BytesRecv), TxBytes: int64(c.BytesSent)}
	}
	cycle.netIO = stats
	cycle.netIfs = names
	return cycle, nil
}

// NetstatTCP returns the kernel's cumulative Tcp protocol counters.
func (h *Host) NetstatTCP() (NetstatTCP, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cycle, err := h.current()
	if err != nil {
		return NetstatTCP{}, err
	}
	if cycle.snmp != nil {
		return *cycle.snmp, nil
	}

	counters, err := h.backend.protoCounters(h.ctx)
	if err != nil {
		return NetstatTCP{}, fmt.Errorf("failed to read protocol counters: %w", err)
	}
	values, ok := findProto(counters, "tcp")
	if !ok {
		return NetstatTCP{}, fmt.Errorf("no tcp protocol counters: %w", ErrNotSupported)
	}

	stats := &NetstatTCP{
		ActiveOpens:  values["ActiveOpens"],
		PassiveOpens: values["PassiveOpens"],
		AttemptFails: values["AttemptFails"],
		EstabResets:  values["EstabResets"],
		CurrEstab:    values["CurrEstab"],
		InSegs:       values["InSegs"],
		OutSegs:      values["OutSegs"],
		RetransSegs:  values["RetransSegs"],
		InErrs:       values["InErrs"],
		OutRsts:      values["OutRsts"],
	}
	cycle.snmp = stats
	return *stats, nil
}

func findProto(stats []net.ProtoCountersStat, proto string) (map[string]int64, bool) {
	for _, s := range stats {
		if s.Protocol == proto {
			return s.Stats, true
		}
	}
	return nil, false
}

// TCPStates counts IPv4 and IPv6 sockets per state.
//
// A non-listening socket is inbound when its local port is one of the
// listening ports, outbound otherwise. Linux has no BOUND or IDLE state, so
// those counters stay zero.
func (h *Host) TCPStates() (TCPStates, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cycle, err := h.current()
	if err != nil {
		return TCPStates{}, err
	}
	if cycle.tcpStates != nil {
		return *cycle.tcpStates, nil
	}

	conns, err := h.backend.tcpConnections(h.ctx)
	if err != nil {
		return TCPStates{}, fmt.Errorf("failed to list tcp connections: %w", err)
	}

	listening := make(map[uint32]bool)
	for _, c := range conns {
		if c.Status == "LISTEN" {
			listening[c.Laddr.Port] = true
		}
	}

	states := &TCPStates{}
	for _, c := range conns {
		switch c.Status {
		case "ESTABLISHED":
			states.Established++
		case "SYN_SENT":
			states.SynSent++
		case "SYN_RECV":
			states.SynRecv++
		case "FIN_WAIT1":
			states.FinWait1++
		case "FIN_WAIT2":
			states.FinWait2++
		case "TIME_WAIT":
			states.TimeWait++
		case "CLOSE":
			states.Close++
		case "CLOSE_WAIT":
			states.CloseWait++
		case "LAST_ACK":
			states.LastAck++
		case "LISTEN":
			states.Listen++
			continue
		case "CLOSING":
			states.Closing++
		default:
			continue
		}

		if listening[c.Laddr.Port] {
			states.TotalInbound++
		} else {
			states.TotalOutbound++
		}
	}

	cycle.tcpStates = states
	return *states, nil
}
