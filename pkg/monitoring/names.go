// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import "strings"

// System reading names.
const (
	ReadingCPULoadLastMinute      = "CPU average load - Last minute"
	ReadingCPULoadLast5Minutes    = "CPU average load - Last 5 minutes"
	ReadingCPULoadLast15Minutes   = "CPU average load - Last 15 minutes"
	ReadingCPUUsageWait           = "CPU usage - Wait"
	ReadingCPUUsageKernel         = "CPU usage - Kernel"
	ReadingCPUUsageUser           = "CPU usage - User"
	ReadingCPUUsageTotal          = "CPU usage - Total"
	ReadingMemoryActualUsed       = "Memory - Actual Used"
	ReadingMemoryActualFree       = "Memory - Actual Free"
	ReadingMemoryUsed             = "Memory - Used"
	ReadingMemoryFree             = "Memory - Free"
	ReadingVirtualMemoryTotal     = "Virtual memory - Total"
	ReadingVirtualMemoryUsed      = "Virtual memory - Used"
	ReadingVirtualMemoryFree      = "Virtual memory - Free"
	ReadingVirtualMemoryPagesIn   = "Virtual memory - Pages in"
	ReadingVirtualMemoryPagesOut  = "Virtual memory - Pages out"
	ReadingIOReadBytesAllDevices  = "IO Read bytes - All local devices"
	ReadingIOWriteBytesAllDevices = "IO Write bytes - All local devices"
	ReadingNetworkTraffic         = "NIC"

	ReadingNetstatActiveOpenings   = "[Netstat] Active connection openings"
	ReadingNetstatPassiveOpenings  = "[Netstat] Passive connection openings"
	ReadingNetstatFailedAttempts   = "[Netstat] Failed connection attempts"
	ReadingNetstatResetConnections = "[Netstat] Reset connections ?"
	ReadingNetstatCurrentConns     = "[Netstat] Current connections"
	ReadingNetstatSegmentsReceived = "[Netstat] Segments received"
	ReadingNetstatSegmentsSent     = "[Netstat] Segments sent"
	ReadingNetstatSegmentsRetrans  = "[Netstat] Segments retransmitted"
	ReadingNetstatOutResets        = "[Netstat] Out resets ?"
	ReadingNetstatInErrors         = "[Netstat] In errors ?"

	ReadingTCPClose         = "[TCP] Close"
	ReadingTCPListen        = "[TCP] Listen"
	ReadingTCPSynSent       = "[TCP] SYN sent"
	ReadingTCPSynReceived   = "[TCP] SYN received"
	ReadingTCPEstablished   = "[TCP] Established"
	ReadingTCPCloseWait     = "[TCP] Close wait"
	ReadingTCPLastAck       = "[TCP] Last ACK"
	ReadingTCPFinWait1      = "[TCP] FIN wait 1"
	ReadingTCPFinWait2      = "[TCP] FIN wait 2"
	ReadingTCPClosing       = "[TCP] Closing"
	ReadingTCPTimeWait      = "[TCP] Time wait"
	ReadingTCPBound         = "[TCP] Bound"
	ReadingTCPIdle          = "[TCP] Idle"
	ReadingTCPTotalInbound  = "[TCP] Total inbound"
	ReadingTCPTotalOutbound = "[TCP] Total outbound"
)

// Process reading names.
const (
	ReadingProcessCPUUsageKernel   = "Process CPU usage - Kernel"
	ReadingProcessCPUUsageUser     = "Process CPU usage - User"
	ReadingProcessCPUUsageTotal    = "Process CPU usage - Total"
	ReadingProcessMemoryVirtual    = "Process Memory - Virtual"
	ReadingProcessMemoryResident   = "Process Memory - Resident"
	ReadingProcessMemoryShared     = "Process Memory - Shared"
	ReadingProcessMemoryPageFaults = "Process Memory - Page faults"
)

// Reading parameter keys.
const (
	ParamProcessParentName         = "PARAMETER_NAME__PROCESS_PARENT_NAME"
	ParamProcessInternalName       = "PARAMETER_NAME__PROCESS_INTERNAL_NAME"
	ParamProcessRecognitionPattern = "PARAMETER_NAME__PROCESS_RECOGNITION_PATTERN"
	ParamProcessAlias              = "PARAMETER_NAME__PROCESS_ALIAS"
	ParamProcessUsername           = "PARAMETER_NAME__PROCESS_USERNAME"
	ParamProcessStartCommand       = "PARAMETER_NAME__PROCESS_START_COMMAND"
	ParamProcessReadingID          = "PARAMETER_NAME__PROCESS_READING_ID"
	ParamCustomMessage             = "PARAMETER_NAME__CUSTOM_MESSAGE"
)

// Group tokens accepted by Catalog.
const (
	GroupCPU               = "CPU"
	GroupMemory            = "MEMORY"
	GroupVirtualMemory     = "VIRTUAL-MEMORY"
	GroupIO                = "IO"
	GroupNetworkInterfaces = "NETWORK-INTERFACES"
	GroupNetstat           = "NETSTAT"
	GroupTCP               = "TCP"
)

var systemGroups = map[string][]string{
	GroupCPU: {
		ReadingCPULoadLastMinute,
		ReadingCPULoadLast5Minutes,
		ReadingCPULoadLast15Minutes,
		ReadingCPUUsageWait,
		ReadingCPUUsageKernel,
		ReadingCPUUsageUser,
		ReadingCPUUsageTotal,
	},
	GroupMemory: {
		ReadingMemoryActualUsed,
		ReadingMemoryActualFree,
		ReadingMemoryUsed,
		ReadingMemoryFree,
	},
	GroupVirtualMemory: {
		ReadingVirtualMemoryTotal,
		ReadingVirtualMemoryUsed,
		ReadingVirtualMemoryFree,
		ReadingVirtualMemoryPagesIn,
		ReadingVirtualMemoryPagesOut,
	},
	GroupIO: {
		ReadingIOReadBytesAllDevices,
		ReadingIOWriteBytesAllDevices,
	},
	GroupNetworkInterfaces: {
		ReadingNetworkTraffic,
	},
	GroupNetstat: {
		ReadingNetstatActiveOpenings,
		ReadingNetstatPassiveOpenings,
		ReadingNetstatFailedAttempts,
		ReadingNetstatResetConnections,
		ReadingNetstatCurrentConns,
		ReadingNetstatSegmentsReceived,
		ReadingNetstatSegmentsSent,
		ReadingNetstatSegmentsRetrans,
		ReadingNetstatOutResets,
		ReadingNetstatInErrors,
	},
	GroupTCP: {
		ReadingTCPClose,
		ReadingTCPListen,
		ReadingTCPSynSent,
		ReadingTCPSynReceived,
		ReadingTCPEstablished,
		ReadingTCPCloseWait,
		ReadingTCPLastAck,
		ReadingTCPFinWait1,
		ReadingTCPFinWait2,
		ReadingTCPClosing,
		ReadingTCPTimeWait,
		ReadingTCPBound,
		ReadingTCPIdle,
		ReadingTCPTotalInbound,
		ReadingTCPTotalOutbound,
	},
}

var processGroups = map[string][]string{
	GroupCPU: {
		ReadingProcessCPUUsageKernel,
		ReadingProcessCPUUsageUser,
		ReadingProcessCPUUsageTotal,
	},
	GroupMemory: {
		ReadingProcessMemoryVirtual,
		ReadingProcessMemoryResident,
		ReadingProcessMemoryShared,
		ReadingProcessMemoryPageFaults,
	},
}

// IsProcessReading reports whether name is one of the per-process readings.
func IsProcessReading(name string) bool {
	for _, names := range processGroups {
		for _, n := range names {
			if strings.EqualFold(n, name) {
				return true
			}
		}
	}
	return false
}

// readingKey normalizes reading names for case-insensitive lookups.
func readingKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
