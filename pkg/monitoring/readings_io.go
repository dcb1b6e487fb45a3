// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import (
	"fmt"
	"strings"

	"github.com/Axway/ats-framework-sub003/pkg/sysinfo"
)

func init() {
	registerStatic(ReadingIOReadBytesAllDevices, ioReading(func(u sysinfo.DiskUsage) int64 { return u.ReadBytes }))
	registerStatic(ReadingIOWriteBytesAllDevices, ioReading(func(u sysinfo.DiskUsage) int64 { return u.WriteBytes }))
}

// ioReading reports the transfer rate summed over all local disk devices.
// Devices that cannot be queried at init are left out for the instance lifetime.
func ioReading(field func(sysinfo.DiskUsage) int64) staticFactory {
	return func(ctx *factoryContext, def ReadingDefinition) ([]*instance, error) {
		filesystems, err := ctx.source.FileSystems()
		if err != nil {
			return nil, fmt.Errorf("failed to list file systems: %w", err)
		}

		var devices, failed []string
		seen := make(map[string]bool)
		for _, fs := range filesystems {
			if fs.Type != sysinfo.FileSystemLocalDisk || seen[fs.DevName] {
				continue
			}
			seen[fs.DevName] = true
			if _, err := ctx.source.DiskUsage(fs.DevName); err != nil {
				failed = append(failed, fs.DevName)
				continue
			}
			devices = append(devices, fs.DevName)
		}
		if len(failed) > 0 {
			ctx.logger.Info("Unable to monitor some devices, they will be skipped", "reading", def.Name, "devices", failed)
		}

		def.SetParameter(ParamCustomMessage, monitoredDevicesMessage(devices))
		in := ctx.newInstance(def, memoryNormalization(def.Unit))

		total := func() int64 {
			var sum int64
			for _, dev := range devices {
				usage, err := ctx.source.DiskUsage(dev)
				if err != nil {
					ctx.logger.V(1).Info("Device unavailable this cycle", "device", dev, "error", err)
					return -1
				}
				v := fixLong(in.state.fixOverflow(dev, field(usage), OverflowValue))
				if v < 0 {
					return -1
				}
				sum += v
			}
			return sum
		}
		in.state.lastValue = total()

		in.compute = func(in *instance) float32 {
			return in.state.rate(total())
		}
		return single(in)
	}
}

func monitoredDevicesMessage(devices []string) string {
	if len(devices) == 0 {
		return "No monitored devices!"
	}
	quoted := make([]string, len(devices))
	for i, dev := range devices {
		quoted[i] = "'" + dev + "'"
	}
	return "Monitored devices: " + strings.Join(quoted, ", ")
}
