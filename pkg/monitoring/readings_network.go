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
	registerStatic(ReadingNetworkTraffic, networkReading)
}

// networkReading expands into a TX and an RX instance per interface.
// Alias interfaces such as "eth0:1" share counters with their parent and are skipped.
func networkReading(ctx *factoryContext, def ReadingDefinition) ([]*instance, error) {
	names, err := ctx.source.NetworkInterfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	var instances []*instance
	seen := make(map[string]bool)
	for _, name := range names {
		if strings.Contains(name, ":") || seen[name] {
			continue
		}
		seen[name] = true

		stat, err := ctx.source.NetworkInterfaceStat(name)
		if err != nil {
			ctx.logger.Info("Unable to monitor network interface, it will be skipped", "interface", name, "error", err)
			continue
		}
		instances = append(instances,
			ctx.newTrafficInstance(def, name, "TX data", stat.TxBytes, func(s sysinfo.NetworkInterfaceStat) int64 { return s.TxBytes }),
			ctx.newTrafficInstance(def, name, "RX data", stat.RxBytes, func(s sysinfo.NetworkInterfaceStat) int64 { return s.RxBytes }),
		)
	}
	return instances, nil
}

func (c *factoryContext) newTrafficInstance(def ReadingDefinition, iface, direction string, initial int64,
	field func(sysinfo.NetworkInterfaceStat) int64) *instance {
	nicDef := def.Clone()
	nicDef.Name = def.Name + " " + iface + " " + direction
	in := c.newInstance(nicDef, memoryNormalization(def.Unit))
	in.state.lastValue = fixLong(in.state.fixOverflow(iface, initial, OverflowValue))

	in.compute = func(in *instance) float32 {
		stat, err := c.source.NetworkInterfaceStat(iface)
		if err != nil {
			return c.unavailableOn(in, err)
		}
		return in.state.rate(fixLong(in.state.fixOverflow(iface, field(stat), OverflowValue)))
	}
	return in
}
