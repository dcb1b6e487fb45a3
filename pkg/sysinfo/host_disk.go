// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sysinfo

import (
	"fmt"
	"path/filepath"
	"strings"
)

var (
	networkFileSystems = map[string]bool{
		"nfs": true, "nfs4": true, "cifs": true, "smbfs": true, "smb3": true,
		"sshfs": true, "fuse.sshfs": true, "glusterfs": true, "ceph": true, "9p": true,
	}
	virtualFileSystems = map[string]bool{
		"proc": true, "sysfs": true, "tmpfs": true, "devtmpfs": true, "devpts": true,
		"cgroup": true, "cgroup2": true, "overlay": true, "securityfs": true, "debugfs": true,
		"tracefs": true, "pstore": true, "bpf": true, "mqueue": true, "hugetlbfs": true,
		"autofs": true, "configfs": true, "fusectl": true, "binfmt_misc": true, "nsfs": true,
		"rpc_pipefs": true, "squashfs": true, "efivarfs": true,
	}
)

// FileSystems lists mounted file systems, one entry per device. A device
// mounted more than once is reported at its first mount point.
func (h *Host) FileSystems() ([]FileSystem, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	partitions, err := h.backend.partitions(h.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	seen := make(map[string]bool, len(partitions))
	var result []FileSystem
	for _, p := range partitions {
		if seen[p.Device] {
			continue
		}
		seen[p.Device] = true
		result = append(result, FileSystem{
			DevName:  p.Device,
			DirName:  p.Mountpoint,
			TypeName: p.Fstype,
			Type:     classifyFileSystem(p.Device, p.Fstype),
		})
	}
	return result, nil
}

func classifyFileSystem(dev, fsType string) FileSystemType {
	switch {
	case networkFileSystems[fsType]:
		return FileSystemNetwork
	case virtualFileSystems[fsType]:
		return FileSystemVirtual
	case strings.HasPrefix(dev, "/dev/"):
		return FileSystemLocalDisk
	default:
		return FileSystemUnknown
	}
}

// DiskUsage returns the cumulative read/write byte counters of a block device.
// The device may be given as a path (/dev/sda1, /dev/mapper/root) or a kernel name (sda1).
func (h *Host) DiskUsage(device string) (DiskUsage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cycle, err := h.current()
	if err != nil {
		return DiskUsage{}, err
	}
	if cycle.diskIO == nil {
		counters, err := h.backend.diskIOCounters(h.ctx)
		if err != nil {
			return DiskUsage{}, fmt.Errorf("failed to read disk counters: %w", err)
		}
		cycle.diskIO = counters
	}

	name := kernelDeviceName(device)
	counters, ok := cycle.diskIO[name]
	if !ok {
		return DiskUsage{}, fmt.Errorf("device %q (%s): %w", device, name, ErrNotSupported)
	}
	return DiskUsage{
		ReadBytes:  int64(counters.ReadBytes),
		WriteBytes: int64(counters.WriteBytes),
	}, nil
}

// kernelDeviceName resolves device mapper and by-uuid symlinks to the kernel
// block device name.
func kernelDeviceName(device string) string {
	if strings.HasPrefix(device, "/") {
		if resolved, err := filepath.EvalSymlinks(device); err == nil {
			device = resolved
		}
	}
	return filepath.Base(device)
}
