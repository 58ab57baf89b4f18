// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package compat matches the devices, memory types and queues a trace was
// captured with to those available on the replay machine.
package compat

import (
	"context"
	"fmt"
	"math/bits"
	"strings"

	"github.com/gfxsync/gfxsync/gapis/config"
	"github.com/gfxsync/gfxsync/gapis/remap"
	"github.com/gogpu/gputypes"
)

// MemoryFlags describes the properties of a memory type.
type MemoryFlags uint32

const (
	DeviceLocal MemoryFlags = 1 << iota
	HostVisible
	HostCoherent
	HostCached
	LazilyAllocated
	ProtectedMemory
)

var memoryFlagNames = []string{
	"DEVICE_LOCAL", "HOST_VISIBLE", "HOST_COHERENT", "HOST_CACHED", "LAZILY_ALLOCATED", "PROTECTED",
}

// Contains returns true if f has every flag in o.
func (f MemoryFlags) Contains(o MemoryFlags) bool { return f&o == o }

func (f MemoryFlags) String() string { return flagString(uint32(f), memoryFlagNames) }

// QueueFlags describes the capabilities of a queue family.
type QueueFlags uint32

const (
	Graphics QueueFlags = 1 << iota
	Compute
	Transfer
	SparseBinding
	ProtectedQueue
)

var queueFlagNames = []string{"GRAPHICS", "COMPUTE", "TRANSFER", "SPARSE_BINDING", "PROTECTED"}

// Contains returns true if f has every flag in o.
func (f QueueFlags) Contains(o QueueFlags) bool { return f&o == o }

func (f QueueFlags) String() string { return flagString(uint32(f), queueFlagNames) }

func flagString(f uint32, names []string) string {
	if f == 0 {
		return "0"
	}
	parts := []string{}
	for i, n := range names {
		if f&(1<<i) != 0 {
			parts = append(parts, n)
			f &^= 1 << i
		}
	}
	if f != 0 {
		parts = append(parts, fmt.Sprintf("%#x", f))
	}
	return strings.Join(parts, "|")
}

// shared returns the number of flags set in both a and b.
func shared(a, b uint32) int { return bits.OnesCount32(a & b) }

// MemoryType is one memory type of a device.
type MemoryType struct {
	Flags MemoryFlags
	Heap  int
	// Used is true if the trace allocates from this type.
	Used bool
}

// QueueFamily is one queue family of a device.
type QueueFamily struct {
	Flags QueueFlags
	// Count is the number of queues the family offers.
	Count int
	// Used is the number of queues the trace retrieves from the family.
	Used int
}

// Device describes a physical device on either side of the replay.
type Device struct {
	// Handle is the device's identifier on its own side of the replay.
	Handle        uint64
	Info          gputypes.AdapterInfo
	APIVersion    uint32
	DriverVersion uint32
	MemoryTypes   []MemoryType
	QueueFamilies []QueueFamily
}

func (d Device) String() string {
	return fmt.Sprintf("%s [%v %v %04x:%04x]", d.Info.Name, d.Info.Backend, d.Info.DeviceType, d.Info.VendorID, d.Info.DeviceID)
}

// Enumerator lists the devices available for replay.
type Enumerator interface {
	Devices(ctx context.Context) ([]Device, error)
}

// Devices is a fixed list of devices.
type Devices []Device

// Devices returns the list.
func (l Devices) Devices(ctx context.Context) ([]Device, error) { return l, nil }

// Options controls device selection.
type Options struct {
	// ForceIndex selects the device at DeviceIndex. The zero Options
	// apply no override.
	ForceIndex  bool
	DeviceIndex int
	// DeviceName forces the first device whose name contains this string,
	// ignoring case.
	DeviceName string
	// BestEffort accepts the closest candidate when nothing satisfies the
	// trace's requirements.
	BestEffort bool
	// PowerPreference biases device scoring towards discrete or integrated
	// devices.
	PowerPreference gputypes.PowerPreference
}

// OptionsFrom returns the Options described by cfg.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		ForceIndex:  cfg.DeviceIndex >= 0,
		DeviceIndex: cfg.DeviceIndex,
		DeviceName:  cfg.DeviceName,
		BestEffort:  cfg.BestEffort,
	}
}

// MemoryTypeKey returns the remap key of memory type index of capture
// device ordinal dev.
func MemoryTypeKey(dev, index int) remap.CaptureID {
	return remap.CaptureID(uint64(dev)<<32 | uint64(uint32(index)))
}

// QueueFamilyKey returns the remap key of queue family of capture device
// ordinal dev.
func QueueFamilyKey(dev, family int) remap.CaptureID {
	return remap.CaptureID(uint64(dev)<<32 | uint64(uint32(family)))
}

// QueueKey returns the remap key of queue index in family of capture
// device ordinal dev.
func QueueKey(dev, family, index int) remap.CaptureID {
	return remap.CaptureID(uint64(dev)<<32 | uint64(uint16(family))<<16 | uint64(uint16(index)))
}

// QueueReplay returns the replay id of queue index in family.
func QueueReplay(family, index int) remap.ReplayID {
	return remap.ReplayID(uint64(uint16(family))<<16 | uint64(uint16(index)))
}

// SplitQueue splits a replay queue id into family and index.
func SplitQueue(id remap.ReplayID) (family, index int) {
	return int(uint64(id) >> 16 & 0xffff), int(uint64(id) & 0xffff)
}
