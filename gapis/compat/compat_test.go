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

package compat_test

import (
	"testing"

	"github.com/gfxsync/gfxsync/core/assert"
	"github.com/gfxsync/gfxsync/core/log"
	"github.com/gfxsync/gfxsync/gapis/compat"
	"github.com/gfxsync/gfxsync/gapis/remap"
	"github.com/gogpu/gputypes"
)

var noOverride = compat.Options{}

func device(handle uint64, name string, vendor, id uint32, kind gputypes.DeviceType) compat.Device {
	return compat.Device{
		Handle: handle,
		Info: gputypes.AdapterInfo{
			Name:       name,
			VendorID:   vendor,
			DeviceID:   id,
			DeviceType: kind,
			Backend:    gputypes.BackendVulkan,
		},
		APIVersion:    0x401000,
		MemoryTypes:   []compat.MemoryType{{Flags: compat.DeviceLocal}, {Flags: compat.HostVisible | compat.HostCoherent}},
		QueueFamilies: []compat.QueueFamily{{Flags: compat.Graphics | compat.Compute | compat.Transfer, Count: 2}},
	}
}

func captured() compat.Device {
	d := device(0xc0, "Capture GPU", 0x10de, 0x2684, gputypes.DeviceTypeDiscreteGPU)
	d.MemoryTypes = []compat.MemoryType{{Flags: compat.DeviceLocal, Used: true}}
	d.QueueFamilies = []compat.QueueFamily{{Flags: compat.Graphics | compat.Compute | compat.Transfer, Count: 16, Used: 1}}
	return d
}

func TestMemoryTypeSuperset(t *testing.T) {
	ctx := log.Testing(t)
	replayDev := device(0x1, "Replay GPU", 0x10de, 0x2684, gputypes.DeviceTypeDiscreteGPU)
	replayDev.MemoryTypes = []compat.MemoryType{
		{Flags: compat.DeviceLocal | compat.HostVisible},
		{Flags: compat.HostVisible},
	}
	reg := remap.NewRegistry()
	res, err := compat.Match(ctx, []compat.Device{captured()}, compat.Devices{replayDev}, reg, noOverride)
	assert.For(ctx, "err").ThatError(err).Succeeded()
	assert.For(ctx, "exact").ThatBoolean(res.Exact).IsTrue()

	got, ok := reg.Resolve(remap.MemoryType, compat.MemoryTypeKey(0, 0))
	assert.For(ctx, "mapped").ThatBoolean(ok).IsTrue()
	assert.For(ctx, "superset").That(got).Equals(remap.ReplayID(0))
}

func TestMemoryTypePrefersSameIndex(t *testing.T) {
	ctx := log.Testing(t)
	src := captured()
	src.MemoryTypes = []compat.MemoryType{
		{Flags: compat.DeviceLocal},
		{Flags: compat.HostVisible, Used: true},
		{Flags: compat.HostVisible | compat.HostCached, Used: true},
	}
	replayDev := device(0x1, "Replay GPU", 0x10de, 0x2684, gputypes.DeviceTypeDiscreteGPU)
	replayDev.MemoryTypes = []compat.MemoryType{
		{Flags: compat.DeviceLocal},
		{Flags: compat.HostVisible | compat.HostCoherent},
		{Flags: compat.HostVisible | compat.HostCoherent},
		{Flags: compat.HostVisible | compat.HostCached},
	}
	reg := remap.NewRegistry()
	_, err := compat.Match(ctx, []compat.Device{src}, compat.Devices{replayDev}, reg, noOverride)
	assert.For(ctx, "err").ThatError(err).Succeeded()
	for i, want := range []remap.ReplayID{0, 1, 3} {
		got, _ := reg.Resolve(remap.MemoryType, compat.MemoryTypeKey(0, i))
		assert.For(ctx, "type %d", i).That(got).Equals(want)
	}
}

func TestMemoryTypeUnmatched(t *testing.T) {
	ctx := log.Testing(t)
	src := captured()
	src.MemoryTypes = []compat.MemoryType{{Flags: compat.DeviceLocal | compat.ProtectedMemory, Used: true}}
	replayDev := device(0x1, "Replay GPU", 0x10de, 0x2684, gputypes.DeviceTypeDiscreteGPU)

	_, err := compat.Match(ctx, []compat.Device{src}, compat.Devices{replayDev}, remap.NewRegistry(), noOverride)
	assert.For(ctx, "strict").ThatError(err).HasCause(compat.ErrIncompatible)

	reg := remap.NewRegistry()
	opts := noOverride
	opts.BestEffort = true
	res, err := compat.Match(ctx, []compat.Device{src}, compat.Devices{replayDev}, reg, opts)
	assert.For(ctx, "best effort").ThatError(err).Succeeded()
	assert.For(ctx, "inexact").ThatBoolean(res.Exact).IsFalse()
	got, _ := reg.Resolve(remap.MemoryType, compat.MemoryTypeKey(0, 0))
	assert.For(ctx, "closest").That(got).Equals(remap.ReplayID(0))
}

func TestDeviceScoring(t *testing.T) {
	ctx := log.Testing(t)
	devices := compat.Devices{
		device(0x1, "Integrated", 0x8086, 0x46a6, gputypes.DeviceTypeIntegratedGPU),
		device(0x2, "Other discrete", 0x1002, 0x744c, gputypes.DeviceTypeDiscreteGPU),
		device(0x3, "Same vendor", 0x10de, 0x2204, gputypes.DeviceTypeDiscreteGPU),
		device(0x4, "Same device", 0x10de, 0x2684, gputypes.DeviceTypeDiscreteGPU),
	}
	reg := remap.NewRegistry()
	res, err := compat.Match(ctx, []compat.Device{captured()}, devices, reg, noOverride)
	assert.For(ctx, "err").ThatError(err).Succeeded()
	assert.For(ctx, "index").ThatInteger(res.Index).Equals(3)
	got, _ := reg.Resolve(remap.Device, 0xc0)
	assert.For(ctx, "device mapping").That(got).Equals(remap.ReplayID(0x4))
	assert.For(ctx, "records").ThatSlice(res.Records).IsNotEmpty()

	res, err = compat.Match(ctx, []compat.Device{captured()}, devices[:3], remap.NewRegistry(), noOverride)
	assert.For(ctx, "err").ThatError(err).Succeeded()
	assert.For(ctx, "vendor").ThatInteger(res.Index).Equals(2)
}

func TestDeviceTiesKeepEnumerationOrder(t *testing.T) {
	ctx := log.Testing(t)
	devices := compat.Devices{
		device(0x1, "First", 0x1002, 0x1, gputypes.DeviceTypeDiscreteGPU),
		device(0x2, "Second", 0x1002, 0x1, gputypes.DeviceTypeDiscreteGPU),
	}
	res, err := compat.Match(ctx, []compat.Device{captured()}, devices, remap.NewRegistry(), noOverride)
	assert.For(ctx, "err").ThatError(err).Succeeded()
	assert.For(ctx, "first").ThatInteger(res.Index).Equals(0)
}

func TestInfeasibleDeviceSkipped(t *testing.T) {
	ctx := log.Testing(t)
	exact := device(0x1, "Exact but host only", 0x10de, 0x2684, gputypes.DeviceTypeDiscreteGPU)
	exact.MemoryTypes = []compat.MemoryType{{Flags: compat.HostVisible}}
	devices := compat.Devices{exact, device(0x2, "Fits", 0x1002, 0x1, gputypes.DeviceTypeIntegratedGPU)}
	res, err := compat.Match(ctx, []compat.Device{captured()}, devices, remap.NewRegistry(), noOverride)
	assert.For(ctx, "err").ThatError(err).Succeeded()
	assert.For(ctx, "feasible").ThatInteger(res.Index).Equals(1)
}

func TestOverride(t *testing.T) {
	ctx := log.Testing(t)
	devices := compat.Devices{
		device(0x1, "Mesa Intel(R) Graphics", 0x8086, 0x46a6, gputypes.DeviceTypeIntegratedGPU),
		device(0x2, "NVIDIA GeForce RTX 4090", 0x10de, 0x2684, gputypes.DeviceTypeDiscreteGPU),
	}
	src := []compat.Device{captured()}

	res, err := compat.Match(ctx, src, devices, remap.NewRegistry(), compat.Options{})
	assert.For(ctx, "zero options err").ThatError(err).Succeeded()
	assert.For(ctx, "zero options").ThatInteger(res.Index).Equals(1)

	res, err = compat.Match(ctx, src, devices, remap.NewRegistry(), compat.Options{ForceIndex: true, DeviceIndex: 0})
	assert.For(ctx, "index err").ThatError(err).Succeeded()
	assert.For(ctx, "index").ThatInteger(res.Index).Equals(0)

	res, err = compat.Match(ctx, src, devices, remap.NewRegistry(), compat.Options{DeviceName: "intel"})
	assert.For(ctx, "name err").ThatError(err).Succeeded()
	assert.For(ctx, "name").ThatInteger(res.Index).Equals(0)

	_, err = compat.Match(ctx, src, devices, remap.NewRegistry(), compat.Options{ForceIndex: true, DeviceIndex: 5})
	assert.For(ctx, "bad index").ThatError(err).HasCause(compat.ErrBadOverride)
	_, err = compat.Match(ctx, src, devices, remap.NewRegistry(), compat.Options{ForceIndex: true, DeviceIndex: -1})
	assert.For(ctx, "negative index").ThatError(err).HasCause(compat.ErrBadOverride)
	_, err = compat.Match(ctx, src, devices, remap.NewRegistry(), compat.Options{DeviceName: "adreno"})
	assert.For(ctx, "bad name").ThatError(err).HasCause(compat.ErrBadOverride)
}

func TestSharedQueueFamilyCountedOnce(t *testing.T) {
	ctx := log.Testing(t)
	src := captured()
	src.QueueFamilies = []compat.QueueFamily{
		{Flags: compat.Graphics, Count: 1, Used: 1},
		{Flags: compat.Compute, Count: 1, Used: 1},
	}
	exact := device(0x1, "Exact", 0x10de, 0x2684, gputypes.DeviceTypeDiscreteGPU)
	exact.QueueFamilies = []compat.QueueFamily{{Flags: compat.Graphics | compat.Compute, Count: 1}}
	roomy := device(0x2, "Roomy", 0x1002, 0x1, gputypes.DeviceTypeDiscreteGPU)
	roomy.QueueFamilies = []compat.QueueFamily{{Flags: compat.Graphics | compat.Compute, Count: 2}}

	reg := remap.NewRegistry()
	res, err := compat.Match(ctx, []compat.Device{src}, compat.Devices{exact, roomy}, reg, noOverride)
	assert.For(ctx, "err").ThatError(err).Succeeded()
	assert.For(ctx, "index").ThatInteger(res.Index).Equals(1)
	got, _ := reg.Resolve(remap.Queue, compat.QueueKey(0, 1, 0))
	assert.For(ctx, "compute queue").That(got).Equals(compat.QueueReplay(0, 1))

	_, err = compat.Match(ctx, []compat.Device{src}, compat.Devices{exact}, remap.NewRegistry(), noOverride)
	assert.For(ctx, "exact alone").ThatError(err).HasCause(compat.ErrIncompatible)
}

func TestQueues(t *testing.T) {
	ctx := log.Testing(t)
	src := captured()
	src.QueueFamilies = []compat.QueueFamily{
		{Flags: compat.Graphics | compat.Compute | compat.Transfer, Count: 16, Used: 2},
		{Flags: compat.Transfer, Count: 2, Used: 1},
	}
	replayDev := device(0x1, "Replay GPU", 0x10de, 0x2684, gputypes.DeviceTypeDiscreteGPU)
	replayDev.QueueFamilies = []compat.QueueFamily{
		{Flags: compat.Graphics | compat.Compute | compat.Transfer, Count: 2},
		{Flags: compat.Compute | compat.Transfer, Count: 1},
	}
	reg := remap.NewRegistry()
	_, err := compat.Match(ctx, []compat.Device{src}, compat.Devices{replayDev}, reg, noOverride)
	assert.For(ctx, "err").ThatError(err).Succeeded()

	for _, test := range []struct {
		family, index int
		want          remap.ReplayID
	}{
		{0, 0, compat.QueueReplay(0, 0)},
		{0, 1, compat.QueueReplay(0, 1)},
		{1, 0, compat.QueueReplay(1, 0)},
	} {
		got, ok := reg.Resolve(remap.Queue, compat.QueueKey(0, test.family, test.index))
		assert.For(ctx, "queue %d.%d ok", test.family, test.index).ThatBoolean(ok).IsTrue()
		assert.For(ctx, "queue %d.%d", test.family, test.index).That(got).Equals(test.want)
	}
	family, index := compat.SplitQueue(compat.QueueReplay(1, 0))
	assert.For(ctx, "split").ThatSlice([]int{family, index}).Equals([]int{1, 0})
}

func TestQueuesInsufficient(t *testing.T) {
	ctx := log.Testing(t)
	src := captured()
	src.QueueFamilies = []compat.QueueFamily{{Flags: compat.Graphics, Count: 16, Used: 3}}
	replayDev := device(0x1, "Replay GPU", 0x10de, 0x2684, gputypes.DeviceTypeDiscreteGPU)

	_, err := compat.Match(ctx, []compat.Device{src}, compat.Devices{replayDev}, remap.NewRegistry(), noOverride)
	assert.For(ctx, "strict").ThatError(err).HasCause(compat.ErrIncompatible)

	reg := remap.NewRegistry()
	opts := noOverride
	opts.BestEffort = true
	res, err := compat.Match(ctx, []compat.Device{src}, compat.Devices{replayDev}, reg, opts)
	assert.For(ctx, "best effort").ThatError(err).Succeeded()
	assert.For(ctx, "inexact").ThatBoolean(res.Exact).IsFalse()
	got, _ := reg.Resolve(remap.Queue, compat.QueueKey(0, 0, 2))
	assert.For(ctx, "wrapped").That(got).Equals(compat.QueueReplay(0, 0))
}

func TestNoDevices(t *testing.T) {
	ctx := log.Testing(t)
	_, err := compat.Match(ctx, []compat.Device{captured()}, compat.Devices{}, remap.NewRegistry(), noOverride)
	assert.For(ctx, "err").ThatError(err).Equals(compat.ErrNoDevices)
}

func TestFlagString(t *testing.T) {
	ctx := log.Testing(t)
	assert.For(ctx, "memory").ThatString((compat.DeviceLocal | compat.HostVisible).String()).Equals("DEVICE_LOCAL|HOST_VISIBLE")
	assert.For(ctx, "queue").ThatString(compat.Graphics.String()).Equals("GRAPHICS")
	assert.For(ctx, "none").ThatString(compat.MemoryFlags(0).String()).Equals("0")
}
