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

package compat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gfxsync/gfxsync/core/fault"
	"github.com/gfxsync/gfxsync/core/log"
	"github.com/gfxsync/gfxsync/gapis/config"
	"github.com/gfxsync/gfxsync/gapis/remap"
	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gfxsync/gfxsync/gapis/compat"

const (
	// ErrNoDevices is returned when the enumerator offers no devices.
	ErrNoDevices = fault.Const("no replay devices available")
	// ErrBadOverride is returned when a device override matches nothing.
	ErrBadOverride = fault.Const("device override matches no device")
	// ErrIncompatible is returned when the trace's requirements cannot be
	// met and best effort is disabled.
	ErrIncompatible = fault.Const("no compatible replay device")
)

// Record describes one capture/replay pairing considered while matching.
// Records are only returned to the caller and never stored.
type Record struct {
	Category remap.Category
	Capture  string
	Replay   string
	Score    int
	Reasons  []string
}

// Result is the outcome of a matching pass.
type Result struct {
	// Device is the chosen replay device and Index its enumeration index.
	Device Device
	Index  int
	// Exact is false if best effort had to relax a requirement.
	Exact   bool
	Records []Record
}

type candidate struct {
	index    int
	device   Device
	score    int
	feasible bool
	reasons  []string
}

type candidates []candidate

func (c candidates) Len() int           { return len(c) }
func (c candidates) Less(i, j int) bool { return c[i].score > c[j].score }
func (c candidates) Swap(i, j int)      { c[i], c[j] = c[j], c[i] }

// Match picks the replay device for the captured devices and registers
// device, memory type, queue family and queue mappings in reg.
//
// Unless overridden by opts, every enumerated device is scored against all
// captured devices and the best wins, with ties going to the earlier
// device. All captured devices are mapped onto the single chosen device.
func Match(ctx context.Context, captured []Device, enum Enumerator, reg *remap.Registry, opts Options) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "compat.Match",
		trace.WithAttributes(
			attribute.Int("captured", len(captured)),
			attribute.Bool("best_effort", opts.BestEffort),
		),
	)
	defer span.End()
	res, err := match(log.Enter(ctx, "Match"), captured, enum, reg, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no compatible device")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("device", res.Device.Info.Name),
		attribute.Bool("exact", res.Exact),
	)
	return res, nil
}

func match(ctx context.Context, captured []Device, enum Enumerator, reg *remap.Registry, opts Options) (*Result, error) {
	devices, err := enum.Devices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "enumerating replay devices")
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	res := &Result{Exact: true}
	all := make(candidates, len(devices))
	for i, d := range devices {
		all[i] = score(ctx, captured, i, d, opts, res)
	}

	chosen, err := choose(all, opts)
	if err != nil {
		return nil, err
	}
	if !chosen.feasible {
		if !opts.BestEffort {
			return nil, errors.Wrapf(ErrIncompatible, "best candidate %v: %s", chosen.device, strings.Join(chosen.reasons, "; "))
		}
		log.W(ctx, "REPLAY MAY BE INCORRECT: %v does not satisfy the trace (%s). Continuing with best effort.",
			chosen.device, strings.Join(chosen.reasons, "; "))
		res.Exact = false
	}
	res.Device, res.Index = chosen.device, chosen.index
	log.I(log.V{"device": chosen.device.Info.Name, "score": chosen.score}.Bind(ctx), "Replaying on %v", chosen.device)

	for ord, c := range captured {
		reg.AddMapping(ctx, remap.Device, remap.CaptureID(c.Handle), remap.ReplayID(chosen.device.Handle))
		if err := matchMemoryTypes(ctx, ord, c, chosen.device, reg, opts, res); err != nil {
			return nil, err
		}
		if err := matchQueues(ctx, ord, c, chosen.device, reg, opts, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func choose(all candidates, opts Options) (candidate, error) {
	switch {
	case opts.ForceIndex:
		if opts.DeviceIndex < 0 || opts.DeviceIndex >= len(all) {
			return candidate{}, errors.Wrapf(ErrBadOverride, "index %d of %d devices", opts.DeviceIndex, len(all))
		}
		return all[opts.DeviceIndex], nil
	case opts.DeviceName != "":
		want := strings.ToLower(opts.DeviceName)
		for _, c := range all {
			if strings.Contains(strings.ToLower(c.device.Info.Name), want) {
				return c, nil
			}
		}
		return candidate{}, errors.Wrapf(ErrBadOverride, "name %q", opts.DeviceName)
	}
	sorted := append(candidates(nil), all...)
	sort.Stable(sorted)
	for _, c := range sorted {
		if c.feasible {
			return c, nil
		}
	}
	return sorted[0], nil
}

// score rates replay device d for all captured devices.
func score(ctx context.Context, captured []Device, index int, d Device, opts Options, res *Result) candidate {
	c := candidate{index: index, device: d, feasible: true}
	for _, src := range captured {
		s, reasons := scorePair(src, d, opts)
		if err := memoryFeasible(src, d); err != nil {
			c.feasible = false
			reasons = append(reasons, err.Error())
		}
		if err := queuesFeasible(src, d); err != nil {
			c.feasible = false
			reasons = append(reasons, err.Error())
		}
		c.score += s
		c.reasons = append(c.reasons, reasons...)
		res.Records = append(res.Records, Record{
			Category: remap.Device,
			Capture:  src.String(),
			Replay:   d.String(),
			Score:    s,
			Reasons:  reasons,
		})
	}
	if config.DebugCompat {
		log.D(ctx, "Candidate %d %v: score %d feasible %v", index, d, c.score, c.feasible)
	}
	return c
}

func scorePair(src, d Device, opts Options) (int, []string) {
	s, reasons := 0, []string{}
	switch {
	case src.Info.VendorID == d.Info.VendorID && src.Info.DeviceID == d.Info.DeviceID:
		s += 1000
	case src.Info.VendorID == d.Info.VendorID:
		s += 100
		reasons = append(reasons, fmt.Sprintf("device id %04x != %04x", d.Info.DeviceID, src.Info.DeviceID))
	default:
		reasons = append(reasons, fmt.Sprintf("vendor %04x != %04x", d.Info.VendorID, src.Info.VendorID))
	}
	switch d.Info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		s += 50
		if opts.PowerPreference == gputypes.PowerPreferenceHighPerformance {
			s += 50
		}
	case gputypes.DeviceTypeIntegratedGPU:
		s += 20
		if opts.PowerPreference == gputypes.PowerPreferenceLowPower {
			s += 80
		}
	case gputypes.DeviceTypeVirtualGPU:
		s += 10
	}
	if src.Info.DeviceType == d.Info.DeviceType {
		s += 10
	}
	if src.Info.Backend == d.Info.Backend {
		s += 30
	} else {
		reasons = append(reasons, fmt.Sprintf("backend %v != %v", d.Info.Backend, src.Info.Backend))
	}
	if d.APIVersion >= src.APIVersion {
		s += 10
	} else {
		reasons = append(reasons, fmt.Sprintf("api version %#x < %#x", d.APIVersion, src.APIVersion))
	}
	if d.DriverVersion == src.DriverVersion {
		s += 5
	}
	return s, reasons
}

// memoryTypeFor returns the replay memory type for captured type index,
// preferring the same index, then the first superset. It returns -1 if no
// type has every required flag.
func memoryTypeFor(index int, required MemoryFlags, d Device) int {
	if index < len(d.MemoryTypes) && d.MemoryTypes[index].Flags.Contains(required) {
		return index
	}
	for i, t := range d.MemoryTypes {
		if t.Flags.Contains(required) {
			return i
		}
	}
	return -1
}

// closestMemoryType returns the type sharing the most flags with required.
func closestMemoryType(required MemoryFlags, d Device) int {
	best, bestShared := -1, -1
	for i, t := range d.MemoryTypes {
		if n := shared(uint32(t.Flags), uint32(required)); n > bestShared {
			best, bestShared = i, n
		}
	}
	return best
}

func memoryFeasible(src, d Device) error {
	for i, t := range src.MemoryTypes {
		if t.Used && memoryTypeFor(i, t.Flags, d) < 0 {
			return fmt.Errorf("no memory type with %v", t.Flags)
		}
	}
	return nil
}

func matchMemoryTypes(ctx context.Context, ord int, src, d Device, reg *remap.Registry, opts Options, res *Result) error {
	for i, t := range src.MemoryTypes {
		r := memoryTypeFor(i, t.Flags, d)
		rec := Record{
			Category: remap.MemoryType,
			Capture:  fmt.Sprintf("%d:%d %v", ord, i, t.Flags),
			Score:    1,
		}
		if r < 0 {
			if !t.Used {
				continue
			}
			if !opts.BestEffort || len(d.MemoryTypes) == 0 {
				return errors.Wrapf(ErrIncompatible, "memory type %d (%v) of device %d", i, t.Flags, ord)
			}
			r = closestMemoryType(t.Flags, d)
			rec.Score = 0
			rec.Reasons = []string{"closest flags"}
			log.W(ctx, "No memory type with %v, using %d (%v)", t.Flags, r, d.MemoryTypes[r].Flags)
			res.Exact = false
		}
		rec.Replay = fmt.Sprintf("%d %v", r, d.MemoryTypes[r].Flags)
		res.Records = append(res.Records, rec)
		reg.AddMapping(ctx, remap.MemoryType, MemoryTypeKey(ord, i), remap.ReplayID(r))
	}
	return nil
}

// queuesFeasible checks that the family assignment matchQueues makes gives
// every captured family enough free queues on d.
func queuesFeasible(src, d Device) error {
	used := make([]int, len(d.QueueFamilies))
	for fi, f := range src.QueueFamilies {
		if f.Used == 0 {
			continue
		}
		r := queueFamilyFor(fi, f.Flags, f.Used, d, used)
		if r < 0 {
			return fmt.Errorf("no %v queue family for family %d", f.Flags, fi)
		}
		if free := d.QueueFamilies[r].Count - used[r]; f.Used > free {
			return fmt.Errorf("%d %v queues needed by family %d, %d free in family %d", f.Used, f.Flags, fi, free, r)
		}
		used[r] += f.Used
	}
	return nil
}

// queueFamilyFor returns the replay family for a captured family needing
// need queues, preferring the same index, then the first superset with
// enough free queues, then any superset.
func queueFamilyFor(index int, flags QueueFlags, need int, d Device, used []int) int {
	fits := func(i int) bool {
		f := d.QueueFamilies[i]
		return f.Flags.Contains(flags) && used[i]+need <= f.Count
	}
	if index < len(d.QueueFamilies) && fits(index) {
		return index
	}
	first := -1
	for i, f := range d.QueueFamilies {
		if !f.Flags.Contains(flags) {
			continue
		}
		if fits(i) {
			return i
		}
		if first < 0 {
			first = i
		}
	}
	return first
}

func closestQueueFamily(flags QueueFlags, d Device) int {
	best, bestShared := -1, -1
	for i, f := range d.QueueFamilies {
		if n := shared(uint32(f.Flags), uint32(flags)); n > bestShared && f.Count > 0 {
			best, bestShared = i, n
		}
	}
	return best
}

func matchQueues(ctx context.Context, ord int, src, d Device, reg *remap.Registry, opts Options, res *Result) error {
	if err := queuesFeasible(src, d); err != nil && !opts.BestEffort {
		return errors.Wrapf(ErrIncompatible, "device %d: %v", ord, err)
	}
	used := make([]int, len(d.QueueFamilies))
	for fi, f := range src.QueueFamilies {
		if f.Used == 0 {
			continue
		}
		r := queueFamilyFor(fi, f.Flags, f.Used, d, used)
		if r < 0 {
			if !opts.BestEffort {
				return errors.Wrapf(ErrIncompatible, "queue family %d (%v) of device %d", fi, f.Flags, ord)
			}
			if r = closestQueueFamily(f.Flags, d); r < 0 {
				return errors.Wrapf(ErrIncompatible, "device %v has no queues", d)
			}
			log.W(ctx, "No queue family with %v, using %d (%v)", f.Flags, r, d.QueueFamilies[r].Flags)
			res.Exact = false
		}
		rf := d.QueueFamilies[r]
		if rf.Count == 0 {
			return errors.Wrapf(ErrIncompatible, "queue family %d of %v has no queues", r, d)
		}
		reg.AddMapping(ctx, remap.QueueFamily, QueueFamilyKey(ord, fi), remap.ReplayID(r))
		for q := 0; q < f.Used; q++ {
			ri := used[r]
			if ri >= rf.Count {
				if !opts.BestEffort {
					return errors.Wrapf(ErrIncompatible, "queue %d of family %d (%v) of device %d", q, fi, f.Flags, ord)
				}
				ri %= rf.Count
				res.Exact = false
			}
			used[r]++
			reg.AddMapping(ctx, remap.Queue, QueueKey(ord, fi, q), QueueReplay(r, ri))
		}
		res.Records = append(res.Records, Record{
			Category: remap.QueueFamily,
			Capture:  fmt.Sprintf("%d:%d %v x%d", ord, fi, f.Flags, f.Used),
			Replay:   fmt.Sprintf("%d %v x%d", r, rf.Flags, rf.Count),
			Score:    1,
		})
	}
	return nil
}
