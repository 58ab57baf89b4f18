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

package state

import (
	"context"
	"sort"

	"github.com/gfxsync/gfxsync/core/fault"
	"github.com/gfxsync/gfxsync/core/log"
	"github.com/gfxsync/gfxsync/gapis/config"
	"github.com/gfxsync/gfxsync/gapis/remap"
	"github.com/gfxsync/gfxsync/gapis/replay"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoRegistry is returned when scheduling without an identity registry.
const ErrNoRegistry = fault.Const("no remap registry")

// ScheduleOptions controls how a snapshot is scheduled.
type ScheduleOptions struct {
	// Registry resolves capture-time references to replay-time ones.
	Registry *remap.Registry
	// Tolerance is the relative tolerance used to compare floats.
	Tolerance float64
	// Upstream lists objects created by a schedule that is guaranteed to
	// execute before this one. References to them are emitted as pending.
	Upstream []Ref
	// IncludeShared schedules the group's shared state along with the
	// context's private state, for a context replayed on its own.
	IncludeShared bool
}

// Schedule is the ordered call sequence that moves a replay context from a
// reference state to a captured state.
type Schedule struct {
	Calls []replay.Call
	// Unusable lists the objects with a required reference that could not
	// be resolved. Their calls after the failure were dropped.
	Unusable []Ref
	// Created lists the objects created by Calls.
	Created []Ref
}

// ScheduleDiff returns the calls that bring a replay context holding the
// reference state to the state held by s. A nil reference stands for a
// freshly created context. Only variables that differ produce calls.
//
// Calls are ordered by phase, then by kind registration order. Ambient
// selector state changed to reach indexed or per-object state is restored
// before fixed-function state is set.
func (s *Snapshot) ScheduleDiff(ctx context.Context, reference *Snapshot, opts ScheduleOptions) (*Schedule, error) {
	target, base := s.private, map[Key]Value{}
	if reference != nil {
		base = reference.private
	}
	if opts.IncludeShared {
		target = merge(s.private, s.shared)
		if reference != nil {
			base = merge(reference.private, reference.shared)
		}
	}
	return s.schedule(ctx, "state.ScheduleDiff", target, base, opts)
}

// ScheduleShared returns the calls that reconstruct the sharing group's
// shared state. It is run once per group, before any member's ScheduleDiff.
func (s *Snapshot) ScheduleShared(ctx context.Context, reference *Snapshot, opts ScheduleOptions) (*Schedule, error) {
	base := map[Key]Value{}
	if reference != nil {
		base = reference.shared
	}
	return s.schedule(ctx, "state.ScheduleShared", s.shared, base, opts)
}

func merge(maps ...map[Key]Value) map[Key]Value {
	out := map[Key]Value{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func (s *Snapshot) schedule(ctx context.Context, name string, target, base map[Key]Value, opts ScheduleOptions) (*Schedule, error) {
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, name,
		trace.WithAttributes(attribute.Int64("context", int64(s.context))),
	)
	defer span.End()
	ctx = log.V{"context": s.context}.Bind(ctx)

	if opts.Tolerance <= 0 {
		opts.Tolerance = config.Default().FloatTolerance
	}
	sc := &scheduler{
		context:  s.context,
		opts:     opts,
		target:   target,
		base:     base,
		view:     map[Key]Value{},
		created:  map[Ref]bool{},
		upstream: map[Ref]bool{},
		unusable: map[Ref]bool{},
		out:      &Schedule{},
	}
	for _, r := range opts.Upstream {
		sc.upstream[r] = true
	}
	sc.run(ctx)

	span.SetAttributes(
		attribute.Int("calls", len(sc.out.Calls)),
		attribute.Int("unusable", len(sc.out.Unusable)),
	)
	if config.DebugSchedule {
		for _, c := range sc.out.Calls {
			log.D(ctx, "%v", c)
		}
	}
	return sc.out, nil
}

type scheduler struct {
	context  uint64
	opts     ScheduleOptions
	target   map[Key]Value
	base     map[Key]Value
	view     map[Key]Value // selector values as they stand on the replay side
	created  map[Ref]bool
	upstream map[Ref]bool
	unusable map[Ref]bool
	restored bool
	out      *Schedule
}

func (s *scheduler) run(ctx context.Context) {
	keys := make([]Key, 0, len(s.target)+len(s.base))
	seen := make(map[Key]bool, len(s.target)+len(s.base))
	for _, m := range []map[Key]Value{s.target, s.base} {
		for k := range m {
			if d := Describe(k.Kind); d != nil && !d.ReadOnly && !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })

	for _, key := range keys {
		d := Describe(key.Kind)
		if d.Phase > replay.BindBound {
			s.restoreSelectors(ctx)
		}
		if IsSelector(key.Kind) {
			continue
		}
		tv, inTarget := s.target[key]
		bv, inBase := s.base[key]
		if d.Existence {
			s.existence(ctx, d, key, tv, inTarget, inBase)
			continue
		}
		if d.PerObject() {
			obj := Ref{d.Object, key.Object}
			if !s.exists(obj) || s.unusable[obj] {
				continue
			}
		}
		if !inTarget {
			tv = d.Default
		}
		if !inBase {
			bv = d.Default
		}
		if Equal(tv, bv, s.opts.Tolerance) {
			continue
		}
		s.emit(ctx, d, key, tv)
	}
	s.restoreSelectors(ctx)
}

// exists returns true if obj exists in the target state.
func (s *scheduler) exists(obj Ref) bool {
	k, found := existence[obj.Category]
	if !found {
		return false
	}
	_, found = s.target[Key{Kind: k, Object: obj.ID}]
	return found
}

func (s *scheduler) existence(ctx context.Context, d *Descriptor, key Key, v Value, inTarget, inBase bool) {
	obj := Ref{d.Object, key.Object}
	switch {
	case inTarget && !inBase:
		s.out.Calls = append(s.out.Calls, replay.Call{
			Context: s.context,
			Phase:   d.Phase,
			Kind:    uint32(d.Kind),
			Func:    d.Func,
			Object:  replay.Handle{Category: obj.Category, Capture: obj.ID, Pending: true},
			Ints:    append([]int64(nil), v.Ints...),
		})
		s.created[obj] = true
		s.out.Created = append(s.out.Created, obj)

	case !inTarget && inBase:
		id, ok := s.opts.Registry.Resolve(obj.Category, obj.ID)
		if !ok {
			log.W(ctx, "Not deleting %v: it has no replay object", obj)
			return
		}
		s.out.Calls = append(s.out.Calls, replay.Call{
			Context: s.context,
			Phase:   d.Phase,
			Kind:    uint32(d.Kind),
			Func:    d.DeleteFunc,
			Object:  replay.Handle{Category: obj.Category, Capture: obj.ID, Replay: id},
		})
	}
}

// handle resolves r to a replay handle.
func (s *scheduler) handle(r Ref) (replay.Handle, bool) {
	h := replay.Handle{Category: r.Category, Capture: r.ID}
	switch {
	case r.IsNull():
		return h, true
	case s.created[r] || s.upstream[r]:
		h.Pending = true
		return h, true
	}
	id, ok := s.opts.Registry.Resolve(r.Category, r.ID)
	h.Replay = id
	return h, ok
}

func (s *scheduler) markUnusable(ctx context.Context, obj Ref, why string, args ...interface{}) {
	if s.unusable[obj] {
		return
	}
	s.unusable[obj] = true
	s.out.Unusable = append(s.out.Unusable, obj)
	log.W(log.V{"object": obj.String()}.Bind(ctx), "Skipping remaining state of %v: "+why, append([]interface{}{obj}, args...)...)
}

// emit appends the call that sets key to v, resolving every reference.
// Nothing is emitted if a reference cannot be resolved.
func (s *scheduler) emit(ctx context.Context, d *Descriptor, key Key, v Value) {
	call := replay.Call{
		Context: s.context,
		Phase:   d.Phase,
		Kind:    uint32(d.Kind),
		Func:    d.Func,
		Index:   key.Index,
		Ints:    append([]int64(nil), v.Ints...),
		Floats:  append([]float64(nil), v.Floats...),
		Bytes:   v.Bytes,
		Blob:    v.Blob,
	}
	var obj Ref
	if d.PerObject() {
		obj = Ref{d.Object, key.Object}
		h, ok := s.handle(obj)
		if !ok {
			s.markUnusable(ctx, obj, "it has no replay object")
			return
		}
		call.Object = h
	}
	for _, r := range v.Refs {
		h, ok := s.handle(r)
		if !ok {
			if d.Required && d.PerObject() {
				s.markUnusable(ctx, obj, "%v references unresolved %v", key, r)
			} else {
				log.W(ctx, "Skipping %v: references unresolved %v", key, r)
			}
			return
		}
		call.Refs = append(call.Refs, h)
	}
	if d.Selector != Invalid && !s.selectFor(ctx, d, key) {
		return
	}
	s.out.Calls = append(s.out.Calls, call)
	if IsSelector(d.Kind) {
		s.view[key] = v
	}
}

// current returns the replay-side value of the selector k.
func (s *scheduler) current(k Key) Value {
	if v, found := s.view[k]; found {
		return v
	}
	if v, found := s.base[k]; found {
		return v
	}
	return Describe(k.Kind).Default
}

// selectFor emits the selector change needed before writing key.
func (s *scheduler) selectFor(ctx context.Context, d *Descriptor, key Key) bool {
	sel := Key{Kind: d.Selector}
	want := selection(d, key)
	if Equal(s.current(sel), want, 0) {
		return true
	}
	sd := Describe(d.Selector)
	call := replay.Call{
		Context: s.context,
		Phase:   d.Phase,
		Kind:    uint32(sd.Kind),
		Func:    sd.Func,
		Ints:    want.Ints,
	}
	for _, r := range want.Refs {
		h, ok := s.handle(r)
		if !ok {
			s.markUnusable(ctx, r, "cannot select it for %v", key)
			return false
		}
		call.Refs = append(call.Refs, h)
	}
	s.out.Calls = append(s.out.Calls, call)
	s.view[sel] = want
	return true
}

// restoreSelectors sets every selector to its target value, once.
func (s *scheduler) restoreSelectors(ctx context.Context) {
	if s.restored {
		return
	}
	s.restored = true
	for _, k := range Kinds() {
		if !IsSelector(k) {
			continue
		}
		key := Key{Kind: k}
		want, inTarget := s.target[key]
		_, perturbed := s.view[key]
		if !inTarget {
			if !perturbed {
				continue
			}
			want = Describe(k).Default
			if v, found := s.base[key]; found {
				want = v
			}
		}
		if Equal(s.current(key), want, s.opts.Tolerance) {
			continue
		}
		s.emit(ctx, Describe(k), key, want)
	}
}
