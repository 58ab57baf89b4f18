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

package state_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/gfxsync/gfxsync/core/assert"
	"github.com/gfxsync/gfxsync/core/fault"
	"github.com/gfxsync/gfxsync/core/log"
	"github.com/gfxsync/gfxsync/gapis/database"
	"github.com/gfxsync/gfxsync/gapis/remap"
	"github.com/gfxsync/gfxsync/gapis/replay"
	"github.com/gfxsync/gfxsync/gapis/state"
	"github.com/gfxsync/gfxsync/gapis/state/testgl"
)

const (
	glFloat     = 0x1406
	glRGBA      = 0x1908
	glLinear    = 0x2601
	glClamp     = 0x812F
	glBlend     = 0x0BE2
	glTexture2D = 0x0DE1
)

type scene struct {
	ctx  *testgl.Context
	buf  remap.CaptureID
	tex  remap.CaptureID
	prog remap.CaptureID
	vao  remap.CaptureID
}

func must(ctx context.Context, err error) {
	assert.For(ctx, "err").ThatError(err).Succeeded()
}

func create(ctx context.Context, c *testgl.Context, cat remap.Category) remap.CaptureID {
	id, err := c.Create(cat)
	must(ctx, err)
	return id
}

func set(ctx context.Context, c *testgl.Context, k state.Key, v state.Value) {
	must(ctx, c.Set(ctx, k, v))
}

func refs(cat remap.Category, id remap.CaptureID) []state.Ref {
	return []state.Ref{{Category: cat, ID: id}}
}

// newScene builds a context with a little of every kind of state.
func newScene(ctx context.Context, dev *testgl.Device, id uint64) scene {
	c := dev.NewContext(id)
	s := scene{ctx: c}
	s.buf = create(ctx, c, remap.Buffer)
	s.tex = create(ctx, c, remap.Texture)
	s.prog = create(ctx, c, remap.Program)
	s.vao = create(ctx, c, remap.VertexArray)

	set(ctx, c, state.Key{Kind: state.BufferData, Object: s.buf}, state.Value{Bytes: bytes.Repeat([]byte{0xab}, 64)})
	set(ctx, c, state.Key{Kind: state.TextureImage, Object: s.tex}, state.Value{
		Ints:  []int64{2, 2, glRGBA},
		Bytes: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	})
	set(ctx, c, state.Key{Kind: state.TextureParams, Object: s.tex}, state.Value{Ints: []int64{glLinear, glLinear, glClamp, glClamp}})

	set(ctx, c, state.Key{Kind: state.ActiveVertexArray}, state.Value{Refs: refs(remap.VertexArray, s.vao)})
	set(ctx, c, state.Key{Kind: state.VertexAttrib, Object: s.vao, Index: 1}, state.Value{
		Ints: []int64{3, glFloat, 0, 12, 0, 1},
		Refs: refs(remap.Buffer, s.buf),
	})
	set(ctx, c, state.Key{Kind: state.ActiveTexture}, state.Value{Ints: []int64{2}})
	set(ctx, c, state.Key{Kind: state.TextureBinding2D, Index: 2}, state.Value{Ints: []int64{glTexture2D}, Refs: refs(remap.Texture, s.tex)})
	set(ctx, c, state.Key{Kind: state.ActiveTexture}, state.Value{Ints: []int64{1}})
	set(ctx, c, state.Key{Kind: state.ArrayBufferBinding}, state.Value{Ints: []int64{0x8892}, Refs: refs(remap.Buffer, s.buf)})
	set(ctx, c, state.Key{Kind: state.CurrentProgram}, state.Value{Refs: refs(remap.Program, s.prog)})

	set(ctx, c, state.Key{Kind: state.Viewport}, state.Value{Ints: []int64{0, 0, 640, 480}})
	set(ctx, c, state.Key{Kind: state.ClearColor}, state.Value{Floats: []float64{0.1, 0.2, 0.3, 1}})
	set(ctx, c, state.Key{Kind: state.Blend}, state.Value{Ints: []int64{glBlend, 1}})
	set(ctx, c, state.Key{Kind: state.LineWidth}, state.Value{Floats: []float64{2.5}})
	return s
}

func capture(ctx context.Context, live state.Live, groups *state.Groups, store database.Store) *state.Snapshot {
	s, err := state.Capture(ctx, live, groups, state.CaptureOptions{InlineLimit: 8, Store: store})
	must(ctx, err)
	return s
}

func TestCaptureRestoresSelectors(t *testing.T) {
	ctx := log.Testing(t)
	s := newScene(ctx, testgl.NewDevice(1), 1)
	snap := capture(ctx, s.ctx, &state.Groups{}, nil)

	unit, err := s.ctx.Get(ctx, state.Key{Kind: state.ActiveTexture})
	must(ctx, err)
	assert.For(ctx, "active texture").That(unit.Ints).DeepEquals([]int64{1})
	bound, err := s.ctx.Get(ctx, state.Key{Kind: state.ActiveVertexArray})
	must(ctx, err)
	assert.For(ctx, "bound vao").That(bound.Refs).DeepEquals(refs(remap.VertexArray, s.vao))

	v, ok := snap.Variable(state.Key{Kind: state.TextureBinding2D, Index: 2})
	assert.For(ctx, "unit 2 ok").ThatBoolean(ok).IsTrue()
	assert.For(ctx, "unit 2").That(v.Refs).DeepEquals(refs(remap.Texture, s.tex))
	assert.For(ctx, "failures").ThatSlice(snap.Failures()).IsEmpty()
}

func TestSelectorRestoredOnFailure(t *testing.T) {
	ctx := log.Testing(t)
	s := newScene(ctx, testgl.NewDevice(1), 1)
	set(ctx, s.ctx, state.Key{Kind: state.ActiveVertexArray}, state.Value{Refs: refs(remap.VertexArray, 0)})
	s.ctx.Fail[state.VertexAttrib] = fault.Const("attrib query failed")

	snap := capture(ctx, s.ctx, &state.Groups{}, nil)
	bound, err := s.ctx.Get(ctx, state.Key{Kind: state.ActiveVertexArray})
	must(ctx, err)
	assert.For(ctx, "bound vao").That(bound.Refs).DeepEquals(refs(remap.VertexArray, 0))
	assert.For(ctx, "failures").ThatSlice(snap.Failures()).IsLength(testgl.Attribs)
}

func TestCaptureFailureFallsBack(t *testing.T) {
	ctx := log.Testing(t)
	s := newScene(ctx, testgl.NewDevice(1), 1)
	s.ctx.Fail[state.Viewport] = fault.Const("lost")

	snap := capture(ctx, s.ctx, &state.Groups{}, nil)
	viewport, ok := snap.Variable(state.Key{Kind: state.Viewport})
	assert.For(ctx, "viewport ok").ThatBoolean(ok).IsTrue()
	assert.For(ctx, "viewport").That(viewport.Ints).DeepEquals(state.Describe(state.Viewport).Default.Ints)
	clear, _ := snap.Variable(state.Key{Kind: state.ClearColor})
	assert.For(ctx, "clear color").That(clear.Floats).DeepEquals([]float64{0.1, 0.2, 0.3, 1})
	assert.For(ctx, "failures").ThatSlice(snap.Failures()).IsLength(1)
}

func TestLargePayloadsOffloaded(t *testing.T) {
	ctx := log.Testing(t)
	store := database.NewInMemory()
	s := newScene(ctx, testgl.NewDevice(1), 1)
	snap := capture(ctx, s.ctx, &state.Groups{}, store)

	data, _ := snap.Variable(state.Key{Kind: state.BufferData, Object: s.buf})
	assert.For(ctx, "inline").ThatSlice(data.Bytes).IsEmpty()
	assert.For(ctx, "blob").ThatBoolean(data.Blob.IsValid()).IsTrue()
	got, err := store.Get(ctx, data.Blob)
	must(ctx, err)
	assert.For(ctx, "stored").ThatSlice(got).Equals(bytes.Repeat([]byte{0xab}, 64))
}

// translate maps a value captured on the application context into the id
// space of the replay context.
func translate(ctx context.Context, reg *remap.Registry, k state.Key, v state.Value) (state.Key, state.Value) {
	d := state.Describe(k.Kind)
	if d.PerObject() {
		id, ok := reg.Resolve(d.Object, k.Object)
		assert.For(ctx, "%v mapped", k).ThatBoolean(ok).IsTrue()
		k.Object = remap.CaptureID(id)
	}
	v = v.Clone()
	for i, r := range v.Refs {
		if !r.IsNull() {
			id, ok := reg.Resolve(r.Category, r.ID)
			assert.For(ctx, "%v mapped", r).ThatBoolean(ok).IsTrue()
			v.Refs[i].ID = remap.CaptureID(id)
		}
	}
	return k, v
}

func TestRoundTrip(t *testing.T) {
	ctx := log.Testing(t)
	store := database.NewInMemory()
	app := newScene(ctx, testgl.NewDevice(1), 1)
	snap := capture(ctx, app.ctx, &state.Groups{}, store)

	reg := remap.NewRegistry()
	sched, err := snap.ScheduleDiff(ctx, nil, state.ScheduleOptions{Registry: reg, IncludeShared: true})
	must(ctx, err)
	assert.For(ctx, "unusable").ThatSlice(sched.Unusable).IsEmpty()
	assert.For(ctx, "created").ThatSlice(sched.Created).IsLength(4)

	target := testgl.NewDevice(1000).NewContext(100)
	must(ctx, testgl.Executor{Registry: reg, Store: store}.Execute(ctx, target, sched.Calls))
	again := capture(ctx, target, &state.Groups{}, store)

	vars := snap.Variables()
	assert.For(ctx, "count").ThatSlice(again.Variables()).IsLength(len(vars))
	for _, v := range vars {
		k, want := translate(ctx, reg, v.Key, v.Value)
		got, ok := again.Variable(k)
		assert.For(ctx, "%v present", k).ThatBoolean(ok).IsTrue()
		assert.For(ctx, "%v: %v == %v", k, got, want).ThatBoolean(state.Equal(got, want, 1e-6)).IsTrue()
	}

	// Reconstructing over the reconstructed state is a no-op.
	sched, err = snap.ScheduleDiff(ctx, snap, state.ScheduleOptions{Registry: reg, IncludeShared: true})
	must(ctx, err)
	assert.For(ctx, "no-op").ThatSlice(sched.Calls).IsEmpty()
}

func TestScheduleIdempotent(t *testing.T) {
	ctx := log.Testing(t)
	app := newScene(ctx, testgl.NewDevice(1), 1)
	snap := capture(ctx, app.ctx, &state.Groups{}, nil)
	opts := state.ScheduleOptions{Registry: remap.NewRegistry(), IncludeShared: true}

	a, err := snap.ScheduleDiff(ctx, nil, opts)
	must(ctx, err)
	b, err := snap.ScheduleDiff(ctx, nil, opts)
	must(ctx, err)
	assert.For(ctx, "calls").ThatSlice(b.Calls).DeepEquals(a.Calls)
	assert.For(ctx, "created").ThatSlice(b.Created).DeepEquals(a.Created)
}

func TestScheduleOrdering(t *testing.T) {
	ctx := log.Testing(t)
	app := newScene(ctx, testgl.NewDevice(1), 1)
	snap := capture(ctx, app.ctx, &state.Groups{}, nil)
	sched, err := snap.ScheduleDiff(ctx, nil, state.ScheduleOptions{Registry: remap.NewRegistry(), IncludeShared: true})
	must(ctx, err)

	last := map[remap.Key]replay.Phase{}
	for i, c := range sched.Calls {
		if i > 0 {
			assert.For(ctx, "%v after %v", c, sched.Calls[i-1]).ThatBoolean(c.Phase >= sched.Calls[i-1].Phase).IsTrue()
		}
		for _, h := range c.Handles() {
			k := remap.Key{Category: h.Category, ID: h.Capture}
			if p, found := last[k]; found {
				assert.For(ctx, "%v of %v", c, k).ThatBoolean(c.Phase >= p).IsTrue()
			} else {
				assert.For(ctx, "%v creates %v first", c, k).ThatBoolean(c.Phase == replay.Create || c.Phase == replay.Bind).IsTrue()
			}
			last[k] = c.Phase
		}
	}

	funcs := []string{}
	for _, c := range sched.Calls {
		funcs = append(funcs, c.Func)
	}
	assert.For(ctx, "funcs").ThatSlice(funcs).Equals([]string{
		"glGenBuffers", "glGenTextures", "glCreateProgram", "glGenVertexArrays",
		"glBindVertexArray", "glVertexAttribPointer",
		"glBufferData", "glTexParameteri", "glTexImage2D",
		"glBindBuffer", "glActiveTexture", "glBindTexture", "glUseProgram", "glActiveTexture",
		"glViewport", "glClearColor", "glEnable", "glLineWidth",
	})
}

func TestScheduleFloatTolerance(t *testing.T) {
	ctx := log.Testing(t)
	opts := state.ScheduleOptions{Registry: remap.NewRegistry(), Tolerance: 1e-6}
	color := func(r float64) state.Variable {
		return state.Variable{Key: state.Key{Kind: state.ClearColor}, Value: state.Value{Floats: []float64{r, 0, 0, 1}}}
	}
	ref := state.Build(1, color(0.5))

	sched, err := state.Build(1, color(0.5+1e-9)).ScheduleDiff(ctx, ref, opts)
	must(ctx, err)
	assert.For(ctx, "within tolerance").ThatSlice(sched.Calls).IsEmpty()

	sched, err = state.Build(1, color(0.6)).ScheduleDiff(ctx, ref, opts)
	must(ctx, err)
	assert.For(ctx, "changed").ThatSlice(sched.Calls).IsLength(1)
	assert.For(ctx, "func").ThatString(sched.Calls[0].Func).Equals("glClearColor")
}

func attrib(vao remap.CaptureID, index int, buf remap.CaptureID) state.Variable {
	return state.Variable{
		Key:   state.Key{Kind: state.VertexAttrib, Object: vao, Index: index},
		Value: state.Value{Ints: []int64{2, glFloat, 0, 8, 0, 1}, Refs: refs(remap.Buffer, buf)},
	}
}

func vertexArray(id remap.CaptureID) state.Variable {
	return state.Variable{Key: state.Key{Kind: state.VertexArrayObject, Object: id}}
}

func TestRequiredReferenceMarksObjectUnusable(t *testing.T) {
	ctx := log.Testing(t)
	snap := state.Build(1,
		vertexArray(5), attrib(5, 0, 99), attrib(5, 1, 0),
		vertexArray(6), attrib(6, 0, 0),
	)
	sched, err := snap.ScheduleDiff(ctx, nil, state.ScheduleOptions{Registry: remap.NewRegistry()})
	must(ctx, err)
	assert.For(ctx, "unusable").ThatSlice(sched.Unusable).DeepEquals([]state.Ref{{Category: remap.VertexArray, ID: 5}})

	attribs := 0
	for _, c := range sched.Calls {
		if c.Func == "glVertexAttribPointer" {
			attribs++
			assert.For(ctx, "sibling").That(c.Object.Capture).Equals(remap.CaptureID(6))
		}
	}
	assert.For(ctx, "attribs").ThatInteger(attribs).Equals(1)
}

func TestUpstreamReferenceIsPending(t *testing.T) {
	ctx := log.Testing(t)
	snap := state.Build(1, vertexArray(5), attrib(5, 0, 99))
	sched, err := snap.ScheduleDiff(ctx, nil, state.ScheduleOptions{
		Registry: remap.NewRegistry(),
		Upstream: refs(remap.Buffer, 99),
	})
	must(ctx, err)
	assert.For(ctx, "unusable").ThatSlice(sched.Unusable).IsEmpty()
	found := false
	for _, c := range sched.Calls {
		if c.Func == "glVertexAttribPointer" {
			found = true
			assert.For(ctx, "pending").ThatBoolean(c.Refs[0].Pending).IsTrue()
		}
	}
	assert.For(ctx, "attrib scheduled").ThatBoolean(found).IsTrue()
	last := sched.Calls[len(sched.Calls)-1]
	assert.For(ctx, "selector restored").ThatString(last.Func).Equals("glBindVertexArray")
	assert.For(ctx, "unbound").ThatBoolean(last.Refs[0].IsNull()).IsTrue()
}

func TestOptionalReference(t *testing.T) {
	ctx := log.Testing(t)
	reg := remap.NewRegistry()
	snap := state.Build(1, state.Variable{
		Key:   state.Key{Kind: state.CurrentProgram},
		Value: state.Value{Refs: refs(remap.Program, 42)},
	})

	sched, err := snap.ScheduleDiff(ctx, nil, state.ScheduleOptions{Registry: reg})
	must(ctx, err)
	assert.For(ctx, "skipped").ThatSlice(sched.Calls).IsEmpty()
	assert.For(ctx, "unusable").ThatSlice(sched.Unusable).IsEmpty()

	reg.AddMapping(ctx, remap.Program, 42, 7)
	sched, err = snap.ScheduleDiff(ctx, nil, state.ScheduleOptions{Registry: reg})
	must(ctx, err)
	assert.For(ctx, "calls").ThatSlice(sched.Calls).IsLength(1)
	assert.For(ctx, "resolved").That(sched.Calls[0].Refs[0].Replay).Equals(remap.ReplayID(7))
}

func TestDeleteReferenceOnlyObjects(t *testing.T) {
	ctx := log.Testing(t)
	reg := remap.NewRegistry()
	reg.AddMapping(ctx, remap.Buffer, 3, 30)
	buffer := state.Variable{Key: state.Key{Kind: state.BufferObject, Object: 3}}

	sched, err := state.Build(1).ScheduleShared(ctx, state.Build(1, buffer), state.ScheduleOptions{Registry: reg})
	must(ctx, err)
	assert.For(ctx, "calls").ThatSlice(sched.Calls).IsLength(1)
	assert.For(ctx, "func").ThatString(sched.Calls[0].Func).Equals("glDeleteBuffers")
	assert.For(ctx, "replay").That(sched.Calls[0].Object.Replay).Equals(remap.ReplayID(30))
}

func TestNoRegistry(t *testing.T) {
	ctx := log.Testing(t)
	_, err := state.Build(1).ScheduleDiff(ctx, nil, state.ScheduleOptions{})
	assert.For(ctx, "err").ThatError(err).Equals(state.ErrNoRegistry)
}

func TestSharedCapturedByOwner(t *testing.T) {
	ctx := log.Testing(t)
	dev := testgl.NewDevice(1)
	owner := newScene(ctx, dev, 1)
	member := dev.NewContext(2)
	groups := &state.Groups{}

	first := capture(ctx, owner.ctx, groups, nil)
	second := capture(ctx, member, groups, nil)

	assert.For(ctx, "owner").That(second.Group().Owner()).Equals(uint64(1))
	assert.For(ctx, "same group").ThatBoolean(first.Group() == second.Group()).IsTrue()
	assert.For(ctx, "members").ThatSlice(first.Group().Members()).Equals([]uint64{1, 2})
	assert.For(ctx, "member reads").ThatInteger(member.Gets[state.BufferData]).Equals(0)

	data, ok := second.Variable(state.Key{Kind: state.BufferData, Object: owner.buf})
	assert.For(ctx, "shared visible").ThatBoolean(ok).IsTrue()
	assert.For(ctx, "shared data").ThatSlice(data.Bytes).Equals(bytes.Repeat([]byte{0xab}, 64))

	_, ok = second.Variable(state.Key{Kind: state.VertexArrayObject, Object: owner.vao})
	assert.For(ctx, "private hidden").ThatBoolean(ok).IsFalse()
}

func TestDependencies(t *testing.T) {
	ctx := log.Testing(t)
	app := newScene(ctx, testgl.NewDevice(1), 1)
	snap := capture(ctx, app.ctx, &state.Groups{}, nil)
	assert.For(ctx, "deps").ThatSlice(snap.Dependencies()).DeepEquals([]state.Ref{
		{Category: remap.Buffer, ID: app.buf},
		{Category: remap.Texture, ID: app.tex},
		{Category: remap.Program, ID: app.prog},
	})
}

func TestIncrementalCapture(t *testing.T) {
	ctx := log.Testing(t)
	app := newScene(ctx, testgl.NewDevice(1), 1)
	groups := &state.Groups{}
	first := capture(ctx, app.ctx, groups, nil)
	reads := app.ctx.Gets[state.BufferData]

	set(ctx, app.ctx, state.Key{Kind: state.Viewport}, state.Value{Ints: []int64{0, 0, 320, 240}})
	second, err := state.Capture(ctx, app.ctx, groups, state.CaptureOptions{
		Previous: first,
		Dirty:    map[state.Kind]bool{state.Viewport: true},
	})
	must(ctx, err)
	assert.For(ctx, "buffer reads").ThatInteger(app.ctx.Gets[state.BufferData]).Equals(reads)
	viewport, _ := second.Variable(state.Key{Kind: state.Viewport})
	assert.For(ctx, "viewport").That(viewport.Ints).DeepEquals([]int64{0, 0, 320, 240})
	assert.For(ctx, "count").ThatSlice(second.Variables()).IsLength(len(first.Variables()))
}

func TestCaptureFenceTimeout(t *testing.T) {
	ctx := log.Testing(t)
	app := newScene(ctx, testgl.NewDevice(1), 1)
	app.ctx.Busy = true
	_, err := state.Capture(ctx, app.ctx, &state.Groups{}, state.CaptureOptions{
		FenceTimeout:          time.Millisecond,
		FenceEscalatedTimeout: 2 * time.Millisecond,
	})
	assert.For(ctx, "err").ThatError(err).HasCause(replay.ErrFenceTimeout)
}

func TestProto(t *testing.T) {
	ctx := log.Testing(t)
	app := newScene(ctx, testgl.NewDevice(1), 1)
	snap := capture(ctx, app.ctx, &state.Groups{}, nil)
	p, err := snap.Proto()
	must(ctx, err)
	assert.For(ctx, "context").ThatFloat(p.Fields["context"].GetNumberValue()).Equals(1, 0)
	vars := p.Fields["variables"].GetListValue().GetValues()
	assert.For(ctx, "variables").ThatSlice(vars).IsLength(len(snap.Variables()))
}

func TestEqual(t *testing.T) {
	ctx := log.Testing(t)
	data := []byte("some payload")
	inline := state.Value{Bytes: data}
	stored := state.Value{Blob: inline.Content()}
	assert.For(ctx, "blob vs inline").ThatBoolean(state.Equal(inline, stored, 0)).IsTrue()
	assert.For(ctx, "different refs").ThatBoolean(state.Equal(
		state.Value{Refs: refs(remap.Buffer, 1)},
		state.Value{Refs: refs(remap.Buffer, 2)}, 0)).IsFalse()
	assert.For(ctx, "empty bytes").ThatBoolean(state.Equal(state.Value{}, state.Value{Bytes: []byte{}}, 0)).IsTrue()
}
