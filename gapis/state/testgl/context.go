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

// Package testgl provides an in-memory GL-like driver used to test state
// capture and reconstruction.
package testgl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gfxsync/gfxsync/gapis/remap"
	"github.com/gfxsync/gfxsync/gapis/state"
	"github.com/pkg/errors"
)

const (
	glTexture2D   = 0x0DE1
	glArrayBuffer = 0x8892
)

type texture struct {
	target int64
	params []int64
	image  []int64
	pixels []byte
}

// Device is an object namespace. Contexts created on the same Device share
// buffers, textures and programs. Vertex arrays stay private.
type Device struct {
	mutex    sync.Mutex
	nextID   uint64
	buffers  map[remap.CaptureID][]byte
	textures map[remap.CaptureID]*texture
	programs map[remap.CaptureID]bool
	contexts []*Context
}

// NewDevice returns a Device whose object ids start at first.
func NewDevice(first uint64) *Device {
	return &Device{
		nextID:   first,
		buffers:  map[remap.CaptureID][]byte{},
		textures: map[remap.CaptureID]*texture{},
		programs: map[remap.CaptureID]bool{},
	}
}

func (d *Device) alloc() remap.CaptureID {
	id := remap.CaptureID(d.nextID)
	d.nextID++
	return id
}

// Context is a single GL-like context.
type Context struct {
	dev *Device
	id  uint64

	vaos          map[remap.CaptureID][]state.Value
	boundVAO      remap.CaptureID
	arrayBuffer   remap.CaptureID
	activeTexture int
	units         []remap.CaptureID
	program       remap.CaptureID
	fixed         map[state.Kind]state.Value

	// Fail makes reads of the listed kinds fail.
	Fail map[state.Kind]error
	// Busy makes Idle wait until its context is done.
	Busy bool
	// Gets counts successful reads by kind.
	Gets map[state.Kind]int
	// OnGet, if not nil, is called at the start of every read.
	OnGet func(state.Key)
}

// Units and Attribs are the limits reported by every context.
const (
	Units   = 4
	Attribs = 4
)

// NewContext creates a context with the given id on d.
func (d *Device) NewContext(id uint64) *Context {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	c := &Context{
		dev:   d,
		id:    id,
		vaos:  map[remap.CaptureID][]state.Value{},
		units: make([]remap.CaptureID, Units),
		fixed: map[state.Kind]state.Value{},
		Fail:  map[state.Kind]error{},
		Gets:  map[state.Kind]int{},
	}
	d.contexts = append(d.contexts, c)
	return c
}

// ID returns the context id.
func (c *Context) ID() uint64 { return c.id }

// SharesWith returns the other contexts on the same device.
func (c *Context) SharesWith() []uint64 {
	c.dev.mutex.Lock()
	defer c.dev.mutex.Unlock()
	out := []uint64{}
	for _, o := range c.dev.contexts {
		if o != c {
			out = append(out, o.id)
		}
	}
	return out
}

// Idle implements replay.Idler.
func (c *Context) Idle(ctx context.Context) error {
	if c.Busy {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

// Create creates a new object of category cat and returns its id.
func (c *Context) Create(cat remap.Category) (remap.CaptureID, error) {
	c.dev.mutex.Lock()
	defer c.dev.mutex.Unlock()
	id := c.dev.alloc()
	switch cat {
	case remap.Buffer:
		c.dev.buffers[id] = nil
	case remap.Texture:
		d := state.Describe(state.TextureImage)
		c.dev.textures[id] = &texture{
			target: glTexture2D,
			params: append([]int64(nil), state.Describe(state.TextureParams).Default.Ints...),
			image:  append([]int64(nil), d.Default.Ints...),
		}
	case remap.Program:
		c.dev.programs[id] = true
	case remap.VertexArray:
		attribs := make([]state.Value, Attribs)
		for i := range attribs {
			attribs[i] = state.Describe(state.VertexAttrib).Default.Clone()
		}
		c.vaos[id] = attribs
	default:
		return 0, fmt.Errorf("cannot create %v", cat)
	}
	return id, nil
}

// Delete destroys the object id of category cat.
func (c *Context) Delete(cat remap.Category, id remap.CaptureID) error {
	c.dev.mutex.Lock()
	defer c.dev.mutex.Unlock()
	switch cat {
	case remap.Buffer:
		delete(c.dev.buffers, id)
	case remap.Texture:
		delete(c.dev.textures, id)
	case remap.Program:
		delete(c.dev.programs, id)
	case remap.VertexArray:
		delete(c.vaos, id)
		if c.boundVAO == id {
			c.boundVAO = 0
		}
	default:
		return fmt.Errorf("cannot delete %v", cat)
	}
	return nil
}

// Objects implements state.Live.
func (c *Context) Objects(ctx context.Context, cat remap.Category) ([]remap.CaptureID, error) {
	c.dev.mutex.Lock()
	defer c.dev.mutex.Unlock()
	out := []remap.CaptureID{}
	switch cat {
	case remap.Buffer:
		for id := range c.dev.buffers {
			out = append(out, id)
		}
	case remap.Texture:
		for id := range c.dev.textures {
			out = append(out, id)
		}
	case remap.Program:
		for id := range c.dev.programs {
			out = append(out, id)
		}
	case remap.VertexArray:
		for id := range c.vaos {
			out = append(out, id)
		}
	default:
		return nil, fmt.Errorf("no objects of %v", cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func ref(cat remap.Category, id remap.CaptureID) []state.Ref {
	return []state.Ref{{Category: cat, ID: id}}
}

// Get implements state.Live.
func (c *Context) Get(ctx context.Context, k state.Key) (state.Value, error) {
	if c.OnGet != nil {
		c.OnGet(k)
	}
	if err := c.Fail[k.Kind]; err != nil {
		return state.Value{}, err
	}
	c.dev.mutex.Lock()
	defer c.dev.mutex.Unlock()
	v, err := c.get(k)
	if err == nil {
		c.Gets[k.Kind]++
	}
	return v, err
}

func (c *Context) get(k state.Key) (state.Value, error) {
	missing := errors.Errorf("%v does not exist", k)
	switch k.Kind {
	case state.MaxTextureUnits:
		return state.Value{Ints: []int64{Units}}, nil
	case state.MaxVertexAttribs:
		return state.Value{Ints: []int64{Attribs}}, nil
	case state.BufferObject, state.BufferData:
		data, found := c.dev.buffers[k.Object]
		if !found {
			return state.Value{}, missing
		}
		if k.Kind == state.BufferObject {
			return state.Value{}, nil
		}
		return state.Value{Bytes: append([]byte(nil), data...)}, nil
	case state.TextureObject, state.TextureParams, state.TextureImage:
		t, found := c.dev.textures[k.Object]
		if !found {
			return state.Value{}, missing
		}
		switch k.Kind {
		case state.TextureObject:
			return state.Value{Ints: []int64{t.target}}, nil
		case state.TextureParams:
			return state.Value{Ints: append([]int64(nil), t.params...)}, nil
		default:
			return state.Value{Ints: append([]int64(nil), t.image...), Bytes: append([]byte(nil), t.pixels...)}, nil
		}
	case state.ProgramObject:
		if !c.dev.programs[k.Object] {
			return state.Value{}, missing
		}
		return state.Value{}, nil
	case state.VertexArrayObject:
		if _, found := c.vaos[k.Object]; !found {
			return state.Value{}, missing
		}
		return state.Value{}, nil
	case state.VertexAttrib:
		if c.boundVAO != k.Object {
			return state.Value{}, errors.Errorf("reading %v with vertex array %d bound", k, c.boundVAO)
		}
		attribs, found := c.vaos[k.Object]
		if !found || k.Index >= len(attribs) {
			return state.Value{}, missing
		}
		return attribs[k.Index].Clone(), nil
	case state.ArrayBufferBinding:
		return state.Value{Ints: []int64{glArrayBuffer}, Refs: ref(remap.Buffer, c.arrayBuffer)}, nil
	case state.TextureBinding2D:
		if c.activeTexture != k.Index {
			return state.Value{}, errors.Errorf("reading %v with unit %d active", k, c.activeTexture)
		}
		return state.Value{Ints: []int64{glTexture2D}, Refs: ref(remap.Texture, c.units[c.activeTexture])}, nil
	case state.CurrentProgram:
		return state.Value{Refs: ref(remap.Program, c.program)}, nil
	case state.ActiveTexture:
		return state.Value{Ints: []int64{int64(c.activeTexture)}}, nil
	case state.ActiveVertexArray:
		return state.Value{Refs: ref(remap.VertexArray, c.boundVAO)}, nil
	}
	d := state.Describe(k.Kind)
	if d == nil {
		return state.Value{}, errors.Errorf("unknown kind %v", k.Kind)
	}
	if v, found := c.fixed[k.Kind]; found {
		return v.Clone(), nil
	}
	return d.Default.Clone(), nil
}

// Set implements state.Live. Object ids and references are in the
// context's own id space.
func (c *Context) Set(ctx context.Context, k state.Key, v state.Value) error {
	c.dev.mutex.Lock()
	defer c.dev.mutex.Unlock()
	missing := errors.Errorf("%v does not exist", k)
	refID := func(i int) remap.CaptureID {
		if i < len(v.Refs) {
			return v.Refs[i].ID
		}
		return 0
	}
	switch k.Kind {
	case state.BufferData:
		if _, found := c.dev.buffers[k.Object]; !found {
			return missing
		}
		c.dev.buffers[k.Object] = append([]byte(nil), v.Bytes...)
	case state.TextureObject:
		t, found := c.dev.textures[k.Object]
		if !found {
			return missing
		}
		if len(v.Ints) > 0 {
			t.target = v.Ints[0]
		}
	case state.TextureParams, state.TextureImage:
		t, found := c.dev.textures[k.Object]
		if !found {
			return missing
		}
		if k.Kind == state.TextureParams {
			t.params = append([]int64(nil), v.Ints...)
		} else {
			t.image = append([]int64(nil), v.Ints...)
			t.pixels = append([]byte(nil), v.Bytes...)
		}
	case state.VertexAttrib:
		attribs, found := c.vaos[c.boundVAO]
		if !found || k.Index >= len(attribs) {
			return errors.Errorf("writing %v with vertex array %d bound", k, c.boundVAO)
		}
		attribs[k.Index] = v.Clone()
	case state.ArrayBufferBinding:
		c.arrayBuffer = refID(0)
	case state.TextureBinding2D:
		c.units[c.activeTexture] = refID(0)
	case state.CurrentProgram:
		c.program = refID(0)
	case state.ActiveTexture:
		if len(v.Ints) != 1 || v.Ints[0] < 0 || v.Ints[0] >= Units {
			return errors.Errorf("invalid texture unit %v", v)
		}
		c.activeTexture = int(v.Ints[0])
	case state.ActiveVertexArray:
		id := refID(0)
		if _, found := c.vaos[id]; id != 0 && !found {
			return errors.Errorf("vertex array %d does not exist", id)
		}
		c.boundVAO = id
	default:
		d := state.Describe(k.Kind)
		if d == nil || d.ReadOnly || d.Existence || d.PerObject() {
			return errors.Errorf("cannot set %v", k)
		}
		c.fixed[k.Kind] = v.Clone()
	}
	return nil
}
