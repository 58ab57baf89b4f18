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

// Package state captures the mutable driver state that affects rendering,
// diffs it against a reference and schedules the replay calls that
// reconstruct it.
//
// Every piece of state is described by a Kind. The behaviour of each kind
// (scope, ordering, how it is read and how it is restored) is data held in a
// Descriptor, so adding a kind is an edit to the descriptor table below.
package state

import (
	"fmt"

	"github.com/gfxsync/gfxsync/gapis/remap"
	"github.com/gfxsync/gfxsync/gapis/replay"
)

// Kind identifies one capturable facet of driver state.
// Kind values are stable across runs.
type Kind uint32

const (
	Invalid Kind = iota

	// Device limits. Read-only, never scheduled.
	MaxTextureUnits
	MaxVertexAttribs

	// Objects and contents in the sharing group's namespace.
	BufferObject
	TextureObject
	ProgramObject
	BufferData
	TextureParams
	TextureImage

	// Context-private objects and bindings.
	VertexArrayObject
	VertexAttrib
	ArrayBufferBinding
	TextureBinding2D
	CurrentProgram
	ActiveTexture
	ActiveVertexArray

	// Fixed-function state.
	Viewport
	Scissor
	ClearColor
	DepthRange
	Blend
	DepthTest
	LineWidth

	kindCount
)

// Scope is the sharing domain of a kind.
type Scope int

const (
	// Private state belongs to a single context.
	Private Scope = iota
	// Shared state lives in a sharing group's object namespace and is
	// captured once by the group's owner.
	Shared
)

func (s Scope) String() string {
	if s == Shared {
		return "Shared"
	}
	return "Private"
}

// Descriptor holds everything the capture and scheduling passes need to
// know about a Kind.
type Descriptor struct {
	Kind  Kind
	Name  string
	Scope Scope
	Phase replay.Phase

	// Object is the category of the object this state belongs to, or
	// remap.Unknown for context-global state.
	Object remap.Category
	// Existence kinds record that an object exists. Scheduling creates
	// objects present only in the target and deletes those present only in
	// the reference.
	Existence bool
	// Count names the limit kind that sizes the index range of indexed
	// state, or Invalid.
	Count Kind
	// Selector is the ambient state that must be set before this kind can
	// be read or written, or Invalid. The selector takes the object when
	// SelectObject is true, otherwise the index.
	Selector     Kind
	SelectObject bool
	// Required is true if a reference that cannot be resolved makes the
	// owning object unusable.
	Required bool
	// ReadOnly kinds are captured but never scheduled.
	ReadOnly bool

	Default    Value
	Func       string
	DeleteFunc string
}

// Indexed returns true if the kind has one value per index.
func (d *Descriptor) Indexed() bool { return d.Count != Invalid }

// PerObject returns true if the kind has one value per object.
func (d *Descriptor) PerObject() bool { return d.Object != remap.Unknown }

const (
	glFloat       = 0x1406
	glTexture2D   = 0x0DE1
	glLinear      = 0x2601
	glNearestMip  = 0x2702
	glRepeat      = 0x2901
	glRGBA        = 0x1908
	glBlend       = 0x0BE2
	glDepthTest   = 0x0B71
	glArrayBuffer = 0x8892
)

var descriptors = [kindCount]Descriptor{
	MaxTextureUnits: {
		Name:     "MaxTextureUnits",
		ReadOnly: true,
		Default:  Value{Ints: []int64{8}},
	},
	MaxVertexAttribs: {
		Name:     "MaxVertexAttribs",
		ReadOnly: true,
		Default:  Value{Ints: []int64{8}},
	},
	BufferObject: {
		Name:       "BufferObject",
		Scope:      Shared,
		Phase:      replay.Create,
		Object:     remap.Buffer,
		Existence:  true,
		Func:       "glGenBuffers",
		DeleteFunc: "glDeleteBuffers",
	},
	TextureObject: {
		Name:       "TextureObject",
		Scope:      Shared,
		Phase:      replay.Create,
		Object:     remap.Texture,
		Existence:  true,
		Default:    Value{Ints: []int64{glTexture2D}},
		Func:       "glGenTextures",
		DeleteFunc: "glDeleteTextures",
	},
	ProgramObject: {
		Name:       "ProgramObject",
		Scope:      Shared,
		Phase:      replay.Create,
		Object:     remap.Program,
		Existence:  true,
		Func:       "glCreateProgram",
		DeleteFunc: "glDeleteProgram",
	},
	BufferData: {
		Name:   "BufferData",
		Scope:  Shared,
		Phase:  replay.Content,
		Object: remap.Buffer,
		Func:   "glBufferData",
	},
	TextureParams: {
		Name:    "TextureParams",
		Scope:   Shared,
		Phase:   replay.Content,
		Object:  remap.Texture,
		Default: Value{Ints: []int64{glNearestMip, glLinear, glRepeat, glRepeat}},
		Func:    "glTexParameteri",
	},
	TextureImage: {
		Name:    "TextureImage",
		Scope:   Shared,
		Phase:   replay.Content,
		Object:  remap.Texture,
		Default: Value{Ints: []int64{0, 0, glRGBA}},
		Func:    "glTexImage2D",
	},
	VertexArrayObject: {
		Name:       "VertexArrayObject",
		Phase:      replay.Create,
		Object:     remap.VertexArray,
		Existence:  true,
		Func:       "glGenVertexArrays",
		DeleteFunc: "glDeleteVertexArrays",
	},
	VertexAttrib: {
		Name:         "VertexAttrib",
		Phase:        replay.Bind,
		Object:       remap.VertexArray,
		Count:        MaxVertexAttribs,
		Selector:     ActiveVertexArray,
		SelectObject: true,
		Required:     true,
		Default: Value{
			Ints: []int64{4, glFloat, 0, 0, 0, 0},
			Refs: []Ref{{remap.Buffer, 0}},
		},
		Func: "glVertexAttribPointer",
	},
	ArrayBufferBinding: {
		Name:    "ArrayBufferBinding",
		Phase:   replay.BindBound,
		Default: Value{Ints: []int64{glArrayBuffer}, Refs: []Ref{{remap.Buffer, 0}}},
		Func:    "glBindBuffer",
	},
	TextureBinding2D: {
		Name:     "TextureBinding2D",
		Phase:    replay.BindBound,
		Count:    MaxTextureUnits,
		Selector: ActiveTexture,
		Default:  Value{Ints: []int64{glTexture2D}, Refs: []Ref{{remap.Texture, 0}}},
		Func:     "glBindTexture",
	},
	CurrentProgram: {
		Name:    "CurrentProgram",
		Phase:   replay.BindBound,
		Default: Value{Refs: []Ref{{remap.Program, 0}}},
		Func:    "glUseProgram",
	},
	ActiveTexture: {
		Name:    "ActiveTexture",
		Phase:   replay.BindBound,
		Default: Value{Ints: []int64{0}},
		Func:    "glActiveTexture",
	},
	ActiveVertexArray: {
		Name:    "ActiveVertexArray",
		Phase:   replay.BindBound,
		Default: Value{Refs: []Ref{{remap.VertexArray, 0}}},
		Func:    "glBindVertexArray",
	},
	Viewport: {
		Name:    "Viewport",
		Phase:   replay.Fixed,
		Default: Value{Ints: []int64{0, 0, 0, 0}},
		Func:    "glViewport",
	},
	Scissor: {
		Name:    "Scissor",
		Phase:   replay.Fixed,
		Default: Value{Ints: []int64{0, 0, 0, 0}},
		Func:    "glScissor",
	},
	ClearColor: {
		Name:    "ClearColor",
		Phase:   replay.Fixed,
		Default: Value{Floats: []float64{0, 0, 0, 0}},
		Func:    "glClearColor",
	},
	DepthRange: {
		Name:    "DepthRange",
		Phase:   replay.Fixed,
		Default: Value{Floats: []float64{0, 1}},
		Func:    "glDepthRangef",
	},
	Blend: {
		Name:    "Blend",
		Phase:   replay.Fixed,
		Default: Value{Ints: []int64{glBlend, 0}},
		Func:    "glEnable",
	},
	DepthTest: {
		Name:    "DepthTest",
		Phase:   replay.Fixed,
		Default: Value{Ints: []int64{glDepthTest, 0}},
		Func:    "glEnable",
	},
	LineWidth: {
		Name:    "LineWidth",
		Phase:   replay.Fixed,
		Default: Value{Floats: []float64{1}},
		Func:    "glLineWidth",
	},
}

var (
	// selectors is the set of kinds used as a Selector by some other kind.
	selectors = map[Kind]bool{}
	// existence maps an object category to the kind recording its objects.
	existence = map[remap.Category]Kind{}
)

func init() {
	for k := range descriptors {
		d := &descriptors[k]
		d.Kind = Kind(k)
		if d.Selector != Invalid {
			selectors[d.Selector] = true
		}
		if d.Existence {
			existence[d.Object] = d.Kind
		}
	}
}

// Describe returns the descriptor for k, or nil if k is not a known kind.
func Describe(k Kind) *Descriptor {
	if k == Invalid || k >= kindCount {
		return nil
	}
	return &descriptors[k]
}

// ExistenceKind returns the kind recording which objects of category c
// exist, if any.
func ExistenceKind(c remap.Category) (Kind, bool) {
	k, found := existence[c]
	return k, found
}

// Kinds returns every known kind in registration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := Invalid + 1; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// IsSelector returns true if k is ambient state that other kinds are read
// and written through.
func IsSelector(k Kind) bool { return selectors[k] }

func (k Kind) String() string {
	if d := Describe(k); d != nil {
		return d.Name
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

// Key identifies a single state variable: a kind, the object it belongs to
// and an index for indexed kinds.
type Key struct {
	Kind   Kind
	Object remap.CaptureID
	Index  int
}

func (k Key) String() string {
	d := Describe(k.Kind)
	switch {
	case d == nil:
		return fmt.Sprintf("%v", k.Kind)
	case d.PerObject() && d.Indexed():
		return fmt.Sprintf("%v(%v<%#x>)[%d]", k.Kind, d.Object, uint64(k.Object), k.Index)
	case d.PerObject():
		return fmt.Sprintf("%v(%v<%#x>)", k.Kind, d.Object, uint64(k.Object))
	case d.Indexed():
		return fmt.Sprintf("%v[%d]", k.Kind, k.Index)
	default:
		return k.Kind.String()
	}
}

// less orders keys by phase, then registration order, object and index.
func less(a, b Key) bool {
	da, db := &descriptors[a.Kind], &descriptors[b.Kind]
	switch {
	case da.Phase != db.Phase:
		return da.Phase < db.Phase
	case a.Kind != b.Kind:
		return a.Kind < b.Kind
	case a.Object != b.Object:
		return a.Object < b.Object
	default:
		return a.Index < b.Index
	}
}
