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
	"fmt"
	"math"
	"strings"

	"github.com/gfxsync/gfxsync/core/data/id"
	"github.com/gfxsync/gfxsync/gapis/remap"
)

// Ref is a resource reference held in a captured value. ID is always a
// capture-time identifier; it is only translated when a call is scheduled.
type Ref struct {
	Category remap.Category
	ID       remap.CaptureID
}

// IsNull returns true for a reference to the zero object.
func (r Ref) IsNull() bool { return r.ID == 0 }

// Key returns the remap key of the referenced object.
func (r Ref) Key() remap.Key { return remap.Key{Category: r.Category, ID: r.ID} }

func (r Ref) String() string { return r.Key().String() }

// Value is the payload of a state variable.
// Bulk payloads are held either inline in Bytes or in the blob store, in
// which case Blob holds their content id.
type Value struct {
	Ints   []int64
	Floats []float64
	Refs   []Ref
	Bytes  []byte
	Blob   id.ID
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	return Value{
		Ints:   append([]int64(nil), v.Ints...),
		Floats: append([]float64(nil), v.Floats...),
		Refs:   append([]Ref(nil), v.Refs...),
		Bytes:  append([]byte(nil), v.Bytes...),
		Blob:   v.Blob,
	}
}

// Content returns the content id of the bulk payload, or the zero id if
// there is none.
func (v Value) Content() id.ID {
	switch {
	case v.Blob.IsValid():
		return v.Blob
	case len(v.Bytes) > 0:
		return id.OfBytes(v.Bytes)
	default:
		return id.ID{}
	}
}

func (v Value) String() string {
	parts := []string{}
	for _, i := range v.Ints {
		parts = append(parts, fmt.Sprint(i))
	}
	for _, f := range v.Floats {
		parts = append(parts, fmt.Sprint(f))
	}
	for _, r := range v.Refs {
		parts = append(parts, r.String())
	}
	if c := v.Content(); c.IsValid() {
		parts = append(parts, "content:"+c.String())
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Equal returns true if a and b hold the same state. Floats are compared
// with a relative tolerance and bulk payloads by content id.
func Equal(a, b Value, tolerance float64) bool {
	if len(a.Ints) != len(b.Ints) || len(a.Floats) != len(b.Floats) || len(a.Refs) != len(b.Refs) {
		return false
	}
	for i := range a.Ints {
		if a.Ints[i] != b.Ints[i] {
			return false
		}
	}
	for i := range a.Floats {
		if !floatEqual(a.Floats[i], b.Floats[i], tolerance) {
			return false
		}
	}
	for i := range a.Refs {
		if a.Refs[i] != b.Refs[i] {
			return false
		}
	}
	return a.Content() == b.Content()
}

func floatEqual(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= tolerance*scale
}
