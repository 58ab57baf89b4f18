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

// Package replay holds the calls produced by state reconstruction and the
// primitives the replay executor needs to consume them.
package replay

import (
	"fmt"
	"strings"

	"github.com/gfxsync/gfxsync/core/data/id"
	"github.com/gfxsync/gfxsync/gapis/remap"
)

// Phase orders reconstruction calls. Objects are created before anything
// binds them, contents are uploaded before bound-object state is restored,
// and fixed-function state is set last.
type Phase int

const (
	Create Phase = iota
	Bind
	Content
	BindBound
	Fixed
)

var phaseNames = []string{"Create", "Bind", "Content", "BindBound", "Fixed"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Handle is a resource reference carried by a Call.
//
// A resolved handle has Replay set. A Pending handle names an object that is
// created earlier in the same schedule (or in a schedule the caller declared
// as running first); the executor substitutes the replay id once that
// creation has executed.
type Handle struct {
	Category remap.Category
	Capture  remap.CaptureID
	Replay   remap.ReplayID
	Pending  bool
}

// IsNull returns true for the zero object, which never needs resolving.
func (h Handle) IsNull() bool { return h.Capture == 0 }

func (h Handle) String() string {
	switch {
	case h.IsNull():
		return fmt.Sprintf("%v<null>", h.Category)
	case h.Pending:
		return fmt.Sprintf("%v<%#x -> pending>", h.Category, uint64(h.Capture))
	default:
		return fmt.Sprintf("%v<%#x -> %#x>", h.Category, uint64(h.Capture), uint64(h.Replay))
	}
}

// Call is a single replay-side API call that restores part of a context's
// state.
type Call struct {
	Context uint64 // capture context the call is issued on
	Phase   Phase
	Kind    uint32 // state kind that produced the call
	Func    string // replay entry point
	Object  Handle // object the call acts on, if any
	Index   int    // index for indexed state such as a texture unit
	Ints    []int64
	Floats  []float64
	Refs    []Handle
	Bytes   []byte
	Blob    id.ID // large payload held in the blob store
}

// Handles returns every non-null handle the call mentions, object first.
func (c Call) Handles() []Handle {
	out := make([]Handle, 0, len(c.Refs)+1)
	if !c.Object.IsNull() {
		out = append(out, c.Object)
	}
	for _, r := range c.Refs {
		if !r.IsNull() {
			out = append(out, r)
		}
	}
	return out
}

func (c Call) String() string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "[%v] %s(", c.Phase, c.Func)
	sep := ""
	arg := func(f string, args ...interface{}) {
		b.WriteString(sep)
		fmt.Fprintf(&b, f, args...)
		sep = ", "
	}
	if !c.Object.IsNull() {
		arg("%v", c.Object)
	}
	if c.Index != 0 {
		arg("index: %d", c.Index)
	}
	for _, v := range c.Ints {
		arg("%d", v)
	}
	for _, v := range c.Floats {
		arg("%g", v)
	}
	for _, r := range c.Refs {
		arg("%v", r)
	}
	if len(c.Bytes) > 0 {
		arg("<%d bytes>", len(c.Bytes))
	}
	if c.Blob.IsValid() {
		arg("blob: %v", c.Blob)
	}
	b.WriteString(")")
	return b.String()
}
