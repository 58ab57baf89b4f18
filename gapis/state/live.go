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

	"github.com/gfxsync/gfxsync/core/log"
	"github.com/gfxsync/gfxsync/gapis/remap"
)

// Live is a handle to a live driver context. Every capture call is made
// through an explicit Live; nothing relies on a thread's current context.
//
// Get and Set of a kind with a Selector act on whatever the selector
// currently points at. The capture pass sets the selector first and
// restores it afterwards.
//
// A Live that also implements replay.Idler is waited on before contents
// are read back.
type Live interface {
	// ID returns the capture-time identifier of the context.
	ID() uint64
	// SharesWith returns the ids of the contexts this context shares its
	// object namespace with.
	SharesWith() []uint64
	// Get reads the current value of the state variable k.
	Get(ctx context.Context, k Key) (Value, error)
	// Set changes the state variable k. Capture only sets selectors.
	Set(ctx context.Context, k Key, v Value) error
	// Objects lists the live objects of category c visible to the context.
	Objects(ctx context.Context, c remap.Category) ([]remap.CaptureID, error)
}

// selection returns the value selector must hold to read or write k.
func selection(d *Descriptor, k Key) Value {
	if d.SelectObject {
		return Value{Refs: []Ref{{d.Object, k.Object}}}
	}
	return Value{Ints: []int64{int64(k.Index)}}
}

// selectFor points d's selector at k on live and returns a function that
// puts it back. The returned function is never nil and must always be
// called, including when selectFor returns an error.
func selectFor(ctx context.Context, live Live, d *Descriptor, k Key) (restore func(), err error) {
	restore = func() {}
	if d.Selector == Invalid {
		return restore, nil
	}
	sel := Key{Kind: d.Selector}
	prev, err := live.Get(ctx, sel)
	if err != nil {
		return restore, err
	}
	want := selection(d, k)
	if Equal(prev, want, 0) {
		return restore, nil
	}
	if err := live.Set(ctx, sel, want); err != nil {
		return restore, err
	}
	return func() {
		if err := live.Set(ctx, sel, prev); err != nil {
			log.W(ctx, "Failed to restore %v after reading %v: %v", d.Selector, k, err)
		}
	}, nil
}
