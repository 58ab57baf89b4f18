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

package testgl

import (
	"context"

	"github.com/gfxsync/gfxsync/gapis/database"
	"github.com/gfxsync/gfxsync/gapis/remap"
	"github.com/gfxsync/gfxsync/gapis/replay"
	"github.com/gfxsync/gfxsync/gapis/state"
	"github.com/pkg/errors"
)

// Executor runs reconstruction calls against a Context, recording the
// objects it creates in Registry.
type Executor struct {
	Registry *remap.Registry
	Store    database.Store
}

// Execute runs calls in order on c.
func (e Executor) Execute(ctx context.Context, c *Context, calls []replay.Call) error {
	for _, call := range calls {
		if err := e.execute(ctx, c, call); err != nil {
			return errors.Wrapf(err, "executing %v", call)
		}
	}
	return nil
}

// resolve returns the id of h's object on the executing context.
func (e Executor) resolve(h replay.Handle) (remap.CaptureID, error) {
	switch {
	case h.IsNull():
		return 0, nil
	case !h.Pending:
		return remap.CaptureID(h.Replay), nil
	}
	id, ok := e.Registry.Resolve(h.Category, h.Capture)
	if !ok {
		return 0, errors.Errorf("pending %v was never created", h)
	}
	return remap.CaptureID(id), nil
}

func (e Executor) execute(ctx context.Context, c *Context, call replay.Call) error {
	d := state.Describe(state.Kind(call.Kind))
	if d == nil {
		return errors.Errorf("unknown kind %d", call.Kind)
	}
	if d.Existence {
		if call.Func == d.DeleteFunc {
			id, err := e.resolve(call.Object)
			if err != nil {
				return err
			}
			if err := c.Delete(d.Object, id); err != nil {
				return err
			}
			e.Registry.RemoveMapping(ctx, d.Object, call.Object.Capture)
			return nil
		}
		id, err := c.Create(d.Object)
		if err != nil {
			return err
		}
		e.Registry.AddMapping(ctx, d.Object, call.Object.Capture, remap.ReplayID(id))
		if len(call.Ints) > 0 {
			return c.Set(ctx, state.Key{Kind: d.Kind, Object: id}, state.Value{Ints: call.Ints})
		}
		return nil
	}

	key := state.Key{Kind: d.Kind, Index: call.Index}
	if d.PerObject() {
		id, err := e.resolve(call.Object)
		if err != nil {
			return err
		}
		key.Object = id
	}
	v := state.Value{Ints: call.Ints, Floats: call.Floats, Bytes: call.Bytes}
	for _, h := range call.Refs {
		id, err := e.resolve(h)
		if err != nil {
			return err
		}
		v.Refs = append(v.Refs, state.Ref{Category: h.Category, ID: id})
	}
	if call.Blob.IsValid() {
		if e.Store == nil {
			return errors.Errorf("no store to fetch %v", call.Blob)
		}
		data, err := e.Store.Get(ctx, call.Blob)
		if err != nil {
			return err
		}
		v.Bytes = data
	}
	return c.Set(ctx, key, v)
}
