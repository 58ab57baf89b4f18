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
	"sort"

	"github.com/gfxsync/gfxsync/gapis/remap"
	"google.golang.org/protobuf/types/known/structpb"
)

// Snapshot is the captured state of one context: its private variables and
// a read-only view of its sharing group's shared variables.
type Snapshot struct {
	context  uint64
	group    *Group
	private  map[Key]Value
	shared   map[Key]Value
	failures []error
}

// Variable is a single captured state variable.
type Variable struct {
	Key   Key
	Value Value
}

// Build returns a snapshot of context holding vars, split by scope. It is
// used to describe reference state that was not captured from a live
// context, such as the state of a freshly created replay context.
func Build(context uint64, vars ...Variable) *Snapshot {
	s := &Snapshot{context: context, private: map[Key]Value{}, shared: map[Key]Value{}}
	for _, v := range vars {
		if d := Describe(v.Key.Kind); d != nil {
			s.scope(d.Scope)[v.Key] = v.Value
		}
	}
	return s
}

// Context returns the id of the captured context.
func (s *Snapshot) Context() uint64 { return s.context }

// Group returns the sharing group of the context, or nil for a built
// snapshot.
func (s *Snapshot) Group() *Group { return s.group }

// Failures returns the errors of the variables that fell back to their
// defaults.
func (s *Snapshot) Failures() []error { return s.failures }

func (s *Snapshot) scope(sc Scope) map[Key]Value {
	if sc == Shared {
		return s.shared
	}
	return s.private
}

// Variable returns the captured value of k.
func (s *Snapshot) Variable(k Key) (Value, bool) {
	d := Describe(k.Kind)
	if d == nil {
		return Value{}, false
	}
	v, found := s.scope(d.Scope)[k]
	return v, found
}

// Variables returns every captured variable in scheduling order.
func (s *Snapshot) Variables() []Variable {
	out := make([]Variable, 0, len(s.private)+len(s.shared))
	for _, m := range []map[Key]Value{s.private, s.shared} {
		for k, v := range m {
			out = append(out, Variable{k, v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Key, out[j].Key) })
	return out
}

// Dependencies returns the shared objects referenced by the context's
// private state. Those objects must be created before the context's own
// schedule runs.
func (s *Snapshot) Dependencies() []Ref {
	seen := map[Ref]bool{}
	out := []Ref{}
	for _, v := range s.private {
		for _, r := range v.Refs {
			if r.IsNull() || seen[r] || !sharedCategory(r.Category) {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sharedCategory(c remap.Category) bool {
	k, found := existence[c]
	return found && Describe(k).Scope == Shared
}

// Proto returns the snapshot as a protobuf Struct, for dumping.
func (s *Snapshot) Proto() (*structpb.Struct, error) {
	vars := []interface{}{}
	for _, v := range s.Variables() {
		entry := map[string]interface{}{
			"key":   v.Key.String(),
			"scope": Describe(v.Key.Kind).Scope.String(),
		}
		if len(v.Value.Ints) > 0 {
			ints := make([]interface{}, len(v.Value.Ints))
			for i, n := range v.Value.Ints {
				ints[i] = n
			}
			entry["ints"] = ints
		}
		if len(v.Value.Floats) > 0 {
			floats := make([]interface{}, len(v.Value.Floats))
			for i, f := range v.Value.Floats {
				floats[i] = f
			}
			entry["floats"] = floats
		}
		if len(v.Value.Refs) > 0 {
			refs := make([]interface{}, len(v.Value.Refs))
			for i, r := range v.Value.Refs {
				refs[i] = r.String()
			}
			entry["refs"] = refs
		}
		if c := v.Value.Content(); c.IsValid() {
			entry["content"] = c.String()
		}
		vars = append(vars, entry)
	}
	owner := s.context
	if s.group != nil {
		owner = s.group.Owner()
	}
	return structpb.NewStruct(map[string]interface{}{
		"context":   int64(s.context),
		"owner":     int64(owner),
		"failures":  len(s.failures),
		"variables": vars,
	})
}
