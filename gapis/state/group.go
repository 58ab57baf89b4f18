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
	"sync"

	"github.com/gfxsync/gfxsync/core/log"
)

// Groups tracks which contexts share an object namespace.
type Groups struct {
	mutex     sync.Mutex
	byContext map[uint64]*Group
}

// Group is a set of contexts sharing one object namespace. The first
// context observed becomes the group's owner and is the only member that
// captures shared state.
type Group struct {
	owner   uint64
	members []uint64

	// mutex serialises shared capture against object destruction.
	mutex    sync.Mutex
	shared   map[Key]Value
	captured bool
}

// Observe returns the group of context id, creating one if none of the
// contexts it shares with is already known. A context that creates a group
// becomes its owner.
func (g *Groups) Observe(ctx context.Context, id uint64, sharesWith []uint64) *Group {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.byContext == nil {
		g.byContext = map[uint64]*Group{}
	}
	if group, found := g.byContext[id]; found {
		return group
	}
	for _, other := range sharesWith {
		if group, found := g.byContext[other]; found {
			group.mutex.Lock()
			group.members = append(group.members, id)
			group.mutex.Unlock()
			g.byContext[id] = group
			log.D(ctx, "Context %d joined group owned by %d", id, group.owner)
			return group
		}
	}
	group := &Group{owner: id, members: []uint64{id}, shared: map[Key]Value{}}
	g.byContext[id] = group
	return group
}

// Lookup returns the group of context id, if it has been observed.
func (g *Groups) Lookup(id uint64) (*Group, bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	group, found := g.byContext[id]
	return group, found
}

// All returns every distinct group ordered by owner.
func (g *Groups) All() []*Group {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	seen := map[*Group]bool{}
	out := []*Group{}
	for _, group := range g.byContext {
		if !seen[group] {
			seen[group] = true
			out = append(out, group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].owner < out[j].owner })
	return out
}

// Owner returns the id of the context that captures shared state.
func (g *Group) Owner() uint64 { return g.owner }

// Members returns the ids of every context in the group, owner first.
func (g *Group) Members() []uint64 {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]uint64(nil), g.members...)
}

// Destroy runs fn with shared capture blocked. Object destruction in the
// group must go through Destroy so a capture never sees a half-destroyed
// object.
func (g *Group) Destroy(fn func()) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	fn()
}

// Captured returns true once the owner has captured shared state.
func (g *Group) Captured() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.captured
}

// publish replaces the group's shared values. Callers hold g.mutex.
func (g *Group) publish(shared map[Key]Value) {
	g.shared = shared
	g.captured = true
}

// view returns the group's shared values. The map is never mutated after
// publish, so it may be read without the lock.
func (g *Group) view() map[Key]Value {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.shared
}
