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

package remap

import "sync"

// Table is a per-category bidirectional map from capture-time to replay-time
// identifiers. Each category has its own lock.
//
// Removal is deliberately not exported: destroying an object must also drop
// the address ranges it owns, which only Registry can do in one step.
type Table struct {
	mutex      sync.RWMutex
	categories map[Category]*identities
}

type identities struct {
	mutex   sync.RWMutex
	forward map[CaptureID]ReplayID
	reverse map[ReplayID]CaptureID
}

func (t *Table) category(c Category, create bool) *identities {
	t.mutex.RLock()
	ids := t.categories[c]
	t.mutex.RUnlock()
	if ids != nil || !create {
		return ids
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if ids = t.categories[c]; ids == nil {
		if t.categories == nil {
			t.categories = map[Category]*identities{}
		}
		ids = &identities{
			forward: map[CaptureID]ReplayID{},
			reverse: map[ReplayID]CaptureID{},
		}
		t.categories[c] = ids
	}
	return ids
}

// Add maps capture to replay within category c, overwriting any previous
// mapping for capture. Objects are routinely destroyed and recreated under
// the same capture id over the length of a trace.
func (t *Table) Add(c Category, capture CaptureID, replay ReplayID) {
	ids := t.category(c, true)
	ids.mutex.Lock()
	defer ids.mutex.Unlock()
	if old, found := ids.forward[capture]; found && ids.reverse[old] == capture {
		delete(ids.reverse, old)
	}
	ids.forward[capture] = replay
	ids.reverse[replay] = capture
}

// Resolve returns the replay id mapped to capture in category c.
func (t *Table) Resolve(c Category, capture CaptureID) (ReplayID, bool) {
	ids := t.category(c, false)
	if ids == nil {
		return 0, false
	}
	ids.mutex.RLock()
	defer ids.mutex.RUnlock()
	replay, found := ids.forward[capture]
	return replay, found
}

// Reverse returns the capture id currently mapped to replay in category c.
func (t *Table) Reverse(c Category, replay ReplayID) (CaptureID, bool) {
	ids := t.category(c, false)
	if ids == nil {
		return 0, false
	}
	ids.mutex.RLock()
	defer ids.mutex.RUnlock()
	capture, found := ids.reverse[replay]
	return capture, found
}

// Len returns the number of live mappings in category c.
func (t *Table) Len(c Category) int {
	ids := t.category(c, false)
	if ids == nil {
		return 0
	}
	ids.mutex.RLock()
	defer ids.mutex.RUnlock()
	return len(ids.forward)
}

func (t *Table) remove(c Category, capture CaptureID) bool {
	ids := t.category(c, false)
	if ids == nil {
		return false
	}
	ids.mutex.Lock()
	defer ids.mutex.Unlock()
	replay, found := ids.forward[capture]
	if !found {
		return false
	}
	delete(ids.forward, capture)
	if ids.reverse[replay] == capture {
		delete(ids.reverse, replay)
	}
	return true
}
