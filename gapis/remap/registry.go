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

import (
	"context"
	"sync"

	"github.com/gfxsync/gfxsync/core/log"
	"github.com/gfxsync/gfxsync/gapis/config"
)

// Registry combines the identity Table with the address Ranges.
//
// Lookups and insertions hold the registry's destruction lock for reading,
// so they may run concurrently with each other. RemoveMapping holds it for
// writing so that an object's identity and every range it owns disappear in
// one step.
type Registry struct {
	destroy sync.RWMutex
	ids     Table
	ranges  Ranges
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// AddMapping maps capture to replay in category c, overwriting any previous
// mapping.
func (r *Registry) AddMapping(ctx context.Context, c Category, capture CaptureID, replay ReplayID) {
	r.destroy.RLock()
	defer r.destroy.RUnlock()
	r.ids.Add(c, capture, replay)
	if config.DebugRemap {
		log.D(ctx, "Mapped %v %#x -> %#x", c, uint64(capture), uint64(replay))
	}
}

// Resolve returns the replay id for capture in category c.
func (r *Registry) Resolve(c Category, capture CaptureID) (ReplayID, bool) {
	r.destroy.RLock()
	defer r.destroy.RUnlock()
	return r.ids.Resolve(c, capture)
}

// Reverse returns the capture id for replay in category c.
func (r *Registry) Reverse(c Category, replay ReplayID) (CaptureID, bool) {
	r.destroy.RLock()
	defer r.destroy.RUnlock()
	return r.ids.Reverse(c, replay)
}

// Mappings returns the number of live identifier mappings in category c.
func (r *Registry) Mappings(c Category) int {
	r.destroy.RLock()
	defer r.destroy.RUnlock()
	return r.ids.Len(c)
}

// RemoveMapping forgets the object Key{c, capture}: its identifier mapping
// and every address range it owns, in any category.
func (r *Registry) RemoveMapping(ctx context.Context, c Category, capture CaptureID) {
	r.destroy.Lock()
	defer r.destroy.Unlock()
	mapped := r.ids.remove(c, capture)
	owned := r.ranges.RemoveOwner(ctx, Key{c, capture})
	if config.DebugRemap && (mapped || owned > 0) {
		log.D(ctx, "Removed %v (%d ranges)", Key{c, capture}, owned)
	}
}

// AddRange records a capture-time address range for owner in category c.
// It returns false if the range overlaps another and was dropped.
func (r *Registry) AddRange(ctx context.Context, c Category, base, size uint64, owner Key) bool {
	r.destroy.RLock()
	defer r.destroy.RUnlock()
	return r.ranges.Add(ctx, c, base, size, owner)
}

// BindReplayBase sets the replay base of owner's range in category c. The
// bind may arrive before or after the range itself.
func (r *Registry) BindReplayBase(ctx context.Context, c Category, owner Key, replayBase uint64) {
	r.destroy.RLock()
	defer r.destroy.RUnlock()
	r.ranges.Bind(ctx, c, owner, replayBase)
}

// RemoveRange drops owner's range in category c without touching its
// identifier mapping.
func (r *Registry) RemoveRange(ctx context.Context, c Category, owner Key) bool {
	r.destroy.RLock()
	defer r.destroy.RUnlock()
	return r.ranges.Remove(ctx, c, owner)
}

// Translate maps address through the containing range in category c.
func (r *Registry) Translate(c Category, address uint64, dir Direction) (uint64, bool) {
	r.destroy.RLock()
	defer r.destroy.RUnlock()
	return r.ranges.Translate(c, address, dir)
}

// Changed reports and clears the range-changed flag for category c.
func (r *Registry) Changed(c Category) bool {
	return r.ranges.Changed(c)
}

// Ranges returns a snapshot of the ranges in category c.
func (r *Registry) Ranges(c Category) []Range {
	r.destroy.RLock()
	defer r.destroy.RUnlock()
	return r.ranges.List(c)
}
