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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gfxsync/gfxsync/core/log"
	"github.com/gfxsync/gfxsync/core/math/interval"
	"github.com/gfxsync/gfxsync/gapis/config"
)

// Direction selects which side of a range an address belongs to.
type Direction int

const (
	// FromCapture translates a capture-time address to a replay-time address.
	FromCapture Direction = iota
	// FromReplay translates a replay-time address back to capture-time.
	FromReplay
)

func (d Direction) String() string {
	if d == FromReplay {
		return "FromReplay"
	}
	return "FromCapture"
}

// Range is a contiguous region of GPU address space owned by a single object.
type Range struct {
	Category    Category
	Owner       Key
	CaptureBase uint64
	Size        uint64
	ReplayBase  uint64
	Bound       bool // ReplayBase is valid
}

// Capture returns the capture-time span of the range.
func (r Range) Capture() interval.U64Span {
	return interval.U64Range{First: r.CaptureBase, Count: r.Size}.Span()
}

// Replay returns the replay-time span of the range.
func (r Range) Replay() interval.U64Span {
	return interval.U64Range{First: r.ReplayBase, Count: r.Size}.Span()
}

// captureList and replayList order the same ranges by their capture and
// replay spans respectively.
type captureList []*Range
type replayList []*Range

func (l captureList) Length() int                        { return len(l) }
func (l captureList) GetSpan(index int) interval.U64Span { return l[index].Capture() }
func (l captureList) Copy(to, from, count int)           { copy(l[to:to+count], l[from:from+count]) }
func (l captureList) New(index int, span interval.U64Span) {
	l[index] = &Range{CaptureBase: span.Start, Size: span.End - span.Start}
}
func (l *captureList) Resize(length int) { *l = resize(*l, length) }

func (l replayList) Length() int                        { return len(l) }
func (l replayList) GetSpan(index int) interval.U64Span { return l[index].Replay() }
func (l replayList) Copy(to, from, count int)           { copy(l[to:to+count], l[from:from+count]) }
func (l replayList) New(index int, span interval.U64Span) {
	l[index] = &Range{ReplayBase: span.Start, Size: span.End - span.Start, Bound: true}
}
func (l *replayList) Resize(length int) { *l = resize(*l, length) }

func resize[L ~[]*Range](l L, length int) L {
	if cap(l) >= length {
		for i := length; i < len(l); i++ {
			l[i] = nil
		}
		return l[:length]
	}
	out := make(L, length, max(length, cap(l)*2))
	copy(out, l)
	return out
}

// Ranges resolves addresses by interval containment, one sorted list per
// category. Each category has its own lock.
type Ranges struct {
	mutex      sync.RWMutex
	categories map[Category]*ranges
}

type ranges struct {
	mutex     sync.RWMutex
	byCapture captureList
	byReplay  replayList
	owners    map[Key]*Range
	pending   map[Key]uint64 // replay bases that arrived before their range
	changed   atomic.Bool
}

func (t *Ranges) category(c Category, create bool) *ranges {
	t.mutex.RLock()
	r := t.categories[c]
	t.mutex.RUnlock()
	if r != nil || !create {
		return r
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if r = t.categories[c]; r == nil {
		if t.categories == nil {
			t.categories = map[Category]*ranges{}
		}
		r = &ranges{owners: map[Key]*Range{}, pending: map[Key]uint64{}}
		t.categories[c] = r
	}
	return r
}

// Add records that owner occupies [base, base+size) in capture address space
// for category c. A range that overlaps an existing one in the same category,
// or that does not fit below the top of the address space, is dropped with a
// warning and Add returns false. Adding a second range for the same owner
// replaces the first, keeping its replay base. Zero-sized ranges are kept for
// ownership but never match an address.
func (t *Ranges) Add(ctx context.Context, c Category, base, size uint64, owner Key) bool {
	if base+size < base {
		log.W(ctx, "Dropping %v range at %#x (%s) for %v: exceeds the address space",
			c, base, humanize.IBytes(size), owner)
		return false
	}
	r := t.category(c, true)
	r.mutex.Lock()
	defer r.mutex.Unlock()

	old := r.owners[owner]
	if old != nil && old.CaptureBase == base && old.Size == size {
		return true
	}
	if old != nil {
		r.unlink(old)
	}
	rng := &Range{Category: c, Owner: owner, CaptureBase: base, Size: size}
	if size > 0 {
		i, ok := interval.Insert(&r.byCapture, rng.Capture())
		if !ok {
			if i >= 0 {
				other := r.byCapture[i]
				log.W(ctx, "Dropping %v range %v (%s) for %v: overlaps %v owned by %v",
					c, rng.Capture(), humanize.IBytes(size), owner, other.Capture(), other.Owner)
			} else {
				log.W(ctx, "Dropping %v range %v for %v", c, rng.Capture(), owner)
			}
			if old != nil {
				r.link(ctx, old)
			}
			return false
		}
		r.byCapture[i] = rng
	}
	r.owners[owner] = rng
	if replay, found := r.pending[owner]; found {
		delete(r.pending, owner)
		r.bind(ctx, rng, replay)
	} else if old != nil && old.Bound {
		r.bind(ctx, rng, old.ReplayBase)
	}
	r.changed.Store(true)
	if config.DebugRemap {
		log.D(ctx, "Added %v range %v for %v", c, rng.Capture(), owner)
	}
	return true
}

// Bind sets the replay base of the range owned by owner in category c. If
// the range has not been added yet the base is held until it is.
func (t *Ranges) Bind(ctx context.Context, c Category, owner Key, replayBase uint64) {
	r := t.category(c, true)
	r.mutex.Lock()
	defer r.mutex.Unlock()
	rng := r.owners[owner]
	if rng == nil {
		r.pending[owner] = replayBase
		return
	}
	if rng.Bound && rng.Size > 0 {
		r.byReplay.remove(rng)
	}
	rng.Bound = false
	r.bind(ctx, rng, replayBase)
	r.changed.Store(true)
}

// Translate maps address through the range containing it in category c.
func (t *Ranges) Translate(c Category, address uint64, dir Direction) (uint64, bool) {
	r := t.category(c, false)
	if r == nil {
		return 0, false
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	switch dir {
	case FromCapture:
		i := interval.IndexOf(r.byCapture, address)
		if i < 0 || !r.byCapture[i].Bound {
			return 0, false
		}
		rng := r.byCapture[i]
		return rng.ReplayBase + (address - rng.CaptureBase), true
	case FromReplay:
		i := interval.IndexOf(r.byReplay, address)
		if i < 0 {
			return 0, false
		}
		rng := r.byReplay[i]
		return rng.CaptureBase + (address - rng.ReplayBase), true
	}
	return 0, false
}

// Remove drops the range owned by owner in category c, along with any
// pending replay base for it. It returns true if a range was removed.
func (t *Ranges) Remove(ctx context.Context, c Category, owner Key) bool {
	r := t.category(c, false)
	if r == nil {
		return false
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.pending, owner)
	rng := r.owners[owner]
	if rng == nil {
		return false
	}
	r.unlink(rng)
	delete(r.owners, owner)
	r.changed.Store(true)
	if config.DebugRemap {
		log.D(ctx, "Removed %v range %v for %v", c, rng.Capture(), owner)
	}
	return true
}

// RemoveOwner drops every range owned by owner, in every category.
func (t *Ranges) RemoveOwner(ctx context.Context, owner Key) int {
	t.mutex.RLock()
	cats := make([]Category, 0, len(t.categories))
	for c := range t.categories {
		cats = append(cats, c)
	}
	t.mutex.RUnlock()
	count := 0
	for _, c := range cats {
		if t.Remove(ctx, c, owner) {
			count++
		}
	}
	return count
}

// Changed reports whether any range in category c was added, bound or
// removed since the last call, and clears the flag.
func (t *Ranges) Changed(c Category) bool {
	r := t.category(c, false)
	if r == nil {
		return false
	}
	return r.changed.Swap(false)
}

// List returns a copy of every range in category c ordered by capture base,
// including zero-sized ranges.
func (t *Ranges) List(c Category) []Range {
	r := t.category(c, false)
	if r == nil {
		return nil
	}
	r.mutex.RLock()
	out := make([]Range, 0, len(r.owners))
	for _, rng := range r.owners {
		out = append(out, *rng)
	}
	r.mutex.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CaptureBase != out[j].CaptureBase {
			return out[i].CaptureBase < out[j].CaptureBase
		}
		return out[i].Owner.ID < out[j].Owner.ID
	})
	return out
}

// bind attaches a replay base to rng. A replay span that collides with
// another bound range leaves rng unbound.
func (r *ranges) bind(ctx context.Context, rng *Range, replayBase uint64) {
	rng.ReplayBase = replayBase
	if rng.Size == 0 {
		rng.Bound = true
		return
	}
	if replayBase+rng.Size < replayBase {
		log.W(ctx, "Cannot bind %v to replay %#x (%s): exceeds the address space",
			rng.Owner, replayBase, humanize.IBytes(rng.Size))
		return
	}
	i, ok := interval.Insert(&r.byReplay, rng.Replay())
	if !ok {
		if i >= 0 {
			other := r.byReplay[i]
			log.W(ctx, "Cannot bind %v to replay %v: overlaps %v owned by %v",
				rng.Owner, rng.Replay(), other.Replay(), other.Owner)
		}
		return
	}
	r.byReplay[i] = rng
	rng.Bound = true
}

func (r *ranges) unlink(rng *Range) {
	if rng.Size == 0 {
		return
	}
	r.byCapture.remove(rng)
	if rng.Bound {
		r.byReplay.remove(rng)
	}
}

// link restores a previously unlinked range. Its spans were free before
// unlinking so both inserts succeed.
func (r *ranges) link(ctx context.Context, rng *Range) {
	if rng.Size == 0 {
		return
	}
	if i, ok := interval.Insert(&r.byCapture, rng.Capture()); ok {
		r.byCapture[i] = rng
	}
	if rng.Bound {
		if i, ok := interval.Insert(&r.byReplay, rng.Replay()); ok {
			r.byReplay[i] = rng
		} else {
			log.W(ctx, "Lost replay binding for %v", rng.Owner)
			rng.Bound = false
		}
	}
}

func (l *captureList) remove(rng *Range) {
	if i := interval.IndexOf(*l, rng.CaptureBase); i >= 0 && (*l)[i] == rng {
		interval.RemoveAt(l, i)
	}
}

func (l *replayList) remove(rng *Range) {
	if i := interval.IndexOf(*l, rng.ReplayBase); i >= 0 && (*l)[i] == rng {
		interval.RemoveAt(l, i)
	}
}
