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
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gfxsync/gfxsync/core/fault"
	"github.com/gfxsync/gfxsync/core/log"
	"github.com/gfxsync/gfxsync/gapis/config"
	"github.com/gfxsync/gfxsync/gapis/database"
	"github.com/gfxsync/gfxsync/gapis/remap"
	"github.com/gfxsync/gfxsync/gapis/replay"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gfxsync/gfxsync/gapis/state"

// CaptureOptions controls a capture pass.
type CaptureOptions struct {
	// InlineLimit is the largest payload kept inline. Larger payloads are
	// moved to the blob store. Zero keeps everything inline.
	InlineLimit int
	// Store receives large payloads. If nil, the store bound to the
	// context is used, if any.
	Store database.Store
	// Previous and Dirty enable incremental capture: only dirty kinds are
	// read back, everything else is copied from Previous.
	Previous *Snapshot
	Dirty    map[Kind]bool
	// FenceTimeout and FenceEscalatedTimeout bound the wait for the GPU to
	// go idle before contents are read.
	FenceTimeout          time.Duration
	FenceEscalatedTimeout time.Duration
}

// CaptureOptionsFrom returns the CaptureOptions described by cfg.
func CaptureOptionsFrom(cfg config.Config) CaptureOptions {
	return CaptureOptions{
		InlineLimit:           cfg.InlineLimit,
		FenceTimeout:          cfg.FenceTimeout,
		FenceEscalatedTimeout: cfg.FenceEscalatedTimeout,
	}
}

type capturer struct {
	live     Live
	opts     CaptureOptions
	store    database.Store
	objects  map[remap.Category][]remap.CaptureID
	limits   map[Kind]Value
	failures fault.List
	waited   bool
}

// Capture reads the current state of live. The context must be usable on
// the calling goroutine for the duration of the call.
//
// Shared state is read only when live is the owner of its group; other
// members take the owner's most recent capture. A failure to read one
// variable is logged, the variable takes its default value and capture
// carries on. Capture only fails if the GPU does not go idle before
// contents are read.
func Capture(ctx context.Context, live Live, groups *Groups, opts CaptureOptions) (*Snapshot, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "state.Capture",
		trace.WithAttributes(
			attribute.Int64("context", int64(live.ID())),
			attribute.Bool("incremental", opts.Previous != nil),
		),
	)
	defer span.End()
	ctx = log.Enter(ctx, "Capture")
	ctx = log.V{"context": live.ID()}.Bind(ctx)

	group := groups.Observe(ctx, live.ID(), live.SharesWith())
	c := &capturer{
		live:    live,
		opts:    opts,
		store:   opts.Store,
		objects: map[remap.Category][]remap.CaptureID{},
		limits:  map[Kind]Value{},
	}
	if c.store == nil {
		c.store = database.Get(ctx)
	}

	s := &Snapshot{
		context: live.ID(),
		group:   group,
		private: map[Key]Value{},
	}
	if err := c.capture(ctx, Private, s.private); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		return nil, err
	}

	if group.Owner() == live.ID() {
		shared := map[Key]Value{}
		group.mutex.Lock()
		err := c.capture(ctx, Shared, shared)
		if err == nil {
			group.publish(shared)
		}
		group.mutex.Unlock()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "shared capture failed")
			return nil, err
		}
	} else if !group.Captured() {
		log.W(ctx, "Shared state of group %d has not been captured yet", group.Owner())
	}
	s.shared = group.view()
	s.failures = c.failures

	span.SetAttributes(
		attribute.Int("private", len(s.private)),
		attribute.Int("shared", len(s.shared)),
		attribute.Int("failures", len(s.failures)),
	)
	return s, nil
}

// capture reads every kind of the given scope into out.
func (c *capturer) capture(ctx context.Context, scope Scope, out map[Key]Value) error {
	for _, k := range Kinds() {
		d := Describe(k)
		if d.Scope != scope {
			continue
		}
		if d.Phase == replay.Content && !c.waited {
			if err := c.waitIdle(ctx); err != nil {
				return err
			}
		}
		if prev := c.reuse(d); prev != nil {
			for key, v := range prev.scope(scope) {
				if key.Kind == k {
					out[key] = v
				}
			}
			continue
		}
		if d.ReadOnly {
			c.limit(ctx, k)
			out[Key{Kind: k}] = c.limits[k]
			continue
		}
		for _, key := range c.keys(ctx, d) {
			out[key] = c.read(ctx, d, key)
		}
	}
	return nil
}

// reuse returns the previous snapshot if d can be copied from it instead
// of being read back.
func (c *capturer) reuse(d *Descriptor) *Snapshot {
	prev := c.opts.Previous
	if prev == nil || c.opts.Dirty[d.Kind] {
		return nil
	}
	// A change to the set of objects invalidates all of their state.
	if e, found := existence[d.Object]; found && c.opts.Dirty[e] {
		return nil
	}
	if d.Indexed() && c.opts.Dirty[d.Count] {
		return nil
	}
	return prev
}

// keys returns the variables of kind d present in the live context.
func (c *capturer) keys(ctx context.Context, d *Descriptor) []Key {
	count := 1
	if d.Indexed() {
		count = c.limit(ctx, d.Count)
	}
	if !d.PerObject() {
		keys := make([]Key, count)
		for i := range keys {
			keys[i] = Key{Kind: d.Kind, Index: i}
		}
		return keys
	}
	ids := c.objectsOf(ctx, d.Object)
	keys := make([]Key, 0, len(ids)*count)
	for _, id := range ids {
		for i := 0; i < count; i++ {
			keys = append(keys, Key{Kind: d.Kind, Object: id, Index: i})
		}
	}
	return keys
}

func (c *capturer) limit(ctx context.Context, k Kind) int {
	v, found := c.limits[k]
	if !found {
		v = c.read(ctx, Describe(k), Key{Kind: k})
		c.limits[k] = v
	}
	if len(v.Ints) > 0 && v.Ints[0] > 0 {
		return int(v.Ints[0])
	}
	return 0
}

func (c *capturer) objectsOf(ctx context.Context, cat remap.Category) []remap.CaptureID {
	if ids, found := c.objects[cat]; found {
		return ids
	}
	ids, err := c.live.Objects(ctx, cat)
	if err != nil {
		log.W(ctx, "Failed to list %v objects: %v", cat, err)
		c.failures.Collect(errors.Wrapf(err, "listing %v", cat))
		ids = nil
	}
	c.objects[cat] = ids
	return ids
}

// read captures a single variable, falling back to the default on error.
func (c *capturer) read(ctx context.Context, d *Descriptor, key Key) Value {
	v, err := c.get(ctx, d, key)
	if err != nil {
		log.W(log.V{
			"kind":   d.Name,
			"object": uint64(key.Object),
			"index":  key.Index,
		}.Bind(ctx), "Capture of %v failed, using default: %v", key, err)
		c.failures.Collect(errors.Wrapf(err, "capturing %v", key))
		return d.Default.Clone()
	}
	return c.offload(ctx, key, v)
}

func (c *capturer) get(ctx context.Context, d *Descriptor, key Key) (Value, error) {
	restore, err := selectFor(ctx, c.live, d, key)
	defer restore()
	if err != nil {
		return Value{}, errors.Wrapf(err, "selecting %v", d.Selector)
	}
	return c.live.Get(ctx, key)
}

// offload moves a large inline payload into the blob store.
func (c *capturer) offload(ctx context.Context, key Key, v Value) Value {
	if c.store == nil || c.opts.InlineLimit <= 0 || len(v.Bytes) <= c.opts.InlineLimit {
		return v
	}
	blob, err := c.store.Put(ctx, v.Bytes)
	if err != nil {
		log.W(ctx, "Keeping %s of %v inline: %v", humanize.Bytes(uint64(len(v.Bytes))), key, err)
		return v
	}
	v.Bytes = nil
	v.Blob = blob
	return v
}

func (c *capturer) waitIdle(ctx context.Context) error {
	c.waited = true
	idler, ok := c.live.(replay.Idler)
	if !ok {
		return nil
	}
	initial, escalated := c.opts.FenceTimeout, c.opts.FenceEscalatedTimeout
	if initial <= 0 || escalated <= 0 {
		def := config.Default()
		initial, escalated = def.FenceTimeout, def.FenceEscalatedTimeout
	}
	return replay.WaitIdle(ctx, idler, initial, escalated)
}
