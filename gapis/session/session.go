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

// Package session ties the identity registry, sharing groups, state
// capture and device matching together behind the events raised by the
// capture and replay layers.
package session

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/gfxsync/gfxsync/core/fault"
	"github.com/gfxsync/gfxsync/core/log"
	"github.com/gfxsync/gfxsync/gapis/compat"
	"github.com/gfxsync/gfxsync/gapis/config"
	"github.com/gfxsync/gfxsync/gapis/database"
	"github.com/gfxsync/gfxsync/gapis/remap"
	"github.com/gfxsync/gfxsync/gapis/replay"
	"github.com/gfxsync/gfxsync/gapis/state"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protojson"
)

// ErrUnknownContext is returned when a context has never been synced.
const ErrUnknownContext = fault.Const("context has no captured state")

// Session is one capture/replay reconciliation session.
type Session struct {
	// ID identifies the session in logs.
	ID uuid.UUID
	// Sink, if not nil, receives every scheduled call in execution order.
	Sink replay.Sink

	cfg      config.Config
	store    database.Store
	closer   io.Closer
	registry *remap.Registry
	groups   state.Groups

	mutex     sync.Mutex
	snapshots map[uint64]*state.Snapshot
	dirty     map[uint64]map[state.Kind]bool
}

// New returns a new session. If store is nil, blobs go to the sqlite file
// named by cfg.BlobStorePath, or stay in memory if that is empty.
func New(ctx context.Context, cfg config.Config, store database.Store) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		ID:        uuid.New(),
		cfg:       cfg,
		store:     store,
		registry:  remap.NewRegistry(),
		snapshots: map[uint64]*state.Snapshot{},
		dirty:     map[uint64]map[state.Kind]bool{},
	}
	switch {
	case store != nil:
	case cfg.BlobStorePath != "":
		db, err := database.OpenSQLite(ctx, cfg.BlobStorePath)
		if err != nil {
			return nil, err
		}
		s.store, s.closer = db, db
	default:
		s.store = database.NewInMemory()
	}
	log.I(ctx, "Session %v started", s.ID)
	return s, nil
}

// Close releases the blob store if the session opened it.
func (s *Session) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Registry returns the session's identity registry.
func (s *Session) Registry() *remap.Registry { return s.registry }

// Store returns the session's blob store.
func (s *Session) Store() database.Store { return s.store }

func (s *Session) bind(ctx context.Context) context.Context {
	return log.V{"session": s.ID}.Bind(ctx)
}

// markDirty records that kind k changed on context id. Shared kinds are
// recorded on the owner of the context's group, which is the context that
// captures them.
func (s *Session) markDirty(id uint64, k state.Kind) {
	if d := state.Describe(k); d != nil && d.Scope == state.Shared {
		if group, found := s.groups.Lookup(id); found {
			id = group.Owner()
		}
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	set, found := s.dirty[id]
	if !found {
		set = map[state.Kind]bool{}
		s.dirty[id] = set
	}
	set[k] = true
}

// MarkDirty records that kind k changed on context id since its last sync.
func (s *Session) MarkDirty(id uint64, k state.Kind) { s.markDirty(id, k) }

func (s *Session) markObjects(id uint64, c remap.Category) {
	if k, found := state.ExistenceKind(c); found {
		s.markDirty(id, k)
	}
}

// OnCaptureIdentifierCreated is raised when the application creates an
// object. A capture id that is still mapped belongs to a destroyed object
// whose destruction was missed; the stale mapping and its ranges are
// dropped.
func (s *Session) OnCaptureIdentifierCreated(ctx context.Context, contextID uint64, c remap.Category, id remap.CaptureID) {
	ctx = s.bind(ctx)
	if old, found := s.registry.Resolve(c, id); found {
		log.W(ctx, "%v recreated while mapped to %#x, dropping stale mapping", remap.Key{Category: c, ID: id}, old)
		s.registry.RemoveMapping(ctx, c, id)
	}
	s.markObjects(contextID, c)
}

// OnCaptureIdentifierDestroyed is raised when the application destroys an
// object. The removal is serialised against shared capture of the
// context's group.
func (s *Session) OnCaptureIdentifierDestroyed(ctx context.Context, contextID uint64, c remap.Category, id remap.CaptureID) {
	ctx = s.bind(ctx)
	remove := func() { s.registry.RemoveMapping(ctx, c, id) }
	if group, found := s.groups.Lookup(contextID); found {
		group.Destroy(remove)
	} else {
		remove()
	}
	s.markObjects(contextID, c)
}

// OnAddressRangeObserved records the capture-time address range of owner.
// It returns false if the range was rejected for overlapping another.
func (s *Session) OnAddressRangeObserved(ctx context.Context, c remap.Category, base, size uint64, owner remap.Key) bool {
	return s.registry.AddRange(s.bind(ctx), c, base, size, owner)
}

// RequestStateSync captures the state of live. If live was synced before,
// only the kinds marked dirty since are read again.
func (s *Session) RequestStateSync(ctx context.Context, live state.Live) (*state.Snapshot, error) {
	ctx = s.bind(ctx)
	id := live.ID()

	opts := state.CaptureOptionsFrom(s.cfg)
	opts.Store = s.store
	owner, peers := s.capturesShared(live), s.peers(live)
	s.mutex.Lock()
	if prev, found := s.snapshots[id]; found {
		opts.Previous = prev
		opts.Dirty = s.dirty[id]
		if opts.Dirty == nil {
			opts.Dirty = map[state.Kind]bool{}
		}
	}
	pending := s.dirty[id]
	delete(s.dirty, id)
	if owner {
		pending = s.takeShared(id, pending, peers)
		if opts.Dirty != nil && pending != nil {
			opts.Dirty = pending
		}
	}
	s.mutex.Unlock()

	snap, err := state.Capture(ctx, live, &s.groups, opts)
	if err != nil {
		s.mutex.Lock()
		set, found := s.dirty[id]
		if !found {
			set = map[state.Kind]bool{}
			s.dirty[id] = set
		}
		for k := range pending {
			set[k] = true
		}
		s.mutex.Unlock()
		return nil, errors.Wrapf(err, "syncing context %d", id)
	}

	s.mutex.Lock()
	s.snapshots[id] = snap
	s.mutex.Unlock()

	if n := len(snap.Failures()); n > 0 {
		log.W(ctx, "Context %d synced with %d unreadable variables", id, n)
	}
	if s.cfg.DumpSnapshots {
		s.dump(ctx, snap)
	}
	return snap, nil
}

// capturesShared returns true if live is, or will become, the owner of its
// sharing group.
func (s *Session) capturesShared(live state.Live) bool {
	if group, found := s.groups.Lookup(live.ID()); found {
		return group.Owner() == live.ID()
	}
	for _, other := range live.SharesWith() {
		if _, found := s.groups.Lookup(other); found {
			return false
		}
	}
	return true
}

// peers returns every context known to share live's namespace.
func (s *Session) peers(live state.Live) []uint64 {
	out := append([]uint64(nil), live.SharesWith()...)
	if group, found := s.groups.Lookup(live.ID()); found {
		out = append(out, group.Members()...)
	}
	return out
}

// takeShared moves the shared-scope marks filed under peers into set, the
// pending marks of the owner id. Marks land on a peer when it changes shared
// state before the group knows about it. Callers hold s.mutex.
func (s *Session) takeShared(id uint64, set map[state.Kind]bool, peers []uint64) map[state.Kind]bool {
	for _, peer := range peers {
		if peer == id {
			continue
		}
		for k := range s.dirty[peer] {
			if d := state.Describe(k); d == nil || d.Scope != state.Shared {
				continue
			}
			if set == nil {
				set = map[state.Kind]bool{}
			}
			set[k] = true
			delete(s.dirty[peer], k)
		}
	}
	return set
}

func (s *Session) dump(ctx context.Context, snap *state.Snapshot) {
	p, err := snap.Proto()
	if err != nil {
		log.W(ctx, "Could not encode snapshot of context %d: %v", snap.Context(), err)
		return
	}
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(p)
	if err != nil {
		log.W(ctx, "Could not encode snapshot of context %d: %v", snap.Context(), err)
		return
	}
	log.D(ctx, "Snapshot of context %d:\n%s", snap.Context(), data)
}

// Snapshot returns the latest captured state of context id.
func (s *Session) Snapshot(id uint64) (*state.Snapshot, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	snap, found := s.snapshots[id]
	return snap, found
}

// OnReplayIdentifierCreated records the replay id of a capture-time object.
func (s *Session) OnReplayIdentifierCreated(ctx context.Context, c remap.Category, capture remap.CaptureID, replay remap.ReplayID) {
	s.registry.AddMapping(s.bind(ctx), c, capture, replay)
}

// OnReplayRangeBound records the replay base address of owner's range.
func (s *Session) OnReplayRangeBound(ctx context.Context, c remap.Category, owner remap.Key, replayBase uint64) {
	s.registry.BindReplayBase(s.bind(ctx), c, owner, replayBase)
}

// ResolveIdentifier returns the replay id of a capture id. ok is false if
// the object has not been created on replay yet.
func (s *Session) ResolveIdentifier(c remap.Category, id remap.CaptureID) (remap.ReplayID, bool) {
	return s.registry.Resolve(c, id)
}

// TranslateAddress translates an address between capture and replay
// address spaces.
func (s *Session) TranslateAddress(c remap.Category, address uint64, dir remap.Direction) (uint64, bool) {
	return s.registry.Translate(c, address, dir)
}

func (s *Session) scheduleOptions() state.ScheduleOptions {
	return state.ScheduleOptions{Registry: s.registry, Tolerance: s.cfg.FloatTolerance}
}

// ScheduleReconstruction returns the calls that bring a replay context in
// the reference state to the latest captured state of context id,
// including its shared state. A nil reference stands for a fresh context.
func (s *Session) ScheduleReconstruction(ctx context.Context, id uint64, reference *state.Snapshot) (*state.Schedule, error) {
	ctx = s.bind(ctx)
	snap, found := s.Snapshot(id)
	if !found {
		return nil, errors.Wrapf(ErrUnknownContext, "context %d", id)
	}
	opts := s.scheduleOptions()
	opts.IncludeShared = true
	out, err := snap.ScheduleDiff(ctx, reference, opts)
	if err != nil {
		return nil, err
	}
	if s.Sink != nil {
		s.Sink.Append(out.Calls...)
	}
	return out, nil
}

// Plan is the reconstruction of every synced context.
type Plan struct {
	// Shared holds the shared-state prelude of each group, by owner.
	Shared map[uint64]*state.Schedule
	// Private holds the private schedule of each context.
	Private map[uint64]*state.Schedule

	order   []uint64
	members map[uint64][]uint64
}

// Calls returns every call of the plan in execution order: each group's
// prelude followed by its members in id order.
func (p *Plan) Calls() []replay.Call {
	out := []replay.Call{}
	for _, owner := range p.order {
		out = append(out, p.Shared[owner].Calls...)
		for _, id := range p.members[owner] {
			out = append(out, p.Private[id].Calls...)
		}
	}
	return out
}

// Contexts returns the ids of the scheduled contexts in execution order.
func (p *Plan) Contexts() []uint64 {
	out := []uint64{}
	for _, owner := range p.order {
		out = append(out, p.members[owner]...)
	}
	return out
}

// ScheduleAll schedules every synced context. Each group's shared state is
// scheduled first on its owner. The group's members are then scheduled in
// parallel, treating objects created by the prelude as pending. references
// holds the replay state of each context; missing entries are fresh.
func (s *Session) ScheduleAll(ctx context.Context, references map[uint64]*state.Snapshot) (*Plan, error) {
	ctx = s.bind(ctx)
	plan := &Plan{
		Shared:  map[uint64]*state.Schedule{},
		Private: map[uint64]*state.Schedule{},
		members: map[uint64][]uint64{},
	}
	var mutex sync.Mutex

	for _, group := range s.groups.All() {
		owner := group.Owner()
		lead, found := s.Snapshot(owner)
		if !found {
			log.W(ctx, "Group of context %d was never synced, skipping", owner)
			continue
		}
		plan.order = append(plan.order, owner)

		opts := s.scheduleOptions()
		prelude, err := lead.ScheduleShared(ctx, references[owner], opts)
		if err != nil {
			return nil, errors.Wrapf(err, "scheduling shared state of group %d", owner)
		}
		plan.Shared[owner] = prelude
		opts.Upstream = prelude.Created

		members := group.Members()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.ScheduleWorkers)
		for _, id := range members {
			snap, found := s.Snapshot(id)
			if !found {
				log.W(ctx, "Context %d was never synced, skipping", id)
				continue
			}
			g.Go(func() error {
				sched, err := snap.ScheduleDiff(gctx, references[id], opts)
				if err != nil {
					return errors.Wrapf(err, "scheduling context %d", id)
				}
				mutex.Lock()
				plan.Private[id] = sched
				mutex.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, id := range members {
			if _, found := plan.Private[id]; found {
				plan.members[owner] = append(plan.members[owner], id)
			}
		}
		sort.Slice(plan.members[owner], func(i, j int) bool {
			return plan.members[owner][i] < plan.members[owner][j]
		})
	}

	if s.Sink != nil {
		s.Sink.Append(plan.Calls()...)
	}
	return plan, nil
}

// MatchDevices picks the replay device for the captured devices and
// registers the device, memory type and queue mappings.
func (s *Session) MatchDevices(ctx context.Context, captured []compat.Device, enum compat.Enumerator) (*compat.Result, error) {
	return compat.Match(s.bind(ctx), captured, enum, s.registry, compat.OptionsFrom(s.cfg))
}
