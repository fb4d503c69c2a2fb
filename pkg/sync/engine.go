// Package sync implements the sync engine (§4.5): it receives
// cluster:sync payloads and dispatches by event through a static
// map[string]handler table built once at construction (§9's "dynamic
// dispatch over events" note resolved in favor of a fixed table).
package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/rtcluster/coordinator/pkg/cache"
	"github.com/rtcluster/coordinator/pkg/clustererr"
	"github.com/rtcluster/coordinator/pkg/coordinator"
	"github.com/rtcluster/coordinator/pkg/logutil"
	"github.com/rtcluster/coordinator/pkg/observability/metrics"
	"github.com/rtcluster/coordinator/pkg/platform"
	"github.com/rtcluster/coordinator/pkg/replica"
)

// Payload is the decoded body of a cluster:sync message.
type Payload struct {
	Event      string
	Index      string
	Collection string
	ID         string // used by profile/role
	Post       string
}

// Engine consumes cluster:sync events and reconciles local state.
type Engine struct {
	coord   coordinator.Client
	replica *replica.Replica
	locks   *replica.Locks
	caches  *cache.Repositories
	storage platform.StorageCollaborator
	bus     platform.EventBus
	log     *logutil.Logger

	handlers map[string]func(ctx context.Context, p Payload) error
}

// New builds an Engine with its dispatch table populated once.
func New(coord coordinator.Client, rep *replica.Replica, locks *replica.Locks, caches *cache.Repositories, storage platform.StorageCollaborator, bus platform.EventBus, log *logutil.Logger) *Engine {
	e := &Engine{
		coord:   coord,
		replica: rep,
		locks:   locks,
		caches:  caches,
		storage: storage,
		bus:     bus,
		log:     log,
	}
	e.handlers = map[string]func(ctx context.Context, p Payload) error{
		"state":             e.handleState,
		"state:all":         e.handleStateAll,
		"indexCache:add":    e.handleIndexCacheAdd,
		"indexCache:remove": e.handleIndexCacheRemove,
		"profile":           e.handleProfile,
		"role":              e.handleRole,
		"validators":        e.handleValidators,
		"strategies":        e.handleStrategies,
	}
	return e
}

// Handle dispatches a decoded sync payload (§4.5). Unknown events are
// logged and ignored for forward compatibility.
func (e *Engine) Handle(ctx context.Context, p Payload) error {
	h, ok := e.handlers[p.Event]
	if !ok {
		e.log.Warnf("sync: unknown event %q, ignoring", p.Event)
		metrics.SyncEventsTotal.WithLabelValues("unknown").Inc()
		return nil
	}
	metrics.SyncEventsTotal.WithLabelValues(p.Event).Inc()
	return h(ctx, p)
}

// handleState implements §4.5's "state": re-pull getState(tag), apply
// only if strictly newer, and skip rooms with a pending local op.
func (e *Engine) handleState(ctx context.Context, p Payload) error {
	if p.Index == "" || p.Collection == "" {
		return clustererr.Wrap(clustererr.ErrInvalidInput, "sync: state event missing index/collection", nil)
	}
	tag := replica.Tag(p.Index, p.Collection)
	version, rooms, err := e.coord.GetState(ctx, tag)
	if err != nil {
		return clustererr.Wrap(clustererr.ErrTransientCoordinator, fmt.Sprintf("sync: getState(%s)", tag), err)
	}

	local := e.replica.GetVersion(p.Index, p.Collection)
	metrics.SyncVersionLag.WithLabelValues(tag).Set(float64(version) - float64(local))
	if uint64(version) <= local {
		return nil
	}

	e.replica.WithTagLock(p.Index, p.Collection, func() {
		for _, existing := range e.replica.RoomsIn(p.Index, p.Collection) {
			if !containsRoom(rooms, existing.RoomID) && !e.locks.Locked(existing.RoomID) {
				e.replica.DeleteRoomCount(existing.RoomID)
			}
		}
		for _, r := range rooms {
			if e.locks.Locked(r.RoomID) {
				continue
			}
			e.replica.SetRoomCount(p.Index, p.Collection, r.RoomID, r.Count)
		}
		e.replica.SetVersion(p.Index, p.Collection, uint64(version))
	})
	metrics.RoomsTotal.Set(float64(len(e.replica.Flat())))
	return nil
}

func containsRoom(rooms []coordinator.Room, roomID string) bool {
	for _, r := range rooms {
		if r.RoomID == roomID {
			return true
		}
	}
	return false
}

// handleStateAll implements §4.5's "state:all": run handleState for every
// known tag.
func (e *Engine) handleStateAll(ctx context.Context, _ Payload) error {
	tags, err := e.coord.Collections(ctx)
	if err != nil {
		return clustererr.Wrap(clustererr.ErrTransientCoordinator, "sync: state:all list collections", err)
	}
	for _, tag := range tags {
		index, collection, ok := splitTag(tag)
		if !ok {
			continue
		}
		if err := e.handleState(ctx, Payload{Event: "state", Index: index, Collection: collection}); err != nil {
			e.log.Errorf("sync: state:all refresh of %s failed: %v", tag, err)
		}
	}
	return nil
}

func splitTag(tag string) (index, collection string, ok bool) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '/' {
			return tag[:i], tag[i+1:], true
		}
	}
	return "", "", false
}

// handleIndexCacheAdd forwards to the storage collaborator with
// propagate=false (§4.5).
func (e *Engine) handleIndexCacheAdd(_ context.Context, p Payload) error {
	if e.storage != nil {
		e.storage.IndexCacheAdd(p.Index, p.Collection, false)
	}
	return nil
}

func (e *Engine) handleIndexCacheRemove(_ context.Context, p Payload) error {
	if e.storage != nil {
		e.storage.IndexCacheRemove(p.Index, p.Collection, false)
	}
	return nil
}

func (e *Engine) handleProfile(_ context.Context, p Payload) error {
	e.caches.InvalidateProfile(p.ID)
	return nil
}

func (e *Engine) handleRole(_ context.Context, p Payload) error {
	e.caches.InvalidateRole(p.ID)
	return nil
}

func (e *Engine) handleValidators(_ context.Context, _ Payload) error {
	e.caches.ReloadValidators()
	return nil
}

// handleStrategies diffs the coordinator hash against the locally
// registered strategies, emitting register/unregister hooks for each
// delta (§4.5). The authentication plugin registry itself is an external
// collaborator (§1); this engine only keeps the local mirror and the
// event trail in sync with it.
func (e *Engine) handleStrategies(ctx context.Context, _ Payload) error {
	authoritative, err := e.coord.StrategyAll(ctx)
	if err != nil {
		return clustererr.Wrap(clustererr.ErrTransientCoordinator, "sync: strategies: StrategyAll", err)
	}
	known := make(map[string]struct{})
	for _, name := range e.caches.StrategyNames() {
		known[name] = struct{}{}
	}

	addedNames := make([]string, 0)
	for name, payload := range authoritative {
		if _, ok := known[name]; !ok {
			e.caches.SetStrategy(name, payload)
			addedNames = append(addedNames, name)
		}
	}
	removedNames := make([]string, 0)
	for name := range known {
		if _, ok := authoritative[name]; !ok {
			e.caches.RemoveStrategy(name)
			removedNames = append(removedNames, name)
		}
	}
	sort.Strings(addedNames)
	sort.Strings(removedNames)

	if e.bus != nil {
		for _, name := range addedNames {
			e.bus.Emit(ctx, "strategy:registered", name)
		}
		for _, name := range removedNames {
			e.bus.Emit(ctx, "strategy:unregistered", name)
		}
	}
	return nil
}
