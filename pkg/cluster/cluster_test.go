package cluster

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rtcluster/coordinator/pkg/cache"
	"github.com/rtcluster/coordinator/pkg/config"
	"github.com/rtcluster/coordinator/pkg/coordinator"
	"github.com/rtcluster/coordinator/pkg/logutil"
	"github.com/rtcluster/coordinator/pkg/node"
	"github.com/rtcluster/coordinator/pkg/platform"
	"github.com/rtcluster/coordinator/pkg/replica"
	syncengine "github.com/rtcluster/coordinator/pkg/sync"
	"github.com/rtcluster/coordinator/pkg/transport"
)

type fakeCoordinator struct {
	coordinator.Client
	mu         sync.Mutex
	version    int64
	total      int64
	strategies map[string][]byte
	collections []string
}

func (f *fakeCoordinator) SubOn(_ context.Context, _, _, _, _, _ string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version++
	f.total++
	return f.version, f.total, nil
}

func (f *fakeCoordinator) SubOff(_ context.Context, _, _, _, _ string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version++
	if f.total > 0 {
		f.total--
	}
	return f.version, f.total, nil
}

func (f *fakeCoordinator) CollectionAdd(_ context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections = append(f.collections, tag)
	return nil
}

func (f *fakeCoordinator) Collections(_ context.Context) ([]string, error) { return f.collections, nil }

func (f *fakeCoordinator) StrategyAll(_ context.Context) (map[string][]byte, error) { return f.strategies, nil }

func (f *fakeCoordinator) StrategySet(_ context.Context, name string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies[name] = payload
	return nil
}

func (f *fakeCoordinator) StrategyDelete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.strategies, name)
	return nil
}

func (f *fakeCoordinator) GetState(_ context.Context, _ string) (int64, []coordinator.Room, error) {
	return 0, nil, nil
}

func (f *fakeCoordinator) DiscoveryAdd(context.Context, string) error    { return nil }
func (f *fakeCoordinator) DiscoveryRemove(context.Context, string) error { return nil }
func (f *fakeCoordinator) DiscoveryMembers(context.Context) ([]string, error) { return nil, nil }

type fakePublisher struct{}

func (p *fakePublisher) Bind(addr string) (string, error)              { return "fake://" + addr, nil }
func (p *fakePublisher) Publish(transport.Topic, map[string]any) error { return nil }
func (p *fakePublisher) Close() error                                  { return nil }

type fakeSubscriber struct{ blocked chan struct{} }

func newFakeSubscriber() *fakeSubscriber { return &fakeSubscriber{blocked: make(chan struct{})} }
func (s *fakeSubscriber) Connect(string) error    { return nil }
func (s *fakeSubscriber) Disconnect(string) error { return nil }
func (s *fakeSubscriber) Recv() (transport.Topic, map[string]any, error) {
	<-s.blocked
	return "", nil, context.Canceled
}
func (s *fakeSubscriber) Close() error { close(s.blocked); return nil }

type fakeRouter struct{}

func (r *fakeRouter) Bind(addr string) (string, error) { return "fake://" + addr, nil }
func (r *fakeRouter) Handle(func(transport.Topic, map[string]any) (map[string]any, error)) {}
func (r *fakeRouter) Close() error { return nil }

type fakeRouterClient struct{}

func (c *fakeRouterClient) Dispatch(string, transport.Topic, map[string]any) (map[string]any, error) {
	return nil, nil
}
func (c *fakeRouterClient) Close() error { return nil }

type fakeRealtime struct {
	mu           sync.Mutex
	materialized []string
	countFn      platform.CountOverride
	listFn       platform.ListOverride
}

func (r *fakeRealtime) RoomExists(string) bool { return false }
func (r *fakeRealtime) MaterializeRoom(_ context.Context, roomID, _, _ string) error {
	r.mu.Lock()
	r.materialized = append(r.materialized, roomID)
	r.mu.Unlock()
	return nil
}
func (r *fakeRealtime) RemoveRoomIfEmpty(context.Context, string, int64) error { return nil }
func (r *fakeRealtime) OverrideCount(fn platform.CountOverride)               { r.countFn = fn }
func (r *fakeRealtime) OverrideList(fn platform.ListOverride)                 { r.listFn = fn }

type allowAllAuth struct{}

func (allowAllAuth) IsActionAllowed(context.Context, any, string, string, string) (bool, error) {
	return true, nil
}

func newTestCluster(t *testing.T, coord *fakeCoordinator, realtime platform.RealtimeEngine) *Cluster {
	t.Helper()
	rep := replica.New()
	locks := replica.NewLocks()
	repos, err := cache.NewRepositories(16)
	if err != nil {
		t.Fatalf("NewRepositories: %v", err)
	}
	log := logutil.New(nil)
	engine := syncengine.New(coord, rep, locks, repos, nil, nil, log)
	deps := node.Deps{
		Coordinator:  coord,
		Publisher:    &fakePublisher{},
		Subscriber:   newFakeSubscriber(),
		Router:       &fakeRouter{},
		RouterClient: &fakeRouterClient{},
		Replica:      rep,
		Locks:        locks,
		Caches:       repos,
		SyncEngine:   engine,
		Log:          log,
	}
	n := node.New(deps, node.Timers{HeartbeatInterval: time.Hour, HeartbeatTimeout: time.Hour})
	if err := n.Start(context.Background(), "tcp://127.0.0.1:0", "tcp://127.0.0.1:0"); err != nil {
		t.Fatalf("node.Start: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })

	return New(Deps{
		Node:        n,
		Coordinator: coord,
		Replica:     rep,
		Locks:       locks,
		Caches:      repos,
		Realtime:    realtime,
		Log:         log,
	}, Options{Timers: config.Timers{JoinAttemptInterval: time.Millisecond, WaitForMissingRooms: time.Millisecond}})
}

func TestRealtimeCountOverrideHitsAndMisses(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}}
	c := newTestCluster(t, coord, &fakeRealtime{})
	c.opts.Timers.WaitForMissingRooms = 5 * time.Millisecond

	c.replica.SetRoomCount("idx", "col", "room1", 3)
	count, err := c.realtimeCountOverride(context.Background(), "room1")
	if err != nil || count != 3 {
		t.Fatalf("expected count=3, got %d err=%v", count, err)
	}

	_, err = c.realtimeCountOverride(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected notFound error for missing room")
	}
}

func TestRealtimeListOverrideFiltersAndShapes(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}}
	c := newTestCluster(t, coord, &fakeRealtime{})
	c.auth = allowAllAuth{}

	// Scenario 4: R1=(i2,c2,4), R2=(i1,c1,2), R3=(i1,c2,3); sorted output
	// must come back as i1{c1{R2:2},c2{R3:3}}, i2{c2{R1:4}}, in that exact
	// order.
	c.replica.SetRoomCount("i2", "c2", "R1", 4)
	c.replica.SetRoomCount("i1", "c1", "R2", 2)
	c.replica.SetRoomCount("i1", "c2", "R3", 3)

	out, err := c.realtimeListOverride(context.Background(), true)
	if err != nil {
		t.Fatalf("realtimeListOverride: %v", err)
	}
	want := platform.RoomList{Indexes: []platform.IndexRooms{
		{Index: "i1", Collections: []platform.CollectionRooms{
			{Collection: "c1", Rooms: []platform.RoomCount{{RoomID: "R2", Count: 2}}},
			{Collection: "c2", Rooms: []platform.RoomCount{{RoomID: "R3", Count: 3}}},
		}},
		{Index: "i2", Collections: []platform.CollectionRooms{
			{Collection: "c2", Rooms: []platform.RoomCount{{RoomID: "R1", Count: 4}}},
		}},
	}}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("unexpected shape/order: %+v", out)
	}
}

func TestRealtimeListOverrideUnsortedStillGroupsCorrectly(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}}
	c := newTestCluster(t, coord, &fakeRealtime{})
	c.auth = allowAllAuth{}

	c.replica.SetRoomCount("i2", "c2", "R1", 4)
	c.replica.SetRoomCount("i1", "c1", "R2", 2)

	out, err := c.realtimeListOverride(context.Background(), false)
	if err != nil {
		t.Fatalf("realtimeListOverride: %v", err)
	}
	found := map[string]int64{}
	for _, idx := range out.Indexes {
		for _, col := range idx.Collections {
			for _, r := range col.Rooms {
				found[idx.Index+"/"+col.Collection+"/"+r.RoomID] = r.Count
			}
		}
	}
	if found["i1/c1/R2"] != 2 || found["i2/c2/R1"] != 4 {
		t.Fatalf("unexpected unsorted contents: %+v", found)
	}
}

func TestPipeBeforeJoinMaterializesFromReplica(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}}
	rt := &fakeRealtime{}
	c := newTestCluster(t, coord, rt)
	c.replica.SetRoomCount("idx", "col", "room1", 1)

	out, err := c.pipeBeforeJoin(context.Background(), JoinPayload{RoomID: "room1"})
	if err != nil {
		t.Fatalf("pipeBeforeJoin: %v", err)
	}
	if _, ok := out.(JoinPayload); !ok {
		t.Fatalf("expected payload passthrough")
	}
	if len(rt.materialized) != 1 || rt.materialized[0] != "room1" {
		t.Fatalf("expected room1 materialized, got %v", rt.materialized)
	}
}

func TestPipeBeforeJoinRetriesOnceThenProceeds(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}}
	rt := &fakeRealtime{}
	c := newTestCluster(t, coord, rt)
	c.opts.Timers.JoinAttemptInterval = 5 * time.Millisecond

	start := time.Now()
	_, err := c.pipeBeforeJoin(context.Background(), JoinPayload{RoomID: "ghost"})
	if err != nil {
		t.Fatalf("pipeBeforeJoin: %v", err)
	}
	if time.Since(start) < c.opts.Timers.JoinAttemptInterval {
		t.Fatalf("expected pipe to wait for the retry interval")
	}
	if len(rt.materialized) != 0 {
		t.Fatalf("expected no materialization for a room absent from the replica, got %v", rt.materialized)
	}
}

func TestPipeSubscriptionAddedAppliesCountAndReleasesLock(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}}
	c := newTestCluster(t, coord, &fakeRealtime{})
	c.locks.AddCreate("room1")

	out, err := c.pipeSubscriptionAdded(context.Background(), SubscriptionPayload{
		Index: "idx", Collection: "col", RoomID: "room1", ConnectionID: "conn1",
	})
	if err != nil {
		t.Fatalf("pipeSubscriptionAdded: %v", err)
	}
	if _, ok := out.(SubscriptionPayload); !ok {
		t.Fatalf("expected SubscriptionPayload passthrough")
	}
	room, ok := c.replica.Room("room1")
	if !ok || room.Count != 1 {
		t.Fatalf("expected room1 count=1, got %+v ok=%v", room, ok)
	}
	if c.locks.Locked("room1") {
		t.Fatalf("expected lock released after subOn")
	}
}

func TestPipeSubscriptionOffAppliesCountAndReleasesLock(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}, total: 1, version: 1}
	c := newTestCluster(t, coord, &fakeRealtime{})
	c.replica.SetRoomCount("idx", "col", "room1", 1)
	c.replica.SetVersion("idx", "col", 1)
	c.locks.AddDelete("room1")

	_, err := c.pipeSubscriptionOff(context.Background(), SubscriptionOffPayload{
		Index: "idx", Collection: "col", RoomID: "room1", ConnectionID: "conn1",
	})
	if err != nil {
		t.Fatalf("pipeSubscriptionOff: %v", err)
	}
	if _, ok := c.replica.Room("room1"); ok {
		t.Fatalf("expected room1 deleted once count reached 0")
	}
	if c.locks.Locked("room1") {
		t.Fatalf("expected delete lock released")
	}
}

func TestPipeStrategyAddedAndRemovedRoundtrip(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}}
	c := newTestCluster(t, coord, &fakeRealtime{})

	if _, err := c.pipeStrategyAdded(context.Background(), StrategyPayload{Name: "S", Payload: []byte("x")}); err != nil {
		t.Fatalf("pipeStrategyAdded: %v", err)
	}
	if len(c.caches.StrategyNames()) != 1 {
		t.Fatalf("expected strategy S registered locally")
	}
	if _, err := c.pipeStrategyRemoved(context.Background(), StrategyPayload{Name: "S"}); err != nil {
		t.Fatalf("pipeStrategyRemoved: %v", err)
	}
	if len(c.caches.StrategyNames()) != 0 {
		t.Fatalf("expected strategy S unregistered locally")
	}
}
