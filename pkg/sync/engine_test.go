package sync

import (
	"context"
	"testing"

	"github.com/rtcluster/coordinator/pkg/cache"
	"github.com/rtcluster/coordinator/pkg/coordinator"
	"github.com/rtcluster/coordinator/pkg/logutil"
	"github.com/rtcluster/coordinator/pkg/replica"
)

type fakeCoordinator struct {
	coordinator.Client
	version int64
	rooms   []coordinator.Room
	strats  map[string][]byte
}

func (f *fakeCoordinator) GetState(ctx context.Context, tag string) (int64, []coordinator.Room, error) {
	return f.version, f.rooms, nil
}

func (f *fakeCoordinator) Collections(ctx context.Context) ([]string, error) {
	return []string{"idx/col"}, nil
}

func (f *fakeCoordinator) StrategyAll(ctx context.Context) (map[string][]byte, error) {
	return f.strats, nil
}

func newEngine(t *testing.T, coord coordinator.Client) (*Engine, *replica.Replica, *replica.Locks, *cache.Repositories) {
	t.Helper()
	rep := replica.New()
	locks := replica.NewLocks()
	repos, err := cache.NewRepositories(16)
	if err != nil {
		t.Fatalf("NewRepositories: %v", err)
	}
	return New(coord, rep, locks, repos, nil, nil, logutil.New(nil)), rep, locks, repos
}

func TestHandleStateAppliesNewerVersion(t *testing.T) {
	coord := &fakeCoordinator{version: 5, rooms: []coordinator.Room{{RoomID: "room1", Count: 3}}}
	e, rep, _, _ := newEngine(t, coord)

	if err := e.Handle(context.Background(), Payload{Event: "state", Index: "idx", Collection: "col"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	room, ok := rep.Room("room1")
	if !ok || room.Count != 3 {
		t.Fatalf("expected room1 count=3, got %+v ok=%v", room, ok)
	}
	if rep.GetVersion("idx", "col") != 5 {
		t.Fatalf("expected version 5 applied")
	}
}

func TestHandleStateSkipsStaleVersion(t *testing.T) {
	coord := &fakeCoordinator{version: 2, rooms: []coordinator.Room{{RoomID: "room1", Count: 9}}}
	e, rep, _, _ := newEngine(t, coord)
	rep.SetVersion("idx", "col", 10)

	if err := e.Handle(context.Background(), Payload{Event: "state", Index: "idx", Collection: "col"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, ok := rep.Room("room1"); ok {
		t.Fatalf("expected stale update to be skipped")
	}
}

func TestHandleStateSkipsLockedRoom(t *testing.T) {
	coord := &fakeCoordinator{version: 5, rooms: []coordinator.Room{{RoomID: "room1", Count: 3}}}
	e, rep, locks, _ := newEngine(t, coord)
	locks.AddCreate("room1")

	if err := e.Handle(context.Background(), Payload{Event: "state", Index: "idx", Collection: "col"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, ok := rep.Room("room1"); ok {
		t.Fatalf("expected locked room1 to be skipped by sync apply")
	}
}

func TestHandleStrategiesDiff(t *testing.T) {
	coord := &fakeCoordinator{strats: map[string][]byte{"local": []byte("x")}}
	e, _, _, repos := newEngine(t, coord)
	repos.SetStrategy("stale", []byte("y"))

	if err := e.Handle(context.Background(), Payload{Event: "strategies"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	names := repos.StrategyNames()
	if len(names) != 1 || names[0] != "local" {
		t.Fatalf("expected only 'local' strategy registered, got %v", names)
	}
}

func TestHandleUnknownEventIsNoOp(t *testing.T) {
	coord := &fakeCoordinator{}
	e, _, _, _ := newEngine(t, coord)
	if err := e.Handle(context.Background(), Payload{Event: "something:new"}); err != nil {
		t.Fatalf("expected unknown event to be a no-op, got %v", err)
	}
}
