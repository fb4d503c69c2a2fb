package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rtcluster/coordinator/pkg/cache"
	"github.com/rtcluster/coordinator/pkg/coordinator"
	"github.com/rtcluster/coordinator/pkg/logutil"
	"github.com/rtcluster/coordinator/pkg/platform"
	"github.com/rtcluster/coordinator/pkg/replica"
	syncengine "github.com/rtcluster/coordinator/pkg/sync"
	"github.com/rtcluster/coordinator/pkg/transport"
)

type fakeCoordinator struct {
	coordinator.Client
	mu         sync.Mutex
	discovery  []string
	strategies map[string][]byte
	collections []string
	cleanNodeCalls []string
}

func (f *fakeCoordinator) DiscoveryAdd(_ context.Context, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovery = append(f.discovery, member)
	return nil
}

func (f *fakeCoordinator) DiscoveryRemove(_ context.Context, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.discovery[:0]
	for _, m := range f.discovery {
		if m != member {
			out = append(out, m)
		}
	}
	f.discovery = out
	return nil
}

func (f *fakeCoordinator) DiscoveryMembers(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.discovery...), nil
}

func (f *fakeCoordinator) StrategyAll(_ context.Context) (map[string][]byte, error) {
	return f.strategies, nil
}

func (f *fakeCoordinator) Collections(_ context.Context) ([]string, error) {
	return f.collections, nil
}

func (f *fakeCoordinator) GetState(_ context.Context, _ string) (int64, []coordinator.Room, error) {
	return 1, nil, nil
}

func (f *fakeCoordinator) CleanNode(_ context.Context, tag, nodeUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanNodeCalls = append(f.cleanNodeCalls, tag+"|"+nodeUUID)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []transport.Topic
}

func (p *fakePublisher) Bind(addr string) (string, error) { return "fake://" + addr, nil }
func (p *fakePublisher) Publish(topic transport.Topic, _ map[string]any) error {
	p.mu.Lock()
	p.published = append(p.published, topic)
	p.mu.Unlock()
	return nil
}
func (p *fakePublisher) Close() error { return nil }

type fakeSubscriber struct {
	blocked chan struct{}
}

func newFakeSubscriber() *fakeSubscriber { return &fakeSubscriber{blocked: make(chan struct{})} }

func (s *fakeSubscriber) Connect(string) error    { return nil }
func (s *fakeSubscriber) Disconnect(string) error { return nil }
func (s *fakeSubscriber) Recv() (transport.Topic, map[string]any, error) {
	<-s.blocked
	return "", nil, context.Canceled
}
func (s *fakeSubscriber) Close() error {
	close(s.blocked)
	return nil
}

type fakeRouter struct{}

func (r *fakeRouter) Bind(addr string) (string, error) { return "fake://" + addr, nil }
func (r *fakeRouter) Handle(func(transport.Topic, map[string]any) (map[string]any, error)) {}
func (r *fakeRouter) Close() error { return nil }

type fakeRouterClient struct{}

func (c *fakeRouterClient) Dispatch(string, transport.Topic, map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}
func (c *fakeRouterClient) Close() error { return nil }

func newTestNode(t *testing.T, coord *fakeCoordinator) (*Node, *fakePublisher, *fakeSubscriber) {
	t.Helper()
	rep := replica.New()
	locks := replica.NewLocks()
	repos, err := cache.NewRepositories(16)
	if err != nil {
		t.Fatalf("NewRepositories: %v", err)
	}
	engine := syncengine.New(coord, rep, locks, repos, platform.StorageCollaborator(nil), platform.EventBus(nil), logutil.New(nil))
	pub := &fakePublisher{}
	sub := newFakeSubscriber()
	deps := Deps{
		Coordinator:  coord,
		Publisher:    pub,
		Subscriber:   sub,
		Router:       &fakeRouter{},
		RouterClient: &fakeRouterClient{},
		Replica:      rep,
		Locks:        locks,
		Caches:       repos,
		SyncEngine:   engine,
		Log:          logutil.New(nil),
	}
	n := New(deps, Timers{HeartbeatInterval: 20 * time.Millisecond, HeartbeatTimeout: 50 * time.Millisecond})
	return n, pub, sub
}

func TestStartSequenceBindsAndAnnouncesReady(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}, collections: []string{}}
	n, pub, _ := newTestNode(t, coord)

	if err := n.Start(context.Background(), "tcp://127.0.0.1:0", "tcp://127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Close()

	if !n.Ready() {
		t.Fatalf("expected node to be ready after startup")
	}
	found := false
	pub.mu.Lock()
	for _, topic := range pub.published {
		if topic == transport.TopicReady {
			found = true
		}
	}
	pub.mu.Unlock()
	if !found {
		t.Fatalf("expected cluster:ready to be broadcast, got %v", pub.published)
	}
	if len(coord.discovery) != 1 {
		t.Fatalf("expected self registered in discovery, got %v", coord.discovery)
	}
}

func TestHandlePeerDepartureSweepsCleanNodeAndRemovesPeer(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}, collections: []string{}}
	n, _, sub := newTestNode(t, coord)
	defer sub.Close()

	n.deps.Replica.SetRoomCount("idx", "col", "room1", 4)
	n.addPeer(Descriptor{UUID: "peer-1", Pub: "tcp://peer", Router: "tcp://peer-router"})

	n.HandlePeerDeparture("peer-1")

	if len(n.Pool()) != 0 {
		t.Fatalf("expected departed peer removed from pool")
	}
	coord.mu.Lock()
	if len(coord.cleanNodeCalls) != 1 || coord.cleanNodeCalls[0] != "idx/col|peer-1" {
		coord.mu.Unlock()
		t.Fatalf("expected a cleanNode call for idx/col on behalf of peer-1, got %v", coord.cleanNodeCalls)
	}
	coord.mu.Unlock()

	// §8 scenario 3: the detecting node's own replica must reflect the
	// post-cleanNode state without waiting on a sync it will never
	// receive from its own publisher. fakeCoordinator.GetState reports
	// version 1 with no rooms for idx/col, so a correctly-applied local
	// refresh deletes room1 from the replica.
	if _, ok := n.deps.Replica.Room("room1"); ok {
		t.Fatalf("expected room1 removed from local replica after peer departure refresh")
	}
}

func TestSweepStalePeersDetectsTimeout(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}, collections: []string{}}
	n, _, sub := newTestNode(t, coord)
	defer sub.Close()

	n.addPeer(Descriptor{UUID: "peer-1"})
	n.mu.Lock()
	stale := n.pool["peer-1"]
	stale.LastHeartbeat = time.Now().Add(-time.Hour)
	n.pool["peer-1"] = stale
	n.mu.Unlock()

	n.sweepStalePeers()

	if len(n.Pool()) != 0 {
		t.Fatalf("expected stale peer to be swept")
	}
}

func TestShutdownIsAtMostOnce(t *testing.T) {
	coord := &fakeCoordinator{strategies: map[string][]byte{}, collections: []string{}}
	n, _, _ := newTestNode(t, coord)
	if err := n.Start(context.Background(), "tcp://127.0.0.1:0", "tcp://127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sd := NewShutdown(n)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sd.Run(context.Background())
		}()
	}
	wg.Wait()

	if n.Ready() {
		t.Fatalf("expected node to be marked not-ready after shutdown")
	}
	if len(coord.discovery) != 0 {
		t.Fatalf("expected self removed from discovery exactly once, got %v", coord.discovery)
	}
}
