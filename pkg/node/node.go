// Package node owns the startup sequence, peer pool, and heartbeat loop
// described in §4.3: it joins discovery, dials every known peer, hydrates
// strategies and room state, then announces readiness.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rtcluster/coordinator/pkg/cache"
	"github.com/rtcluster/coordinator/pkg/clustererr"
	"github.com/rtcluster/coordinator/pkg/coordinator"
	"github.com/rtcluster/coordinator/pkg/logutil"
	"github.com/rtcluster/coordinator/pkg/membership/liveness"
	"github.com/rtcluster/coordinator/pkg/observability/metrics"
	"github.com/rtcluster/coordinator/pkg/replica"
	syncengine "github.com/rtcluster/coordinator/pkg/sync"
	"github.com/rtcluster/coordinator/pkg/transport"
)

// Descriptor is a node's identity as recorded in discovery (§3).
type Descriptor struct {
	UUID      string `json:"uuid"`
	Pub       string `json:"pub"`
	Router    string `json:"router"`
	Birthdate int64  `json:"birthdate"`
	// Liveness carries the peer's gossip bind address, if it runs the
	// liveness detector; empty when it doesn't.
	Liveness string `json:"liveness,omitempty"`
}

// Peer is a known remote node as tracked by the local pool.
type Peer struct {
	Descriptor
	LastHeartbeat time.Time
}

// Deps bundles the collaborators a Node is constructed with.
type Deps struct {
	Coordinator coordinator.Client
	Publisher   transport.Publisher
	Subscriber  transport.Subscriber
	Router      transport.Router
	RouterClient transport.RouterClient
	Liveness    *liveness.Detector
	Replica     *replica.Replica
	Locks       *replica.Locks
	Caches      *cache.Repositories
	SyncEngine  *syncengine.Engine
	Log         *logutil.Logger

	// UUID pins the node's identity instead of generating one, needed
	// when a collaborator constructed before the node (e.g. the
	// liveness detector's NodeUUID) must already agree on it.
	UUID string
}

// Timers configures the fixed waits named throughout §4 (§5's "suspension
// points").
type Timers struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

func (t Timers) withDefaults() Timers {
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = 2 * time.Second
	}
	if t.HeartbeatTimeout <= 0 {
		t.HeartbeatTimeout = 10 * time.Second
	}
	return t
}

// NotifyHandler receives a forwarded cluster:notify:* broadcast.
type NotifyHandler func(ctx context.Context, payload map[string]any)

// AdminHandler receives a forwarded cluster:admin:* broadcast.
type AdminHandler func(ctx context.Context, topic transport.Topic, payload map[string]any)

// Node is the local membership actor described in §4.3.
type Node struct {
	uuid      string
	birthdate int64
	pubAddr    string
	routerAddr string
	livenessAddr string

	deps   Deps
	timers Timers

	mu   sync.RWMutex
	pool map[string]Peer
	ready struct {
		sync.Mutex
		val bool
	}

	onNotifyDocument NotifyHandler
	onNotifyUser     NotifyHandler
	onAdmin          AdminHandler

	stopRecv chan struct{}
	stopHB   chan struct{}
}

// New constructs a Node, not yet started, identified by deps.UUID or, when
// that is empty, by a fresh uuid.
func New(deps Deps, timers Timers) *Node {
	id := deps.UUID
	if id == "" {
		id = uuid.NewString()
	}
	return &Node{
		uuid:   id,
		deps:   deps,
		timers: timers.withDefaults(),
		pool:   make(map[string]Peer),
	}
}

// UUID returns the node's identity.
func (n *Node) UUID() string { return n.uuid }

// SetLivenessAddr records the gossip bind address advertised in this
// node's discovery descriptor. Call before Start; a zero value omits the
// liveness field entirely (the peer isn't running a detector).
func (n *Node) SetLivenessAddr(addr string) { n.livenessAddr = addr }

// PeerLivenessAddrs returns the gossip addresses of every known peer that
// advertised one, for seeding the local liveness detector's Join.
func (n *Node) PeerLivenessAddrs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	addrs := make([]string, 0, len(n.pool))
	for _, p := range n.pool {
		if p.Liveness != "" {
			addrs = append(addrs, p.Liveness)
		}
	}
	return addrs
}

// OnNotifyDocument registers the handler for cluster:notify:document.
func (n *Node) OnNotifyDocument(fn NotifyHandler) { n.onNotifyDocument = fn }

// OnNotifyUser registers the handler for cluster:notify:user.
func (n *Node) OnNotifyUser(fn NotifyHandler) { n.onNotifyUser = fn }

// OnAdmin registers the handler for cluster:admin:* broadcasts.
func (n *Node) OnAdmin(fn AdminHandler) { n.onAdmin = fn }

// Start runs the six-step startup sequence of §4.3.
func (n *Node) Start(ctx context.Context, pubBind, routerBind string) error {
	n.birthdate = time.Now().UnixMilli()

	// 1. Bind publisher and router; learn concrete addresses.
	pubAddr, err := n.deps.Publisher.Bind(pubBind)
	if err != nil {
		return clustererr.Wrap(clustererr.ErrFatal, "node: bind publisher", err)
	}
	n.pubAddr = pubAddr

	routerAddr, err := n.deps.Router.Bind(routerBind)
	if err != nil {
		return clustererr.Wrap(clustererr.ErrFatal, "node: bind router", err)
	}
	n.routerAddr = routerAddr
	n.deps.Router.Handle(n.handleDispatch)

	if n.deps.Liveness != nil {
		if err := n.deps.Liveness.Start(ctx); err != nil {
			return clustererr.Wrap(clustererr.ErrFatal, "node: start liveness detector", err)
		}
	}

	// 2. Connect to coordinator; add {pub, router} to cluster:discovery.
	self := Descriptor{UUID: n.uuid, Pub: n.pubAddr, Router: n.routerAddr, Birthdate: n.birthdate, Liveness: n.livenessAddr}
	if err := n.deps.Coordinator.DiscoveryAdd(ctx, encodeDescriptor(self)); err != nil {
		return clustererr.Wrap(clustererr.ErrFatal, "node: add self to discovery", err)
	}

	// 3. Fetch current discovery set; dial every peer not already known.
	members, err := n.deps.Coordinator.DiscoveryMembers(ctx)
	if err != nil {
		return clustererr.Wrap(clustererr.ErrFatal, "node: list discovery", err)
	}
	for _, raw := range members {
		peer, ok := decodeDescriptor(raw)
		if !ok || peer.UUID == n.uuid {
			continue
		}
		n.addPeer(peer)
		if err := n.deps.Subscriber.Connect(peer.Pub); err != nil {
			n.deps.Log.Warnf("node: connect to peer %s publisher failed: %v", peer.UUID, err)
		}
	}

	// 4. Hydrate strategies from cluster:strategies and register locally.
	strategies, err := n.deps.Coordinator.StrategyAll(ctx)
	if err != nil {
		return clustererr.Wrap(clustererr.ErrFatal, "node: hydrate strategies", err)
	}
	for name, payload := range strategies {
		n.deps.Caches.SetStrategy(name, payload)
	}

	// 5. Enumerate cluster:collections and seed the local replica.
	tags, err := n.deps.Coordinator.Collections(ctx)
	if err != nil {
		return clustererr.Wrap(clustererr.ErrFatal, "node: list collections", err)
	}
	for _, tag := range tags {
		index, collection, ok := splitTag(tag)
		if !ok {
			continue
		}
		if err := n.deps.SyncEngine.Handle(ctx, syncengine.Payload{Event: "state", Index: index, Collection: collection}); err != nil {
			n.deps.Log.Errorf("node: seed state for %s failed: %v", tag, err)
		}
	}

	n.stopRecv = make(chan struct{})
	n.stopHB = make(chan struct{})
	go n.recvLoop()
	go n.heartbeatLoop()

	// 6. Broadcast cluster:ready; mark ready.
	if err := n.deps.Publisher.Publish(transport.TopicReady, map[string]any{"uuid": n.uuid}); err != nil {
		n.deps.Log.Warnf("node: broadcast ready failed: %v", err)
	}
	n.setReady(true)
	metrics.NodeReady.Set(1)
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

// Ready reports whether the node completed its startup sync round.
func (n *Node) Ready() bool {
	n.ready.Lock()
	defer n.ready.Unlock()
	return n.ready.val
}

func (n *Node) setReady(v bool) {
	n.ready.Lock()
	n.ready.val = v
	n.ready.Unlock()
}

// Pool returns a snapshot of known live peers.
func (n *Node) Pool() []Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Peer, 0, len(n.pool))
	for _, p := range n.pool {
		out = append(out, p)
	}
	return out
}

func (n *Node) addPeer(d Descriptor) {
	n.mu.Lock()
	n.pool[d.UUID] = Peer{Descriptor: d, LastHeartbeat: time.Now()}
	n.mu.Unlock()
	metrics.PeersTotal.Set(float64(n.poolSize()))
}

func (n *Node) removePeer(uuid string) {
	n.mu.Lock()
	delete(n.pool, uuid)
	n.mu.Unlock()
	metrics.PeersTotal.Set(float64(n.poolSize()))
}

func (n *Node) poolSize() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.pool)
}

// Broadcast publishes (topic, payload) on the fan-out socket (§4.3).
func (n *Node) Broadcast(topic transport.Topic, payload map[string]any) error {
	return n.deps.Publisher.Publish(topic, payload)
}

// Send performs a targeted request/reply call to a known peer (§4.3).
func (n *Node) Send(peerUUID string, topic transport.Topic, payload map[string]any) (map[string]any, error) {
	n.mu.RLock()
	peer, ok := n.pool[peerUUID]
	n.mu.RUnlock()
	if !ok {
		return nil, clustererr.Wrap(clustererr.ErrTransientPeer, fmt.Sprintf("node: unknown peer %s", peerUUID), nil)
	}
	reply, err := n.deps.RouterClient.Dispatch(peer.Router, topic, payload)
	if err != nil {
		return nil, clustererr.Wrap(clustererr.ErrTransientPeer, fmt.Sprintf("node: dispatch to %s", peerUUID), err)
	}
	return reply, nil
}

// State exposes the local replica (§4.3's "state" property).
func (n *Node) State() *replica.Replica { return n.deps.Replica }

// Close stops the background loops and releases transport resources.
func (n *Node) Close() error {
	if n.stopRecv != nil {
		close(n.stopRecv)
	}
	if n.stopHB != nil {
		close(n.stopHB)
	}
	_ = n.deps.Subscriber.Close()
	_ = n.deps.Publisher.Close()
	_ = n.deps.Router.Close()
	return n.deps.RouterClient.Close()
}

func (n *Node) handleDispatch(topic transport.Topic, payload map[string]any) (map[string]any, error) {
	switch topic {
	case transport.TopicHeartbeat:
		return map[string]any{"uuid": n.uuid}, nil
	default:
		return nil, fmt.Errorf("node: no handler for topic %s", topic)
	}
}
