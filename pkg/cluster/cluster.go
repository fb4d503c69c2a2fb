// Package cluster wires the hook/pipe bindings (§4.6) and realtime
// overrides (§4.7) onto the host's event bus, and owns the shutdown
// supervisor's lifecycle relative to the node (§4.8). It is the facade a
// host process constructs and calls Start on.
package cluster

import (
	"context"

	"github.com/rtcluster/coordinator/pkg/cache"
	"github.com/rtcluster/coordinator/pkg/clustererr"
	"github.com/rtcluster/coordinator/pkg/config"
	"github.com/rtcluster/coordinator/pkg/coordinator"
	"github.com/rtcluster/coordinator/pkg/logutil"
	"github.com/rtcluster/coordinator/pkg/node"
	"github.com/rtcluster/coordinator/pkg/platform"
	"github.com/rtcluster/coordinator/pkg/replica"
)

// Options configures a Cluster beyond the collaborators passed to New.
type Options struct {
	PubBind    string
	RouterBind string
	Timers     config.Timers
}

// Cluster is the facade a host constructs once and drives through Start /
// the shutdown supervisor.
type Cluster struct {
	node    *node.Node
	coord   coordinator.Client
	replica *replica.Replica
	locks   *replica.Locks
	caches  *cache.Repositories

	bus      platform.EventBus
	realtime platform.RealtimeEngine
	auth     platform.AuthCollaborator
	storage  platform.StorageCollaborator

	opts Options
	log  *logutil.Logger

	shutdown *node.Shutdown
}

// Deps bundles the collaborators a Cluster is constructed with, matching
// §6's platform-facing interface plus the internal node/coordinator/
// replica machinery it drives.
type Deps struct {
	Node        *node.Node
	Coordinator coordinator.Client
	Replica     *replica.Replica
	Locks       *replica.Locks
	Caches      *cache.Repositories
	Bus         platform.EventBus
	Realtime    platform.RealtimeEngine
	Auth        platform.AuthCollaborator
	Storage     platform.StorageCollaborator
	Log         *logutil.Logger
}

// New constructs a Cluster, not yet wired onto the event bus.
func New(deps Deps, opts Options) *Cluster {
	return &Cluster{
		node:     deps.Node,
		coord:    deps.Coordinator,
		replica:  deps.Replica,
		locks:    deps.Locks,
		caches:   deps.Caches,
		bus:      deps.Bus,
		realtime: deps.Realtime,
		auth:     deps.Auth,
		storage:  deps.Storage,
		opts:     opts,
		log:      deps.Log,
		shutdown: node.NewShutdown(deps.Node),
	}
}

// Start registers every hook and pipe named in §4.6 onto the event bus,
// then arms the kuzzleStart hook which installs the realtime overrides and
// brings the node up (§4.6, §4.7, §9's "replacement is performed once, at
// kuzzleStart"). If bus is nil (e.g. a standalone test harness), Start
// registers nothing and runs OnKuzzleStart itself, synchronously.
func (c *Cluster) Start(ctx context.Context) error {
	if c.bus == nil {
		return c.OnKuzzleStart(ctx)
	}
	c.registerHooks()
	c.registerPipes()
	c.bus.OnHook(EventKuzzleStart, func(ctx context.Context, _ any) {
		if err := c.OnKuzzleStart(ctx); err != nil {
			c.log.Errorf("cluster: kuzzleStart failed: %v", err)
		}
	})
	return nil
}

// OnKuzzleStart performs the one-time replacement described in §9: install
// the realtime overrides, then run the node's startup sequence.
func (c *Cluster) OnKuzzleStart(ctx context.Context) error {
	if c.realtime != nil {
		c.realtime.OverrideCount(c.realtimeCountOverride)
		c.realtime.OverrideList(c.realtimeListOverride)
	}
	if err := c.node.Start(ctx, c.opts.PubBind, c.opts.RouterBind); err != nil {
		return clustererr.Wrap(clustererr.ErrFatal, "cluster: node start", err)
	}
	if c.bus != nil {
		c.log.SetSink(func(level, msg string) {
			c.bus.Emit(ctx, "log:"+level, msg)
		})
	}
	return nil
}

// Shutdown runs the at-most-once teardown supervisor (§4.8).
func (c *Cluster) Shutdown(ctx context.Context) error {
	return c.shutdown.Run(ctx)
}

// Node exposes the underlying node, mainly for status reporting.
func (c *Cluster) Node() *node.Node { return c.node }

func (c *Cluster) ready() bool { return c.node != nil && c.node.Ready() }

// logDroppedIfNotReady implements §4.6's "if node.ready is false when a
// broadcast-only hook fires, it logs and silently drops" rule.
func (c *Cluster) logDroppedIfNotReady(what string) bool {
	if c.ready() {
		return false
	}
	c.log.Warnf("cluster: dropping %s, node not ready", what)
	return true
}
