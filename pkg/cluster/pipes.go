package cluster

import (
	"context"
	"time"

	"github.com/rtcluster/coordinator/pkg/clustererr"
	"github.com/rtcluster/coordinator/pkg/replica"
)

// registerPipes wires the interceptable events of §4.6 onto the event bus.
// Each may delay or transform the triggering payload; returning a non-nil
// error fails the request downstream.
func (c *Cluster) registerPipes() {
	c.bus.OnPipe(EventBeforeJoin, c.pipeBeforeJoin)
	c.bus.OnPipe(EventSubscriptionAdded, c.pipeSubscriptionAdded)
	c.bus.OnPipe(EventSubscriptionJoined, c.pipeSubscriptionJoined)
	c.bus.OnPipe(EventSubscriptionOff, c.pipeSubscriptionOff)
	c.bus.OnPipe(EventStrategyAdded, c.pipeStrategyAdded)
	c.bus.OnPipe(EventStrategyRemoved, c.pipeStrategyRemoved)
}

// pipeBeforeJoin absorbs replication delay (§4.6): a room the replica
// already knows but the local realtime engine doesn't gets materialized
// immediately; a room neither side knows yet gets one retry after
// joinAttemptInterval, then the request proceeds unmaterialized regardless
// (§9: reproduced as-is, latent-bug-or-not is out of scope).
func (c *Cluster) pipeBeforeJoin(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(JoinPayload)
	if !ok || c.realtime == nil {
		return payload, nil
	}
	if c.realtime.RoomExists(p.RoomID) {
		return payload, nil
	}
	if room, found := c.replica.Room(p.RoomID); found {
		if err := c.realtime.MaterializeRoom(ctx, p.RoomID, room.Index, room.Collection); err != nil {
			c.log.Warnf("cluster: beforeJoin materialize %s failed: %v", p.RoomID, err)
		}
		return payload, nil
	}

	select {
	case <-time.After(c.opts.Timers.JoinAttemptInterval):
	case <-ctx.Done():
		return payload, ctx.Err()
	}

	if room, found := c.replica.Room(p.RoomID); found {
		if err := c.realtime.MaterializeRoom(ctx, p.RoomID, room.Index, room.Collection); err != nil {
			c.log.Warnf("cluster: beforeJoin materialize %s failed after retry: %v", p.RoomID, err)
		}
	}
	return payload, nil
}

func (c *Cluster) pipeSubscriptionAdded(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(SubscriptionPayload)
	if !ok {
		return payload, nil
	}
	return c.doSubOn(ctx, p, "add")
}

// pipeSubscriptionJoined is a no-op when the join didn't change subscriber
// membership; otherwise it behaves like subscriptionAdded with an implicit
// unfiltered subscription (§4.6).
func (c *Cluster) pipeSubscriptionJoined(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(SubscriptionPayload)
	if !ok || !p.Changed {
		return payload, nil
	}
	p.Filter = "none"
	return c.doSubOn(ctx, p, "join")
}

func (c *Cluster) doSubOn(ctx context.Context, p SubscriptionPayload, post string) (any, error) {
	defer c.locks.ReleaseCreate(p.RoomID)
	filter := p.Filter
	if filter == "" {
		filter = "none"
	}
	tag := replica.Tag(p.Index, p.Collection)
	version, total, err := c.coord.SubOn(ctx, tag, c.node.UUID(), p.RoomID, p.ConnectionID, filter)
	if err != nil {
		return p, clustererr.Wrap(clustererr.ErrTransientCoordinator, "cluster: subOn", err)
	}
	c.replica.WithTagLock(p.Index, p.Collection, func() {
		c.replica.SetRoomCount(p.Index, p.Collection, p.RoomID, total)
		c.replica.SetVersion(p.Index, p.Collection, uint64(version))
	})
	if err := c.coord.CollectionAdd(ctx, tag); err != nil {
		c.log.Warnf("cluster: register collection %s failed: %v", tag, err)
	}
	c.broadcastSync("state", map[string]any{"event": "state", "index": p.Index, "collection": p.Collection, "post": post})
	return p, nil
}

func (c *Cluster) pipeSubscriptionOff(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(SubscriptionOffPayload)
	if !ok {
		return payload, nil
	}
	defer c.locks.ReleaseDelete(p.RoomID)

	tag := replica.Tag(p.Index, p.Collection)
	version, total, err := c.coord.SubOff(ctx, tag, c.node.UUID(), p.RoomID, p.ConnectionID)
	if err != nil {
		return p, clustererr.Wrap(clustererr.ErrTransientCoordinator, "cluster: subOff", err)
	}
	if uint64(version) > c.replica.GetVersion(p.Index, p.Collection) {
		c.replica.WithTagLock(p.Index, p.Collection, func() {
			c.replica.SetRoomCount(p.Index, p.Collection, p.RoomID, total)
			c.replica.SetVersion(p.Index, p.Collection, uint64(version))
		})
	}
	c.broadcastSync("state", map[string]any{"event": "state", "index": p.Index, "collection": p.Collection, "post": "off"})

	// §4.7's teardown wrapping: the realtime engine only drops its local
	// room structures once the fleet-wide count is at most 1 (this node's
	// own, now-departed subscriber).
	if c.realtime != nil {
		if room, ok := c.replica.Room(p.RoomID); ok {
			if err := c.realtime.RemoveRoomIfEmpty(ctx, p.RoomID, room.Count); err != nil {
				c.log.Warnf("cluster: removeRoomIfEmpty %s failed: %v", p.RoomID, err)
			}
		} else {
			if err := c.realtime.RemoveRoomIfEmpty(ctx, p.RoomID, 0); err != nil {
				c.log.Warnf("cluster: removeRoomIfEmpty %s failed: %v", p.RoomID, err)
			}
		}
	}
	return p, nil
}

func (c *Cluster) pipeStrategyAdded(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(StrategyPayload)
	if !ok {
		return payload, nil
	}
	if err := c.coord.StrategySet(ctx, p.Name, p.Payload); err != nil {
		return p, clustererr.Wrap(clustererr.ErrTransientCoordinator, "cluster: strategySet", err)
	}
	c.caches.SetStrategy(p.Name, p.Payload)
	c.broadcastSync("strategies", map[string]any{"event": "strategies"})
	return p, nil
}

func (c *Cluster) pipeStrategyRemoved(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(StrategyPayload)
	if !ok {
		return payload, nil
	}
	if err := c.coord.StrategyDelete(ctx, p.Name); err != nil {
		return p, clustererr.Wrap(clustererr.ErrTransientCoordinator, "cluster: strategyDelete", err)
	}
	c.caches.RemoveStrategy(p.Name)
	c.broadcastSync("strategies", map[string]any{"event": "strategies"})
	return p, nil
}
