package cluster

import (
	"context"

	"github.com/rtcluster/coordinator/pkg/transport"
)

// registerHooks wires every fire-and-forget hook of §4.6 onto the event
// bus. None of them may block or fail the triggering operation; errors are
// logged.
func (c *Cluster) registerHooks() {
	c.bus.OnHook(EventProfileSaved, c.hookBroadcastProfile)
	c.bus.OnHook(EventProfileDeleted, c.hookBroadcastProfile)
	c.bus.OnHook(EventRoleSaved, c.hookBroadcastRole)
	c.bus.OnHook(EventRoleDeleted, c.hookBroadcastRole)
	c.bus.OnHook(EventValidatorsRefresh, c.hookBroadcastValidators)
	c.bus.OnHook(EventIndexCacheAdd, c.hookIndexCacheAdd)
	c.bus.OnHook(EventIndexCacheRemove, c.hookIndexCacheRemove)
	c.bus.OnHook(EventRoomNew, c.hookRoomNew)
	c.bus.OnHook(EventRoomRemove, c.hookRoomRemove)
	c.bus.OnHook(EventErrorSubscribe, c.hookErrorSubscribe)
	c.bus.OnHook(EventErrorUnsubscribe, c.hookErrorUnsubscribe)
	c.bus.OnHook(EventNotifyDocument, c.hookNotifyDocument)
	c.bus.OnHook(EventNotifyUser, c.hookNotifyUser)
	c.bus.OnHook(EventAdminDump, c.hookAdminDump)
	c.bus.OnHook(EventAdminResetSecurity, c.hookAdminResetSecurity)
	c.bus.OnHook(EventAdminShutdown, c.hookAdminShutdown)
}

func (c *Cluster) broadcastSync(what string, payload map[string]any) {
	if c.logDroppedIfNotReady(what) {
		return
	}
	if err := c.node.Broadcast(transport.TopicSync, payload); err != nil {
		c.log.Warnf("cluster: broadcast %s failed: %v", what, err)
	}
}

func (c *Cluster) hookBroadcastProfile(_ context.Context, payload any) {
	p, ok := payload.(IdentifiedPayload)
	if !ok {
		return
	}
	c.broadcastSync("profile", map[string]any{"event": "profile", "id": p.ID})
}

func (c *Cluster) hookBroadcastRole(_ context.Context, payload any) {
	p, ok := payload.(IdentifiedPayload)
	if !ok {
		return
	}
	c.broadcastSync("role", map[string]any{"event": "role", "id": p.ID})
}

func (c *Cluster) hookBroadcastValidators(_ context.Context, _ any) {
	c.broadcastSync("validators", map[string]any{"event": "validators"})
}

func (c *Cluster) hookIndexCacheAdd(_ context.Context, payload any) {
	p, ok := payload.(IndexCachePayload)
	if !ok {
		return
	}
	c.broadcastSync("indexCache:add", map[string]any{"event": "indexCache:add", "index": p.Index, "collection": p.Collection})
}

func (c *Cluster) hookIndexCacheRemove(_ context.Context, payload any) {
	p, ok := payload.(IndexCachePayload)
	if !ok {
		return
	}
	c.broadcastSync("indexCache:remove", map[string]any{"event": "indexCache:remove", "index": p.Index, "collection": p.Collection})
}

// hookRoomNew and hookRoomRemove add the pending-op lock at the exact
// moment the local realtime engine begins the operation (§4.6), guarding
// the room against a concurrent sync-driven mutation.
func (c *Cluster) hookRoomNew(_ context.Context, payload any) {
	p, ok := payload.(RoomLockPayload)
	if !ok {
		return
	}
	c.locks.AddCreate(p.RoomID)
}

func (c *Cluster) hookRoomRemove(_ context.Context, payload any) {
	p, ok := payload.(RoomLockPayload)
	if !ok {
		return
	}
	c.locks.AddDelete(p.RoomID)
}

// hookErrorSubscribe and hookErrorUnsubscribe release the lock when the
// pipe path never ran to completion (§4.6).
func (c *Cluster) hookErrorSubscribe(_ context.Context, payload any) {
	p, ok := payload.(RoomLockPayload)
	if !ok {
		return
	}
	c.locks.ReleaseCreate(p.RoomID)
}

func (c *Cluster) hookErrorUnsubscribe(_ context.Context, payload any) {
	p, ok := payload.(RoomLockPayload)
	if !ok {
		return
	}
	c.locks.ReleaseDelete(p.RoomID)
}

func (c *Cluster) hookNotifyDocument(_ context.Context, payload any) {
	p, ok := payload.(NotifyPayload)
	if !ok {
		return
	}
	if c.logDroppedIfNotReady("notify:document") {
		return
	}
	if err := c.node.Broadcast(transport.TopicNotifyDocument, p.Body); err != nil {
		c.log.Warnf("cluster: broadcast notify:document failed: %v", err)
	}
}

func (c *Cluster) hookNotifyUser(_ context.Context, payload any) {
	p, ok := payload.(NotifyPayload)
	if !ok {
		return
	}
	if c.logDroppedIfNotReady("notify:user") {
		return
	}
	if err := c.node.Broadcast(transport.TopicNotifyUser, p.Body); err != nil {
		c.log.Warnf("cluster: broadcast notify:user failed: %v", err)
	}
}

func (c *Cluster) hookAdminDump(_ context.Context, payload any) {
	c.broadcastAdmin(transport.TopicAdminDump, "dump", payload)
}

func (c *Cluster) hookAdminResetSecurity(_ context.Context, payload any) {
	c.broadcastAdmin(transport.TopicAdminResetSecurity, "resetSecurity", payload)
}

func (c *Cluster) hookAdminShutdown(_ context.Context, payload any) {
	c.broadcastAdmin(transport.TopicAdminShutdown, "shutdown", payload)
}

func (c *Cluster) broadcastAdmin(topic transport.Topic, what string, payload any) {
	if c.logDroppedIfNotReady(what) {
		return
	}
	body, _ := payload.(map[string]any)
	if err := c.node.Broadcast(topic, body); err != nil {
		c.log.Warnf("cluster: broadcast admin %s failed: %v", what, err)
	}
}
