package node

import (
	"context"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/rtcluster/coordinator/pkg/observability/metrics"
	syncengine "github.com/rtcluster/coordinator/pkg/sync"
	"github.com/rtcluster/coordinator/pkg/transport"
)

// recvLoop drains the fan-out subscriber socket and routes each envelope by
// topic (§4.3, §4.5, §4.6).
func (n *Node) recvLoop() {
	for {
		select {
		case <-n.stopRecv:
			return
		default:
		}
		topic, payload, err := n.deps.Subscriber.Recv()
		if err != nil {
			n.deps.Log.Warnf("node: recv failed: %v", err)
			continue
		}
		n.dispatchBroadcast(context.Background(), topic, payload)
	}
}

func (n *Node) dispatchBroadcast(ctx context.Context, topic transport.Topic, payload map[string]any) {
	switch topic {
	case transport.TopicHeartbeat:
		n.touchHeartbeat(payload)
	case transport.TopicReady:
		if uuid, ok := payload["uuid"].(string); ok {
			n.deps.Log.Infof("node: peer %s announced readiness", uuid)
		}
	case transport.TopicSync:
		p := decodeSyncPayload(payload)
		if err := n.deps.SyncEngine.Handle(ctx, p); err != nil {
			n.deps.Log.Errorf("node: sync handling of %q failed: %v", p.Event, err)
		}
	case transport.TopicNotifyDocument:
		if n.onNotifyDocument != nil {
			n.onNotifyDocument(ctx, payload)
		}
	case transport.TopicNotifyUser:
		if n.onNotifyUser != nil {
			n.onNotifyUser(ctx, payload)
		}
	case transport.TopicAdminResetSecurity, transport.TopicAdminDump, transport.TopicAdminShutdown:
		if n.onAdmin != nil {
			n.onAdmin(ctx, topic, payload)
		}
	default:
		n.deps.Log.Warnf("node: unhandled broadcast topic %q", topic)
	}
}

func decodeSyncPayload(payload map[string]any) syncengine.Payload {
	get := func(k string) string {
		v, _ := payload[k].(string)
		return v
	}
	return syncengine.Payload{
		Event:      get("event"),
		Index:      get("index"),
		Collection: get("collection"),
		ID:         get("id"),
		Post:       get("post"),
	}
}

func (n *Node) touchHeartbeat(payload map[string]any) {
	uuid, _ := payload["uuid"].(string)
	if uuid == "" || uuid == n.uuid {
		return
	}
	n.mu.Lock()
	if p, ok := n.pool[uuid]; ok {
		p.LastHeartbeat = time.Now()
		n.pool[uuid] = p
	}
	n.mu.Unlock()
}

// heartbeatLoop periodically announces liveness and sweeps the pool for
// peers that have gone quiet for longer than HeartbeatTimeout (§4.3): "a
// heartbeat missing for heartbeatTimeout marks a peer stale; the detecting
// node attempts cleanNode for every known tag on behalf of the stale peer."
func (n *Node) heartbeatLoop() {
	ticker := time.NewTicker(n.timers.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopHB:
			return
		case <-ticker.C:
			if err := n.Broadcast(transport.TopicHeartbeat, map[string]any{
				"uuid":      n.uuid,
				"birthdate": n.birthdate,
				"addresses": []string{n.pubAddr, n.routerAddr},
			}); err != nil {
				n.deps.Log.Warnf("node: heartbeat broadcast failed: %v", err)
			}
			n.sweepStalePeers()
		}
	}
}

func (n *Node) sweepStalePeers() {
	deadline := time.Now().Add(-n.timers.HeartbeatTimeout)
	var stale []string
	n.mu.RLock()
	for uuid, p := range n.pool {
		if p.LastHeartbeat.Before(deadline) {
			stale = append(stale, uuid)
		}
	}
	n.mu.RUnlock()
	for _, uuid := range stale {
		n.HandlePeerDeparture(uuid)
	}
}

// HandlePeerDeparture runs a best-effort cleanNode sweep for every tag
// known to the local replica on behalf of a departed peer, refreshes this
// node's own replica for those tags (§8 scenario 3: "A's replica
// updates"), then drops the peer from the pool and broadcasts state:all
// so every other peer does the same. It is safe to wire directly as a
// liveness.Options.OnLeave callback, or to call it from the
// heartbeat-timeout sweep above.
func (n *Node) HandlePeerDeparture(peerUUID string) {
	ctx := context.Background()
	tags := n.deps.Replica.Tags()

	var errs *multierror.Error
	for _, tag := range tags {
		if err := n.deps.Coordinator.CleanNode(ctx, tag, peerUUID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	metrics.CleanNodeTotal.WithLabelValues("heartbeat_timeout").Inc()
	if errs != nil && errs.Len() > 0 {
		n.deps.Log.Errorf("node: cleanNode sweep for departed peer %s had %d failures: %v", peerUUID, errs.Len(), errs)
	}

	// The detecting node's own SUB socket only hears peers' publishers
	// (it never subscribes to itself), so the state:all broadcast below
	// never reaches its own replica. Pull the post-cleanNode state for
	// each tag directly instead of waiting on a sync that will never
	// arrive.
	for _, tag := range tags {
		index, collection, ok := splitTag(tag)
		if !ok {
			continue
		}
		if err := n.deps.SyncEngine.Handle(ctx, syncengine.Payload{Event: "state", Index: index, Collection: collection}); err != nil {
			n.deps.Log.Errorf("node: local state refresh for %s after peer departure failed: %v", tag, err)
		}
	}

	n.removePeer(peerUUID)
	if err := n.deps.Publisher.Publish(transport.TopicSync, map[string]any{"event": "state:all"}); err != nil {
		n.deps.Log.Warnf("node: broadcast state:all after peer departure failed: %v", err)
	}
}
