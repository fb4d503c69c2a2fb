package node

import (
	"context"
	"sync/atomic"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/rtcluster/coordinator/pkg/observability/metrics"
	"github.com/rtcluster/coordinator/pkg/transport"
)

// Shutdown is the at-most-once teardown supervisor (§4.8): it removes this
// node from discovery, reconciles the local replica for the peers still
// watching it, and announces the new state. Concurrent or repeated calls
// after the first are no-ops.
type Shutdown struct {
	node    *Node
	started atomic.Bool
}

// NewShutdown wraps a Node with its shutdown supervisor.
func NewShutdown(n *Node) *Shutdown {
	return &Shutdown{node: n}
}

// Run executes the teardown sequence exactly once, regardless of how many
// goroutines call it concurrently (signal handler, admin RPC, defer in
// main).
func (s *Shutdown) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	n := s.node
	n.setReady(false)
	metrics.NodeReady.Set(0)

	self := Descriptor{UUID: n.uuid, Pub: n.pubAddr, Router: n.routerAddr, Liveness: n.livenessAddr, Birthdate: n.birthdate}
	if err := n.deps.Coordinator.DiscoveryRemove(ctx, encodeDescriptor(self)); err != nil {
		n.deps.Log.Warnf("shutdown: remove self from discovery failed: %v", err)
	}

	if n.poolSize() == 0 {
		// No peer is left to reconcile state with; the replica is about to
		// vanish with this process, so drop it outright.
		n.deps.Replica.Reset()
	} else {
		metrics.CleanNodeTotal.WithLabelValues("shutdown").Inc()
		var errs *multierror.Error
		for _, tag := range n.deps.Replica.Tags() {
			if err := n.deps.Coordinator.CleanNode(ctx, tag, n.uuid); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if errs != nil && errs.Len() > 0 {
			n.deps.Log.Errorf("shutdown: cleanNode sweep had %d failures: %v", errs.Len(), errs)
		}
		if err := n.Broadcast(transport.TopicSync, map[string]any{"event": "state:all"}); err != nil {
			n.deps.Log.Warnf("shutdown: broadcast state:all failed: %v", err)
		}
	}

	if n.deps.Liveness != nil {
		if err := n.deps.Liveness.Leave(); err != nil {
			n.deps.Log.Warnf("shutdown: liveness leave failed: %v", err)
		}
	}
	return n.Close()
}
