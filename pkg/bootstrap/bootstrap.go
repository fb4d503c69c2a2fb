// Package bootstrap wires every collaborator named throughout §4 into a
// running node: it resolves bind addresses, constructs the coordinator
// client, the transport fabric, the liveness detector, the replica and
// sync engine, and finally the node and cluster facade, then starts the
// operator-facing HTTP surface and tracing. cmd/clusternode is a thin
// shell around this package.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/rtcluster/coordinator/pkg/bindaddr"
	"github.com/rtcluster/coordinator/pkg/cache"
	"github.com/rtcluster/coordinator/pkg/cluster"
	"github.com/rtcluster/coordinator/pkg/config"
	"github.com/rtcluster/coordinator/pkg/coordinator"
	"github.com/rtcluster/coordinator/pkg/discovery"
	discoverydns "github.com/rtcluster/coordinator/pkg/discovery/dns"
	discoveryfile "github.com/rtcluster/coordinator/pkg/discovery/file"
	discoverystatic "github.com/rtcluster/coordinator/pkg/discovery/static"
	"github.com/rtcluster/coordinator/pkg/logutil"
	"github.com/rtcluster/coordinator/pkg/membership/liveness"
	"github.com/rtcluster/coordinator/pkg/node"
	"github.com/rtcluster/coordinator/pkg/observability/metrics"
	"github.com/rtcluster/coordinator/pkg/observability/tracing"
	"github.com/rtcluster/coordinator/pkg/platform"
	"github.com/rtcluster/coordinator/pkg/replica"
	syncengine "github.com/rtcluster/coordinator/pkg/sync"
	"github.com/rtcluster/coordinator/pkg/transport"
	"github.com/rtcluster/coordinator/pkg/transport/grpcrouter"
	"github.com/rtcluster/coordinator/pkg/transport/httpjson"
	"github.com/rtcluster/coordinator/pkg/transport/zmqfabric"
)

// Platform bundles the host-supplied collaborators of §6's platform
// interface: none are required, but a host normally supplies at least
// Bus and Realtime.
type Platform struct {
	Bus      platform.EventBus
	Realtime platform.RealtimeEngine
	Auth     platform.AuthCollaborator
	Storage  platform.StorageCollaborator
}

// Node bundles everything a running process needs to hold onto: the
// cluster facade for Shutdown, the HTTP surface, and the tracing
// shutdown hook.
type Node struct {
	Cluster *cluster.Cluster
	Node    *node.Node
	HTTP    *httpjson.Server

	tracingShutdown func(context.Context) error
	liveness        *liveness.Detector
}

// resolveDiscovery builds the discovery.Discovery backend that resolves
// the coordinator store's own endpoints, per cfg.Discovery.Mode (§4.3).
func resolveDiscovery(cfg config.Config) discovery.Discovery {
	switch cfg.Discovery.Mode {
	case "file":
		return discoveryfile.New(discoveryfile.Options{Path: cfg.Discovery.File})
	case "dns":
		return discoverydns.New(discoverydns.Options{Names: []string{cfg.Discovery.DNSName}})
	default:
		return discoverystatic.New(cfg.Discovery.Static...)
	}
}

// Start brings a node fully online: coordinator, transport fabric,
// liveness, replica/sync state, the node's startup sequence (§4.3), the
// cluster facade's hook/pipe bindings (§4.6/§4.7), and the operator HTTP
// surface. The returned Node must be stopped with Stop on shutdown.
func Start(ctx context.Context, cfg config.Config, pl Platform, log0 *log.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clog := logutil.New(log0)

	metrics.Register()
	tracingShutdown, err := tracing.Setup(!cfg.Dev)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: tracing setup: %w", err)
	}

	// Resolve the coordinator store's own endpoints before dialing it;
	// a non-empty discovered seed list overrides the static Redis.Addrs
	// config default (§4.3).
	redisOpts := cfg.Redis
	if seeds := resolveDiscovery(cfg).Seeds(); len(seeds) > 0 {
		redisOpts.Addrs = seeds
	}
	coord, err := coordinator.New(ctx, redisOpts)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: coordinator client: %w", err)
	}

	pubHostPort, err := bindaddr.Resolve(cfg.Bindings.PubHost, cfg.Bindings.PubPort)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: resolve pub bind: %w", err)
	}
	routerHostPort, err := bindaddr.Resolve(cfg.Bindings.RouterHost, cfg.Bindings.RouterPort)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: resolve router bind: %w", err)
	}
	livenessHostPort, err := bindaddr.Resolve(cfg.Bindings.LivenessHost, cfg.Bindings.LivenessPort)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: resolve liveness bind: %w", err)
	}

	tlsServerCfg, err := cfg.TLS.Server()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: tls server config: %w", err)
	}
	tlsClientCfg, err := cfg.TLS.Client()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: tls client config: %w", err)
	}

	pub, err := zmqfabric.NewPublisher()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: new publisher: %w", err)
	}
	sub, err := zmqfabric.NewSubscriber()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: new subscriber: %w", err)
	}

	router := grpcrouter.NewServer()
	if tlsServerCfg != nil {
		router.UseTLS(tlsServerCfg)
	}
	routerClient := grpcrouter.NewClient(0)
	if tlsClientCfg != nil {
		routerClient.UseTLS(tlsClientCfg)
	}

	rep := replica.New()
	locks := replica.NewLocks()
	caches, err := cache.NewRepositories(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: new repositories: %w", err)
	}
	engine := syncengine.New(coord, rep, locks, caches, pl.Storage, pl.Bus, clog)

	// The liveness detector's OnLeave callback needs to reach the node's
	// peer-departure sweep, but the node isn't constructed until after
	// the detector is (liveness.Options carries no circular reference of
	// its own). n is assigned once node.New returns, below; OnLeave only
	// fires after Start, by which point n is non-nil.
	selfUUID := uuid.NewString()

	var n *node.Node
	var det *liveness.Detector
	if cfg.LivenessEnabled {
		det, err = liveness.New(liveness.Options{
			NodeUUID:          selfUUID,
			Bind:              livenessHostPort,
			HeartbeatInterval: cfg.Timers.HeartbeatInterval,
			HeartbeatTimeout:  cfg.Timers.HeartbeatTimeout,
			Logger:            log0,
			OnLeave: func(peerUUID string) {
				if n != nil {
					n.HandlePeerDeparture(peerUUID)
				}
			},
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: liveness detector: %w", err)
		}
	}

	n = node.New(node.Deps{
		Coordinator:  coord,
		Publisher:    pub,
		Subscriber:   sub,
		Router:       router,
		RouterClient: routerClient,
		Liveness:     det,
		Replica:      rep,
		Locks:        locks,
		Caches:       caches,
		SyncEngine:   engine,
		Log:          clog,
		UUID:         selfUUID,
	}, node.Timers{
		HeartbeatInterval: cfg.Timers.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Timers.HeartbeatTimeout,
	})
	if det != nil {
		n.SetLivenessAddr(livenessHostPort)
	}

	clus := cluster.New(cluster.Deps{
		Node:        n,
		Coordinator: coord,
		Replica:     rep,
		Locks:       locks,
		Caches:      caches,
		Bus:         pl.Bus,
		Realtime:    pl.Realtime,
		Auth:        pl.Auth,
		Storage:     pl.Storage,
		Log:         clog,
	}, cluster.Options{
		PubBind:    "tcp://" + pubHostPort,
		RouterBind: routerHostPort,
		Timers:     cfg.Timers,
	})

	if err := clus.Start(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: cluster start: %w", err)
	}
	// When no event bus drives a kuzzleStart hook, Start already ran
	// OnKuzzleStart synchronously (see cluster.Cluster.Start); otherwise
	// the node only comes up once the host fires kuzzleStart itself.

	if det != nil {
		if peers := n.PeerLivenessAddrs(); len(peers) > 0 {
			if err := det.Join(peers); err != nil {
				clog.Warnf("bootstrap: liveness join: %v", err)
			}
		}
	}

	httpSrv := httpjson.NewServer(cfg.MetricsAddr, log0)
	if tlsServerCfg != nil {
		httpSrv.UseTLS(tlsServerCfg)
	}
	if err := httpSrv.Start(ctx, statusFunc(n)); err != nil {
		return nil, fmt.Errorf("bootstrap: http surface: %w", err)
	}

	nd := &Node{
		Cluster:         clus,
		Node:            n,
		HTTP:            httpSrv,
		tracingShutdown: tracingShutdown,
		liveness:        det,
	}
	return nd, nil
}

// statusFunc reports the minimal fleet snapshot described in §6's
// operator HTTP surface: readiness, pool size, and peer UUIDs.
func statusFunc(n *node.Node) transport.StatusFunc {
	return func(ctx context.Context) ([]byte, error) {
		pool := n.Pool()
		peers := make([]string, 0, len(pool))
		for _, p := range pool {
			peers = append(peers, p.UUID)
		}
		body := map[string]any{
			"uuid":  n.UUID(),
			"ready": n.Ready(),
			"peers": peers,
		}
		return json.Marshal(body)
	}
}

// Stop runs the shutdown supervisor (§4.8), then tears down the
// operator HTTP surface, the liveness detector, and tracing, in that
// order. Safe to call once; the supervisor itself is at-most-once.
func (n *Node) Stop(ctx context.Context) error {
	err := n.Cluster.Shutdown(ctx)
	if n.HTTP != nil {
		if httpErr := n.HTTP.Stop(ctx); httpErr != nil && err == nil {
			err = httpErr
		}
	}
	if n.liveness != nil {
		if lErr := n.liveness.Stop(); lErr != nil && err == nil {
			err = lErr
		}
	}
	if n.tracingShutdown != nil {
		if tErr := n.tracingShutdown(ctx); tErr != nil && err == nil {
			err = tErr
		}
	}
	return err
}

