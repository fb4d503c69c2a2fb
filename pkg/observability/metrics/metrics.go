package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var once sync.Once

var (
	PeersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtcluster",
		Name:      "peers_total",
		Help:      "Current number of known live peers in the pool",
	})

	NodeReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtcluster",
		Name:      "node_ready",
		Help:      "1 once this node has completed its startup sync round, else 0",
	})

	RoomsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtcluster",
		Subsystem: "replica",
		Name:      "rooms_total",
		Help:      "Number of rooms currently held in the local state replica",
	})

	CleanNodeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtcluster",
		Subsystem: "node",
		Name:      "clean_node_total",
		Help:      "Total cleanNode sweeps run, by reason (heartbeat_timeout, shutdown)",
	}, []string{"reason"})

	CoordinatorCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtcluster",
		Subsystem: "coordinator",
		Name:      "calls_total",
		Help:      "Total coordinator script invocations, by script and outcome",
	}, []string{"script", "outcome"})

	SyncEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtcluster",
		Subsystem: "sync",
		Name:      "events_total",
		Help:      "Total cluster:sync events processed, by event name",
	}, []string{"event"})

	SyncVersionLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rtcluster",
		Subsystem: "sync",
		Name:      "version_lag",
		Help:      "localVersion subtracted from the last observed coordinator version, per tag",
	}, []string{"tag"})

	PendingLocksTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rtcluster",
		Subsystem: "replica",
		Name:      "pending_locks_total",
		Help:      "Current size of the locks.create / locks.delete pending-op sets",
	}, []string{"kind"})

	GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtcluster",
		Subsystem: "grpc_conn",
		Name:      "dials_total",
		Help:      "Total number of new gRPC router connections dialed",
	})
	GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtcluster",
		Subsystem: "grpc_conn",
		Name:      "reuse_total",
		Help:      "Total number of gRPC router connection reuses from cache",
	})
	GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtcluster",
		Subsystem: "grpc_conn",
		Name:      "evictions_total",
		Help:      "Total number of cached gRPC router connections evicted",
	})
	GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtcluster",
		Subsystem: "grpc_conn",
		Name:      "active",
		Help:      "Number of active cached gRPC router connections",
	})

	ZMQPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtcluster",
		Subsystem: "zmq",
		Name:      "publish_total",
		Help:      "Total messages published on the fan-out socket, by topic",
	}, []string{"topic"})

	ZMQSubscribeRecvTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtcluster",
		Subsystem: "zmq",
		Name:      "subscribe_recv_total",
		Help:      "Total messages received on the fan-out subscriber socket, by topic",
	}, []string{"topic"})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(PeersTotal)
		prometheus.MustRegister(NodeReady)
		prometheus.MustRegister(RoomsTotal)
		prometheus.MustRegister(CleanNodeTotal)
		prometheus.MustRegister(CoordinatorCallsTotal)
		prometheus.MustRegister(SyncEventsTotal)
		prometheus.MustRegister(SyncVersionLag)
		prometheus.MustRegister(PendingLocksTotal)
		prometheus.MustRegister(GRPCConnDials)
		prometheus.MustRegister(GRPCConnReuse)
		prometheus.MustRegister(GRPCConnEvictions)
		prometheus.MustRegister(GRPCConnActive)
		prometheus.MustRegister(ZMQPublishTotal)
		prometheus.MustRegister(ZMQSubscribeRecvTotal)
	})
}
