// Package config holds the plain option struct the rest of the cluster
// packages are constructed from, populated by cobra flags in pkg/cli
// (teacher convention: no viper, just flags bound to struct fields).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtcluster/coordinator/pkg/coordinator"
	"github.com/rtcluster/coordinator/pkg/security/tlsconfig"
)

// Bindings holds the two transport bind address selectors (§6): a literal
// host, a CIDR (first matching local interface), or an interface name,
// resolved against its port by pkg/bindaddr at startup. Default ports are
// 7511 (publisher) and 7510 (router), per §6.
type Bindings struct {
	PubHost    string
	PubPort    int
	RouterHost string
	RouterPort int

	// LivenessHost/LivenessPort bind the gossip-only memberlist socket
	// (§4.3); distinct from the publisher and router ports so all three
	// can coexist on one host.
	LivenessHost string
	LivenessPort int
}

// Timers holds the four durations named in §6.
type Timers struct {
	JoinAttemptInterval time.Duration
	WaitForMissingRooms time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
}

// Discovery selects how the coordinator's own endpoints are resolved when
// it runs as a cluster with a dynamic endpoint list (§4.3).
type Discovery struct {
	Mode   string // "static" (default), "file", or "dns"
	Static []string
	File   string
	DNSName string
}

// Config is the complete set of options recognized by §6.
type Config struct {
	Bindings  Bindings
	Timers    Timers
	Redis     coordinator.Options
	Discovery Discovery
	Dev       bool // dev mode: turns the stdout trace exporter off; no crash-on-unhandled-failure handling is attached to it
	MetricsAddr string
	CacheSize int

	LivenessEnabled bool
	TLS             tlsconfig.Options
}

// Default returns a Config with the defaults named throughout §6.
func Default() Config {
	return Config{
		Bindings: Bindings{
			PubHost: "0.0.0.0", PubPort: 7511,
			RouterHost: "0.0.0.0", RouterPort: 7510,
			LivenessHost: "0.0.0.0", LivenessPort: 7509,
		},
		Timers: Timers{
			JoinAttemptInterval: 200 * time.Millisecond,
			WaitForMissingRooms: 200 * time.Millisecond,
			HeartbeatInterval:   2 * time.Second,
			HeartbeatTimeout:    10 * time.Second,
		},
		Redis:       coordinator.Options{Addrs: []string{"127.0.0.1:6379"}},
		Discovery:   Discovery{Mode: "static", Static: []string{"127.0.0.1:6379"}},
		MetricsAddr:     ":9511",
		CacheSize:       4096,
		LivenessEnabled: true,
	}
}

// RegisterFlags binds cfg's fields onto cmd's flag set, teacher-convention
// style (pkg/cli wires this onto the root/run command).
func RegisterFlags(cmd *cobra.Command, cfg *Config) {
	fs := cmd.Flags()
	fs.StringVar(&cfg.Bindings.PubHost, "bind-pub-host", cfg.Bindings.PubHost, "publisher bind host (literal, CIDR, or interface name)")
	fs.IntVar(&cfg.Bindings.PubPort, "bind-pub-port", cfg.Bindings.PubPort, "publisher bind port")
	fs.StringVar(&cfg.Bindings.RouterHost, "bind-router-host", cfg.Bindings.RouterHost, "router bind host (literal, CIDR, or interface name)")
	fs.IntVar(&cfg.Bindings.RouterPort, "bind-router-port", cfg.Bindings.RouterPort, "router bind port")
	fs.StringVar(&cfg.Bindings.LivenessHost, "bind-liveness-host", cfg.Bindings.LivenessHost, "liveness gossip bind host")
	fs.IntVar(&cfg.Bindings.LivenessPort, "bind-liveness-port", cfg.Bindings.LivenessPort, "liveness gossip bind port")
	fs.DurationVar(&cfg.Timers.JoinAttemptInterval, "timer-join-attempt-interval", cfg.Timers.JoinAttemptInterval, "beforeJoin single-retry wait")
	fs.DurationVar(&cfg.Timers.WaitForMissingRooms, "timer-wait-for-missing-rooms", cfg.Timers.WaitForMissingRooms, "realtime.count single-retry wait")
	fs.DurationVar(&cfg.Timers.HeartbeatInterval, "timer-heartbeat-interval", cfg.Timers.HeartbeatInterval, "heartbeat broadcast interval")
	fs.DurationVar(&cfg.Timers.HeartbeatTimeout, "timer-heartbeat-timeout", cfg.Timers.HeartbeatTimeout, "peer staleness timeout")
	fs.StringSliceVar(&cfg.Redis.Addrs, "redis-addrs", cfg.Redis.Addrs, "coordinator store addresses (more than one implies cluster mode)")
	fs.StringVar(&cfg.Redis.Username, "redis-username", cfg.Redis.Username, "coordinator store username")
	fs.StringVar(&cfg.Redis.Password, "redis-password", cfg.Redis.Password, "coordinator store password")
	fs.IntVar(&cfg.Redis.DB, "redis-db", cfg.Redis.DB, "coordinator store database index (ignored in cluster mode)")
	fs.BoolVar(&cfg.Redis.ClusterMode, "redis-cluster", cfg.Redis.ClusterMode, "force cluster-mode coordinator client")
	fs.StringVar(&cfg.Discovery.Mode, "discovery-mode", cfg.Discovery.Mode, "coordinator endpoint discovery: static, file, or dns")
	fs.StringSliceVar(&cfg.Discovery.Static, "discovery-static", cfg.Discovery.Static, "static coordinator endpoint list")
	fs.StringVar(&cfg.Discovery.File, "discovery-file", cfg.Discovery.File, "file to read coordinator endpoints from")
	fs.StringVar(&cfg.Discovery.DNSName, "discovery-dns-name", cfg.Discovery.DNSName, "DNS name to resolve for coordinator endpoints")
	fs.BoolVar(&cfg.Dev, "dev", cfg.Dev, "dev mode (turns the stdout trace exporter off)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP address for /status, /healthz, /metrics")
	fs.IntVar(&cfg.CacheSize, "cache-size", cfg.CacheSize, "per-repository LRU cache capacity")
	fs.BoolVar(&cfg.LivenessEnabled, "liveness-enabled", cfg.LivenessEnabled, "run the memberlist-based liveness detector")
	fs.BoolVar(&cfg.TLS.Enable, "tls-enable", cfg.TLS.Enable, "enable mTLS on the router and operator HTTP surfaces")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", cfg.TLS.CAFile, "CA bundle for mTLS")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", cfg.TLS.CertFile, "certificate for mTLS")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", cfg.TLS.KeyFile, "private key for mTLS")
}

// Validate rejects configurations that would fail fatally at startup
// anyway, surfacing the error earlier (§7's ErrFatal class).
func (c Config) Validate() error {
	if c.Bindings.PubHost == "" {
		return fmt.Errorf("config: bindings.pub is required")
	}
	if c.Bindings.RouterHost == "" {
		return fmt.Errorf("config: bindings.router is required")
	}
	if len(c.Redis.Addrs) == 0 {
		return fmt.Errorf("config: redis.addrs is required")
	}
	if c.Timers.HeartbeatTimeout <= c.Timers.HeartbeatInterval {
		return fmt.Errorf("config: timers.heartbeatTimeout must exceed timers.heartbeatInterval")
	}
	return nil
}
