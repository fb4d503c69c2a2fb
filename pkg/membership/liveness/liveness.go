// Package liveness repurposes the teacher's hashicorp/memberlist wiring
// (pkg/membership/memberlist in the original) for pure failure detection
// (§4.3): no application payload rides the gossip layer, and memberlist
// never drives cluster membership or leader election — `cluster:discovery`
// in the coordinator store remains the authoritative peer list. Memberlist
// only answers "is this uuid still alive" and fires a callback when it
// isn't, so the node can run its best-effort cleanNode sweep.
package liveness

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/rtcluster/coordinator/pkg/membership"
)

// Options configures the liveness detector.
type Options struct {
	NodeUUID string
	Bind     string // host:port for the gossip socket

	// HeartbeatInterval/HeartbeatTimeout feed memberlist's probe timers,
	// per SPEC_FULL.md §4.3's "configured from timers.heartbeatInterval/
	// timers.heartbeatTimeout".
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	Logger *log.Logger

	// OnLeave fires when memberlist marks a peer departed or failed,
	// carrying the uuid so the caller can run cleanNode on its behalf.
	OnLeave func(uuid string)
}

// Detector wraps a memberlist.Memberlist configured for liveness-only use.
type Detector struct {
	mu   sync.RWMutex
	opts Options
	ml   *memberlist.Memberlist
}

// New constructs a Detector; Start launches the underlying memberlist
// instance.
func New(opts Options) (*Detector, error) {
	if opts.NodeUUID == "" {
		return nil, fmt.Errorf("liveness: empty NodeUUID")
	}
	if opts.Bind == "" {
		return nil, fmt.Errorf("liveness: empty Bind address")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Detector{opts: opts}, nil
}

func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ml != nil {
		return nil
	}

	cfg := memberlist.DefaultLANConfig()
	cfg.Name = d.opts.NodeUUID
	host, portStr, err := net.SplitHostPort(d.opts.Bind)
	if err != nil {
		return fmt.Errorf("liveness: invalid bind address %q: %w", d.opts.Bind, err)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return err
	}
	cfg.BindAddr = host
	cfg.BindPort = port

	if d.opts.HeartbeatInterval > 0 {
		cfg.ProbeInterval = d.opts.HeartbeatInterval
	}
	if d.opts.HeartbeatTimeout > 0 {
		cfg.ProbeTimeout = d.opts.HeartbeatTimeout
	}
	// No application delegate: this instance carries no payload, only
	// liveness. cluster:discovery is the source of truth for addresses.
	cfg.Events = &leaveDelegate{onLeave: d.opts.OnLeave}

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return fmt.Errorf("liveness: create memberlist: %w", err)
	}
	d.ml = ml

	go func() {
		<-ctx.Done()
		_ = d.Stop()
	}()
	return nil
}

// Join gossips with the given peer liveness addresses, learned from the
// coordinator's discovery set rather than a separate seed file.
func (d *Detector) Join(peers []string) error {
	d.mu.RLock()
	ml := d.ml
	d.mu.RUnlock()
	if ml == nil {
		return fmt.Errorf("liveness: not started")
	}
	if len(peers) == 0 {
		return nil
	}
	_, err := ml.Join(peers)
	return err
}

// Alive reports whether uuid is currently a known, live member.
func (d *Detector) Alive(uuid string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.ml == nil {
		return false
	}
	for _, n := range d.ml.Members() {
		if n.Name == uuid {
			return true
		}
	}
	return false
}

func (d *Detector) Leave() error {
	d.mu.RLock()
	ml := d.ml
	d.mu.RUnlock()
	if ml == nil {
		return nil
	}
	return ml.Leave(time.Second)
}

func (d *Detector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ml == nil {
		return nil
	}
	err := d.ml.Shutdown()
	d.ml = nil
	return err
}

// HealthScore implements membership.HealthReporter.
func (d *Detector) HealthScore() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.ml == nil {
		return -1
	}
	return d.ml.GetHealthScore()
}

var _ membership.HealthReporter = (*Detector)(nil)

// leaveDelegate forwards only departures/failures; joins are not
// forwarded because the discovery set, not memberlist, is how a node
// learns a peer exists (§4.3).
type leaveDelegate struct {
	onLeave func(uuid string)
}

func (l *leaveDelegate) NotifyJoin(*memberlist.Node) {}

func (l *leaveDelegate) NotifyLeave(n *memberlist.Node) {
	if l.onLeave == nil || n == nil {
		return
	}
	l.onLeave(n.Name)
}

func (l *leaveDelegate) NotifyUpdate(*memberlist.Node) {}

func parsePort(s string) (int, error) {
	var p int
	_, err := fmt.Sscanf(s, "%d", &p)
	if err != nil || p < 0 || p > 65535 {
		return 0, fmt.Errorf("liveness: invalid port %q", s)
	}
	return p, nil
}
