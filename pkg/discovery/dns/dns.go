// Package dns discovers the coordinator store's endpoints from DNS: SRV
// records for a service name, or plain A/AAAA lookups paired with a fixed
// port, cached for a refresh interval (§4.3). Useful when the coordinator
// runs behind a Kubernetes headless service or similar DNS-based registry
// rather than a static address list.
package dns

import (
	"context"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rtcluster/coordinator/pkg/discovery"
)

// Options configures DNS-based discovery of coordinator endpoints.
type Options struct {
	// Names are SRV records ("_coordinator._tcp.example.com") or plain
	// hostnames ("redis-0.example.com") to resolve.
	Names []string

	// Port is used for A/AAAA lookups, which carry no port of their
	// own; SRV answers supply their own port and ignore this. Defaults
	// to 6379, the coordinator store's own default port.
	Port int

	// Refresh bounds how often Names is re-resolved; zero defaults to 5s.
	Refresh time.Duration

	// Resolver overrides the DNS resolver used; nil uses net.DefaultResolver.
	Resolver *net.Resolver

	// Logger is currently unused by lookups themselves but kept on
	// Options so callers can wire one in without an API break once
	// lookup failures need surfacing.
	Logger *log.Logger
}

type dnsSeeds struct {
	cfg Options

	mu    sync.Mutex
	last  time.Time
	cache []string
}

// New returns a Discovery that resolves Names via SRV or A/AAAA records.
func New(cfg Options) discovery.Discovery {
	if cfg.Refresh <= 0 {
		cfg.Refresh = 5 * time.Second
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}
	return &dnsSeeds{cfg: cfg}
}

// Seeds resolves Names into host:port endpoints, reusing the cached
// result until Refresh has elapsed.
func (d *dnsSeeds) Seeds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.last) < d.cfg.Refresh && len(d.cache) > 0 {
		return append([]string(nil), d.cache...)
	}
	d.cache = d.resolveAll(context.Background())
	d.last = time.Now()
	return append([]string(nil), d.cache...)
}

func (d *dnsSeeds) resolveAll(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(endpoints []string) {
		for _, e := range endpoints {
			if _, ok := seen[e]; !ok {
				seen[e] = struct{}{}
				out = append(out, e)
			}
		}
	}

	for _, name := range d.cfg.Names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if strings.Contains(name, ":") && !strings.HasPrefix(name, "_") {
			add([]string{name})
			continue
		}
		if isSRVName(name) {
			if recs := d.lookupSRV(ctx, name); len(recs) > 0 {
				add(recs)
				continue
			}
		}
		add(d.lookupHost(ctx, name, d.cfg.Port))
	}
	sort.Strings(out)
	return out
}

func isSRVName(name string) bool {
	return strings.HasPrefix(name, "_") && strings.Contains(name, "._")
}

func (d *dnsSeeds) lookupSRV(ctx context.Context, fqdn string) []string {
	service, proto, domain := parseSRVName(fqdn)
	if service == "" || proto == "" || domain == "" {
		return nil
	}
	resolver := d.resolver()
	_, addrs, err := resolver.LookupSRV(ctx, service, proto, domain)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		host := strings.TrimSuffix(a.Target, ".")
		out = append(out, net.JoinHostPort(host, strconv.Itoa(int(a.Port))))
	}
	return out
}

func (d *dnsSeeds) lookupHost(ctx context.Context, host string, port int) []string {
	ips, err := d.resolver().LookupHost(ctx, host)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.JoinHostPort(ip, strconv.Itoa(port)))
	}
	return out
}

func (d *dnsSeeds) resolver() *net.Resolver {
	if d.cfg.Resolver != nil {
		return d.cfg.Resolver
	}
	return net.DefaultResolver
}

// parseSRVName splits "_service._proto.domain" into its three parts,
// returning empty strings if fqdn doesn't match that shape.
func parseSRVName(fqdn string) (service, proto, domain string) {
	parts := strings.SplitN(fqdn, ".", 3)
	if len(parts) < 3 {
		return "", "", ""
	}
	return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
