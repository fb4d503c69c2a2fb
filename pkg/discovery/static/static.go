// Package static discovers the coordinator store's own endpoints from a
// fixed list baked into the config or passed on the command line (§4.3).
// It is the default discovery.Discovery backend: no file to watch, no DNS
// to poll, just the --discovery-static list the operator already wrote down.
package static

import (
	"strings"

	"github.com/rtcluster/coordinator/pkg/discovery"
)

// fixedSeeds returns the same coordinator endpoint list for the life of
// the process.
type fixedSeeds struct {
	endpoints []string
}

// Seeds returns a defensive copy of the configured endpoint list.
func (s *fixedSeeds) Seeds() []string {
	return append([]string(nil), s.endpoints...)
}

// New returns a Discovery that always resolves to the given coordinator
// endpoints, blank entries trimmed and dropped.
func New(endpoints ...string) discovery.Discovery {
	cleaned := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if e = strings.TrimSpace(e); e != "" {
			cleaned = append(cleaned, e)
		}
	}
	return &fixedSeeds{endpoints: cleaned}
}

// Parse splits a comma-separated --discovery-static flag value into
// endpoint strings, trimming whitespace around each entry.
func Parse(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
