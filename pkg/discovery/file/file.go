// Package file discovers the coordinator store's endpoints from a flat
// file (one endpoint per line, or comma-separated) or an environment
// variable, re-reading on a refresh interval so the operator can rotate
// the coordinator's address without restarting every node (§4.3).
package file

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rtcluster/coordinator/pkg/discovery"
)

// Options configures file- or environment-backed discovery.
type Options struct {
	// Path to a file, or a glob matching several files, containing one
	// endpoint per line or a comma-separated list.
	Path string
	// Env, when non-empty, overrides Path: the endpoint list is read
	// from this environment variable instead.
	Env string
	// Refresh bounds how often Path is re-read; zero defaults to 5s.
	Refresh time.Duration
}

type fileSeeds struct {
	cfg Options

	mu    sync.Mutex
	last  time.Time
	mtime time.Time
	cache []string
}

// New returns a Discovery backed by Options.
func New(cfg Options) discovery.Discovery {
	if cfg.Refresh <= 0 {
		cfg.Refresh = 5 * time.Second
	}
	return &fileSeeds{cfg: cfg}
}

// Seeds returns the coordinator endpoints currently in effect: the
// environment variable if set, otherwise the file (or glob) contents,
// reloaded when the file's mtime advances or the refresh interval has
// elapsed.
func (f *fileSeeds) Seeds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cfg.Env != "" {
		if v := strings.TrimSpace(os.Getenv(f.cfg.Env)); v != "" {
			return parseEndpoints(v)
		}
	}
	if f.cfg.Path == "" {
		return nil
	}

	now := time.Now()
	if stat, err := os.Stat(f.cfg.Path); err == nil {
		if stat.ModTime().After(f.mtime) || now.Sub(f.last) >= f.cfg.Refresh {
			f.cache = readEndpointFile(f.cfg.Path)
			f.last = now
			f.mtime = stat.ModTime()
		}
		return append([]string(nil), f.cache...)
	}

	// Path didn't resolve directly; it may be a glob pattern.
	if matches, _ := filepath.Glob(f.cfg.Path); len(matches) > 0 {
		seen := make(map[string]struct{})
		for _, m := range matches {
			for _, e := range readEndpointFile(m) {
				seen[e] = struct{}{}
			}
		}
		out := make([]string, 0, len(seen))
		for e := range seen {
			out = append(out, e)
		}
		sort.Strings(out)
		f.cache = out
		f.last = now
		return append([]string(nil), f.cache...)
	}

	return append([]string(nil), f.cache...)
}

func readEndpointFile(path string) []string {
	fh, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer fh.Close()

	var endpoints []string
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			if part = strings.TrimSpace(part); part != "" {
				endpoints = append(endpoints, part)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil
	}
	return dedupSorted(endpoints)
}

func parseEndpoints(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return dedupSorted(out)
}

func dedupSorted(endpoints []string) []string {
	seen := make(map[string]struct{}, len(endpoints))
	out := endpoints[:0]
	for _, e := range endpoints {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
