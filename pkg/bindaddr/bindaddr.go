// Package bindaddr resolves the bindings.pub / bindings.router host
// specifiers described in spec §3 and §6: a literal address, a CIDR (the
// first matching local interface), or a named interface. It is the same
// class of problem the teacher's memberlist bind/advertise split solves for
// gossip addresses, generalized here to the publisher/router sockets.
package bindaddr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Resolve turns a host spec (literal IP/hostname, CIDR, or interface name)
// and a port into a concrete "host:port" bind address.
func Resolve(host string, port int) (string, error) {
	ip, err := resolveHost(host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ip, strconv.Itoa(port)), nil
}

func resolveHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" || host == "0.0.0.0" || host == "*" {
		return "0.0.0.0", nil
	}
	if _, network, err := net.ParseCIDR(host); err == nil {
		addrs, err := net.InterfaceAddrs()
		if err != nil {
			return "", fmt.Errorf("bindaddr: list local addresses for CIDR %q: %w", host, err)
		}
		for _, a := range addrs {
			if ip, _, err := net.ParseCIDR(a.String()); err == nil && network.Contains(ip) {
				return ip.String(), nil
			}
		}
		return "", fmt.Errorf("bindaddr: no local address matches CIDR %q", host)
	}
	if net.ParseIP(host) != nil {
		return host, nil
	}
	if iface, err := net.InterfaceByName(host); err == nil {
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			return "", fmt.Errorf("bindaddr: interface %q has no addresses", host)
		}
		ip, _, err := net.ParseCIDR(addrs[0].String())
		if err != nil {
			return "", fmt.Errorf("bindaddr: interface %q: %w", host, err)
		}
		return ip.String(), nil
	}
	// Treat as a resolvable hostname.
	return host, nil
}
