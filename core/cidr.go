package core

import (
	"net/netip"
	"strings"
)

// InRange reports whether addr falls inside the CIDR range. Both IPv4
// (dotted quad, prefix 0-32) and IPv6 (full or compressed, prefix 0-128)
// are supported; compressed IPv6 is normalized before masking. Malformed
// input never panics or errors into the caller, it just fails the match.
func InRange(addr, cidr string) bool {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return false
	}
	// 4-in-6 forms compare unequal to their IPv4 counterparts unless
	// unmapped first.
	ip = ip.Unmap()
	prefix = netip.PrefixFrom(prefix.Addr().Unmap(), prefix.Bits())
	if ip.Is4() != prefix.Addr().Is4() {
		return false
	}
	return prefix.Contains(ip)
}

// InAnyRange reports whether addr matches at least one of the ranges.
// An empty list never matches.
func InAnyRange(addr string, cidrs []string) bool {
	for _, c := range cidrs {
		if InRange(addr, c) {
			return true
		}
	}
	return false
}
