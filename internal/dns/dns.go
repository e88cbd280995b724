package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var ErrNoAddress = errors.New("dns: no address")

// SplitHost strips an optional port and IPv6 brackets from addr.
func SplitHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return strings.Trim(addr, "[]")
}

// ResolveIP returns the first address for host, preferring IPv4. Literal IPs
// are returned unchanged without a lookup.
func ResolveIP(ctx context.Context, host string) (net.IP, error) {
	host = SplitHost(host)
	if host == "" {
		return nil, ErrNoAddress
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip, nil
		}
	}
	if len(ips) > 0 {
		return ips[0], nil
	}
	return nil, fmt.Errorf("resolve %s: %w", host, ErrNoAddress)
}

// IsPublic reports whether ip is routable on the public internet.
func IsPublic(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return !(ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast())
}
