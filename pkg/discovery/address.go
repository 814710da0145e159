package discovery

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"os"
	"sort"
	"strings"
)

// DefaultInstanceName returns "usbnet-<hostname>", or "usbnet-<random hex>"
// when the host name is unavailable. The result fits one DNS label.
func DefaultInstanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		var buf [4]byte
		_, _ = rand.Read(buf[:])
		host = hex.EncodeToString(buf[:])
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	name := "usbnet-" + host
	if len(name) > MaxInstanceNameLength {
		name = name[:MaxInstanceNameLength]
	}
	return name
}

// SortIPsByPreference orders addresses so the most reachable comes first.
// Priority order (highest to lowest):
//  1. Private IPv4 (the usual LAN case)
//  2. Other IPv4
//  3. IPv6 ULA (fc00::/7), then global IPv6
//  4. IPv6 link-local
//  5. Loopback and multicast
//
// Link-local IPv6 needs a zone, which ws:// URLs cannot carry portably.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}

	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)

	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})

	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	if ip.To16() == nil {
		return 99
	}
	if ip.IsLoopback() {
		return 80
	}
	if ip.IsMulticast() {
		return 90
	}

	if ip4 := ip.To4(); ip4 != nil {
		if ip4.IsPrivate() {
			return 0
		}
		if ip4.IsLinkLocalUnicast() {
			return 20
		}
		return 1
	}

	if isUniqueLocal(ip) {
		return 5
	}
	if ip.IsGlobalUnicast() {
		return 6
	}
	if ip.IsLinkLocalUnicast() {
		return 30
	}
	return 40
}

// isUniqueLocal returns true if the IP is an IPv6 Unique Local Address (ULA).
// ULA range: fc00::/7 (fc00:: to fdff::)
func isUniqueLocal(ip net.IP) bool {
	if ip.To4() != nil {
		return false
	}
	ip = ip.To16()
	if ip == nil {
		return false
	}
	return ip[0] == 0xfc || ip[0] == 0xfd
}

// FilterIPv6 returns only IPv6 addresses from the slice.
func FilterIPv6(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// FilterIPv4 returns only IPv4 addresses from the slice.
func FilterIPv4(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			result = append(result, ip)
		}
	}
	return result
}
