package relay

import (
	"net"
	"net/url"
	"strings"

	"nostr-threads/internal/util"
)

// isRelayURLSafe reports whether the pool may dial relayURL. Loopback stays
// reachable for local relays; hosts resolving to private, link-local,
// multicast or unspecified addresses are refused.
func isRelayURLSafe(relayURL string) bool {
	u, err := url.Parse(relayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return false
	}
	host := u.Hostname()
	switch {
	case host == "":
		return false
	case util.IsLoopbackHost(host):
		return true
	case util.IsInternalHost(host):
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return isRelayIPSafe(ip)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// the dialer may still resolve it; only reject absolute names
		return !strings.HasSuffix(host, ".")
	}
	for _, ip := range ips {
		if !isRelayIPSafe(ip) {
			return false
		}
	}
	return true
}

func isRelayIPSafe(ip net.IP) bool {
	switch {
	case ip == nil:
		return false
	case ip.IsLoopback():
		return true
	}
	return !ip.IsPrivate() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsUnspecified() &&
		!ip.IsMulticast()
}
