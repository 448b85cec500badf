package nostr

import (
	"net"
	"net/url"
	"strings"

	"nostr-threads/internal/util"
)

// NormalizeRelayURL returns relayURL as scheme://host[:port][/path] with the
// scheme and host lowercased and no trailing slash, or "" when it is not a
// usable websocket relay. Inputs come from NIP-65 lists, tag hints and
// nevent TLVs, where free text pasted as a URL is common.
func NormalizeRelayURL(relayURL string) string {
	relayURL = strings.TrimSpace(relayURL)
	if strings.Count(relayURL, "://") != 1 ||
		strings.ContainsAny(relayURL, " +") ||
		strings.Contains(relayURL, "%20") {
		return ""
	}

	u, err := url.Parse(relayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if !plausibleRelayHost(host) {
		return ""
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	switch {
	case u.Port() != "":
		b.WriteString(net.JoinHostPort(host, u.Port()))
	case strings.Contains(host, ":"):
		b.WriteString("[" + host + "]")
	default:
		b.WriteString(host)
	}
	b.WriteString(strings.TrimRight(u.Path, "/"))
	return b.String()
}

func plausibleRelayHost(host string) bool {
	if util.IsLoopbackHost(host) {
		return true
	}
	return len(host) >= 3 && strings.Contains(host, ".") && !util.IsInternalHost(host)
}
