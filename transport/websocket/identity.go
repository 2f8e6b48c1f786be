package websocket

import (
	"net"
	"net/http"
	"strings"
)

// PeerIdentity derives the registry key for a connecting peer: the first
// X-Forwarded-For entry when present, else the remote host. IPv4-mapped IPv6
// prefixes are stripped. Peers behind the same NAT share an identity.
func PeerIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return stripMapped(first)
		}
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return stripMapped(host)
}

func stripMapped(addr string) string {
	return strings.TrimPrefix(addr, "::ffff:")
}
