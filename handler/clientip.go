package handler

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address a request is attributed to. With
// trustForwarded the last X-Forwarded-For hop is used: it is the one the
// trusted proxy appended, while earlier hops come from the client.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			if hop := strings.TrimSpace(hops[i]); hop != "" {
				return hop
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
