package transports

import "strings"

// OriginAllowed matches a browser Origin header against allowed entries
// given either as full origins ("https://app.example.com") or bare hosts
// ("localhost:5173"). "*" allows everything. Requests without an Origin
// header are not cross-origin and are allowed.
func OriginAllowed(origin string, allowed []string) bool {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return true
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	for _, entry := range allowed {
		a := strings.TrimRight(strings.TrimSpace(entry), "/")
		switch {
		case a == "":
		case a == "*":
			return true
		case strings.Contains(a, "://"):
			if strings.EqualFold(a, origin) {
				return true
			}
		case strings.EqualFold(a, host):
			return true
		}
	}
	return false
}
