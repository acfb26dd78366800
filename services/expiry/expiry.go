package expiry

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Param is the query parameter carrying the unix timestamp after which
// a provider stream url stops being served.
const Param = "expire"

// Extract returns the expiry embedded in rawURL. Missing, malformed or
// non-positive values all report ok == false.
func Extract(rawURL string) (t time.Time, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return extractFromPath(rawURL)
	}
	v := u.Query().Get(Param)
	if v == "" {
		return extractFromPath(u.Path)
	}
	return parseUnix(v)
}

// Some provider urls encode parameters as path segments: /expire/1700000000/...
func extractFromPath(p string) (time.Time, bool) {
	parts := strings.Split(p, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == Param {
			return parseUnix(parts[i+1])
		}
	}
	return time.Time{}, false
}

func parseUnix(v string) (time.Time, bool) {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}
