package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter interprets a Retry-After header, which carries either
// delay-seconds or an HTTP date. The second result is false when the header
// is absent or malformed.
func ParseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	when, err := http.ParseTime(header)
	if err != nil {
		return 0, false
	}
	if d := when.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

// IsRetryableStatus reports whether status signals throttling or a transient
// server fault.
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
