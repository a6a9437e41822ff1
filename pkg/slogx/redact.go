package slogx

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
)

// SecretParams lists form and query parameters whose values must never
// reach a log record.
var SecretParams = []string{
	"access_token",
	"assertion",
	"client_assertion",
	"client_secret",
	"code",
	"code_verifier",
	"device_code",
	"id_token",
	"password",
	"refresh_token",
}

// Redact masks a secret while keeping its length visible, which is usually
// enough to tell an empty value from a truncated one.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	return fmt.Sprintf("[redacted:%d]", len(secret))
}

// Secret is a slog attribute for a sensitive value.
func Secret(key, value string) slog.Attr {
	return slog.String(key, Redact(value))
}

// RedactForm returns a copy of v with every secret parameter masked.
func RedactForm(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		if slices.Contains(SecretParams, strings.ToLower(k)) {
			masked := make([]string, len(vals))
			for i, s := range vals {
				masked[i] = Redact(s)
			}
			out[k] = masked
			continue
		}
		out[k] = slices.Clone(vals)
	}
	return out
}

// RedactURL masks secret query parameters in raw. Unparseable input is
// replaced wholesale.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable url]"
	}
	if u.RawQuery != "" {
		u.RawQuery = RedactForm(u.Query()).Encode()
	}
	return u.String()
}
