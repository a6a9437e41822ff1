package slogx

import (
	"log/slog"
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that logs every outbound request at
// debug level. Headers and bodies are never logged; query strings pass
// through RedactURL.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: logger}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	logger := FromContext(req.Context(), t.Logger)

	resp, err := t.Base.RoundTrip(req)

	attrs := []any{
		slog.String("method", req.Method),
		slog.String("host", req.URL.Host),
		slog.String("url", RedactURL(req.URL.String())),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	if id := req.Header.Get("client-request-id"); id != "" {
		attrs = append(attrs, slog.String("client_request_id", id))
	}

	if err != nil {
		logger.Debug("http_request_failed", append(attrs, slog.String("error", err.Error()))...)
		return nil, err
	}

	attrs = append(attrs, slog.Int("status", resp.StatusCode))
	if id := resp.Header.Get("request-id"); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	logger.Debug("http_request", attrs...)
	return resp, nil
}
