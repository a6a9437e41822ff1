package slogx_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/aussiebroadwan/graphauth/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestRedactForm(t *testing.T) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"app"},
		"client_secret": {"hunter2"},
		"refresh_token": {"rt-value"},
	}

	red := slogx.RedactForm(form)
	require.Equal(t, "client_credentials", red.Get("grant_type"))
	require.Equal(t, "app", red.Get("client_id"))
	require.Equal(t, "[redacted:7]", red.Get("client_secret"))
	require.Equal(t, "[redacted:8]", red.Get("refresh_token"))

	// The input is untouched
	require.Equal(t, "hunter2", form.Get("client_secret"))
	require.Empty(t, slogx.Redact(""))
}

func TestRedactURL(t *testing.T) {
	got := slogx.RedactURL("https://app.example.com/cb?code=abc123&state=xyz")
	require.NotContains(t, got, "abc123")
	require.Contains(t, got, "state=xyz")
}

func TestTransportNeverLogsAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("request-id", "srv-1")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := &http.Client{Transport: slogx.NewTransport(nil, logger)}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/v1.0/me?code=secretcode", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer super-secret-token")
	req.Header.Set("client-request-id", "corr-1")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	out := buf.String()
	require.Contains(t, out, `"status":204`)
	require.Contains(t, out, `"client_request_id":"corr-1"`)
	require.Contains(t, out, `"request_id":"srv-1"`)
	require.NotContains(t, out, "super-secret-token")
	require.NotContains(t, out, "secretcode")
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := slogx.WithContext(context.Background(), base)
	ctx = slogx.WithCorrelationID(ctx, "abc")
	slogx.FromContext(ctx).Info("hello")

	require.Contains(t, buf.String(), `"client_request_id":"abc"`)

	fallback := slogx.Discard()
	require.Same(t, fallback, slogx.FromContext(context.Background(), nil, fallback))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, slogx.ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, slogx.ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, slogx.ParseLevel("bogus"))
}
