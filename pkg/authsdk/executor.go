package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/httpx"
	"github.com/aussiebroadwan/graphauth/pkg/idx"
	"github.com/aussiebroadwan/graphauth/pkg/slogx"
)

const (
	// DefaultTimeout bounds a single token endpoint request.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 1 << 20
)

// Executor performs token endpoint requests. The zero value is not usable;
// create one with NewExecutor and adjust the exported fields before use.
type Executor struct {
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Timeout bounds each attempt; zero disables it
	Timeout time.Duration

	// Skew is subtracted from every token lifetime
	Skew time.Duration

	// Backoff is the delay before the single retry
	Backoff httpx.Backoff

	// Now is the clock used for IssuedAt; tests pin it
	Now func() time.Time
}

// NewExecutor returns an executor with the default timeout, skew and
// backoff. A nil client means http.DefaultClient.
func NewExecutor(client *http.Client) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		HTTPClient: client,
		Logger:     slog.Default(),
		Timeout:    DefaultTimeout,
		Skew:       DefaultSkew,
		Backoff:    httpx.DefaultBackoff,
		Now:        time.Now,
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) logger() *slog.Logger {
	return slogx.OrDefault(e.Logger)
}

// Execute posts form to tokenURL and decodes the token.
func (e *Executor) Execute(ctx context.Context, form *Form, tokenURL string) (*Token, error) {
	var (
		resp     TokenResponse
		issuedAt time.Time
	)

	err := e.post(ctx, "token", form, tokenURL, func(started time.Time) any {
		issuedAt = started
		return &resp
	})
	if err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		return nil, &TransportError{Op: "token", StatusCode: http.StatusOK, Err: errors.New("response has no access_token")}
	}
	return NewToken(&resp, issuedAt, e.Skew), nil
}

// requestDeviceCode posts to the device authorization endpoint.
func (e *Executor) requestDeviceCode(ctx context.Context, form *Form, deviceURL string) (*DeviceCodeResponse, error) {
	var resp DeviceCodeResponse
	err := e.post(ctx, "devicecode", form, deviceURL, func(time.Time) any { return &resp })
	if err != nil {
		return nil, err
	}
	if resp.DeviceCode == "" || resp.UserCode == "" {
		return nil, &TransportError{Op: "devicecode", StatusCode: http.StatusOK, Err: errors.New("response has no device_code")}
	}
	return &resp, nil
}

// post sends form with at most one retry. target is called before each
// attempt with the attempt's start time and returns the value to decode a
// success response into.
func (e *Executor) post(ctx context.Context, op string, form *Form, endpoint string, target func(started time.Time) any) error {
	body, err := form.Encode()
	if err != nil {
		return err
	}

	log := e.logger().With(
		slog.String("op", op),
		slog.String("grant_type", form.Get("grant_type")),
		slog.String("endpoint", hostOf(endpoint)),
	)

	const attempts = 2
	for attempt := range attempts {
		requestID := idx.New().GUID()
		started := e.now()

		err = e.attempt(ctx, op, endpoint, body, requestID, target(started))
		if err == nil {
			log.Debug("token endpoint request succeeded",
				slog.String("client_request_id", requestID),
				slog.Int("attempt", attempt+1))
			return nil
		}

		if attempt == attempts-1 || ctx.Err() != nil || !IsRetryable(err) {
			break
		}

		delay := e.Backoff.Delay(attempt)
		log.Warn("token endpoint request failed, retrying",
			slog.String("client_request_id", requestID),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))

		if serr := httpx.Sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, serr)
		}
	}

	var idp *IdentityProviderError
	if errors.As(err, &idp) {
		log.Debug("token endpoint returned error",
			slog.String("error_code", idp.Code),
			slog.Any("aadsts", idp.ErrorCodes),
			slog.String("correlation_id", idp.CorrelationID))
	} else {
		log.Warn("token endpoint request failed", slog.String("error", err.Error()))
	}
	return err
}

func (e *Executor) attempt(ctx context.Context, op, endpoint, body, requestID string, out any) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("client-request-id", requestID)
	req.Header.Set("return-client-request-id", "true")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		// url.Error carries the endpoint, which holds no secrets
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return decodeResponse(op, resp, raw, out)
}

// decodeResponse classifies a token endpoint response: 2xx JSON decodes into
// out, an OAuth2 error document becomes *IdentityProviderError and anything
// else is a *TransportError.
func decodeResponse(op string, resp *http.Response, raw []byte, out any) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if !isJSON(resp.Header.Get("Content-Type")) && !json.Valid(raw) {
			return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("response is not JSON")}
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		return nil
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error != "" {
			return errResp.toError(resp.StatusCode)
		}
	}

	return &TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("unexpected response: %s", http.StatusText(resp.StatusCode)),
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}
