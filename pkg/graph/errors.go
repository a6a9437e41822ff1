package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aussiebroadwan/graphauth/pkg/authsdk"
)

var (
	// ErrAuthenticationFailed is returned when Graph rejects a request with
	// 401 even after the access token was renewed.
	ErrAuthenticationFailed = errors.New("graph: authentication failed")

	// ErrNoMorePages is returned by Pager.Next after the last page.
	ErrNoMorePages = errors.New("graph: no more pages")

	// ErrCancelled is returned when the caller's context ends while a
	// request or its retry wait is pending.
	ErrCancelled = authsdk.ErrCancelled
)

// ResponseError is a non-success Graph response decoded from its error
// document.
type ResponseError struct {
	StatusCode      int
	Code            string
	Message         string
	RequestID       string
	ClientRequestID string
}

func (e *ResponseError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("graph: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// errorDocument is the Graph error body:
//
//	{"error":{"code":"...","message":"...","innerError":{"request-id":"...","client-request-id":"..."}}}
type errorDocument struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		InnerError struct {
			RequestID       string `json:"request-id"`
			ClientRequestID string `json:"client-request-id"`
		} `json:"innerError"`
	} `json:"error"`
}

// newResponseError reads and closes resp.Body.
func newResponseError(resp *http.Response) *ResponseError {
	defer resp.Body.Close()

	e := &ResponseError{
		StatusCode:      resp.StatusCode,
		RequestID:       resp.Header.Get("request-id"),
		ClientRequestID: resp.Header.Get("client-request-id"),
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return e
	}

	var doc errorDocument
	if json.Unmarshal(raw, &doc) == nil && doc.Error.Code != "" {
		e.Code = doc.Error.Code
		e.Message = doc.Error.Message
		if doc.Error.InnerError.RequestID != "" {
			e.RequestID = doc.Error.InnerError.RequestID
		}
		if doc.Error.InnerError.ClientRequestID != "" {
			e.ClientRequestID = doc.Error.InnerError.ClientRequestID
		}
	}
	return e
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// IsDeltaTokenExpired reports whether err is the 410 Graph returns for an
// expired delta link. A full sync is required.
func IsDeltaTokenExpired(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusGone
}
