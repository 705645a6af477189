package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrNoAPIKey indicates the adapter was built without credentials.
	ErrNoAPIKey = errors.New("api key not configured")

	// ErrEmptyResponse indicates the upstream answered without any text.
	ErrEmptyResponse = errors.New("empty response from upstream")

	// ErrStreamClosed is returned by Recv after Close.
	ErrStreamClosed = errors.New("stream closed")
)

// UpstreamError is returned for every transport, authentication, protocol or
// timeout failure of an upstream call.
type UpstreamError struct {
	Provider   string
	StatusCode int    // HTTP status, 0 when the request never got a response
	Message    string // The upstream's own message, verbatim when available
	Raw        []byte // Raw error payload
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" && e.StatusCode != 0 {
		msg = http.StatusText(e.StatusCode)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Upstream converts err into an *UpstreamError for the named provider.
// Existing upstream errors pass through; context deadlines become timeouts.
func Upstream(providerName string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "upstream request timed out"
	}
	return &UpstreamError{Provider: providerName, Message: msg, Err: err}
}

// StatusError builds an *UpstreamError from a non-2xx response body.
func StatusError(providerName string, status int, message string, raw []byte) error {
	return &UpstreamError{
		Provider:   providerName,
		StatusCode: status,
		Message:    message,
		Raw:        raw,
	}
}

// ResponseError drains a non-2xx response into an *UpstreamError. message
// extracts the upstream's own text from the body; the trimmed body is used
// when it returns "".
func ResponseError(providerName string, resp *http.Response, message func([]byte) string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := ""
	if message != nil {
		msg = message(raw)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return StatusError(providerName, resp.StatusCode, msg, raw)
}

// MissingKey is returned by every call of an adapter built without an API key.
func MissingKey(providerName string) error {
	return &UpstreamError{Provider: providerName, Message: ErrNoAPIKey.Error(), Err: ErrNoAPIKey}
}

// quotaKeywords match upstream messages that mean "stop asking". Upstream
// error taxonomies are not stable across providers, so text is the only
// common denominator.
var quotaKeywords = []string{"quota", "rate", "limit", "exhausted"}

// rateLookalikes contain "rate" without being about rates. They are
// removed before matching so "failed to generate" is not a quota error.
var rateLookalikes = strings.NewReplacer(
	"generat", "",
	"moderat", "",
	"accurat", "",
	"separat", "",
	"operat", "",
	"iterat", "",
	"corporat", "",
)

// IsQuotaError reports whether err means the provider refused for quota or
// rate-limit reasons. A 429 status is trusted first; otherwise a keyword
// anywhere in the lowercased message is enough, so camel-cased reasons such
// as "userRateLimitExceeded" and "ResourceExhausted" match.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := rateLookalikes.Replace(strings.ToLower(err.Error()))
	for _, kw := range quotaKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
