package cloudevent

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Signature-256"

// maxErrorBody is how much of a rejected response is kept for the error.
const maxErrorBody = 512

// Sender posts events to webhook receivers.
type Sender struct {
	client    *http.Client
	userAgent string
}

// NewSender creates a sender with a pooled transport and a per-request timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: "rombuilder-webhook",
	}
}

// SendOptions controls how an event is sent.
type SendOptions struct {
	SigningKey string // HMAC key; empty sends the event unsigned
}

// Send posts the event in structured mode. The Ce-* headers duplicate the
// main attributes so receivers can route without parsing the body.
// Any non-2xx answer is returned as *HTTPError.
func (s *Sender) Send(ctx context.Context, url string, event *CloudEvent, opts SendOptions) error {
	if err := event.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/cloudevents+json")
	req.Header.Set("User-Agent", s.userAgent)
	for name, value := range attributeHeaders(event) {
		req.Header.Set(name, value)
	}
	if opts.SigningKey != "" {
		req.Header.Set(SignatureHeader, Sign(body, opts.SigningKey))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		RetryAfter: resp.Header.Get("Retry-After"),
		Body:       strings.TrimSpace(string(snippet)),
	}
}

func attributeHeaders(e *CloudEvent) map[string]string {
	h := map[string]string{
		"Ce-Specversion": e.SpecVersion,
		"Ce-Type":        e.Type,
		"Ce-Source":      e.Source,
		"Ce-Id":          e.ID,
		"Ce-Time":        e.Time.Format(time.RFC3339),
	}
	if e.Subject != "" {
		h["Ce-Subject"] = e.Subject
	}
	return h
}

// Sign returns the SignatureHeader value for body: "sha256=" followed by
// the hex HMAC-SHA256 under key.
func Sign(body []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the SignatureHeader value for body.
func Verify(body []byte, key, signature string) bool {
	return hmac.Equal([]byte(Sign(body, key)), []byte(signature))
}

// HTTPError is a non-2xx answer from a receiver.
type HTTPError struct {
	StatusCode int
	RetryAfter string // raw Retry-After header, if any
	Body       string // start of the response body
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// RetryDelay parses RetryAfter, given either in seconds or as an HTTP
// date. It returns zero when the header is absent, malformed or past.
func (e *HTTPError) RetryDelay() time.Duration {
	if e.RetryAfter == "" {
		return 0
	}
	if secs, err := strconv.Atoi(e.RetryAfter); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if at, err := http.ParseTime(e.RetryAfter); err == nil {
		return max(time.Until(at), 0)
	}
	return 0
}

// IsClientError reports a 4xx answer, which retrying will not fix.
// 408 and 429 are excluded: the receiver asks to try again later.
func IsClientError(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	if he.StatusCode == http.StatusRequestTimeout || he.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return he.StatusCode >= 400 && he.StatusCode < 500
}

// RetryDelay returns the delay a receiver asked for in err, if any.
func RetryDelay(err error) time.Duration {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.RetryDelay()
	}
	return 0
}
