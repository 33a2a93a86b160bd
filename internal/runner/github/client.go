package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rombuilder/pkg/circuitbreaker"

	"golang.org/x/time/rate"
)

// maxResponseSize bounds API and artifact bodies.
const maxResponseSize = 4 << 20

// APIError is a non-2xx answer from the GitHub API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("github: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// countable decides which failures say something about GitHub's health.
// A 4xx answer means GitHub is up and the request was wrong.
func countable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

// client is a throttled, breaker-guarded GitHub REST client.
type client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
}

func newClient(cfg Config, logger *slog.Logger) *client {
	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("GitHub API circuit changed state", "from", from.String(), "to", to.String())
	}
	return &client{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		breaker: circuitbreaker.New(breakerCfg),
	}
}

// do performs an authenticated request. path is relative to the API base
// unless it is an absolute URL. result, when non-nil, receives the JSON body.
func (c *client) do(ctx context.Context, method, path string, body, result any) error {
	raw, err := c.raw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("github: %s %s: failed to parse response: %w", method, path, err)
		}
	}
	return nil
}

// raw performs an authenticated request and returns the response body.
func (c *client) raw(ctx context.Context, method, path string, body any) ([]byte, error) {
	var respBody []byte
	err := c.breaker.Execute(func() error {
		var err error
		respBody, err = c.send(ctx, method, path, body)
		return err
	}, countable)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("github: %s %s: %w (retry in %s)", method, path, err, c.breaker.RetryAfter().Round(time.Second))
	}
	return respBody, err
}

func (c *client) send(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.baseURL + path
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("github: %s %s: failed to read response: %w", method, path, err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &payload) == nil {
			apiErr.Message = payload.Message
		}
		return nil, apiErr
	}
	return respBody, nil
}
