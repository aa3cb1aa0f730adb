// Package regclient is the thin HTTP shim both the babysitter and the
// router use to talk to the registry: register, heartbeat, deregister,
// list, get. None of its calls block longer than client_timeout; retries
// are bounded and only for transport errors and 5xx (§4.4).
package regclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"

	"github.com/modelfleet/modelfleet/internal/fleeterr"
)

// Record mirrors the registry's wire shape. Kept independent of the
// registry package so the client has no compile-time dependency on the
// server's internals.
type Record struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Host   string   `json:"host"`
	Port   int      `json:"port"`
	Weight int      `json:"weight,omitempty"`
	Meta   Metadata `json:"metadata"`
	Status string   `json:"status,omitempty"`
}

// Metadata mirrors registry.Metadata.
type Metadata struct {
	Models []string          `json:"models"`
	Extra  map[string]string `json:"extra,omitempty"`
}

type listResponse struct {
	Services []Record `json:"services"`
	Total    int      `json:"total"`
}

// Client talks HTTP to a single registry instance.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// New creates a Client bound to registryURL (e.g. "http://127.0.0.1:18000"),
// with client_timeout bounding every call (default 5s per §4.4).
func New(registryURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "registry-client:" + registryURL,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		baseURL: registryURL,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// ListFilter narrows List's result set, mirroring registry.ListFilter.
type ListFilter struct {
	HealthyOnly bool
	Kind        string
	Model       string
}

// Register is safe to retry — the registry handles duplicates (§4.4).
func (c *Client) Register(ctx context.Context, rec Record) (Record, error) {
	var out Record
	err := c.doRetrying(ctx, http.MethodPost, "/services", rec, &out)
	return out, err
}

// Heartbeat does not use the bounded retrier — per §4.4 the heartbeat loop
// "retries forever at its own cadence" using its own ticker interval; the
// circuit breaker alone protects it from hammering a dead registry.
func (c *Client) Heartbeat(ctx context.Context, name, statusHint string) (Record, error) {
	var out Record
	body := map[string]string{}
	if statusHint != "" {
		body["status"] = statusHint
	}
	_, err := c.call(ctx, http.MethodPost, "/services/"+name+"/heartbeat", body, &out)
	return out, err
}

// Deregister is idempotent by contract — a second call returns not_found,
// same as the registry does (§4.4).
func (c *Client) Deregister(ctx context.Context, name string) error {
	return c.doRetrying(ctx, http.MethodDelete, "/services/"+name, nil, nil)
}

// Get fetches a single Record.
func (c *Client) Get(ctx context.Context, name string) (Record, error) {
	var out Record
	err := c.doRetrying(ctx, http.MethodGet, "/services/"+name, nil, &out)
	return out, err
}

// List fetches the full service snapshot, optionally filtered.
func (c *Client) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	path := "/services?"
	if filter.HealthyOnly {
		path += "healthy=true&"
	}
	if filter.Kind != "" {
		path += "kind=" + filter.Kind + "&"
	}
	if filter.Model != "" {
		path += "model=" + filter.Model + "&"
	}

	var out listResponse
	err := c.doRetrying(ctx, http.MethodGet, path, nil, &out)
	return out.Services, err
}

// ─── transport internals ───────────────────────────────────────────────────

// doRetrying wraps call in a bounded exponential backoff (max 3 attempts:
// the first try plus 2 retries), retrying only errors classified
// transport_error/deadline_exceeded — never 4xx (§4.4).
func (c *Client) doRetrying(ctx context.Context, method, path string, body, out interface{}) error {
	backoff := retry.NewExponential(100 * time.Millisecond)
	backoff = retry.WithMaxRetries(2, backoff)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := c.call(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	return fleeterr.Is(err, fleeterr.TransportError) || fleeterr.Is(err, fleeterr.DeadlineExceeded)
}

// call issues one HTTP request through the circuit breaker. Only true
// transport failures (dial/timeout/decode) and 5xx responses count as
// breaker failures; 4xx responses are a legitimate protocol outcome and
// must not trip the breaker.
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	type result struct {
		status int
		err    error
	}

	raw, breakerErr := c.breaker.Execute(func() (interface{}, error) {
		status, err := c.rawDo(ctx, method, path, body, out)
		if err != nil {
			// transport/build/decode failure: always a breaker failure.
			return result{status, err}, err
		}
		if status >= 500 {
			return result{status, nil}, fmt.Errorf("%s %s: status %d", method, path, status)
		}
		// 2xx and 4xx both count as a successful round-trip for breaker purposes.
		return result{status, nil}, nil
	})

	if breakerErr != nil {
		if breakerErr == gobreaker.ErrOpenState || breakerErr == gobreaker.ErrTooManyRequests {
			return 0, fmt.Errorf("registry circuit open: %w", fleeterr.TransportError)
		}
		r, _ := raw.(result)
		return r.status, classify(r.status, breakerErr)
	}

	r, _ := raw.(result)
	if r.status >= 400 {
		return r.status, classify(r.status, fmt.Errorf("%s %s: status %d", method, path, r.status))
	}
	return r.status, nil
}

// rawDo performs one HTTP round trip, decoding the JSON response body into
// out on 2xx. Returns the status code and a non-nil error only for
// transport-level failures (dial, timeout, marshal, decode) — HTTP error
// status codes are reported via the returned status, not via err.
func (c *Client) rawDo(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.New().String())

	resp, err := c.http.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return 0, fmt.Errorf("%s %s: %w", method, path, fleeterr.DeadlineExceeded)
		}
		return 0, fmt.Errorf("%s %s: %w", method, path, fleeterr.TransportError)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, fmt.Errorf("decode response: %w", err)
			}
		}
		return resp.StatusCode, nil
	}

	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return resp.StatusCode, nil
}

// classify maps a completed HTTP response's status code onto the fleeterr
// taxonomy so callers and the retrier can branch without inspecting the
// raw status directly.
func classify(status int, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %v", fleeterr.NotFound, err)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %v", fleeterr.Conflict, err)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %v", fleeterr.BadRequest, err)
	case status >= 500:
		return fmt.Errorf("%w: %v", fleeterr.TransportError, err)
	default:
		return err
	}
}
