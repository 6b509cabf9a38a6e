// Package httpclient is ShardHttpClient (spec §4.2): the single mechanism
// every component uses to talk to a peer over the JSON control plane,
// generalized from the coordinator/node HTTP helpers (PostJSON/GetJSON)
// that torua's cluster package used for registration, health checks, and
// broadcasts.
//
// A Client makes a single attempt per call by default — the caller owns
// retry policy, per spec §4.2, since only the caller knows whether a
// failed call is safe to repeat within its own deadline (distcache reads
// must not block past the inbound HTTP timeout; a dropped heartbeat or
// assignment push is worth one retry). Callers that want retries pass
// WithMaxAttempts or wrap the call in their own backoff.Retry.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dreamware/shardcoord/internal/coreerr"
)

// DefaultTimeout bounds a single attempt, matching the per-request
// deadline every control-plane call in spec §6 is expected to honor.
const DefaultTimeout = 10 * time.Second

// Client is a typed wrapper over http.Client used for all peer-to-peer
// control-plane traffic (registration, heartbeats, assignment pushes,
// succession broadcasts, resumption).
type Client struct {
	hc          *http.Client
	maxAttempts uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client, e.g. in tests
// pointed at an httptest.Server.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithMaxAttempts overrides the retry budget for transport failures.
// The default is 1 (no retry); pass 2 for a single retry.
func WithMaxAttempts(n uint64) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// New returns a Client with a DefaultTimeout http.Client and no retry:
// a single attempt per call. Pass WithMaxAttempts to opt a specific
// Client instance into retrying transport failures.
func New(opts ...Option) *Client {
	c := &Client{
		hc:          &http.Client{Timeout: DefaultTimeout},
		maxAttempts: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 100 * time.Millisecond
	exp.MaxInterval = 2 * time.Second
	exp.Multiplier = 2
	return backoff.WithContext(backoff.WithMaxRetries(exp, c.maxAttempts-1), ctx)
}

// do executes req, retrying on transport-level failure only. A response
// that was successfully read (any status code) is returned as-is, along
// with the response body bytes already drained, so the caller never
// needs to worry about retry draining the same io.Reader twice.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	var (
		resp *http.Response
		body []byte
	)
	op := func() error {
		r, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer r.Body.Close()
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		resp, body = r, b
		return nil
	}
	if err := backoff.Retry(op, c.policy(ctx)); err != nil {
		return nil, nil, coreerr.NewTransport(0, fmt.Errorf("%s %s: %w", req.Method, req.URL, err))
	}
	return resp, body, nil
}

// PostJSON sends body JSON-encoded as a POST to url and decodes the
// response into a value of type Resp. A non-2xx response is returned as
// a coreerr.Transport error carrying the observed status.
func PostJSON[Req, Resp any](ctx context.Context, c *Client, url string, body Req) (Resp, error) {
	var zero Resp
	encoded, err := json.Marshal(body)
	if err != nil {
		return zero, fmt.Errorf("httpclient: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return zero, fmt.Errorf("httpclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, respBody, err := c.do(ctx, req)
	if err != nil {
		return zero, err
	}
	if resp.StatusCode >= 300 {
		return zero, coreerr.NewTransport(resp.StatusCode, fmt.Errorf("httpclient: %s %s: status %d", req.Method, url, resp.StatusCode))
	}
	if len(respBody) == 0 {
		return zero, nil
	}
	var out Resp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return zero, fmt.Errorf("httpclient: decode response from %s: %w", url, err)
	}
	return out, nil
}

// PostAck sends body JSON-encoded as a POST to url and discards any
// response body, for fire-and-forget control messages (succession
// broadcasts, resumption notices) where only the status matters.
func PostAck[Req any](ctx context.Context, c *Client, url string, body Req) error {
	_, err := PostJSON[Req, struct{}](ctx, c, url, body)
	return err
}

// Get sends a GET to url and decodes the response into a value of type
// Resp. Optional headers (e.g. Authorization) can be attached via
// header key/value pairs.
func Get[Resp any](ctx context.Context, c *Client, url string, headers ...[2]string) (Resp, error) {
	var zero Resp
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return zero, fmt.Errorf("httpclient: build request: %w", err)
	}
	for _, h := range headers {
		req.Header.Set(h[0], h[1])
	}

	resp, respBody, err := c.do(ctx, req)
	if err != nil {
		return zero, err
	}
	if resp.StatusCode >= 300 {
		return zero, coreerr.NewTransport(resp.StatusCode, fmt.Errorf("httpclient: GET %s: status %d", url, resp.StatusCode))
	}
	var out Resp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return zero, fmt.Errorf("httpclient: decode response from %s: %w", url, err)
	}
	return out, nil
}
