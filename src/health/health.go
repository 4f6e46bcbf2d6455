// Package health queries the plain request/response health endpoint that
// gates a probe run.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// DefaultPath is the health endpoint path relative to the base URL.
const DefaultPath = "/health"

// Status is the decoded health response.
type Status struct {
	Status   string         `json:"status"`
	Services map[string]any `json:"services,omitempty"`
}

// Healthy reports whether the service and every listed dependency are up.
func (s *Status) Healthy() bool {
	if s == nil {
		return false
	}
	switch strings.ToLower(s.Status) {
	case "ok", "healthy", "up":
	default:
		return false
	}
	return len(s.Unavailable()) == 0
}

// Unavailable returns the sorted names of services reported as down.
func (s *Status) Unavailable() []string {
	if s == nil {
		return nil
	}
	var down []string
	for name, v := range s.Services {
		if !serviceUp(v) {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	return down
}

func serviceUp(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "ok", "up", "healthy", "available", "true":
			return true
		}
		return false
	case map[string]any:
		if st, ok := t["status"]; ok {
			return serviceUp(st)
		}
		if av, ok := t["available"]; ok {
			return serviceUp(av)
		}
		return true
	case nil:
		return false
	}
	return true
}

// Client performs health checks.
type Client struct {
	http    *fasthttp.Client
	path    string
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPath overrides the health endpoint path.
func WithPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.path = path
		}
	}
}

// New creates a health client. A zero timeout means five seconds.
func New(logger zerolog.Logger, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		http:    &fasthttp.Client{Name: "socketprobe"},
		path:    DefaultPath,
		timeout: timeout,
		logger:  logger.With().Str("component", "health").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check fetches and decodes {base}/health. Transport failures and non-2xx
// responses are returned as *types.ProbeError.
func (c *Client) Check(ctx context.Context, baseURL string) (*Status, error) {
	uri := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(c.path, "/")

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindCancelled, "health check cancelled", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, classify(err)
	}
	code := resp.StatusCode()
	c.logger.Debug().Str("url", uri).Int("status", code).Dur("elapsed", time.Since(start)).Msg("health response")

	if code < 200 || code >= 300 {
		return nil, types.NewError(types.KindNetwork, fmt.Sprintf("health endpoint returned HTTP %d", code), nil)
	}
	var st Status
	if err := json.Unmarshal(resp.Body(), &st); err != nil {
		return nil, types.NewError(types.KindProtocol, "health response is not valid JSON", err)
	}
	return &st, nil
}

func classify(err error) *types.ProbeError {
	var netErr net.Error
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewError(types.KindTimeout, "health check timed out", err)
	}
	return types.NewError(types.KindNetwork, "", err)
}
