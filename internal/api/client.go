package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"castline/internal/jobs"
)

// ErrAPIUnavailable is returned when no daemon API is configured or reachable.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// Client queries a running daemon.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon bound at bind. An empty bind
// returns ErrAPIUnavailable.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api bind: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Health fetches stage readiness and preflight results.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.get(ctx, "/api/health", &out)
	return out, err
}

// Jobs lists the daemon's remembered jobs.
func (c *Client) Jobs(ctx context.Context) ([]jobs.Job, error) {
	var out JobListResponse
	if err := c.get(ctx, "/api/jobs", &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Job fetches one job.
func (c *Client) Job(ctx context.Context, id string) (jobs.Job, error) {
	var out jobs.Job
	err := c.get(ctx, "/api/jobs/"+url.PathEscape(id), &out)
	return out, err
}

// Batch fetches one batch.
func (c *Client) Batch(ctx context.Context, id string) (jobs.Batch, error) {
	var out jobs.Batch
	err := c.get(ctx, "/api/batches/"+url.PathEscape(id), &out)
	return out, err
}

// StatusError is a non-2xx daemon response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &StatusError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IsAPIUnavailable reports whether err means no daemon answered.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}
