package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"castline/internal/config"
	"castline/internal/services"
)

const (
	defaultHTTPTimeout    = 120 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 5
)

// Request is one chat completion.
type Request struct {
	System string
	User   string
	// JSON asks the backend for a JSON object response where supported.
	JSON bool
}

// Response carries the completion text and its usage.
type Response struct {
	Content      string
	Model        string
	InputTokens  int64
	OutputTokens int64
	// BilledCost is the cost reported by the endpoint, when it reports one.
	BilledCost *float64
}

// Client is a chat completion backend.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Model() string
}

// Option customizes a client.
type Option func(*settings)

type settings struct {
	httpClient *http.Client
	retry      retryPolicy
	counter    *TokenCounter
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count (defaults to 5).
func WithRetryMaxAttempts(attempts int) Option {
	return func(s *settings) {
		s.retry.maxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(s *settings) {
		s.retry.baseDelay = baseDelay
		s.retry.maxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(s *settings) {
		s.retry.sleeper = sleeper
	}
}

// WithTokenCounter overrides the counter used when a backend reports no usage.
func WithTokenCounter(counter *TokenCounter) Option {
	return func(s *settings) {
		if counter != nil {
			s.counter = counter
		}
	}
}

func newSettings(cfg config.LLM, opts []Option) settings {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	attempts := defaultRetryAttempts
	if cfg.MaxRetries > 0 {
		attempts = cfg.MaxRetries + 1
	}
	s := settings{
		httpClient: &http.Client{Timeout: timeout},
		retry: retryPolicy{
			maxAttempts: attempts,
			baseDelay:   defaultRetryBaseDelay,
			maxDelay:    defaultRetryMaxDelay,
		},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.counter == nil {
		s.counter = NewTokenCounter()
	}
	return s
}

// New builds the client for cfg.Provider.
func New(cfg config.LLM, opts ...Option) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAIClient(cfg, opts...)
	case "claude", "ollama", "eino-openai":
		return NewEinoClient(context.Background(), cfg, opts...)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "llm", "select provider",
			fmt.Sprintf("unsupported provider %q", cfg.Provider), nil)
	}
}

// HealthCheck issues a tiny JSON completion to verify credentials and model.
func HealthCheck(ctx context.Context, client Client) error {
	if client == nil {
		return errors.New("llm health: client not configured")
	}
	resp, err := client.Complete(ctx, Request{
		System: "You must respond with JSON only.",
		User:   `Respond with {"ok":true}`,
		JSON:   true,
	})
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON(resp.Content, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

func validateRequest(op string, req Request) error {
	if strings.TrimSpace(req.System) == "" {
		return services.Wrap(services.ErrValidation, "llm", op, "system prompt required", nil)
	}
	if strings.TrimSpace(req.User) == "" {
		return services.Wrap(services.ErrValidation, "llm", op, "user prompt required", nil)
	}
	return nil
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type emptyContentError struct {
	Op           string
	FinishReason string
	Refusal      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, refusal=%q)", e.Op, e.FinishReason, e.Refusal)
}

// retryPolicy drives the attempt loop shared by the backends.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleeper     func(time.Duration)
}

// do runs call until it succeeds, fails permanently, or attempts run out.
// The final error is tagged transient or external-tool for the caller.
func (p retryPolicy) do(ctx context.Context, op string, call func() (Response, error)) (Response, error) {
	attempts := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := call()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		delay, retry := p.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			break
		}
		if err := p.sleep(ctx, delay); err != nil {
			return Response{}, err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	if ctx.Err() != nil {
		return Response{}, lastErr
	}
	if isTransient(lastErr) {
		return Response{}, services.Wrap(services.ErrTransient, "llm", op, fmt.Sprintf("failed after %d attempts", attempts), lastErr)
	}
	return Response{}, services.Wrap(services.ErrExternalTool, "llm", op, "", lastErr)
}

func (p retryPolicy) attempts() int {
	if p.maxAttempts <= 0 {
		return 1
	}
	return p.maxAttempts
}

func (p retryPolicy) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 && isTransient(err) {
		return p.capDelay(statusErr.RetryAfter), true
	}
	if isTransient(err) {
		return p.backoffDelay(attempt), true
	}
	return 0, false
}

// isTransient classifies errors worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var empty *emptyContentError
	if errors.As(err, &empty) {
		return true
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	// Eino backends surface provider errors as text only.
	lower := strings.ToLower(err.Error())
	for _, hint := range []string{"status code: 429", "status code: 5", "rate limit", "overloaded", "timeout"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func (p retryPolicy) backoffDelay(attempt int) time.Duration {
	base := p.baseDelay
	maxDelay := p.maxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return p.capDelay(delay)
}

func (p retryPolicy) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := p.maxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (p retryPolicy) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p.sleeper != nil {
		p.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
