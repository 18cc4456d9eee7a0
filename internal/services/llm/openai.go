package llm

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"castline/internal/config"
	"castline/internal/services"
)

const defaultOpenAIBaseURL = "https://openrouter.ai/api/v1"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	retry       retryPolicy
	counter     *TokenCounter
}

// NewOpenAIClient constructs the default backend. Retries are handled here,
// not by the SDK, so rate limits share one backoff policy across providers.
func NewOpenAIClient(cfg config.LLM, opts ...Option) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "configure", "model required", nil)
	}
	s := newSettings(cfg, opts)
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(firstNonEmpty(cfg.BaseURL, defaultOpenAIBaseURL)),
		option.WithHTTPClient(s.httpClient),
		option.WithMaxRetries(0),
	)
	return &OpenAIClient{
		client:      client,
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		retry:       s.retry,
		counter:     s.counter,
	}, nil
}

// Model reports the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete sends one chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := validateRequest("complete", req); err != nil {
		return Response{}, err
	}
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}
	return c.retry.do(ctx, "complete", func() (Response, error) {
		return c.once(ctx, req, params)
	})
}

func (c *OpenAIClient) once(ctx context.Context, req Request, params openai.ChatCompletionNewParams) (Response, error) {
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, translateOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, &emptyContentError{Op: "complete"}
	}
	choice := completion.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return Response{}, &emptyContentError{
			Op:           "complete",
			FinishReason: string(choice.FinishReason),
			Refusal:      choice.Message.Refusal,
		}
	}
	resp := Response{
		Content:      content,
		Model:        firstNonEmpty(completion.Model, c.model),
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
		BilledCost:   billedCost(completion.Usage),
	}
	if resp.InputTokens == 0 && resp.OutputTokens == 0 {
		resp.InputTokens = c.counter.Count(req.System) + c.counter.Count(req.User)
		resp.OutputTokens = c.counter.Count(content)
	}
	return resp, nil
}

// billedCost reads the provider-reported cost (OpenRouter's usage.cost).
func billedCost(usage openai.CompletionUsage) *float64 {
	field, ok := usage.JSON.ExtraFields["cost"]
	if !ok {
		return nil
	}
	raw := strings.TrimSpace(field.Raw())
	if raw == "" || raw == "null" {
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &value
}

func translateOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	statusErr := &httpStatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	if statusErr.Body == "" {
		statusErr.Body = apiErr.Error()
	}
	if apiErr.Response != nil {
		if delay, ok := parseRetryAfter(apiErr.Response.Header.Get("Retry-After")); ok {
			statusErr.RetryAfter = delay
		}
	}
	return statusErr
}
