package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"castline/internal/config"
	"castline/internal/services"
)

// EinoClient adapts an eino chat model (Claude, Ollama or eino's OpenAI
// component) to Client.
type EinoClient struct {
	chat    model.BaseChatModel
	model   string
	retry   retryPolicy
	counter *TokenCounter
}

// NewEinoClient builds the chat model selected by cfg.Provider.
func NewEinoClient(ctx context.Context, cfg config.LLM, opts ...Option) (*EinoClient, error) {
	name := strings.TrimSpace(cfg.Model)
	if name == "" {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "configure", "model required", nil)
	}
	s := newSettings(cfg, opts)
	temperature := float32(cfg.Temperature)
	timeout := s.httpClient.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	var (
		chat model.BaseChatModel
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "claude":
		claudeCfg := &claude.Config{
			APIKey:      cfg.APIKey,
			Model:       name,
			Temperature: &temperature,
			MaxTokens:   maxTokensOr(cfg.MaxTokens, 4096),
		}
		if base := strings.TrimSpace(cfg.BaseURL); base != "" {
			claudeCfg.BaseURL = &base
		}
		chat, err = claude.NewChatModel(ctx, claudeCfg)
	case "ollama":
		chat, err = ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: firstNonEmpty(cfg.BaseURL, "http://localhost:11434"),
			Model:   name,
		})
	case "eino-openai":
		maxTokens := cfg.MaxTokens
		openaiCfg := &einoopenai.ChatModelConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       name,
			Temperature: &temperature,
			Timeout:     timeout,
		}
		if maxTokens > 0 {
			openaiCfg.MaxTokens = &maxTokens
		}
		chat, err = einoopenai.NewChatModel(ctx, openaiCfg)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "llm", "configure",
			fmt.Sprintf("provider %q is not served by eino", cfg.Provider), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "configure", "build chat model", err)
	}
	return newEinoClient(chat, name, s), nil
}

// NewEinoClientFromModel wraps an existing chat model.
func NewEinoClientFromModel(chat model.BaseChatModel, name string, opts ...Option) *EinoClient {
	return newEinoClient(chat, name, newSettings(config.LLM{}, opts))
}

func newEinoClient(chat model.BaseChatModel, name string, s settings) *EinoClient {
	return &EinoClient{chat: chat, model: name, retry: s.retry, counter: s.counter}
}

// Model reports the configured model name.
func (c *EinoClient) Model() string {
	return c.model
}

// Complete sends one chat request through the eino model.
func (c *EinoClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := validateRequest("complete", req); err != nil {
		return Response{}, err
	}
	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system) + "\n\nRespond with a single JSON object and nothing else."
	}
	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(req.User),
	}
	return c.retry.do(ctx, "complete", func() (Response, error) {
		msg, err := c.chat.Generate(ctx, messages)
		if err != nil {
			return Response{}, err
		}
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			finish := ""
			if msg != nil && msg.ResponseMeta != nil {
				finish = msg.ResponseMeta.FinishReason
			}
			return Response{}, &emptyContentError{Op: "complete", FinishReason: finish}
		}
		resp := Response{Content: strings.TrimSpace(msg.Content), Model: c.model}
		if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
			resp.InputTokens = int64(msg.ResponseMeta.Usage.PromptTokens)
			resp.OutputTokens = int64(msg.ResponseMeta.Usage.CompletionTokens)
		}
		if resp.InputTokens == 0 && resp.OutputTokens == 0 {
			resp.InputTokens = c.counter.Count(system) + c.counter.Count(req.User)
			resp.OutputTokens = c.counter.Count(resp.Content)
		}
		return resp, nil
	})
}

func maxTokensOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
