// Package llm is the language-model collaborator used by the text stages.
//
// # Backends
//
// OpenAIClient talks to OpenAI or any OpenAI-compatible endpoint (OpenRouter,
// local gateways) through github.com/openai/openai-go. EinoClient adapts the
// cloudwego/eino chat models for the claude, ollama and eino-openai
// providers. New picks the backend from llm.provider.
//
// # Usage accounting
//
// Every completion reports prompt and completion token counts. Backends that
// return no usage are measured with TokenCounter (tiktoken cl100k_base, with a
// rune heuristic when the encoding is unavailable). When the endpoint reports
// a billed cost (OpenRouter usage.cost) it is surfaced as Response.BilledCost.
//
// # Retry Behaviour
//
// Requests are retried on HTTP 408/429/5xx, network timeouts and empty model
// responses with exponential backoff (base 1s, max 10s). A Retry-After header
// overrides the computed delay. Context cancellation aborts retries
// immediately. Exhausted transient failures are tagged services.ErrTransient;
// anything else is services.ErrExternalTool.
package llm
