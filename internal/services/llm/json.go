package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const snippetLimit = 160

// DecodeLLMJSON unmarshals the JSON document in a model reply into target.
// Replies wrapped in markdown fences or surrounded by prose are accepted.
func DecodeLLMJSON(content string, target any) error {
	candidates := jsonCandidates(content)
	if len(candidates) == 0 {
		return errors.New("empty payload")
	}
	var firstErr error
	for _, candidate := range candidates {
		err := json.Unmarshal([]byte(candidate), target)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return fmt.Errorf("%w (payload: %s)", firstErr, snippet(candidates[len(candidates)-1]))
}

// jsonCandidates lists the strings worth trying, most literal first.
func jsonCandidates(content string) []string {
	var out []string
	add := func(value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		for _, existing := range out {
			if existing == value {
				return
			}
		}
		out = append(out, value)
	}

	add(content)
	body := unfence(content)
	add(body)
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(body, pair[0])
		end := strings.LastIndex(body, pair[1])
		if start >= 0 && end > start {
			add(body[start : end+1])
		}
	}
	return out
}

func unfence(content string) string {
	body := strings.TrimSpace(content)
	rest, ok := strings.CutPrefix(body, "```")
	if !ok {
		return body
	}
	// Drop the info string ("json", "JSON", ...) on the opening fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
		rest = rest[nl+1:]
	}
	if idx := strings.LastIndex(rest, "```"); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	if runes := []rune(clean); len(runes) > snippetLimit {
		return string(runes[:snippetLimit]) + "..."
	}
	return clean
}
