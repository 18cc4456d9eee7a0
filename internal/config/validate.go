package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Knetic/govaluate"
)

// SupportedLLMProviders lists the accepted llm.provider values.
var SupportedLLMProviders = []string{"openai", "eino-openai", "claude", "ollama"}

// PricingVariables lists the variables cost formulas may reference.
var PricingVariables = []string{"input_tokens", "output_tokens", "input_units", "output_units"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validatePricing(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	if !strings.Contains(c.Paths.APIBind, ":") {
		return fmt.Errorf("paths.api_bind must be host:port, got %q", c.Paths.APIBind)
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	r := c.Retrieval
	if r.SegmentLength < 200 {
		return fmt.Errorf("retrieval.segment_length must be at least 200, got %d", r.SegmentLength)
	}
	if r.Overlap < 0 || r.Overlap >= 0.9 {
		return fmt.Errorf("retrieval.overlap must be in [0, 0.9), got %g", r.Overlap)
	}
	if r.SnapWindow < 0 {
		return fmt.Errorf("retrieval.snap_window must be non-negative, got %d", r.SnapWindow)
	}
	if maxSnap := int(float64(r.SegmentLength) * (1 - r.Overlap) / 2); r.SnapWindow > maxSnap {
		return fmt.Errorf("retrieval.snap_window must be at most %d for the configured length and overlap, got %d", maxSnap, r.SnapWindow)
	}
	if r.TopK < 1 || r.TopK > 100 {
		return fmt.Errorf("retrieval.top_k must be between 1 and 100, got %d", r.TopK)
	}
	return nil
}

func (c *Config) validateLLM() error {
	supported := false
	for _, provider := range SupportedLLMProviders {
		if c.LLM.Provider == provider {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("llm.provider must be one of %s, got %q", strings.Join(SupportedLLMProviders, ", "), c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature)
	}
	return nil
}

func (c *Config) validateTranscription() error {
	hasInput := false
	for _, arg := range c.Transcription.Args {
		if strings.Contains(arg, "{input}") {
			hasInput = true
			break
		}
	}
	if !hasInput {
		return errors.New("transcription.args must reference {input}")
	}
	return nil
}

func (c *Config) validatePricing() error {
	if err := validateFormula("pricing.default_formula", c.Pricing.DefaultFormula); err != nil {
		return err
	}
	for _, section := range []struct {
		name     string
		formulas map[string]string
	}{
		{"pricing.stages", c.Pricing.Stages},
		{"pricing.models", c.Pricing.Models},
	} {
		keys := make([]string, 0, len(section.formulas))
		for key := range section.formulas {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := validateFormula(fmt.Sprintf("%s.%s", section.name, key), section.formulas[key]); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateFormula(field, formula string) error {
	expr, err := govaluate.NewEvaluableExpression(formula)
	if err != nil {
		return fmt.Errorf("%s must be a valid expression: %w", field, err)
	}
	allowed := make(map[string]struct{}, len(PricingVariables))
	for _, name := range PricingVariables {
		allowed[name] = struct{}{}
	}
	for _, name := range expr.Vars() {
		if _, ok := allowed[name]; !ok {
			return fmt.Errorf("%s must only reference %s, found %q", field, strings.Join(PricingVariables, ", "), name)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
