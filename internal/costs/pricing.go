package costs

import (
	"fmt"
	"math"
	"strings"

	"github.com/Knetic/govaluate"

	"castline/internal/config"
	"castline/internal/stage"
)

// Pricing estimates stage cost from usage counts with configured formulas.
// A model formula wins over a stage formula, which wins over the default.
type Pricing struct {
	defaultExpr *govaluate.EvaluableExpression
	stages      map[string]*govaluate.EvaluableExpression
	models      map[string]*govaluate.EvaluableExpression
}

// NewPricing compiles the formulas in cfg.
func NewPricing(cfg config.Pricing) (*Pricing, error) {
	def := strings.TrimSpace(cfg.DefaultFormula)
	if def == "" {
		def = "0"
	}
	defaultExpr, err := govaluate.NewEvaluableExpression(def)
	if err != nil {
		return nil, fmt.Errorf("pricing.default_formula: %w", err)
	}
	p := &Pricing{
		defaultExpr: defaultExpr,
		stages:      make(map[string]*govaluate.EvaluableExpression, len(cfg.Stages)),
		models:      make(map[string]*govaluate.EvaluableExpression, len(cfg.Models)),
	}
	for name, formula := range cfg.Stages {
		expr, err := govaluate.NewEvaluableExpression(formula)
		if err != nil {
			return nil, fmt.Errorf("pricing.stages.%s: %w", name, err)
		}
		p.stages[strings.ToLower(strings.TrimSpace(name))] = expr
	}
	for name, formula := range cfg.Models {
		expr, err := govaluate.NewEvaluableExpression(formula)
		if err != nil {
			return nil, fmt.Errorf("pricing.models.%s: %w", name, err)
		}
		p.models[strings.ToLower(strings.TrimSpace(name))] = expr
	}
	return p, nil
}

func (p *Pricing) formula(stageName, model string) *govaluate.EvaluableExpression {
	if expr, ok := p.models[strings.ToLower(strings.TrimSpace(model))]; ok && model != "" {
		return expr
	}
	if expr, ok := p.stages[strings.ToLower(strings.TrimSpace(stageName))]; ok {
		return expr
	}
	return p.defaultExpr
}

// Estimate evaluates the formula that applies to the stage and model.
func (p *Pricing) Estimate(stageName, model string, inputUnits, outputUnits int64) (float64, error) {
	if p == nil {
		return 0, nil
	}
	params := map[string]interface{}{
		"input_tokens":  float64(inputUnits),
		"output_tokens": float64(outputUnits),
		"input_units":   float64(inputUnits),
		"output_units":  float64(outputUnits),
	}
	result, err := p.formula(stageName, model).Evaluate(params)
	if err != nil {
		return 0, fmt.Errorf("evaluate pricing for %s: %w", stageName, err)
	}
	value, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("pricing for %s produced %T, want a number", stageName, result)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, fmt.Errorf("pricing for %s produced invalid cost %v", stageName, value)
	}
	return value, nil
}

// Cost returns the cost to record for a run. A billed cost reported by the
// collaborator is authoritative; otherwise the formula estimate is used and
// estimated is true.
func (p *Pricing) Cost(stageName string, usage stage.Usage) (cost float64, estimated bool, err error) {
	if usage.BilledCost != nil {
		return *usage.BilledCost, false, nil
	}
	cost, err = p.Estimate(stageName, usage.Model, usage.InputUnits, usage.OutputUnits)
	return cost, true, err
}
