package stage

import "castline/internal/artifacts"

// Usage reports what a collaborator consumed and produced. Units are tokens
// for language models and whatever the service bills by otherwise
// (characters, seconds, images).
type Usage struct {
	InputUnits  int64
	OutputUnits int64
	Model       string
	// BilledCost is the cost reported by the service, when it reports one.
	BilledCost *float64
}

// Add accumulates another usage record. Billed costs add up only while
// both sides carry one.
func (u Usage) Add(other Usage) Usage {
	out := Usage{
		InputUnits:  u.InputUnits + other.InputUnits,
		OutputUnits: u.OutputUnits + other.OutputUnits,
		Model:       u.Model,
	}
	if out.Model == "" {
		out.Model = other.Model
	}
	if u.BilledCost != nil && other.BilledCost != nil {
		total := *u.BilledCost + *other.BilledCost
		out.BilledCost = &total
	}
	return out
}

// Billed returns a pointer to cost for use in Usage literals.
func Billed(cost float64) *float64 {
	return &cost
}

// Prompt is the full effective input of a generation stage.
type Prompt struct {
	System string
	User   string
	// Extension is the output file extension, for example ".md".
	Extension string
}

// Hash returns the cache key of the prompt.
func (p Prompt) Hash() string {
	return artifacts.HashPrompt(p.System, p.User)
}
