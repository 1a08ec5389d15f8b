package config

import "strings"

// defaultMaxInputTokens is assumed for models whose context window is
// not configured.
const defaultMaxInputTokens = 128_000

// ModelSpec describes one model assignment: which provider serves it
// and how much input it accepts.
type ModelSpec struct {
	Provider string `yaml:"provider"` // gemini, openai
	Model    string `yaml:"model"`

	// MaxInputTokens is the context window. Zero means unknown and
	// falls back to a conservative default.
	MaxInputTokens int `yaml:"max_input_tokens"`

	// ReservedOutputMargin is held back from the context window for
	// the model's response. Zero means derive the default margin.
	ReservedOutputMargin int `yaml:"reserved_output_margin"`

	// MaxOutputTokens caps the response length. Zero means provider
	// default.
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// EffectiveLimits returns (limit, margin, effective). The default
// margin is the larger of 4000 tokens and 10% of the limit; the margin
// never reaches the limit itself, and effective never goes negative.
func (m ModelSpec) EffectiveLimits() (limit, margin, effective int) {
	limit = m.MaxInputTokens
	if limit <= 0 {
		limit = defaultMaxInputTokens
	}

	margin = m.ReservedOutputMargin
	if margin <= 0 {
		margin = 4_000
		if tenth := limit / 10; tenth > margin {
			margin = tenth
		}
	}
	if upper := limit - 1; margin > upper {
		margin = upper
	}
	if margin < 0 {
		margin = 0
	}

	effective = limit - margin
	if effective < 0 {
		effective = 0
	}
	return limit, margin, effective
}

// Ceiling is the usable input budget: context window minus the
// reserved output margin.
func (m ModelSpec) Ceiling() int {
	_, _, effective := m.EffectiveLimits()
	return effective
}

// ModelsConfig assigns a model to every pipeline phase.
type ModelsConfig struct {
	Discovery     ModelSpec `yaml:"discovery"`
	Planning      ModelSpec `yaml:"planning"`
	Analysis      ModelSpec `yaml:"analysis"`
	Synthesis     ModelSpec `yaml:"synthesis"`
	Consolidation ModelSpec `yaml:"consolidation"`
	Final         ModelSpec `yaml:"final"`
}

// ForPhase returns the model spec assigned to the named phase. Unknown names
// get the analysis assignment, the workhorse of the pipeline.
func (m ModelsConfig) ForPhase(phase string) ModelSpec {
	switch strings.ToLower(phase) {
	case "discovery":
		return m.Discovery
	case "planning":
		return m.Planning
	case "analysis":
		return m.Analysis
	case "synthesis":
		return m.Synthesis
	case "consolidation":
		return m.Consolidation
	case "final":
		return m.Final
	default:
		return m.Analysis
	}
}

// DefaultModels assigns a fast model to the cheap phases and a
// stronger one to synthesis and the final report.
func DefaultModels() ModelsConfig {
	flash := ModelSpec{
		Provider:       "gemini",
		Model:          "gemini-2.5-flash",
		MaxInputTokens: 1_048_576,
	}
	pro := ModelSpec{
		Provider:       "gemini",
		Model:          "gemini-2.5-pro",
		MaxInputTokens: 1_048_576,
	}
	return ModelsConfig{
		Discovery:     flash,
		Planning:      flash,
		Analysis:      flash,
		Synthesis:     pro,
		Consolidation: pro,
		Final:         pro,
	}
}
