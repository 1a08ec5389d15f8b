// Package usage accumulates token usage across a run, broken down by
// phase and by model.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// TokenCounts is one accumulated usage bucket.
type TokenCounts struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Calls  int `json:"calls"`
}

// Add folds one call's counts into the bucket.
func (t *TokenCounts) Add(input, output int) {
	t.Input += input
	t.Output += output
	t.Calls++
}

// Stats is a point-in-time copy of the accumulated usage.
type Stats struct {
	Total   TokenCounts            `json:"total"`
	ByPhase map[string]TokenCounts `json:"by_phase"`
	ByModel map[string]TokenCounts `json:"by_model"`
}

// Tracker records token usage. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	total   TokenCounts
	byPhase map[string]TokenCounts
	byModel map[string]TokenCounts
}

func NewTracker() *Tracker {
	return &Tracker{
		byPhase: make(map[string]TokenCounts),
		byModel: make(map[string]TokenCounts),
	}
}

// Record folds one model call into the totals.
func (t *Tracker) Record(phase, model string, input, output int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.Add(input, output)
	addToMap(t.byPhase, phase, input, output)
	addToMap(t.byModel, model, input, output)
}

// Snapshot returns a copy of the accumulated stats.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Total:   t.total,
		ByPhase: copyCounts(t.byPhase),
		ByModel: copyCounts(t.byModel),
	}
}

// Save writes the current stats to path as indented JSON.
func (t *Tracker) Save(path string) error {
	data, err := json.MarshalIndent(t.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal usage stats: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write usage stats: %w", err)
	}
	return nil
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}

func copyCounts(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
