// Package report renders a finished analysis run into markdown
// artifacts: one file per phase, a metrics summary, and the
// consolidated final document with the project tree appended.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"repolens/internal/config"
	"repolens/internal/phases"
)

// DefaultFinalName is the consolidated document written at the root of
// the output directory.
const DefaultFinalName = "ANALYSIS.md"

const phasesDirName = "phases"

// Writer persists run results to disk.
type Writer struct {
	logger *zap.Logger

	// FinalName overrides DefaultFinalName when set.
	FinalName string
}

func NewWriter(logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{logger: logger}
}

// Write renders res into dir. Per-phase files land in dir/phases/; the
// final document, with the tree appended, lands at dir/<FinalName>.
// The tree lines are expected to already carry their delimiters.
func (w *Writer) Write(dir string, res *phases.RunResult, models config.ModelsConfig, tree []string) error {
	phaseDir := filepath.Join(dir, phasesDirName)
	if err := os.MkdirAll(phaseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	files := map[string]string{
		"phase1_discovery.md":     w.renderDiscovery(res, models),
		"phase2_planning.md":      w.renderPlanning(res, models),
		"phase3_analysis.md":      w.renderAnalysis(res, models),
		"phase4_synthesis.md":     renderText("Phase 4: Synthesis", models.Synthesis.Model, res.Synthesis),
		"phase5_consolidation.md": renderText("Phase 5: Consolidation", models.Consolidation.Model, res.Consolidation),
		"final_analysis.md":       renderText("Final Analysis", models.Final.Model, res.Final),
		"metrics.md":              w.renderMetrics(res, models),
	}
	for name, content := range files {
		path := filepath.Join(phaseDir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	finalPath := filepath.Join(dir, w.finalName())
	if err := os.WriteFile(finalPath, []byte(w.renderFinal(res, tree)), 0o644); err != nil {
		return fmt.Errorf("failed to write final document: %w", err)
	}

	w.logger.Info("run artifacts written",
		zap.String("dir", dir),
		zap.String("final", finalPath),
		zap.Int("phase_files", len(files)))
	return nil
}

func (w *Writer) finalName() string {
	if w.FinalName != "" {
		return w.FinalName
	}
	return DefaultFinalName
}

func (w *Writer) renderDiscovery(res *phases.RunResult, models config.ModelsConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Phase 1: Initial Discovery (Model: %s)\n\n", models.Discovery.Model)
	b.WriteString("## Agent Findings\n\n")
	b.WriteString("```json\n")
	b.WriteString(mustJSON(res.Discovery.Findings))
	b.WriteString("\n```\n")
	return b.String()
}

func (w *Writer) renderPlanning(res *phases.RunResult, models config.ModelsConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Phase 2: Methodical Planning (Model: %s)\n\n", models.Planning.Model)

	if res.Planning.Plan.UsedFallback {
		fmt.Fprintf(&b, "> Fallback plan used: %s\n\n", res.Planning.Plan.FallbackReason)
	}
	for i, a := range res.Planning.Plan.Agents {
		fmt.Fprintf(&b, "## Agent %d: %s\n\n", i+1, a.Name)
		if a.Description != "" {
			b.WriteString(a.Description + "\n\n")
		}
		for _, f := range a.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	if raw := strings.TrimSpace(res.Planning.Raw); raw != "" {
		b.WriteString("## Raw Planning Output\n\n")
		b.WriteString("```xml\n")
		b.WriteString(raw)
		b.WriteString("\n```\n")
	}
	return b.String()
}

func (w *Writer) renderAnalysis(res *phases.RunResult, models config.ModelsConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Phase 3: Deep Analysis (Model: %s)\n\n", models.Analysis.Model)
	for _, u := range res.Analysis {
		fmt.Fprintf(&b, "## %s (batch %d)\n\n", u.Agent, u.Batch+1)
		fmt.Fprintf(&b, "Files: %s\n\n", strings.Join(u.Files, ", "))
		if u.Err != "" {
			fmt.Fprintf(&b, "Error in analysis unit: %s\n\n", u.Err)
			continue
		}
		b.WriteString(u.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

func renderText(title, model string, pt phases.PhaseText) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s (Model: %s)\n\n", title, model)
	if pt.Err != "" {
		fmt.Fprintf(&b, "Error in this phase: %s\n", pt.Err)
		return b.String()
	}
	b.WriteString(pt.Text)
	if !strings.HasSuffix(pt.Text, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func (w *Writer) renderMetrics(res *phases.RunResult, models config.ModelsConfig) string {
	var b strings.Builder
	b.WriteString("# Analysis Run Metrics\n\n")
	fmt.Fprintf(&b, "- Run ID: %s\n", res.RunID)
	fmt.Fprintf(&b, "- Started: %s\n", res.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Duration: %.2f seconds\n", res.Duration.Seconds())
	fmt.Fprintf(&b, "- Model calls: %d\n", res.Usage.Total.Calls)
	fmt.Fprintf(&b, "- Input tokens: %d\n", res.Usage.Total.Input)
	fmt.Fprintf(&b, "- Output tokens: %d\n", res.Usage.Total.Output)

	if len(res.Usage.ByPhase) > 0 {
		b.WriteString("\n## Token Usage by Phase\n\n")
		for _, phase := range []string{
			phases.PhaseDiscovery, phases.PhasePlanning, phases.PhaseAnalysis,
			phases.PhaseSynthesis, phases.PhaseConsolidation, phases.PhaseFinal,
		} {
			counts, ok := res.Usage.ByPhase[phase]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "- %s: %d in / %d out (%d calls)\n", phase, counts.Input, counts.Output, counts.Calls)
		}
	}

	b.WriteString("\n## Models Used\n\n")
	fmt.Fprintf(&b, "- Phase 1: Initial Discovery - %s\n", models.Discovery.Model)
	fmt.Fprintf(&b, "- Phase 2: Methodical Planning - %s\n", models.Planning.Model)
	fmt.Fprintf(&b, "- Phase 3: Deep Analysis - %s\n", models.Analysis.Model)
	fmt.Fprintf(&b, "- Phase 4: Synthesis - %s\n", models.Synthesis.Model)
	fmt.Fprintf(&b, "- Phase 5: Consolidation - %s\n", models.Consolidation.Model)
	fmt.Fprintf(&b, "- Final Analysis - %s\n", models.Final.Model)

	if len(res.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, wmsg := range res.Warnings {
			fmt.Fprintf(&b, "- %s\n", wmsg)
		}
	}

	b.WriteString("\nSee individual phase files for detailed outputs.\n")
	return b.String()
}

func (w *Writer) renderFinal(res *phases.RunResult, tree []string) string {
	var b strings.Builder
	if res.Final.Err != "" {
		fmt.Fprintf(&b, "Error in final analysis phase: %s\n", res.Final.Err)
	} else {
		b.WriteString(res.Final.Text)
	}
	b.WriteString("\n\n")
	b.WriteString("# Project Directory Structure\n")
	b.WriteString("---\n\n")
	b.WriteString(strings.Join(tree, "\n"))
	b.WriteString("\n")
	return b.String()
}

func mustJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
