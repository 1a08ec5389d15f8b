// Package phases sequences the analysis pipeline: Discovery, Planning,
// Deep Analysis, Synthesis, Consolidation, and the Final Report. The
// runner is pure sequencing: model calls go through an llm.Caller,
// batching through the file batcher, plan recovery through the plan
// parser. Failed units are recorded and their siblings keep running.
package phases

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"repolens/internal/batch"
	"repolens/internal/config"
	"repolens/internal/llm"
	"repolens/internal/plan"
	"repolens/internal/scan"
	"repolens/internal/token"
	"repolens/internal/usage"
)

// Phase names, in pipeline order.
const (
	PhaseDiscovery     = "discovery"
	PhasePlanning      = "planning"
	PhaseAnalysis      = "analysis"
	PhaseSynthesis     = "synthesis"
	PhaseConsolidation = "consolidation"
	PhaseFinal         = "final"
)

// Input is everything the pipeline consumes: the rendered tree, the
// loaded file contents, and any detected dependency manifests.
type Input struct {
	Tree      []string
	Files     []batch.File
	Manifests []scan.Manifest
}

// AgentFinding is one discovery agent's report. Err is set when the
// call failed; the text is then empty.
type AgentFinding struct {
	Agent string
	Text  string
	Err   string
}

// DiscoveryResult holds the fixed discovery agents' findings in their
// declaration order.
type DiscoveryResult struct {
	Findings []AgentFinding
}

// PlanningResult carries the raw planning response and the recovered
// plan.
type PlanningResult struct {
	Raw  string
	Plan plan.Result
}

// UnitResult is one deep-analysis call: one agent, one batch.
type UnitResult struct {
	Agent string
	Batch int
	Files []string

	Oversized  bool
	Summarized []string

	Text string
	Err  string

	InputTokens  int
	OutputTokens int
}

// PhaseText is the output of a single-call phase.
type PhaseText struct {
	Text string
	Err  string
}

// RunResult is the complete pipeline output.
type RunResult struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	Discovery     DiscoveryResult
	Planning      PlanningResult
	Analysis      []UnitResult
	Synthesis     PhaseText
	Consolidation PhaseText
	Final         PhaseText

	// Warnings collects soft failures: fallback plans, failed units,
	// oversized files. The run itself still completes.
	Warnings []string

	// Usage totals token consumption across all calls in the run.
	Usage usage.Stats
}

// Runner executes the pipeline.
type Runner struct {
	caller llm.Caller
	models config.ModelsConfig
	est    *token.Estimator
	packer *batch.Packer
	parser *plan.Parser
	logger *zap.Logger
	usage  *usage.Tracker

	maxConcurrent   int
	callTimeout     time.Duration
	overheadPerFile int
	summaryMaxChars int
}

// NewRunner wires a Runner from configuration. The caller decides the
// provider (real or stub); the runner never constructs one.
func NewRunner(caller llm.Caller, cfg *config.Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	est := token.NewEstimator(logger)

	maxConcurrent := cfg.Runner.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	summaryChars := cfg.Batching.SummaryMaxChars
	if summaryChars <= 0 {
		summaryChars = 2000
	}

	return &Runner{
		caller:          llm.WithRetry(caller, cfg.Runner.RetryAttempts, logger),
		models:          cfg.Models,
		est:             est,
		packer:          batch.NewPacker(est, logger),
		parser:          plan.NewParser(logger),
		logger:          logger,
		usage:           usage.NewTracker(),
		maxConcurrent:   maxConcurrent,
		callTimeout:     cfg.Runner.CallTimeoutDuration(),
		overheadPerFile: cfg.Batching.OverheadPerFile,
		summaryMaxChars: summaryChars,
	}
}

// Run executes all six phases in order. It fails only on context
// cancellation or a caller contract violation; model-level failures
// are recorded in the result.
func (r *Runner) Run(ctx context.Context, in Input) (*RunResult, error) {
	res := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	r.logger.Info("starting analysis run",
		zap.String("run_id", res.RunID),
		zap.Int("files", len(in.Files)))

	if err := r.runDiscovery(ctx, in, res); err != nil {
		return nil, err
	}
	if err := r.runPlanning(ctx, in, res); err != nil {
		return nil, err
	}
	if err := r.runAnalysis(ctx, in, res); err != nil {
		return nil, err
	}
	r.runTextPhase(ctx, PhaseSynthesis, synthesisPrompt(res.Analysis), &res.Synthesis, res)
	r.runTextPhase(ctx, PhaseConsolidation, consolidationPrompt(res), &res.Consolidation, res)
	r.runTextPhase(ctx, PhaseFinal, finalPrompt(res.Consolidation.Text, in.Tree), &res.Final, res)

	res.Duration = time.Since(res.StartedAt)
	res.Usage = r.usage.Snapshot()
	r.logger.Info("analysis run finished",
		zap.String("run_id", res.RunID),
		zap.Duration("duration", res.Duration),
		zap.Int("warnings", len(res.Warnings)))
	return res, ctx.Err()
}

// call issues one model call with the phase's model and the per-call
// timeout applied.
func (r *Runner) call(ctx context.Context, phase, system, prompt string) (llm.Response, error) {
	spec := r.models.ForPhase(phase)
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	resp, err := r.caller.Call(ctx, llm.Request{
		Model:           spec.Model,
		System:          system,
		Prompt:          prompt,
		MaxOutputTokens: spec.MaxOutputTokens,
	})
	if err == nil {
		r.usage.Record(phase, spec.Model, resp.InputTokens, resp.OutputTokens)
	}
	return resp, err
}

func (r *Runner) runDiscovery(ctx context.Context, in Input, res *RunResult) error {
	findings := make([]AgentFinding, len(discoveryAgents))

	sem := make(chan struct{}, r.maxConcurrent)
	var wg sync.WaitGroup
	for i, agent := range discoveryAgents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			finding := AgentFinding{Agent: agent.Name}
			resp, err := r.call(ctx, PhaseDiscovery, "", discoveryPrompt(agent, in.Tree, in.Manifests))
			if err != nil {
				finding.Err = err.Error()
			} else {
				finding.Text = resp.Text
			}
			findings[i] = finding
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, f := range findings {
		if f.Err != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("discovery agent %q failed: %s", f.Agent, f.Err))
		}
	}
	res.Discovery = DiscoveryResult{Findings: findings}
	r.logger.Info("discovery complete", zap.Int("agents", len(findings)))
	return nil
}

func (r *Runner) runPlanning(ctx context.Context, in Input, res *RunResult) error {
	known := make([]string, len(in.Files))
	for i, f := range in.Files {
		known[i] = f.Path
	}

	raw := ""
	resp, err := r.call(ctx, PhasePlanning, "", planningPrompt(res.Discovery.Findings, in.Tree, known))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("planning call failed: %v", err))
	} else {
		raw = resp.Text
	}

	parsed := r.parser.Parse(raw, known)
	if parsed.UsedFallback {
		res.Warnings = append(res.Warnings, fmt.Sprintf("plan fallback: %s", parsed.FallbackReason))
	}
	for _, p := range parsed.DroppedPaths {
		res.Warnings = append(res.Warnings, fmt.Sprintf("plan referenced unknown file %q", p))
	}

	res.Planning = PlanningResult{Raw: raw, Plan: parsed}
	r.logger.Info("planning complete",
		zap.Int("agents", len(parsed.Agents)),
		zap.Bool("fallback", parsed.UsedFallback))
	return nil
}

// analysisUnit is one unit of deep-analysis work before execution.
type analysisUnit struct {
	batchIndex int
	agent      plan.Agent
	batch      batch.Batch
	skeleton   string
}

func (r *Runner) runAnalysis(ctx context.Context, in Input, res *RunResult) error {
	byPath := make(map[string]batch.File, len(in.Files))
	for _, f := range in.Files {
		byPath[f.Path] = f
	}

	spec := r.models.ForPhase(PhaseAnalysis)
	ceiling := spec.Ceiling()

	var units []analysisUnit
	for _, agent := range res.Planning.Plan.Agents {
		files := make([]batch.File, 0, len(agent.Files))
		for _, p := range agent.Files {
			if f, ok := byPath[p]; ok {
				files = append(files, f)
			}
		}

		skeleton := analysisSkeleton(agent.Name, agent.Description, in.Tree, agent.Files)
		batches, err := r.packer.Pack(files, batch.Request{
			ModelID:         spec.Model,
			Ceiling:         ceiling,
			OverheadPerFile: r.overheadPerFile,
			Skeleton:        skeleton,
			Summarizer:      batch.TruncateSummarizer(r.summaryMaxChars),
		})
		if err != nil {
			return fmt.Errorf("failed to pack files for agent %q: %w", agent.Name, err)
		}

		for bi, b := range batches {
			units = append(units, analysisUnit{
				batchIndex: bi,
				agent:      agent,
				batch:      b,
				skeleton:   skeleton,
			})
		}
	}

	results := make([]UnitResult, len(units))
	sem := make(chan struct{}, r.maxConcurrent)
	var wg sync.WaitGroup
	for i, unit := range units {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = r.runUnit(ctx, unit)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Each unit wrote its own slot, so results sit in (agent, batch)
	// order no matter which call finished first.
	for _, u := range results {
		if u.Err != "" {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("analysis unit failed (agent %q batch %d): %s", u.Agent, u.Batch+1, u.Err))
		}
		if u.Oversized {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("batch %d of agent %q exceeds the token ceiling even after summarization", u.Batch+1, u.Agent))
		}
	}

	res.Analysis = results
	r.logger.Info("deep analysis complete", zap.Int("units", len(results)))
	return nil
}

func (r *Runner) runUnit(ctx context.Context, unit analysisUnit) UnitResult {
	out := UnitResult{
		Agent:      unit.agent.Name,
		Batch:      unit.batchIndex,
		Oversized:  unit.batch.Oversized,
		Summarized: unit.batch.Summarized,
	}
	for _, f := range unit.batch.Files {
		out.Files = append(out.Files, f.Path)
	}

	resp, err := r.call(ctx, PhaseAnalysis, "", analysisPrompt(unit.skeleton, unit.batch.Files))
	if err != nil {
		out.Err = err.Error()
		return out
	}
	out.Text = resp.Text
	out.InputTokens = resp.InputTokens
	out.OutputTokens = resp.OutputTokens
	return out
}

// runTextPhase executes one single-call phase, recording failure as a
// warning instead of aborting the run.
func (r *Runner) runTextPhase(ctx context.Context, phase, prompt string, dst *PhaseText, res *RunResult) {
	if ctx.Err() != nil {
		dst.Err = ctx.Err().Error()
		return
	}
	resp, err := r.call(ctx, phase, "", prompt)
	if err != nil {
		dst.Err = err.Error()
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s phase failed: %v", phase, err))
		return
	}
	dst.Text = resp.Text
	r.logger.Info("phase complete", zap.String("phase", phase), zap.Int("output_tokens", resp.OutputTokens))
}
