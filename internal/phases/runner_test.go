package phases

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"repolens/internal/batch"
	"repolens/internal/config"
	"repolens/internal/llm"
	"repolens/internal/scan"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Started by go.opencensus.io's package init (transitive dependency
		// of google.golang.org/genai); not created by code under test.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Runner.RetryAttempts = 1
	cfg.Runner.CallTimeout = "5s"
	return cfg
}

func testInput() Input {
	return Input{
		Tree: []string{
			"<project_structure>",
			"├── api",
			"│   └── server.go",
			"└── main.go",
			"</project_structure>",
		},
		Files: []batch.File{
			{Path: "api/server.go", Content: "package api\n\nfunc Serve() {}\n"},
			{Path: "main.go", Content: "package main\n\nfunc main() {}\n"},
		},
		Manifests: []scan.Manifest{{Path: "go.mod", Tech: "Go"}},
	}
}

func TestRun_OfflinePipeline(t *testing.T) {
	r := NewRunner(llm.NewStubCaller(), testConfig(), zap.NewNop())

	res, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Warnings)

	require.Len(t, res.Discovery.Findings, 3)
	assert.Equal(t, "Structure Agent", res.Discovery.Findings[0].Agent)
	assert.Equal(t, "Dependency Agent", res.Discovery.Findings[1].Agent)
	assert.Equal(t, "Tech Stack Agent", res.Discovery.Findings[2].Agent)
	for _, f := range res.Discovery.Findings {
		assert.NotEmpty(t, f.Text)
		assert.Empty(t, f.Err)
	}

	require.Len(t, res.Planning.Plan.Agents, 1)
	assert.False(t, res.Planning.Plan.UsedFallback)
	assert.Equal(t, []string{"api/server.go", "main.go"}, res.Planning.Plan.Agents[0].Files)

	require.Len(t, res.Analysis, 1)
	unit := res.Analysis[0]
	assert.Equal(t, "Code Analysis Agent", unit.Agent)
	assert.Equal(t, []string{"api/server.go", "main.go"}, unit.Files)
	assert.Empty(t, unit.Err)
	assert.False(t, unit.Oversized)

	assert.NotEmpty(t, res.Synthesis.Text)
	assert.NotEmpty(t, res.Consolidation.Text)
	assert.NotEmpty(t, res.Final.Text)
	assert.Positive(t, res.Duration)

	// 3 discovery + planning + 1 unit + 3 text phases.
	assert.Equal(t, 8, res.Usage.Total.Calls)
	assert.Positive(t, res.Usage.Total.Input)
	assert.Equal(t, 3, res.Usage.ByPhase[PhaseDiscovery].Calls)
}

// phaseAwareStub scripts replies per phase and fails where told to.
type phaseAwareStub struct {
	planXML     string
	failAnalyze bool
}

func (p *phaseAwareStub) Name() string { return "phase-aware-stub" }

func (p *phaseAwareStub) Call(_ context.Context, req llm.Request) (llm.Response, error) {
	switch {
	case strings.Contains(req.Prompt, "<analysis_plan>") && strings.Contains(req.Prompt, "FILES TO ASSIGN"):
		return llm.Response{Text: p.planXML}, nil
	case strings.Contains(req.Prompt, "FILE CONTENTS:"):
		if p.failAnalyze {
			return llm.Response{}, fmt.Errorf("simulated provider outage")
		}
		return llm.Response{Text: "unit findings"}, nil
	default:
		return llm.Response{Text: "phase output"}, nil
	}
}

func TestRun_FailedUnitsDoNotAbort(t *testing.T) {
	stub := &phaseAwareStub{
		planXML: `<analysis_plan>
  <agent_1 name="API"><file_assignments><file_path>api/server.go</file_path></file_assignments></agent_1>
  <agent_2 name="Entry"><file_assignments><file_path>main.go</file_path></file_assignments></agent_2>
</analysis_plan>`,
		failAnalyze: true,
	}
	r := NewRunner(stub, testConfig(), zap.NewNop())

	res, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	require.Len(t, res.Analysis, 2)
	for _, u := range res.Analysis {
		assert.Contains(t, u.Err, "simulated provider outage")
	}

	// Later phases still ran.
	assert.NotEmpty(t, res.Synthesis.Text)
	assert.NotEmpty(t, res.Final.Text)

	joined := strings.Join(res.Warnings, "\n")
	assert.Contains(t, joined, `analysis unit failed (agent "API" batch 1)`)
	assert.Contains(t, joined, `analysis unit failed (agent "Entry" batch 1)`)
}

func TestRun_UnitOrderIsDeterministic(t *testing.T) {
	stub := &phaseAwareStub{
		planXML: `<analysis_plan>
  <agent_1 name="First"><file_assignments><file_path>api/server.go</file_path></file_assignments></agent_1>
  <agent_2 name="Second"><file_assignments><file_path>main.go</file_path></file_assignments></agent_2>
</analysis_plan>`,
	}
	r := NewRunner(stub, testConfig(), zap.NewNop())

	for i := 0; i < 5; i++ {
		res, err := r.Run(context.Background(), testInput())
		require.NoError(t, err)
		require.Len(t, res.Analysis, 2)
		assert.Equal(t, "First", res.Analysis[0].Agent)
		assert.Equal(t, "Second", res.Analysis[1].Agent)
	}
}

// concurrencyProbe counts in-flight calls to verify the bound.
type concurrencyProbe struct {
	mu      sync.Mutex
	current int
	peak    int
	inner   llm.Caller
}

func (c *concurrencyProbe) Name() string { return "probe" }

func (c *concurrencyProbe) Call(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	c.current++
	if c.current > c.peak {
		c.peak = c.current
	}
	c.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	defer func() {
		c.mu.Lock()
		c.current--
		c.mu.Unlock()
	}()
	return c.inner.Call(ctx, req)
}

func TestRun_ConcurrencyIsBounded(t *testing.T) {
	plan := &strings.Builder{}
	plan.WriteString("<analysis_plan>\n")
	var input Input
	input.Tree = []string{"<project_structure>", "</project_structure>"}
	for i := 0; i < 8; i++ {
		path := fmt.Sprintf("f%d.go", i)
		input.Files = append(input.Files, batch.File{Path: path, Content: "package f\n"})
		fmt.Fprintf(plan, `  <agent_%d name="Agent %d"><file_assignments><file_path>%s</file_path></file_assignments></agent_%d>`+"\n", i+1, i+1, path, i+1)
	}
	plan.WriteString("</analysis_plan>")

	probe := &concurrencyProbe{inner: &phaseAwareStub{planXML: plan.String()}}
	cfg := testConfig()
	cfg.Runner.MaxConcurrent = 2

	r := NewRunner(probe, cfg, zap.NewNop())
	res, err := r.Run(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, res.Analysis, 8)
	assert.LessOrEqual(t, probe.peak, 2)
	assert.GreaterOrEqual(t, probe.peak, 1)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(llm.NewStubCaller(), testConfig(), zap.NewNop())
	_, err := r.Run(ctx, testInput())
	assert.Error(t, err)
}

func TestRun_PlanFallbackRecorded(t *testing.T) {
	stub := &llm.StubCaller{Reply: func(req llm.Request) string {
		if strings.Contains(req.Prompt, "FILES TO ASSIGN") {
			return "I could not decide on a plan, sorry."
		}
		return "phase output"
	}}
	r := NewRunner(stub, testConfig(), zap.NewNop())

	res, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.True(t, res.Planning.Plan.UsedFallback)
	require.NotEmpty(t, res.Planning.Plan.Agents)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "plan fallback")

	// The fallback plan still covers every file.
	var covered []string
	for _, u := range res.Analysis {
		covered = append(covered, u.Files...)
	}
	assert.ElementsMatch(t, []string{"api/server.go", "main.go"}, covered)
}
