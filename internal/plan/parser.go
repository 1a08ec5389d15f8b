// Package plan recovers a structured analysis plan from free-form model
// output. Model responses that should contain an <analysis_plan> document
// frequently arrive wrapped in prose, fenced in markdown, or outright
// malformed; the parser is total: it always returns a usable Result, falling
// back through progressively looser strategies and finally to a fixed
// default partition of the known files.
package plan

import (
	"encoding/xml"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const planTag = "analysis_plan"

// defaultSplitThreshold is the file count above which the default fallback
// partitions by top-level directory instead of one catch-all agent.
const defaultSplitThreshold = 40

// Agent is one validated analysis assignment: a named specialist and the
// files it should examine.
type Agent struct {
	Name        string
	Description string
	Files       []string
}

// Result is the outcome of parsing one planning response.
type Result struct {
	Agents []Agent

	// UsedFallback is true when the agents came from heuristic extraction
	// or the fixed default partition, i.e. the model's intended structure
	// was not recovered. Downstream analysis should be treated as
	// lower-confidence and the condition surfaced to the operator.
	UsedFallback   bool
	FallbackReason string

	// DroppedPaths lists plan entries that referred to files not present
	// in the repository and were removed during validation.
	DroppedPaths []string
}

// Parser turns raw planning output into validated Results.
type Parser struct {
	logger *zap.Logger
}

// NewParser creates a Parser. Pass nil for a nop logger.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Parse converts one model response into a validated Result. knownFiles is
// the authoritative set of repository files; plan entries outside it are
// dropped. Parse never fails on malformed input.
func (p *Parser) Parse(raw string, knownFiles []string) Result {
	known := make(map[string]struct{}, len(knownFiles))
	for _, f := range knownFiles {
		known[f] = struct{}{}
	}

	// Stage 1: the response is already a well-formed plan document.
	if agents, err := parseStrict(strings.TrimSpace(raw)); err == nil {
		if res, ok := p.validate(agents, known, false, ""); ok {
			p.logger.Debug("plan parsed strictly", zap.Int("agents", len(res.Agents)))
			return res
		}
	}

	// Stage 2: bounded textual repairs, then the same strict parser. A
	// success here still counts as recovering the model's intent.
	repaired := applyRepairs(raw)
	if doc := extractPlanDocument(repaired); doc != "" {
		if agents, err := parseStrict(doc); err == nil {
			if res, ok := p.validate(agents, known, false, ""); ok {
				p.logger.Debug("plan parsed after repair", zap.Int("agents", len(res.Agents)))
				return res
			}
		}
	}

	// Stage 3: heuristic extraction of label/value patterns.
	if agents := extractHeuristic(repaired, known); len(agents) > 0 {
		if res, ok := p.validate(agents, known, true, "structured parse failed; agents recovered heuristically"); ok {
			p.logger.Warn("plan recovered via heuristic extraction",
				zap.Int("agents", len(res.Agents)))
			return res
		}
	}

	// Stage 4: fixed default partition so the pipeline never stalls.
	reason := "no agents could be parsed from planning output"
	if strings.TrimSpace(raw) == "" {
		reason = "planning output was empty"
	}
	p.logger.Warn("plan parsing fell back to default partition", zap.String("reason", reason))
	return Result{
		Agents:         defaultPartition(knownFiles),
		UsedFallback:   true,
		FallbackReason: reason,
	}
}

// xmlPlan mirrors the agreed plan schema. Agent elements may be named
// <agent>, <agent_1>, <agent_2>, ...; file lists appear either as
// <file_assignments><file_path> or as bare <file> children.
type xmlPlan struct {
	XMLName xml.Name   `xml:"analysis_plan"`
	Agents  []xmlAgent `xml:",any"`
}

type xmlAgent struct {
	XMLName     xml.Name
	NameAttr    string   `xml:"name,attr"`
	NameElem    string   `xml:"name"`
	Description string   `xml:"description"`
	Assigned    []string `xml:"file_assignments>file_path"`
	Files       []string `xml:"file"`
}

func parseStrict(doc string) ([]Agent, error) {
	if doc == "" {
		return nil, fmt.Errorf("empty document")
	}
	var parsed xmlPlan
	if err := xml.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, err
	}

	var agents []Agent
	for i, xa := range parsed.Agents {
		if !strings.HasPrefix(xa.XMLName.Local, "agent") {
			continue
		}
		name := strings.TrimSpace(xa.NameAttr)
		if name == "" {
			name = strings.TrimSpace(xa.NameElem)
		}
		if name == "" {
			name = fmt.Sprintf("Agent %d", i+1)
		}

		files := make([]string, 0, len(xa.Assigned)+len(xa.Files))
		for _, f := range append(xa.Assigned, xa.Files...) {
			if f = strings.TrimSpace(f); f != "" {
				files = append(files, f)
			}
		}

		agents = append(agents, Agent{
			Name:        name,
			Description: strings.TrimSpace(xa.Description),
			Files:       files,
		})
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("document contains no agent definitions")
	}
	return agents, nil
}

var planRegionRe = regexp.MustCompile(`(?s)<analysis_plan\b[^>]*>.*?</analysis_plan>`)

// extractPlanDocument isolates the <analysis_plan> document from any
// surrounding prose (reasoning preambles, commentary after the plan).
func extractPlanDocument(s string) string {
	if m := planRegionRe.FindString(s); m != "" {
		return m
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "<"+planTag) {
		return trimmed
	}
	return ""
}

var (
	agentOpenRe  = regexp.MustCompile(`<agent_?\d*\b[^>]*>`)
	agentNameRe  = regexp.MustCompile(`name="([^"]*)"`)
	nameElemRe   = regexp.MustCompile(`(?s)<name>(.*?)</name>`)
	descElemRe   = regexp.MustCompile(`(?s)<description>(.*?)</description>`)
	filePathRe   = regexp.MustCompile(`(?s)<file(?:_path)?>(.*?)</file(?:_path)?>`)
	agentLabelRe = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:\*\*)?\s*agent(?:\s+\d+)?\s*[:\-]\s*(.+?)(?:\*\*)?\s*$`)
	bulletPathRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(\S+)\s*$`)
)

// extractHeuristic assembles best-effort agents without requiring
// well-formed markup: first from tag-shaped fragments, then from a
// line-by-line scan for label/value patterns.
func extractHeuristic(s string, known map[string]struct{}) []Agent {
	if agents := extractTagFragments(s); len(agents) > 0 {
		return agents
	}
	return extractLabeledLines(s, known)
}

// extractTagFragments slices the text at agent open tags and mines each
// region for a name and file paths, tolerating unbalanced markup.
func extractTagFragments(s string) []Agent {
	locs := agentOpenRe.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		// No agent tags at all; loose file tags become one agent.
		files := dedupe(allSubmatches(filePathRe, s))
		if len(files) == 0 {
			return nil
		}
		return []Agent{{
			Name:        "General Analysis",
			Description: "Assembled from file assignments found outside any agent definition",
			Files:       files,
		}}
	}

	var agents []Agent
	for i, loc := range locs {
		end := len(s)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		region := s[loc[0]:end]
		openTag := s[loc[0]:loc[1]]

		name := ""
		if m := agentNameRe.FindStringSubmatch(openTag); m != nil {
			name = strings.TrimSpace(m[1])
		}
		if name == "" {
			if m := nameElemRe.FindStringSubmatch(region); m != nil {
				name = strings.TrimSpace(m[1])
			}
		}
		if name == "" {
			name = fmt.Sprintf("Agent %d", i+1)
		}

		desc := ""
		if m := descElemRe.FindStringSubmatch(region); m != nil {
			desc = strings.TrimSpace(m[1])
		}

		files := dedupe(allSubmatches(filePathRe, region))
		agents = append(agents, Agent{Name: name, Description: desc, Files: files})
	}
	return agents
}

// extractLabeledLines scans line-by-line: an "Agent: X" style label opens a
// section, and subsequent lines naming known files populate it.
func extractLabeledLines(s string, known map[string]struct{}) []Agent {
	var agents []Agent
	current := -1

	appendFile := func(f string) {
		if current < 0 {
			agents = append(agents, Agent{
				Name:        "General Analysis",
				Description: "Assembled from unlabeled file listings",
			})
			current = len(agents) - 1
		}
		for _, existing := range agents[current].Files {
			if existing == f {
				return
			}
		}
		agents[current].Files = append(agents[current].Files, f)
	}

	for _, line := range strings.Split(s, "\n") {
		if m := agentLabelRe.FindStringSubmatch(line); m != nil {
			agents = append(agents, Agent{Name: strings.TrimSpace(m[1])})
			current = len(agents) - 1
			continue
		}

		candidate := strings.TrimSpace(line)
		if m := bulletPathRe.FindStringSubmatch(line); m != nil {
			candidate = m[1]
		}
		if _, ok := known[candidate]; ok {
			appendFile(candidate)
			continue
		}
		// A known path embedded mid-line still counts.
		for f := range known {
			if strings.Contains(line, f) {
				appendFile(f)
			}
		}
	}
	return agents
}

// defaultPartition builds the fixed fallback plan covering every known
// file: one catch-all agent for small repositories, a split by top-level
// directory for larger ones.
func defaultPartition(knownFiles []string) []Agent {
	if len(knownFiles) == 0 {
		return nil
	}
	if len(knownFiles) <= defaultSplitThreshold {
		return []Agent{{
			Name:        "General Analysis",
			Description: "Default agent covering all repository files",
			Files:       append([]string(nil), knownFiles...),
		}}
	}

	byDir := make(map[string][]string)
	for _, f := range knownFiles {
		top := topLevelDir(f)
		byDir[top] = append(byDir[top], f)
	}

	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	agents := make([]Agent, 0, len(dirs))
	for _, d := range dirs {
		name := d + " Analysis"
		if d == "." {
			name = "Project Root Analysis"
		}
		agents = append(agents, Agent{
			Name:        name,
			Description: fmt.Sprintf("Default agent covering files under %s", d),
			Files:       byDir[d],
		})
	}
	return agents
}

func topLevelDir(p string) string {
	p = strings.TrimPrefix(path.Clean(p), "./")
	if i := strings.IndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return "."
}

// validate drops plan entries that do not exist in the repository, drops
// agents left with no valid files, and reports whether anything usable
// remains.
func (p *Parser) validate(agents []Agent, known map[string]struct{}, fallback bool, reason string) (Result, bool) {
	res := Result{UsedFallback: fallback, FallbackReason: reason}

	for _, a := range agents {
		valid := make([]string, 0, len(a.Files))
		for _, f := range a.Files {
			if _, ok := known[f]; ok {
				valid = append(valid, f)
				continue
			}
			res.DroppedPaths = append(res.DroppedPaths, f)
			p.logger.Debug("dropping unknown file from plan",
				zap.String("agent", a.Name), zap.String("path", f))
		}
		if len(valid) == 0 {
			continue
		}
		a.Files = valid
		res.Agents = append(res.Agents, a)
	}

	if len(res.Agents) == 0 {
		return Result{}, false
	}
	return res, true
}

func allSubmatches(re *regexp.Regexp, s string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		if v := strings.TrimSpace(m[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
