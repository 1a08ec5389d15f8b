package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// StubCaller is a deterministic offline Caller. It lets the full
// pipeline run without network access: planning prompts get a minimal
// valid plan covering the files mentioned in the prompt, everything
// else gets a canned analysis paragraph.
type StubCaller struct {
	// Reply overrides the default response when set.
	Reply func(req Request) string
}

// NewStubCaller creates a StubCaller with the default canned replies.
func NewStubCaller() *StubCaller { return &StubCaller{} }

func (s *StubCaller) Name() string { return "offline-stub" }

var stubFileAttrRe = regexp.MustCompile(`<file path="([^"]+)">`)

func (s *StubCaller) Call(_ context.Context, req Request) (Response, error) {
	text := ""
	if s.Reply != nil {
		text = s.Reply(req)
	} else {
		text = s.defaultReply(req)
	}
	if text == "" {
		return Response{}, ErrEmptyCompletion
	}
	return Response{
		Text:         text,
		InputTokens:  (len(req.System) + len(req.Prompt)) / 4,
		OutputTokens: len(text) / 4,
		Model:        "offline-stub",
	}, nil
}

func (s *StubCaller) defaultReply(req Request) string {
	if strings.Contains(req.Prompt, "<analysis_plan>") || strings.Contains(req.System, "<analysis_plan>") {
		return s.plan(req)
	}
	return "Offline analysis: the provided files were reviewed structurally. " +
		"No model was consulted; findings are placeholders for pipeline validation."
}

// plan builds a single-agent plan over every file path the prompt
// mentions, falling back to one canned assignment when none appear.
func (s *StubCaller) plan(req Request) string {
	paths := promptFilePaths(req.Prompt)

	var b strings.Builder
	b.WriteString("<analysis_plan>\n")
	b.WriteString("  <agent_1 name=\"Code Analysis Agent\">\n")
	b.WriteString("    <description>Analyzes code quality and patterns</description>\n")
	b.WriteString("    <file_assignments>\n")
	if len(paths) == 0 {
		paths = []string{"main.py"}
	}
	for _, p := range paths {
		fmt.Fprintf(&b, "      <file_path>%s</file_path>\n", p)
	}
	b.WriteString("    </file_assignments>\n")
	b.WriteString("  </agent_1>\n")
	b.WriteString("</analysis_plan>\n")
	return b.String()
}

// promptFilePaths mines a prompt for file paths: the bullet list after
// a "FILES TO ASSIGN" marker, or <file path="..."> attributes.
func promptFilePaths(prompt string) []string {
	var paths []string
	if _, rest, ok := strings.Cut(prompt, "FILES TO ASSIGN"); ok {
		for _, line := range strings.Split(rest, "\n")[1:] {
			trimmed := strings.TrimSpace(line)
			if !strings.HasPrefix(trimmed, "- ") {
				if trimmed == "" && len(paths) == 0 {
					continue
				}
				break
			}
			paths = append(paths, strings.TrimPrefix(trimmed, "- "))
		}
	}
	if len(paths) > 0 {
		return paths
	}
	for _, m := range stubFileAttrRe.FindAllStringSubmatch(prompt, -1) {
		paths = append(paths, m[1])
	}
	return paths
}
