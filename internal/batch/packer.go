// Package batch partitions repository files into token-bounded request
// batches. Packing is a pure function over fully materialized file contents:
// no I/O happens here, and per-file token costs come memoized from the
// estimator, so a packing pass is O(n) in the number of files.
package batch

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"repolens/internal/token"
)

// defaultSummaryChars bounds the local truncation summary used when a file
// cannot fit in a batch by itself.
const defaultSummaryChars = 2000

// File is one repository file handed to the packer. Immutable after read.
type File struct {
	Path    string
	Content string
}

// Batch is a group of files bundled into a single model request. The
// estimate includes the skeleton prompt and per-file envelope overhead.
type Batch struct {
	Files           []File
	EstimatedTokens int

	// Oversized is set when the sole file in this batch still exceeds the
	// ceiling after its one summarization attempt. The caller decides
	// whether to submit it anyway or skip it.
	Oversized bool

	// Summarized lists paths whose content was replaced by a summary.
	Summarized []string
}

// Summarizer shrinks a file's content when it cannot fit alone in a batch.
// A returned error or empty string is treated as "no shrink".
type Summarizer func(path, content string) (string, error)

// Request configures one packing pass.
type Request struct {
	// ModelID selects the tokenizer and cache namespace.
	ModelID string

	// Ceiling is the model's max input tokens net of the reserved output
	// margin. Must be positive and strictly greater than the skeleton cost.
	Ceiling int

	// OverheadPerFile is the fixed token cost of the wrapper tags that
	// embed one file's content in the prompt.
	OverheadPerFile int

	// Skeleton is the fixed prompt scaffold wrapped around the batch. It is
	// measured once per pass, not once per candidate composition.
	Skeleton string

	// Summarizer handles single-file-too-large cases. Nil selects
	// TruncateSummarizer.
	Summarizer Summarizer
}

// Packer builds batches under a token ceiling.
type Packer struct {
	est    *token.Estimator
	logger *zap.Logger
}

// NewPacker creates a Packer measuring with est.
func NewPacker(est *token.Estimator, logger *zap.Logger) *Packer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packer{est: est, logger: logger}
}

// Pack partitions files, in order, into batches whose estimated cost
// (skeleton + per-file content + per-file overhead) stays at or under the
// ceiling. Files are never reordered, dropped, or duplicated; a file whose
// content was summarized appears with the summary in place of the original.
//
// A file that cannot fit even alone gets exactly one summarization attempt.
// If it still does not fit it is emitted alone with Oversized set; the
// packer never aborts the run over one oversized file.
func (p *Packer) Pack(files []File, req Request) ([]Batch, error) {
	if req.Ceiling <= 0 {
		return nil, fmt.Errorf("ceiling must be positive, got %d", req.Ceiling)
	}
	skeleton := p.est.Estimate(req.ModelID, req.Skeleton)
	if skeleton >= req.Ceiling {
		return nil, fmt.Errorf("ceiling %d does not exceed skeleton cost %d", req.Ceiling, skeleton)
	}
	if len(files) == 0 {
		return nil, nil
	}

	summarize := req.Summarizer
	if summarize == nil {
		summarize = TruncateSummarizer(defaultSummaryChars)
	}

	var batches []Batch
	cur := Batch{EstimatedTokens: skeleton}

	flush := func() {
		if len(cur.Files) > 0 {
			batches = append(batches, cur)
		}
		cur = Batch{EstimatedTokens: skeleton}
	}

	for _, f := range files {
		cost := p.est.EstimateWithOverhead(req.ModelID, f.Content, req.OverheadPerFile)

		if skeleton+cost > req.Ceiling {
			// The batch under construction comes first to preserve
			// input order; the oversized file goes alone after it.
			flush()
			batches = append(batches, p.packOversized(f, cost, skeleton, req, summarize))
			continue
		}

		if cur.EstimatedTokens+cost > req.Ceiling {
			flush()
		}
		cur.Files = append(cur.Files, f)
		cur.EstimatedTokens += cost
	}
	flush()

	return batches, nil
}

// packOversized applies the one-summarization-attempt contract to a file
// that exceeds the ceiling on its own.
func (p *Packer) packOversized(f File, cost, skeleton int, req Request, summarize Summarizer) Batch {
	b := Batch{}

	summary, err := summarize(f.Path, f.Content)
	if err != nil || summary == "" {
		if err != nil {
			p.logger.Warn("summarizer failed, keeping original content",
				zap.String("path", f.Path), zap.Error(err))
		}
	} else {
		// The summary is new content: it gets its own cache entry, never
		// conflated with the original's hash.
		f.Content = summary
		cost = p.est.EstimateWithOverhead(req.ModelID, f.Content, req.OverheadPerFile)
		b.Summarized = append(b.Summarized, f.Path)
	}

	b.Files = []File{f}
	b.EstimatedTokens = skeleton + cost
	if b.EstimatedTokens > req.Ceiling {
		b.Oversized = true
		p.logger.Warn("file exceeds ceiling even after summarization",
			zap.String("path", f.Path),
			zap.Int("estimated_tokens", b.EstimatedTokens),
			zap.Int("ceiling", req.Ceiling))
	}
	return b
}

// TruncateSummarizer returns a cheap local summarizer that truncates content
// to maxChars while marking the cut.
func TruncateSummarizer(maxChars int) Summarizer {
	return func(path, content string) (string, error) {
		content = strings.TrimSpace(content)
		if len(content) <= maxChars {
			return content, nil
		}
		return content[:maxChars] + "...\n[truncated summary]", nil
	}
}
