package plan

import (
	"encoding/json"
	"regexp"
	"strings"
)

// A repairRule fixes one specific, named malformation seen in model output.
// Rules are applied in a fixed order; each is independently testable. This
// is deliberately a closed table, not open-ended regex surgery.
type repairRule struct {
	name  string
	apply func(string) string
}

var repairRules = []repairRule{
	{"json plan unwrap", unwrapJSONPlan},
	{"markdown fence strip", stripMarkdownFences},
	{"control character strip", stripControlChars},
	{"bare agent name attribute", fixBareAgentName},
	{"unquoted attribute value", quoteBareAttributes},
	{"unescaped ampersand", escapeBareAmpersands},
	{"unterminated plan wrapper", closePlanWrapper},
	{"missing plan wrapper", wrapLoosePlan},
}

// applyRepairs runs every rule in order and returns the repaired text.
func applyRepairs(raw string) string {
	out := raw
	for _, r := range repairRules {
		out = r.apply(out)
	}
	return out
}

// unwrapJSONPlan extracts the "plan" field when the model returned a JSON
// object instead of markup.
func unwrapJSONPlan(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return s
	}
	if p, ok := obj["plan"].(string); ok && p != "" {
		return p
	}
	return s
}

var (
	fourBacktickRe  = regexp.MustCompile("(?s)````(?:xml)?\\s*\n?(.*?)````")
	threeBacktickRe = regexp.MustCompile("(?s)```(?:xml)?\\s*\n?(.*?)```")
	fenceMarkerRe   = regexp.MustCompile("```+(?:xml)?\\s*\n?")
)

// stripMarkdownFences unwraps content from ``` / ````xml code blocks, or
// removes stray fence markers when blocks are unbalanced.
func stripMarkdownFences(s string) string {
	if m := fourBacktickRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := threeBacktickRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.Contains(s, "```") {
		return strings.TrimSpace(fenceMarkerRe.ReplaceAllString(s, ""))
	}
	return s
}

// stripControlChars removes characters that are invalid in XML documents.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, s)
}

var bareAgentNameRe = regexp.MustCompile(`<(agent_?\d*)="([^"]*)">`)

// fixBareAgentName rewrites the non-standard <agent_1="Name"> form to
// <agent_1 name="Name">.
func fixBareAgentName(s string) string {
	return bareAgentNameRe.ReplaceAllString(s, `<$1 name="$2">`)
}

var bareAttrRe = regexp.MustCompile(`(\w+)=([^"'\s>][^\s>]*)([\s>])`)

// quoteBareAttributes adds missing quotes around attribute values, e.g.
// name=Backend> becomes name="Backend">.
func quoteBareAttributes(s string) string {
	return bareAttrRe.ReplaceAllString(s, `$1="$2"$3`)
}

var entityRe = regexp.MustCompile(`^(?:amp|lt|gt|quot|apos|#[0-9]+|#x[0-9a-fA-F]+);`)

// escapeBareAmpersands escapes & characters that do not begin a recognized
// entity reference.
func escapeBareAmpersands(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '&' {
			b.WriteByte(s[i])
			continue
		}
		if entityRe.MatchString(s[i+1:]) {
			b.WriteByte('&')
			continue
		}
		b.WriteString("&amp;")
	}
	return b.String()
}

// closePlanWrapper appends the closing tag when the outermost
// <analysis_plan> wrapper was left unterminated.
func closePlanWrapper(s string) string {
	if strings.Contains(s, "<"+planTag+">") && !strings.Contains(s, "</"+planTag+">") {
		return s + "\n</" + planTag + ">"
	}
	return s
}

// wrapLoosePlan wraps bare agent elements in an <analysis_plan> root when
// the model omitted the wrapper entirely.
func wrapLoosePlan(s string) string {
	if strings.Contains(s, "<"+planTag) {
		return s
	}
	if !strings.Contains(s, "<agent") {
		return s
	}
	return "<" + planTag + ">\n" + s + "\n</" + planTag + ">"
}
