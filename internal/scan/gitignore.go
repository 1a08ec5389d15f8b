package scan

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ignoreRule is one parsed .gitignore line.
type ignoreRule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

// ignoreMatcher applies a practical subset of gitignore semantics:
// comments and blanks, negation, directory-only suffixes, anchored
// patterns, and shell globs. Character-class edge cases and `**` in
// the middle of a pattern are not supported.
type ignoreMatcher struct {
	rules []ignoreRule
}

// loadIgnore reads .gitignore from root. Returns nil when the file is
// absent or holds no patterns; the scanner treats nil as "no ignores".
func loadIgnore(root string) *ignoreMatcher {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}

	var rules []ignoreRule
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		rule := ignoreRule{pattern: trimmed}
		if strings.HasPrefix(rule.pattern, "!") {
			rule.negate = true
			rule.pattern = rule.pattern[1:]
		}
		if strings.HasSuffix(rule.pattern, "/") {
			rule.dirOnly = true
			rule.pattern = strings.TrimSuffix(rule.pattern, "/")
		}
		rule.pattern = strings.TrimPrefix(rule.pattern, "**/")
		if strings.HasPrefix(rule.pattern, "/") {
			rule.anchored = true
			rule.pattern = rule.pattern[1:]
		} else if strings.Contains(rule.pattern, "/") {
			rule.anchored = true
		}
		if rule.pattern == "" {
			continue
		}
		rules = append(rules, rule)
	}

	if len(rules) == 0 {
		return nil
	}
	return &ignoreMatcher{rules: rules}
}

// Match reports whether rel (slash-separated, relative to the root) is
// ignored. Last matching rule wins, mirroring git.
func (m *ignoreMatcher) Match(rel string, isDir bool) bool {
	if m == nil {
		return false
	}
	ignored := false
	for _, rule := range m.rules {
		if rule.dirOnly && !isDir {
			continue
		}
		if rule.matches(rel) {
			ignored = !rule.negate
		}
	}
	return ignored
}

func (r ignoreRule) matches(rel string) bool {
	if r.anchored {
		if ok, _ := path.Match(r.pattern, rel); ok {
			return true
		}
		// A trailing glob segment covers everything beneath.
		if ok, _ := path.Match(r.pattern+"/*", rel); ok {
			return true
		}
		return strings.HasPrefix(rel, r.pattern+"/")
	}

	// Unanchored: the pattern may match any path segment.
	for _, seg := range strings.Split(rel, "/") {
		if ok, _ := path.Match(r.pattern, seg); ok {
			return true
		}
	}
	return false
}
