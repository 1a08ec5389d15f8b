package scan

import (
	"path"
	"strings"
)

// Default exclusion sets. They keep the listing focused on source that
// is worth sending to a model: no dependency trees, caches, lockfiles,
// or binary assets.

var defaultExcludedDirs = map[string]struct{}{
	"node_modules": {}, ".next": {}, ".git": {}, "venv": {}, "__pycache__": {},
	"_pycache_": {}, "dist": {}, "build": {}, ".vscode": {}, ".idea": {},
	"coverage": {}, ".pytest_cache": {}, ".mypy_cache": {}, ".ruff_cache": {},
	".tox": {}, "env": {}, ".env": {}, ".venv": {}, "site-packages": {},
	".egg-info": {}, ".gradle": {}, ".parcel-cache": {}, "buck-out": {},
	"out": {}, "tmp": {}, "temp": {}, "log": {}, "logs": {}, "artifacts": {},
	"target": {},
}

var defaultExcludedFiles = []string{
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml",
	".DS_Store", ".env", ".env.local", ".gitignore",
	"README.md", "LICENSE", ".eslintrc", ".prettierrc",
	"tsconfig.json", "requirements.txt", "poetry.lock",
	"Pipfile.lock", ".gitattributes", ".gitconfig", ".gitmodules",
	".coverage", ".cursorignore", "*.egg-info",
}

var defaultExcludedExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".ico",
	".svg", ".mp4", ".mp3", ".pdf", ".zip",
	".woff", ".woff2", ".ttf", ".eot",
	".pyc", ".pyo", ".pyd", ".so", ".pkl", ".pickle",
	".db", ".sqlite", ".log", ".cache", ".ini",
}

// Rules decides which directories and files the scanner skips.
type Rules struct {
	dirs     map[string]struct{}
	patterns []string
}

// DefaultRules returns the built-in exclusion rules.
func DefaultRules() *Rules {
	patterns := make([]string, 0, len(defaultExcludedFiles)+len(defaultExcludedExtensions))
	patterns = append(patterns, defaultExcludedFiles...)
	for _, ext := range defaultExcludedExtensions {
		patterns = append(patterns, "*"+ext)
	}
	return &Rules{dirs: defaultExcludedDirs, patterns: patterns}
}

// ExcludeDir reports whether a directory with this base name is skipped.
func (r *Rules) ExcludeDir(name string) bool {
	_, ok := r.dirs[name]
	return ok
}

// ExcludeFile reports whether a file with this base name is skipped.
// Patterns match case-insensitively, the way the exclusion lists are
// written.
func (r *Rules) ExcludeFile(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range r.patterns {
		if ok, _ := path.Match(strings.ToLower(pattern), lower); ok {
			return true
		}
	}
	return false
}
