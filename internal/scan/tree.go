package scan

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultTreeDepth bounds tree rendering so huge repositories still
// produce a prompt-sized structure overview.
const defaultTreeDepth = 5

// Tree renders the directory structure under root as an indented
// listing wrapped in <project_structure> delimiters, ready to embed in
// a discovery prompt. maxDepth <= 0 uses the default depth.
func (s *Scanner) Tree(root string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		maxDepth = defaultTreeDepth
	}
	ignore := loadIgnore(root)

	lines := []string{"<project_structure>"}
	lines = append(lines, s.renderTree(root, root, "", 0, maxDepth, ignore)...)
	lines = append(lines, "</project_structure>")
	return lines, nil
}

func (s *Scanner) renderTree(root, dir, prefix string, depth, maxDepth int, ignore *ignoreMatcher) []string {
	if depth >= maxDepth {
		return []string{prefix + "└── ... (max depth reached)"}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{prefix + "└── <unreadable: " + err.Error() + ">"}
	}

	// Directories first, then case-insensitive by name.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	var kept []os.DirEntry
	for _, e := range entries {
		rel, err := filepath.Rel(root, filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if e.IsDir() {
			if s.rules.ExcludeDir(e.Name()) || ignore.Match(rel, true) {
				continue
			}
		} else if s.rules.ExcludeFile(e.Name()) || ignore.Match(rel, false) {
			continue
		}
		kept = append(kept, e)
	}

	var lines []string
	for i, e := range kept {
		last := i == len(kept)-1
		connector := "├── "
		childPrefix := prefix + "│   "
		if last {
			connector = "└── "
			childPrefix = prefix + "    "
		}
		lines = append(lines, prefix+connector+e.Name())
		if e.IsDir() {
			lines = append(lines, s.renderTree(root, filepath.Join(dir, e.Name()), childPrefix, depth+1, maxDepth, ignore)...)
		}
	}
	return lines
}
