// Package scan lists and reads the repository files that feed the
// analysis pipeline. Exclusion rules and .gitignore patterns keep
// dependency trees, caches, and binary assets out of the listing; file
// contents load concurrently with a bounded worker count.
package scan

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"repolens/internal/batch"
)

// Scanner walks a repository applying exclusion rules.
type Scanner struct {
	logger *zap.Logger
	rules  *Rules
}

// NewScanner creates a Scanner with the default exclusion rules. Pass
// nil for a nop logger.
func NewScanner(logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{logger: logger, rules: DefaultRules()}
}

// List returns the slash-separated relative paths of every analyzable
// file under root, sorted lexically. The root's .gitignore applies.
func (s *Scanner) List(root string) ([]string, error) {
	ignore := loadIgnore(root)

	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("skipping unreadable entry", zap.String("path", p), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.rules.ExcludeDir(d.Name()) || ignore.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.rules.ExcludeFile(d.Name()) || ignore.Match(rel, false) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Strings(paths)
	s.logger.Debug("repository scanned", zap.String("root", root), zap.Int("files", len(paths)))
	return paths, nil
}

// ReadAll loads the given files concurrently, at most maxConcurrent at
// a time, preserving the input order. Unreadable and binary-looking
// files are skipped with a warning rather than failing the run.
func (s *Scanner) ReadAll(ctx context.Context, root string, paths []string, maxConcurrent int) ([]batch.File, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	slots := make([]*batch.File, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i, rel := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				s.logger.Warn("skipping unreadable file", zap.String("path", rel), zap.Error(err))
				return nil
			}
			if looksBinary(data) {
				s.logger.Warn("skipping binary file", zap.String("path", rel))
				return nil
			}
			slots[i] = &batch.File{Path: rel, Content: string(data)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files := make([]batch.File, 0, len(paths))
	for _, f := range slots {
		if f != nil {
			files = append(files, *f)
		}
	}
	return files, nil
}

// looksBinary uses the same cheap test git does: a NUL byte in the
// first 8000 bytes.
func looksBinary(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	return bytes.IndexByte(probe, 0) >= 0
}
