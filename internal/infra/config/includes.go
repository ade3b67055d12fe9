package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// includeLoader overlays included YAML files onto a Config. Files are
// applied in the order listed, globs in lexical order, and nested includes
// are resolved relative to the including file.
type includeLoader struct {
	seen map[string]bool // absolute paths already applied, root included
}

func newIncludeLoader(root string) *includeLoader {
	return &includeLoader{seen: map[string]bool{root: true}}
}

// apply merges every file named by cfg.Includes. dir is the directory of the
// file that declared them.
func (l *includeLoader) apply(cfg *Config, dir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}

	patterns := cfg.Includes
	cfg.Includes = nil
	for _, pattern := range patterns {
		files, err := expandInclude(pattern, dir)
		if err != nil {
			return err
		}
		for _, f := range files {
			if l.seen[f] {
				return fmt.Errorf("config includes: circular include detected for %q", f)
			}
			l.seen[f] = true
			if err := l.merge(cfg, f, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *includeLoader) merge(cfg *Config, path string, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	cfg.Includes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	if len(cfg.Includes) == 0 {
		return nil
	}
	return l.apply(cfg, filepath.Dir(path), depth)
}

// expandInclude resolves pattern against dir and returns absolute paths.
// A literal path that does not exist is returned as-is so the read reports
// it; a glob that matches nothing yields no files.
func expandInclude(pattern, dir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(dir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(dir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		matches = []string{pattern}
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, fmt.Errorf("config includes: abs path %q: %w", m, err)
		}
		out = append(out, abs)
	}
	return out, nil
}
