// Package cli provides shared utilities for CLI commands.
package cli

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePatterns reports the first syntactically invalid glob pattern.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid pattern '%s': %w", p, err)
		}
	}
	return nil
}

// Match reports whether name matches any of patterns. A pattern without
// glob characters (*?[) must equal name exactly. No patterns match everything.
func Match(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*?[") {
			if p == name {
				return true
			}
			continue
		}
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Filter returns the items whose name matches any of patterns, in their
// original order.
func Filter[T any](items []T, name func(T) string, patterns []string) ([]T, error) {
	if err := ValidatePatterns(patterns); err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return items, nil
	}

	var out []T
	for _, it := range items {
		if Match(patterns, name(it)) {
			out = append(out, it)
		}
	}
	return out, nil
}
