package cli

import (
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		value    string
		expected bool
	}{
		{name: "no patterns", patterns: nil, value: "vault.create", expected: true},
		{name: "exact match", patterns: []string{"vault.create"}, value: "vault.create", expected: true},
		{name: "exact mismatch", patterns: []string{"vault.create"}, value: "vault.unlock", expected: false},
		{name: "wildcard suffix", patterns: []string{"vault.unlock*"}, value: "vault.unlock_failed", expected: true},
		{name: "wildcard prefix", patterns: []string{"*_failed"}, value: "vault.unlock_failed", expected: true},
		{name: "question mark", patterns: []string{"On?ine"}, value: "Online", expected: true},
		{name: "any of several", patterns: []string{"Work", "On*"}, value: "Online", expected: true},
		{name: "none of several", patterns: []string{"Work", "Home*"}, value: "Online", expected: false},
		{name: "glob chars in exact value", patterns: []string{"a*"}, value: "a*", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.patterns, tt.value); got != tt.expected {
				t.Errorf("Match(%v, %q) = %v, expected %v", tt.patterns, tt.value, got, tt.expected)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	ops := []string{"vault.create", "vault.unlock_failed", "vault.unlock", "vault.create"}
	id := func(s string) string { return s }

	got, err := Filter(ops, id, []string{"vault.unlock*"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"vault.unlock_failed", "vault.unlock"}
	if len(got) != len(expected) {
		t.Fatalf("Filter() = %v, expected %v", got, expected)
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Errorf("Filter()[%d] = %q, expected %q", i, got[i], expected[i])
		}
	}

	all, err := Filter(ops, id, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != len(ops) {
		t.Errorf("Filter() without patterns dropped items: %v", all)
	}

	none, err := Filter(ops, id, []string{"folder.*"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no matches, got %v", none)
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := Filter([]string{"x"}, func(s string) string { return s }, []string{"[invalid"}); err == nil {
		t.Error("expected error for invalid pattern")
	}
	if err := ValidatePatterns([]string{"ok*", "[bad"}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}
