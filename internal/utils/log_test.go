package utils

import "testing"

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		limit  int
		expect string
	}{
		{name: "non-positive limit", input: "resume text", limit: 0, expect: ""},
		{name: "fits", input: "resume", limit: 10, expect: "resume"},
		{name: "truncates", input: "resume text", limit: 6, expect: "resume..."},
		{name: "collapses whitespace", input: "  John\n\n  Doe\t CV ", limit: 20, expect: "John Doe CV"},
		{name: "counts runes", input: "Résumé écrit", limit: 6, expect: "Résumé..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateForLog(tt.input, tt.limit); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}
