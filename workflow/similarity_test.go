package workflow

import (
	"math"
	"testing"
)

func TestLevenshteinScorer_Identical(t *testing.T) {
	s := LevenshteinScorer{}
	if got := s.Similarity("Jane Doe", "jane doe"); got != 1 {
		t.Fatalf("case-insensitive identical names should score 1, got %v", got)
	}
	if got := s.Similarity("  Jane Doe ", "Jane Doe"); got != 1 {
		t.Fatalf("whitespace should not affect identity, got %v", got)
	}
}

func TestLevenshteinScorer_Empty(t *testing.T) {
	s := LevenshteinScorer{}
	if got := s.Similarity("", ""); got != 0 {
		t.Fatalf("two empty strings score 0, got %v", got)
	}
	if got := s.Similarity("Jane", ""); got != 0 {
		t.Fatalf("one empty string scores 0, got %v", got)
	}
}

func TestLevenshteinScorer_NormalizedDistance(t *testing.T) {
	s := LevenshteinScorer{}

	// One edit over eight runes.
	got := s.Similarity("Jane Doe", "Jane Do")
	want := 1.0 - 1.0/8.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("Jane Doe vs Jane Do = %v, want %v", got, want)
	}

	// Two edits over ten runes lands exactly on the default 0.80 threshold.
	got = s.Similarity("abcdefghij", "abcdefghxy")
	if math.Abs(got-0.80) > 1e-9 {
		t.Fatalf("boundary score = %v, want 0.80", got)
	}
}

func TestLevenshteinScorer_Unrelated(t *testing.T) {
	s := LevenshteinScorer{}
	if got := s.Similarity("abc", "xyz"); got != 0 {
		t.Fatalf("fully different strings score 0, got %v", got)
	}
}
