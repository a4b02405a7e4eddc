package workflow

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/crm_backend/models"
)

// fixedScorer returns a canned score per candidate full name, so the
// acceptance rule can be tested at exact score values.
type fixedScorer struct {
	scores map[string]float64
}

func (s fixedScorer) Similarity(_ string, candidate string) float64 {
	return s.scores[candidate]
}

func TestPickFuzzyContact_ThresholdBoundary(t *testing.T) {
	contacts := []*models.Contact{
		{ID: 1, FirstName: "Jane", LastName: "Doe"},
	}

	got, err := pickFuzzyContact(contacts, "Jane Do", 0.80, fixedScorer{scores: map[string]float64{"Jane Doe": 0.80}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != 1 {
		t.Fatalf("a score of exactly 0.80 must match, got %+v", got)
	}

	got, err = pickFuzzyContact(contacts, "Jane Do", 0.80, fixedScorer{scores: map[string]float64{"Jane Doe": 0.79}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("a score of 0.79 must not match, got contact %d", got.ID)
	}
}

func TestPickFuzzyContact_TieGoesToEarliest(t *testing.T) {
	contacts := []*models.Contact{
		{ID: 1, FirstName: "Jane", LastName: "Doe"},
		{ID: 2, FirstName: "Jane", LastName: "Dou"},
	}
	scorer := fixedScorer{scores: map[string]float64{"Jane Doe": 0.90, "Jane Dou": 0.90}}

	got, err := pickFuzzyContact(contacts, "Jane Do", 0.80, scorer)
	if err != nil {
		t.Fatalf("an exact score tie is not ambiguous: %v", err)
	}
	if got == nil || got.ID != 1 {
		t.Fatalf("tie must go to the earliest-created contact, got %+v", got)
	}
}

func TestPickFuzzyContact_CloseRivalIsAmbiguous(t *testing.T) {
	contacts := []*models.Contact{
		{ID: 1, FirstName: "Jane", LastName: "Doe"},
		{ID: 2, FirstName: "Jane", LastName: "Dou"},
	}
	scorer := fixedScorer{scores: map[string]float64{"Jane Doe": 0.96, "Jane Dou": 0.92}}

	got, err := pickFuzzyContact(contacts, "Jane Do", 0.80, scorer)
	var ambiguous *AmbiguousMatchError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("rival within the margin must be ambiguous, got (%+v, %v)", got, err)
	}
	if ambiguous.SuggestedContactId == nil || *ambiguous.SuggestedContactId != 1 {
		t.Fatalf("suggestion must be the front-runner, got %+v", ambiguous.SuggestedContactId)
	}
	if ambiguous.Candidates != 2 {
		t.Fatalf("candidates = %d, want 2", ambiguous.Candidates)
	}
}
