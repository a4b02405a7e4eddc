package workflow

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
)

// The eligibility gate must reject unusable input before any matching or
// storage work. The nil transaction makes any storage access fail loudly.
func TestResolveDealEligibilityGate(t *testing.T) {
	cases := []struct {
		name       string
		hint       string
		contact    string
		email      string
		wantReason models.ReviewReason
	}{
		{"contact name but no email", "Acme Corp", "Jane Doe", "", models.ReviewReasonNoEmail},
		{"neither email nor name", "", "", "", models.ReviewReasonNoEmail},
		{"email but no contact name", "", "", "jane@acme.com", models.ReviewReasonNoEmail},
		{"broken email syntax", "Acme Corp", "Jane Doe", "not-an-email", models.ReviewReasonInvalidEmail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deal := &models.Deal{
				ID:              1,
				BusinessId:      "biz-1",
				CompanyNameHint: utils.NilIfEmpty(tc.hint),
				ContactName:     utils.NilIfEmpty(tc.contact),
				ContactEmail:    utils.NilIfEmpty(tc.email),
			}
			err := resolveDeal(context.Background(), nil, deal, "run-1", LevenshteinScorer{})
			var inputErr *InputError
			if !errors.As(err, &inputErr) {
				t.Fatalf("expected InputError, got %v", err)
			}
			if inputErr.Reason != tc.wantReason {
				t.Fatalf("reason = %s, want %s", inputErr.Reason, tc.wantReason)
			}
		})
	}
}
