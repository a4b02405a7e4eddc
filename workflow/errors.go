package workflow

import (
	"fmt"

	"bitbucket.org/mmdatafocus/crm_backend/models"
)

// Record-level failures are values, not control flow that can abort the
// batch: the orchestrator catches them per deal, turns them into review
// cases, and keeps going. Only the linkage hook in models rejects a write
// outright.

// InputError marks a deal whose free-text fields cannot be matched at all
// (no email, bad email syntax, empty contact name). Never auto-retried.
type InputError struct {
	Reason models.ReviewReason
	Msg    string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("unusable resolution input (%s): %s", e.Reason, e.Msg)
}

// AmbiguousMatchError marks a fuzzy contact lookup with two or more
// candidates too close to call. The top candidate travels along as the
// suggestion shown to the reviewing operator.
type AmbiguousMatchError struct {
	SuggestedCompanyId *int
	SuggestedContactId *int
	Candidates         int
	TopScore           float64
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous contact match: %d candidates within threshold (top score %.2f)", e.Candidates, e.TopScore)
}

// CreationFailureError wraps an unexpected storage failure while writing a
// Company or Contact (for example a uniqueness race that refetch could not
// recover).
type CreationFailureError struct {
	Op  string
	Err error
}

func (e *CreationFailureError) Error() string {
	return fmt.Sprintf("entity creation failed (%s): %v", e.Op, e.Err)
}

func (e *CreationFailureError) Unwrap() error {
	return e.Err
}
