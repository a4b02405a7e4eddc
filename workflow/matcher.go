package workflow

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

// ambiguityMargin: a second fuzzy candidate within this margin of the top
// score means the heuristics cannot pick a winner; the deal goes to review.
const ambiguityMargin = 0.05

// MatchCompany finds an existing company for the normalized identity.
// Domain match is authoritative and needs no owner scoping; the name
// fallback is an exact case-insensitive comparison scoped to the owning
// user. Company names are never fuzzy-matched: free-text fuzziness there
// produces false merges. Returns nil when nothing matches.
func MatchCompany(ctx context.Context, tx *gorm.DB, businessId string, ownerUserId int, identity NormalizedIdentity) (*models.Company, error) {
	if identity.Domain != "" {
		company, err := models.GetCompanyByDomain(ctx, tx, businessId, identity.Domain)
		if err == nil {
			return company, nil
		}
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, err
		}
		return nil, nil
	}

	if identity.CompanyNameHint != "" {
		company, err := models.GetCompanyByName(ctx, tx, businessId, ownerUserId, identity.CompanyNameHint)
		if err == nil {
			return company, nil
		}
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// ContactMatch is the result of a contact lookup within one company.
type ContactMatch struct {
	Contact        *models.Contact
	MatchedByFuzzy bool
}

// MatchContact looks for an existing contact under the matched company.
// Email is the primary key: exact, case-insensitive, no fuzziness. Only
// when no email match exists does the name-similarity pass run, accepting
// a single candidate at or above the threshold. Ties at the same score go
// to the earliest-created contact; two distinct candidates within
// ambiguityMargin of the top score return AmbiguousMatchError instead of
// guessing. Returns nil when nothing matches ("no match - create").
func MatchContact(ctx context.Context, tx *gorm.DB, companyId int, email string, contactName string, scorer Scorer) (*ContactMatch, error) {
	if email != "" {
		contact, err := models.GetContactByEmail(ctx, tx, companyId, email)
		if err == nil {
			return &ContactMatch{Contact: contact}, nil
		}
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, err
		}
	}

	if contactName == "" {
		return nil, nil
	}

	contacts, err := models.GetContactsByCompany(ctx, tx, companyId)
	if err != nil {
		return nil, err
	}

	best, err := pickFuzzyContact(contacts, contactName, config.FuzzyMatchThreshold(), scorer)
	if err != nil || best == nil {
		return nil, err
	}
	return &ContactMatch{Contact: best, MatchedByFuzzy: true}, nil
}

// pickFuzzyContact applies the acceptance rule to candidates in creation
// order: a score at or above the threshold is eligible, below is not.
// Strict comparison keeps the earliest contact on a score tie; a rival
// with a strictly lower score within ambiguityMargin of the winner makes
// the pick ambiguous.
func pickFuzzyContact(contacts []*models.Contact, contactName string, threshold float64, scorer Scorer) (*models.Contact, error) {
	var (
		best      *models.Contact
		bestScore float64
	)
	for _, contact := range contacts {
		score := scorer.Similarity(contactName, contact.FullName())
		if score < threshold {
			continue
		}
		if best == nil || score > bestScore {
			best = contact
			bestScore = score
		}
	}
	if best == nil {
		return nil, nil
	}

	// Count rivals too close to the winner to call. An exact score tie is
	// not ambiguous: the earliest-created contact already won above.
	close := 0
	for _, contact := range contacts {
		if contact.ID == best.ID {
			continue
		}
		score := scorer.Similarity(contactName, contact.FullName())
		if score >= threshold && score < bestScore && bestScore-score < ambiguityMargin {
			close++
		}
	}
	if close > 0 {
		return nil, &AmbiguousMatchError{
			SuggestedContactId: &best.ID,
			Candidates:         close + 1,
			TopScore:           bestScore,
		}
	}
	return best, nil
}
