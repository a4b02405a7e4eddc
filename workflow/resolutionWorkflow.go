package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ResolutionReport summarizes one batch run for the caller (CLI or admin
// endpoint). The same counts are persisted on the ResolutionRun row.
type ResolutionReport struct {
	RunId        string `json:"run_id"`
	SuccessCount int    `json:"success_count"`
	ReviewCount  int    `json:"review_count"`
	ErrorCount   int    `json:"error_count"`
}

// RunResolution processes every unresolved deal of one business. Each deal
// commits or rolls back in its own transaction, so a failing record never
// takes the batch down with it; the run row keeps the tallies.
func RunResolution(ctx context.Context, db *gorm.DB, logger *logrus.Logger, businessId string, triggeredBy string) (*ResolutionReport, error) {
	ctx = utils.SetBusinessIdInContext(ctx, businessId)

	run := &models.ResolutionRun{
		BusinessId:  businessId,
		Status:      models.ResolutionRunStatusRunning,
		TriggeredBy: triggeredBy,
	}
	if err := run.Store(db, ctx); err != nil {
		config.LogError(logger, "workflow", "RunResolution", "create run", businessId, err)
		return nil, err
	}

	deals, err := models.GetUnresolvedDeals(ctx, businessId)
	if err != nil {
		config.LogError(logger, "workflow", "RunResolution", "load unresolved deals", businessId, err)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"module":     "workflow",
		"runId":      run.ID,
		"businessId": businessId,
		"dealCount":  len(deals),
	}).Info("resolution run started")

	scorer := LevenshteinScorer{}
	report := &ResolutionReport{RunId: run.ID}

	for _, deal := range deals {
		err := db.Transaction(func(tx *gorm.DB) error {
			return resolveDeal(ctx, tx, deal, run.ID, scorer)
		})
		if err == nil {
			report.SuccessCount++
			continue
		}

		var inputErr *InputError
		var ambiguousErr *AmbiguousMatchError
		switch {
		case errors.As(err, &inputErr):
			report.ReviewCount++
			queueReview(ctx, db, logger, deal, run.ID, inputErr.Reason, inputErr.Msg, nil, nil)
		case errors.As(err, &ambiguousErr):
			report.ReviewCount++
			queueReview(ctx, db, logger, deal, run.ID, models.ReviewReasonFuzzyMatchUncertainty,
				ambiguousErr.Error(), ambiguousErr.SuggestedCompanyId, ambiguousErr.SuggestedContactId)
		case errors.Is(err, models.ErrorLinkageMismatch) || errors.Is(err, models.ErrorPartialLinkage):
			// A rejected write is a bug in the caller, not a data question
			// an operator can answer. Logged and counted, never queued.
			report.ErrorCount++
			config.LogError(logger, "workflow", "RunResolution", "linkage rejected", deal.ID, err)
		default:
			report.ErrorCount++
			config.LogError(logger, "workflow", "RunResolution", "deal resolution failed", deal.ID, err)
			queueReview(ctx, db, logger, deal, run.ID, models.ReviewReasonEntityCreationFailed, err.Error(), nil, nil)
		}
	}

	if err := finalizeRun(ctx, db, run, report); err != nil {
		config.LogError(logger, "workflow", "RunResolution", "finalize run", run.ID, err)
		return report, err
	}

	logger.WithFields(logrus.Fields{
		"module":       "workflow",
		"runId":        run.ID,
		"successCount": report.SuccessCount,
		"reviewCount":  report.ReviewCount,
		"errorCount":   report.ErrorCount,
	}).Info("resolution run completed")
	return report, nil
}

// resolveDeal runs the full pipeline for one deal inside one transaction:
// normalize, match or create the company, match or create the contact,
// write the linkage, queue the outbox event.
func resolveDeal(ctx context.Context, tx *gorm.DB, deal *models.Deal, runId string, scorer Scorer) error {
	email := utils.DereferencePtr(deal.ContactEmail)
	contactName := utils.DereferencePtr(deal.ContactName)
	companyNameHint := utils.DereferencePtr(deal.CompanyNameHint)

	// Eligibility gate: a contact email and a contact name are both
	// required before any matching runs. A deal without them goes straight
	// to review, never into the matcher.
	identity := NormalizeIdentity(email, companyNameHint)
	if email == "" {
		if contactName == "" {
			return &InputError{
				Reason: models.ReviewReasonNoEmail,
				Msg:    "deal carries neither a contact email nor a contact name",
			}
		}
		return &InputError{
			Reason: models.ReviewReasonNoEmail,
			Msg:    "deal carries a contact name but no contact email",
		}
	}
	if !identity.Valid {
		return &InputError{
			Reason: models.ReviewReasonInvalidEmail,
			Msg:    fmt.Sprintf("contact email %q is not a valid address", email),
		}
	}
	if contactName == "" {
		return &InputError{
			Reason: models.ReviewReasonNoEmail,
			Msg:    "deal carries a contact email but no contact name",
		}
	}

	company, err := FindOrCreateCompany(ctx, tx, deal.BusinessId, deal.OwnerUserId, identity, runId)
	if err != nil {
		return err
	}

	contact, err := FindOrCreateContact(ctx, tx, company, contactName, identity.Email, deal.OwnerUserId, runId, scorer)
	if err != nil {
		return err
	}

	if err := deal.SetResolved(tx, ctx, company.ID, contact.ID, runId); err != nil {
		return err
	}

	if config.ResolutionEventsEnabled() {
		if err := models.PublishResolutionEvent(ctx, tx, deal.BusinessId, deal.ID, company.ID, contact.ID, runId, models.ResolutionEventActionResolved); err != nil {
			return err
		}
	}
	return nil
}

// queueReview records a pending case for the deal in its own transaction.
// One pending case per deal: a re-run over a deal that is already queued
// does not pile up duplicates.
func queueReview(ctx context.Context, db *gorm.DB, logger *logrus.Logger, deal *models.Deal, runId string, reason models.ReviewReason, details string, suggestedCompanyId *int, suggestedContactId *int) {
	var existing int64
	err := db.WithContext(ctx).Model(&models.ReviewCase{}).
		Where("deal_id = ? AND status = ?", deal.ID, models.ReviewStatusPending).
		Count(&existing).Error
	if err != nil {
		config.LogError(logger, "workflow", "queueReview", "check pending case", deal.ID, err)
		return
	}
	if existing > 0 {
		logger.WithFields(logrus.Fields{
			"module": "workflow",
			"dealId": deal.ID,
			"reason": reason,
		}).Debug("pending review case already exists, skipping")
		return
	}

	rc := &models.ReviewCase{
		BusinessId:         deal.BusinessId,
		DealId:             deal.ID,
		Reason:             reason,
		Details:            details,
		SuggestedCompanyId: suggestedCompanyId,
		SuggestedContactId: suggestedContactId,
		Status:             models.ReviewStatusPending,
		ResolutionRunId:    utils.NilIfEmpty(runId),
	}
	if err := rc.Store(db, ctx); err != nil {
		config.LogError(logger, "workflow", "queueReview", "store review case", deal.ID, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"module":  "workflow",
		"dealId":  deal.ID,
		"caseId":  rc.ID,
		"reason":  reason,
		"details": details,
	}).Info("deal queued for review")
}

func finalizeRun(ctx context.Context, db *gorm.DB, run *models.ResolutionRun, report *ResolutionReport) error {
	return run.Update(db, ctx, map[string]interface{}{
		"status":        models.ResolutionRunStatusCompleted,
		"success_count": report.SuccessCount,
		"review_count":  report.ReviewCount,
		"error_count":   report.ErrorCount,
		"finished_at":   time.Now().UTC(),
	})
}
