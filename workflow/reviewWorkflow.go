package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ListReviewCases returns the business's review queue, optionally filtered
// by status. Pass an empty status for all cases.
func ListReviewCases(ctx context.Context, businessId string, status models.ReviewStatus) ([]*models.ReviewCase, error) {
	return models.GetReviewCases(ctx, businessId, status)
}

// ResolveReviewCase applies an operator's decision: link the deal to the
// chosen company and contact, then close the case. The whole decision is
// one transaction; the optimistic status check in MarkResolved makes a
// second resolution of the same case fail with
// models.ErrorReviewCaseAlreadyResolved instead of silently overwriting.
func ResolveReviewCase(ctx context.Context, db *gorm.DB, logger *logrus.Logger, caseId int, companyId int, contactId int, resolverId int, notes string) (*models.ReviewCase, error) {
	var resolved *models.ReviewCase
	err := db.Transaction(func(tx *gorm.DB) error {
		rc, err := models.GetReviewCase(ctx, tx, caseId)
		if err != nil {
			return err
		}
		if rc.Status == models.ReviewStatusResolved {
			return models.ErrorReviewCaseAlreadyResolved
		}

		contact, err := models.GetContactTx(ctx, tx, contactId)
		if err != nil {
			return fmt.Errorf("contact %d: %w", contactId, err)
		}
		if contact.CompanyId != companyId {
			return fmt.Errorf("%w: contact %d belongs to company %d, decision names company %d",
				models.ErrorLinkageMismatch, contactId, contact.CompanyId, companyId)
		}

		deal, err := models.GetDealTx(ctx, tx, rc.DealId)
		if err != nil {
			return err
		}
		// A manual decision carries no run tag: rollback of the original
		// run must never undo what an operator decided by hand.
		err = deal.Update(tx, ctx, map[string]interface{}{
			"company_id":        companyId,
			"contact_id":        contactId,
			"resolution_run_id": nil,
		})
		if err != nil {
			return err
		}

		if err := rc.MarkResolved(tx, ctx, resolverId, notes, time.Now().UTC()); err != nil {
			return err
		}

		if config.ResolutionEventsEnabled() {
			err := models.PublishResolutionEvent(ctx, tx, rc.BusinessId, rc.DealId, companyId, contactId, "", models.ResolutionEventActionReviewResolved)
			if err != nil {
				return err
			}
		}

		resolved = rc
		return nil
	})
	if err != nil {
		config.LogError(logger, "workflow", "ResolveReviewCase", "resolve case", caseId, err)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"module":     "workflow",
		"caseId":     caseId,
		"dealId":     resolved.DealId,
		"companyId":  companyId,
		"contactId":  contactId,
		"resolvedBy": resolverId,
	}).Info("review case resolved")
	return resolved, nil
}
