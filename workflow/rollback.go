package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RollbackAndRerun undoes the linkage a single run wrote and immediately
// resolves the business again. Rollback is scoped by the run tag on each
// deal, never by timestamp windows. Companies and contacts created by the
// run stay: they are real entities, and the re-run will match them again
// deterministically.
func RollbackAndRerun(ctx context.Context, db *gorm.DB, logger *logrus.Logger, runId string, triggeredBy string) (*ResolutionReport, error) {
	run, err := models.GetResolutionRun(ctx, runId)
	if err != nil {
		config.LogError(logger, "workflow", "RollbackAndRerun", "load run", runId, err)
		return nil, err
	}
	if run.Status == models.ResolutionRunStatusRolledBack {
		return nil, fmt.Errorf("resolution run %s is already rolled back", runId)
	}

	ctx = utils.SetBusinessIdInContext(ctx, run.BusinessId)

	err = db.Transaction(func(tx *gorm.DB) error {
		deals, err := models.GetDealsByRun(ctx, tx, runId)
		if err != nil {
			return err
		}
		for _, deal := range deals {
			// The event carries the linkage being undone, so it goes out
			// before the columns are cleared.
			if config.ResolutionEventsEnabled() {
				err := models.PublishResolutionEvent(ctx, tx, deal.BusinessId, deal.ID,
					utils.DereferencePtr(deal.CompanyId), utils.DereferencePtr(deal.ContactId),
					runId, models.ResolutionEventActionRolledBack)
				if err != nil {
					return err
				}
			}

			// Clearing both halves together satisfies the linkage hook.
			err := deal.Update(tx, ctx, map[string]interface{}{
				"company_id":        nil,
				"contact_id":        nil,
				"resolution_run_id": nil,
			})
			if err != nil {
				return err
			}
		}

		// Only the run's still-pending cases go; resolved cases are an
		// operator's decisions and stay on the record.
		err = tx.WithContext(ctx).
			Where("resolution_run_id = ? AND status = ?", runId, models.ReviewStatusPending).
			Delete(&models.ReviewCase{}).Error
		if err != nil {
			return err
		}

		return run.Update(tx, ctx, map[string]interface{}{
			"status":      models.ResolutionRunStatusRolledBack,
			"finished_at": time.Now().UTC(),
		})
	})
	if err != nil {
		config.LogError(logger, "workflow", "RollbackAndRerun", "rollback transaction", runId, err)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"module":     "workflow",
		"runId":      runId,
		"businessId": run.BusinessId,
	}).Info("resolution run rolled back")

	return RunResolution(ctx, db, logger, run.BusinessId, triggeredBy)
}
