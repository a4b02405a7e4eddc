package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TightenDealConstraints makes the deals table reject unlinked rows by
// altering company_id and contact_id to NOT NULL. This is the one-time
// backfill finish line: it refuses to run while any deal is unresolved or
// any review case is pending, anywhere, because the ALTER is global.
func TightenDealConstraints(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	// The readiness counts are deliberately global, across every tenant.
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	var unresolved int64
	err := db.WithContext(ctx).Model(&models.Deal{}).
		Where("company_id IS NULL OR contact_id IS NULL").
		Count(&unresolved).Error
	if err != nil {
		return err
	}

	var pending int64
	err = db.WithContext(ctx).Model(&models.ReviewCase{}).
		Where("status = ?", models.ReviewStatusPending).
		Count(&pending).Error
	if err != nil {
		return err
	}

	if unresolved > 0 || pending > 0 {
		return fmt.Errorf("cannot tighten constraints: %d unresolved deals, %d pending review cases", unresolved, pending)
	}

	alreadyTight, err := dealLinkageIsNotNull(ctx, db)
	if err != nil {
		return err
	}
	if alreadyTight {
		logger.WithFields(logrus.Fields{
			"module": "workflow",
		}).Info("deal linkage columns already NOT NULL, nothing to do")
		return nil
	}

	err = db.WithContext(ctx).Exec(
		"ALTER TABLE deals MODIFY company_id INT NOT NULL, MODIFY contact_id INT NOT NULL").Error
	if err != nil {
		config.LogError(logger, "workflow", "TightenDealConstraints", "alter table", nil, err)
		return err
	}

	logger.WithFields(logrus.Fields{
		"module": "workflow",
	}).Info("deal linkage columns tightened to NOT NULL")
	return nil
}

func dealLinkageIsNotNull(ctx context.Context, db *gorm.DB) (bool, error) {
	var nullable []string
	err := db.WithContext(ctx).Raw(
		`SELECT COLUMN_NAME FROM information_schema.COLUMNS
		 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = 'deals'
		 AND COLUMN_NAME IN ('company_id', 'contact_id') AND IS_NULLABLE = 'YES'`).
		Scan(&nullable).Error
	if err != nil {
		return false, err
	}
	return len(nullable) == 0, nil
}
