package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

var ErrorReviewCaseAlreadyResolved = errors.New("review case already resolved")

// ReviewCase is the durable record of a resolution the heuristics could
// not decide. It is monotonic: pending -> resolved, one way, exactly once.
type ReviewCase struct {
	ID                 int          `gorm:"primary_key" json:"id"`
	BusinessId         string       `gorm:"index;not null" json:"business_id" binding:"required"`
	DealId             int          `gorm:"index;not null" json:"deal_id" binding:"required"`
	Reason             ReviewReason `gorm:"type:enum('no_email','invalid_email','fuzzy_match_uncertainty','entity_creation_failed');not null" json:"reason"`
	Details            string       `gorm:"type:text" json:"details"`
	SuggestedCompanyId *int         `json:"suggested_company_id"`
	SuggestedContactId *int         `json:"suggested_contact_id"`
	Status             ReviewStatus `gorm:"type:enum('pending','resolved');not null;default:'pending';index" json:"status"`
	ResolutionNotes    string       `gorm:"type:text" json:"resolution_notes"`
	ResolvedBy         *int         `json:"resolved_by"`
	ResolvedAt         *time.Time   `json:"resolved_at"`
	ResolutionRunId    *string      `gorm:"size:36;index" json:"resolution_run_id"`
	CreatedAt          time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (rc *ReviewCase) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(rc).Error
}

func GetReviewCase(ctx context.Context, tx *gorm.DB, id int) (*ReviewCase, error) {
	var rc ReviewCase
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&rc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &rc, nil
}

func GetReviewCases(ctx context.Context, businessId string, status ReviewStatus) ([]*ReviewCase, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Where("business_id = ?", businessId)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var cases []*ReviewCase
	if err := q.Order("created_at ASC, id ASC").Find(&cases).Error; err != nil {
		return nil, err
	}
	return cases, nil
}

func CountPendingReviewCases(ctx context.Context, businessId string) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&ReviewCase{}).
		Where("business_id = ? AND status = ?", businessId, ReviewStatusPending).
		Count(&count).Error
	return count, err
}

// MarkResolved flips pending -> resolved with an optimistic precondition:
// the UPDATE matches only while status is still pending, so two operators
// racing on the same case cannot both win.
func (rc *ReviewCase) MarkResolved(tx *gorm.DB, ctx context.Context, resolverId int, notes string, resolvedAt time.Time) error {
	result := tx.WithContext(ctx).Model(&ReviewCase{}).
		Where("id = ? AND status = ?", rc.ID, ReviewStatusPending).
		Updates(map[string]interface{}{
			"status":           ReviewStatusResolved,
			"resolved_by":      resolverId,
			"resolved_at":      resolvedAt,
			"resolution_notes": notes,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrorReviewCaseAlreadyResolved
	}
	rc.Status = ReviewStatusResolved
	rc.ResolvedBy = &resolverId
	rc.ResolvedAt = &resolvedAt
	rc.ResolutionNotes = notes
	return nil
}
