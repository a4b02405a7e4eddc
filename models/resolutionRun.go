package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResolutionRun is the bookkeeping row for one batch invocation. Every
// entity and review case the run creates carries its ID, which is what
// makes rollback an exact operation instead of a timestamp-window guess.
type ResolutionRun struct {
	ID           string              `gorm:"primary_key;size:36" json:"id"`
	BusinessId   string              `gorm:"index;not null" json:"business_id" binding:"required"`
	Status       ResolutionRunStatus `gorm:"type:enum('running','completed','rolled_back');not null;default:'running'" json:"status"`
	SuccessCount int                 `gorm:"not null;default:0" json:"success_count"`
	ReviewCount  int                 `gorm:"not null;default:0" json:"review_count"`
	ErrorCount   int                 `gorm:"not null;default:0" json:"error_count"`
	TriggeredBy  string              `gorm:"size:100" json:"triggered_by"`
	StartedAt    time.Time           `gorm:"not null" json:"started_at"`
	FinishedAt   *time.Time          `json:"finished_at"`
	CreatedAt    time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *ResolutionRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	return nil
}

func (r *ResolutionRun) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(r).Error
}

func (r *ResolutionRun) Update(tx *gorm.DB, ctx context.Context, fillable map[string]interface{}) error {
	return tx.WithContext(ctx).Model(r).Updates(fillable).Error
}

func GetResolutionRun(ctx context.Context, runId string) (*ResolutionRun, error) {
	db := config.GetDB()
	var run ResolutionRun
	if err := db.WithContext(ctx).Where("id = ?", runId).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &run, nil
}
