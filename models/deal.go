package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Deal is the source business record. The upstream CRUD system creates it
// with free-text identity hints only; CompanyId/ContactId stay NULL until
// the resolution engine (or a human review decision) links them.
// ResolutionRunId tags the run that produced the linkage so rollback can
// target exactly the records of one run.
type Deal struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id" binding:"required"`
	DealName        string          `gorm:"size:255;not null" json:"deal_name" binding:"required"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	CompanyNameHint *string         `gorm:"size:255" json:"company_name_hint"`
	ContactName     *string         `gorm:"size:255" json:"contact_name"`
	ContactEmail    *string         `gorm:"size:255" json:"contact_email"`
	CompanyId       *int            `gorm:"index" json:"company_id"`
	ContactId       *int            `gorm:"index" json:"contact_id"`
	OwnerUserId     int             `gorm:"index;not null" json:"owner_user_id"`
	ResolutionRunId *string         `gorm:"size:36;index" json:"resolution_run_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (d *Deal) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(d).Error
}

func (d *Deal) Update(tx *gorm.DB, ctx context.Context, fillable map[string]interface{}) error {
	return tx.WithContext(ctx).Model(d).Updates(fillable).Error
}

// SetResolved writes the final linkage. The linkage-consistency hook runs
// inside this update; a mismatched pair never reaches the table.
func (d *Deal) SetResolved(tx *gorm.DB, ctx context.Context, companyId int, contactId int, runId string) error {
	return d.Update(tx, ctx, map[string]interface{}{
		"company_id":        companyId,
		"contact_id":        contactId,
		"resolution_run_id": runId,
	})
}

func (d *Deal) IsResolved() bool {
	return d.CompanyId != nil && d.ContactId != nil
}

func GetDeal(ctx context.Context, id int) (*Deal, error) {
	return GetDealTx(ctx, config.GetDB(), id)
}

func GetDealTx(ctx context.Context, tx *gorm.DB, id int) (*Deal, error) {
	var deal Deal
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&deal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &deal, nil
}

// GetUnresolvedDeals returns every deal still missing part of its linkage,
// oldest first. Selecting on the linkage columns (not on run bookkeeping)
// is what makes re-running the batch idempotent.
func GetUnresolvedDeals(ctx context.Context, businessId string) ([]*Deal, error) {
	db := config.GetDB()
	var deals []*Deal
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("company_id IS NULL OR contact_id IS NULL").
		Order("created_at ASC, id ASC").
		Find(&deals).Error
	if err != nil {
		return nil, err
	}
	return deals, nil
}

// GetDealsByRun returns the deals whose linkage was written by one run.
func GetDealsByRun(ctx context.Context, tx *gorm.DB, runId string) ([]*Deal, error) {
	var deals []*Deal
	err := tx.WithContext(ctx).
		Where("resolution_run_id = ?", runId).
		Find(&deals).Error
	if err != nil {
		return nil, err
	}
	return deals, nil
}

func CountUnresolvedDeals(ctx context.Context, businessId string) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&Deal{}).
		Where("business_id = ?", businessId).
		Where("company_id IS NULL OR contact_id IS NULL").
		Count(&count).Error
	return count, err
}
