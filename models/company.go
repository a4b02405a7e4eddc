package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

// Company is a canonical organization in the resolved relationship graph.
// Domain is the identity key when present: the unique index on
// (business_id, domain) is the hard guarantee against duplicate companies
// for the same email domain, even under concurrent writers. MySQL's
// case-insensitive collation makes the comparison case-insensitive, and
// NULL domains (consumer-email companies) are exempt from the index.
type Company struct {
	ID              int       `gorm:"primary_key" json:"id"`
	BusinessId      string    `gorm:"index;not null;uniqueIndex:idx_companies_business_domain" json:"business_id" binding:"required"`
	Name            string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Domain          *string   `gorm:"size:255;uniqueIndex:idx_companies_business_domain" json:"domain"`
	OwnerUserId     int       `gorm:"index;not null" json:"owner_user_id"`
	ResolutionRunId *string   `gorm:"size:36;index" json:"resolution_run_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Company) BeforeSave(tx *gorm.DB) error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("company name is required")
	}
	if c.Domain != nil {
		d := strings.ToLower(strings.TrimSpace(*c.Domain))
		if d == "" {
			c.Domain = nil
		} else {
			c.Domain = &d
		}
	}
	return nil
}

func (c *Company) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(c).Error
}

// GetCompanyByDomain is the authoritative lookup: exact domain comparison,
// no fuzziness, scoped to the business.
func GetCompanyByDomain(ctx context.Context, tx *gorm.DB, businessId string, domain string) (*Company, error) {
	var company Company
	err := tx.WithContext(ctx).
		Where("business_id = ? AND domain = ?", businessId, strings.ToLower(strings.TrimSpace(domain))).
		First(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &company, nil
}

// GetCompanyByName is the fallback lookup when no usable domain exists:
// exact case-insensitive name match scoped to the owning user. Company
// names are never fuzzy-matched.
func GetCompanyByName(ctx context.Context, tx *gorm.DB, businessId string, ownerUserId int, name string) (*Company, error) {
	var company Company
	err := tx.WithContext(ctx).
		Where("business_id = ? AND owner_user_id = ? AND LOWER(name) = LOWER(?)", businessId, ownerUserId, strings.TrimSpace(name)).
		Order("created_at ASC").
		First(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &company, nil
}

func GetCompany(ctx context.Context, id int) (*Company, error) {
	db := config.GetDB()
	var company Company
	if err := db.WithContext(ctx).Where("id = ?", id).First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &company, nil
}
