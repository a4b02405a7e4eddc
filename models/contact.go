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

// Contact is a canonical person under exactly one Company. Email is the
// identity key within a company: the unique index on (company_id, email)
// holds under concurrent writers, with NULL emails exempt. A person who
// turns up at a second company becomes a second Contact row there.
type Contact struct {
	ID              int       `gorm:"primary_key" json:"id"`
	BusinessId      string    `gorm:"index;not null" json:"business_id" binding:"required"`
	CompanyId       int       `gorm:"not null;uniqueIndex:idx_contacts_company_email" json:"company_id" binding:"required"`
	FirstName       string    `gorm:"size:100" json:"first_name"`
	LastName        string    `gorm:"size:155" json:"last_name"`
	Email           *string   `gorm:"size:255;uniqueIndex:idx_contacts_company_email" json:"email"`
	IsPrimary       bool      `gorm:"not null;default:false" json:"is_primary"`
	OwnerUserId     int       `gorm:"index;not null" json:"owner_user_id"`
	ResolutionRunId *string   `gorm:"size:36;index" json:"resolution_run_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Contact) BeforeSave(tx *gorm.DB) error {
	if c.CompanyId <= 0 {
		return errors.New("contact requires a company")
	}
	if c.Email != nil {
		e := strings.ToLower(strings.TrimSpace(*c.Email))
		if e == "" {
			c.Email = nil
		} else {
			c.Email = &e
		}
	}
	return nil
}

func (c *Contact) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(c).Error
}

func (c *Contact) Update(tx *gorm.DB, ctx context.Context, fillable map[string]interface{}) error {
	return tx.WithContext(ctx).Model(c).Updates(fillable).Error
}

func (c *Contact) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// GetContactByEmail is the primary contact lookup: exact case-insensitive
// email match scoped to one company.
func GetContactByEmail(ctx context.Context, tx *gorm.DB, companyId int, email string) (*Contact, error) {
	var contact Contact
	err := tx.WithContext(ctx).
		Where("company_id = ? AND email = ?", companyId, strings.ToLower(strings.TrimSpace(email))).
		First(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &contact, nil
}

// GetContactsByCompany returns all contacts of a company in creation order.
// Creation order matters: name-similarity ties are broken by earliest
// created contact.
func GetContactsByCompany(ctx context.Context, tx *gorm.DB, companyId int) ([]*Contact, error) {
	var contacts []*Contact
	err := tx.WithContext(ctx).
		Where("company_id = ?", companyId).
		Order("created_at ASC, id ASC").
		Find(&contacts).Error
	if err != nil {
		return nil, err
	}
	return contacts, nil
}

func CountContactsByCompany(ctx context.Context, tx *gorm.DB, companyId int) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&Contact{}).
		Where("company_id = ?", companyId).
		Count(&count).Error
	return count, err
}

func GetContact(ctx context.Context, id int) (*Contact, error) {
	return GetContactTx(ctx, config.GetDB(), id)
}

func GetContactTx(ctx context.Context, tx *gorm.DB, id int) (*Contact, error) {
	var contact Contact
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &contact, nil
}
