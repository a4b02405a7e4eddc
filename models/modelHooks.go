package models

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Linkage consistency is enforced here, at the storage boundary, so a
// writer that skips the resolution workflow cannot produce a deal whose
// contact belongs to a different company. The check is synchronous and
// blocks the offending write; it is never queued for human review.

var (
	ErrorPartialLinkage  = errors.New("deal linkage must set company and contact together")
	ErrorLinkageMismatch = errors.New("deal linkage mismatch")
)

func (d *Deal) BeforeCreate(tx *gorm.DB) error {
	return enforceDealLinkage(tx, d.CompanyId, d.ContactId)
}

func (d *Deal) BeforeUpdate(tx *gorm.DB) error {
	companyId := d.CompanyId
	contactId := d.ContactId
	if tx.Statement != nil {
		if dest, ok := tx.Statement.Dest.(map[string]interface{}); ok {
			if v, present := dest["company_id"]; present {
				companyId = intPtrFromAny(v)
			}
			if v, present := dest["contact_id"]; present {
				contactId = intPtrFromAny(v)
			}
		}
	}
	return enforceDealLinkage(tx, companyId, contactId)
}

// enforceDealLinkage verifies both halves of the linkage are written
// together and that the contact actually belongs to the linked company.
func enforceDealLinkage(tx *gorm.DB, companyId *int, contactId *int) error {
	if companyId == nil && contactId == nil {
		return nil
	}
	if companyId == nil || contactId == nil {
		return fmt.Errorf("%w (company_id=%s contact_id=%s)",
			ErrorPartialLinkage, formatIntPtr(companyId), formatIntPtr(contactId))
	}

	var contact Contact
	if err := tx.Where("id = ?", *contactId).First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: contact %d does not exist", ErrorLinkageMismatch, *contactId)
		}
		return err
	}
	if contact.CompanyId != *companyId {
		return fmt.Errorf("%w: contact %d belongs to company %d, deal company is %d",
			ErrorLinkageMismatch, *contactId, contact.CompanyId, *companyId)
	}
	return nil
}

func intPtrFromAny(v interface{}) *int {
	switch n := v.(type) {
	case nil:
		return nil
	case int:
		return &n
	case int64:
		i := int(n)
		return &i
	case *int:
		return n
	default:
		return nil
	}
}

func formatIntPtr(v *int) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(*v)
}
