package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EntityAuditReport is one persisted violation row. Rows accumulate per
// audit pass (nightly or admin-triggered) keyed by correlation id.
type EntityAuditReport struct {
	ID               int                  `gorm:"primary_key" json:"id"`
	BusinessId       string               `gorm:"size:64;not null;index" json:"business_id"`
	Issue            EntityAuditIssueType `gorm:"size:40;not null" json:"issue"`
	DealId           int                  `gorm:"index;not null" json:"deal_id"`
	CompanyId        *int                 `json:"company_id"`
	ContactId        *int                 `json:"contact_id"`
	ContactCompanyId *int                 `json:"contact_company_id"`
	Details          string               `gorm:"type:text" json:"details"`
	CorrelationId    string               `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time            `json:"created_at"`
}

// EntityAuditIssue is the in-memory audit result returned to callers.
type EntityAuditIssue struct {
	DealId           int                  `json:"deal_id"`
	Issue            EntityAuditIssueType `json:"issue"`
	CompanyId        *int                 `json:"company_id"`
	ContactId        *int                 `json:"contact_id"`
	ContactCompanyId *int                 `json:"contact_company_id"`
}

// ValidateAllEntities enumerates every current linkage violation:
// half-resolved deals and resolved deals whose contact sits under a
// different company. Used before tightening constraints and for ongoing
// monitoring; each pass also writes entity_audit_reports rows.
func ValidateAllEntities(ctx context.Context, businessId string) ([]EntityAuditIssue, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	db := config.GetDB()
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	logger := config.GetLogger()

	cid, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || cid == "" {
		cid = uuid.NewString()
	}
	now := time.Now().UTC()

	type auditRow struct {
		DealId           int
		CompanyId        *int
		ContactId        *int
		ContactCompanyId *int
	}
	var rows []auditRow
	if err := db.WithContext(ctx).Raw(`
		SELECT
			deals.id AS deal_id,
			deals.company_id AS company_id,
			deals.contact_id AS contact_id,
			contacts.company_id AS contact_company_id
		FROM deals
		LEFT JOIN contacts ON contacts.id = deals.contact_id
		WHERE deals.business_id = ?
		  AND (deals.company_id IS NOT NULL OR deals.contact_id IS NOT NULL)
		ORDER BY deals.id ASC
	`, businessId).Scan(&rows).Error; err != nil {
		return nil, err
	}

	var issues []EntityAuditIssue
	for _, row := range rows {
		var issue EntityAuditIssueType
		switch {
		case row.CompanyId == nil:
			issue = AuditIssueMissingCompany
		case row.ContactId == nil:
			issue = AuditIssueMissingContact
		case row.ContactCompanyId == nil || *row.ContactCompanyId != *row.CompanyId:
			issue = AuditIssueContactCompanyMismatch
		default:
			continue
		}

		issues = append(issues, EntityAuditIssue{
			DealId:           row.DealId,
			Issue:            issue,
			CompanyId:        row.CompanyId,
			ContactId:        row.ContactId,
			ContactCompanyId: row.ContactCompanyId,
		})
		_ = db.WithContext(ctx).Create(&EntityAuditReport{
			BusinessId:       businessId,
			Issue:            issue,
			DealId:           row.DealId,
			CompanyId:        row.CompanyId,
			ContactId:        row.ContactId,
			ContactCompanyId: row.ContactCompanyId,
			Details:          auditIssueDetails(issue, row.CompanyId, row.ContactId, row.ContactCompanyId),
			CorrelationId:    cid,
			CreatedAt:        now,
		}).Error
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"module":         "entityAudit",
			"business_id":    businessId,
			"violations":     len(issues),
			"correlation_id": cid,
		}).Info("entity audit completed")
	}
	return issues, nil
}

func auditIssueDetails(issue EntityAuditIssueType, companyId, contactId, contactCompanyId *int) string {
	switch issue {
	case AuditIssueMissingCompany:
		return fmt.Sprintf("deal has contact_id=%s but no company_id", formatIntPtr(contactId))
	case AuditIssueMissingContact:
		return fmt.Sprintf("deal has company_id=%s but no contact_id", formatIntPtr(companyId))
	default:
		return fmt.Sprintf("contact %s belongs to company %s, deal company is %s",
			formatIntPtr(contactId), formatIntPtr(contactCompanyId), formatIntPtr(companyId))
	}
}
