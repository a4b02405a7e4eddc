package workflow

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// FindOrCreateCompany resolves the company half of a deal. The lock keyed
// by the normalized domain (or name) serializes concurrent creations of
// the same new company; the unique index on companies(business_id, domain)
// is the hard backstop, with a refetch on duplicate-key.
func FindOrCreateCompany(ctx context.Context, tx *gorm.DB, businessId string, ownerUserId int, identity NormalizedIdentity, runId string) (*models.Company, error) {
	company, err := MatchCompany(ctx, tx, businessId, ownerUserId, identity)
	if err != nil {
		return nil, err
	}
	if company != nil {
		return company, nil
	}

	name := identity.CompanyNameHint
	if name == "" {
		if identity.Domain == "" {
			// Consumer-domain email and no name hint: there is no company
			// identity to create from.
			return nil, &InputError{
				Reason: models.ReviewReasonFuzzyMatchUncertainty,
				Msg:    "consumer email domain and no company name hint",
			}
		}
		name = titleCasedDomainLabel(identity.Domain)
	}

	lockKey := identity.Domain
	if lockKey == "" {
		lockKey = "name:" + strings.ToLower(name)
	}
	release, err := utils.EntityCreateLock(ctx, businessId, "companyCreate", lockKey, "workflow", "FindOrCreateCompany")
	if err != nil {
		return nil, &CreationFailureError{Op: "company lock", Err: err}
	}
	defer release()

	// Re-check inside the lock: a concurrent resolution may have created
	// the company while we waited.
	company, err = MatchCompany(ctx, tx, businessId, ownerUserId, identity)
	if err != nil {
		return nil, err
	}
	if company != nil {
		return company, nil
	}

	company = &models.Company{
		BusinessId:      businessId,
		Name:            name,
		Domain:          utils.NilIfEmpty(identity.Domain),
		OwnerUserId:     ownerUserId,
		ResolutionRunId: utils.NilIfEmpty(runId),
	}
	if err := company.Store(tx, ctx); err != nil {
		if isDuplicateKeyErr(err) && identity.Domain != "" {
			// Lost the race despite the lock; the winner's row is the
			// canonical one.
			return models.GetCompanyByDomain(ctx, tx, businessId, identity.Domain)
		}
		return nil, &CreationFailureError{Op: "create company", Err: err}
	}
	return company, nil
}

// FindOrCreateContact resolves the contact half of a deal under an already
// resolved company. A fuzzy name match with no email match is enriched in
// place with the missing email instead of creating a duplicate person.
func FindOrCreateContact(ctx context.Context, tx *gorm.DB, company *models.Company, contactName string, email string, ownerUserId int, runId string, scorer Scorer) (*models.Contact, error) {
	match, err := MatchContact(ctx, tx, company.ID, email, contactName, scorer)
	if err != nil {
		return nil, err
	}
	if match != nil {
		contact := match.Contact
		if match.MatchedByFuzzy && email != "" && contact.Email == nil {
			if err := contact.Update(tx, ctx, map[string]interface{}{
				"email": strings.ToLower(strings.TrimSpace(email)),
			}); err != nil {
				return nil, &CreationFailureError{Op: "enrich contact email", Err: err}
			}
		}
		return contact, nil
	}

	lockKey := strings.ToLower(strings.TrimSpace(email))
	if lockKey == "" {
		lockKey = "name:" + strings.ToLower(strings.TrimSpace(contactName))
	}
	release, err := utils.EntityCreateLock(ctx, company.BusinessId, "contactCreate", lockKey, "workflow", "FindOrCreateContact")
	if err != nil {
		return nil, &CreationFailureError{Op: "contact lock", Err: err}
	}
	defer release()

	existing, err := models.CountContactsByCompany(ctx, tx, company.ID)
	if err != nil {
		return nil, err
	}

	firstName, lastName := SplitContactName(contactName)
	contact := &models.Contact{
		BusinessId: company.BusinessId,
		CompanyId:  company.ID,
		FirstName:  firstName,
		LastName:   lastName,
		Email:      utils.NilIfEmpty(strings.ToLower(strings.TrimSpace(email))),
		// The first contact ever created under a company is its primary.
		IsPrimary:       existing == 0,
		OwnerUserId:     ownerUserId,
		ResolutionRunId: utils.NilIfEmpty(runId),
	}
	if err := contact.Store(tx, ctx); err != nil {
		if isDuplicateKeyErr(err) && email != "" {
			return models.GetContactByEmail(ctx, tx, company.ID, email)
		}
		return nil, &CreationFailureError{Op: "create contact", Err: err}
	}
	return contact, nil
}

// SplitContactName splits a free-text full name on whitespace: first token
// is the first name, everything after it the last name.
func SplitContactName(full string) (firstName string, lastName string) {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// titleCasedDomainLabel derives a display name from a domain's primary
// label: "acme.com" -> "Acme".
func titleCasedDomainLabel(domain string) string {
	label := domain
	if i := strings.Index(domain, "."); i > 0 {
		label = domain[:i]
	}
	runes := []rune(label)
	if len(runes) == 0 {
		return domain
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
