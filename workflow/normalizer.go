package workflow

import (
	"strings"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// consumerEmailDomains are providers whose domain says nothing about the
// sender's employer. A shared consumer domain must never become a company
// identity key, or every gmail.com contact collapses into one company.
// Extend via CONSUMER_EMAIL_DOMAINS.
var consumerEmailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"ymail.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"msn.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"mac.com":        true,
	"aol.com":        true,
	"protonmail.com": true,
	"proton.me":      true,
	"gmx.com":        true,
	"mail.com":       true,
	"zoho.com":       true,
}

// NormalizedIdentity is the comparable identity extracted from a deal's
// free-text fields. Domain is empty when the email is absent, invalid, or
// at a consumer provider; callers then fall back to name-based matching.
type NormalizedIdentity struct {
	Valid           bool
	Email           string
	Domain          string
	CompanyNameHint string
}

// NormalizeIdentity validates the email syntactically and extracts the
// lower-cased domain key. Callers must not attempt matching when Valid is
// false.
func NormalizeIdentity(email string, companyNameHint string) NormalizedIdentity {
	out := NormalizedIdentity{
		CompanyNameHint: strings.TrimSpace(companyNameHint),
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return out
	}
	if err := validate.Var(email, "email"); err != nil {
		return out
	}

	out.Valid = true
	out.Email = email

	at := strings.LastIndex(email, "@")
	domain := strings.TrimSpace(email[at+1:])
	if domain == "" || IsConsumerEmailDomain(domain) {
		// Usable email, unusable company key.
		return out
	}
	out.Domain = domain
	return out
}

func IsConsumerEmailDomain(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if consumerEmailDomains[domain] {
		return true
	}
	for _, extra := range config.ExtraConsumerEmailDomains() {
		if domain == extra {
			return true
		}
	}
	return false
}
