package workflow

import "testing"

func TestNormalizeIdentity_CorporateEmail(t *testing.T) {
	id := NormalizeIdentity("  Jane.Doe@Acme.COM ", "  Acme Corp ")
	if !id.Valid {
		t.Fatal("expected valid identity")
	}
	if id.Email != "jane.doe@acme.com" {
		t.Fatalf("email = %q", id.Email)
	}
	if id.Domain != "acme.com" {
		t.Fatalf("domain = %q", id.Domain)
	}
	if id.CompanyNameHint != "Acme Corp" {
		t.Fatalf("hint = %q", id.CompanyNameHint)
	}
}

func TestNormalizeIdentity_ConsumerDomainYieldsNoCompanyKey(t *testing.T) {
	id := NormalizeIdentity("jane@gmail.com", "")
	if !id.Valid {
		t.Fatal("expected valid identity")
	}
	if id.Email != "jane@gmail.com" {
		t.Fatalf("email = %q", id.Email)
	}
	if id.Domain != "" {
		t.Fatalf("consumer domain must not become a company key, got %q", id.Domain)
	}
}

func TestNormalizeIdentity_InvalidSyntax(t *testing.T) {
	for _, raw := range []string{"not-an-email", "jane@", "@acme.com", "jane doe@acme.com"} {
		id := NormalizeIdentity(raw, "Acme")
		if id.Valid {
			t.Fatalf("expected %q to be invalid", raw)
		}
		if id.Domain != "" {
			t.Fatalf("invalid email must not contribute a domain, got %q", id.Domain)
		}
	}
}

func TestNormalizeIdentity_EmptyEmail(t *testing.T) {
	id := NormalizeIdentity("", "Acme")
	if id.Valid {
		t.Fatal("empty email must not be valid")
	}
	if id.CompanyNameHint != "Acme" {
		t.Fatalf("hint = %q", id.CompanyNameHint)
	}
}

func TestIsConsumerEmailDomain_ExtraDomainsFromEnv(t *testing.T) {
	t.Setenv("CONSUMER_EMAIL_DOMAINS", "freebie.example, Another.Example")

	if !IsConsumerEmailDomain("freebie.example") {
		t.Fatal("env-configured domain not recognized")
	}
	if !IsConsumerEmailDomain("ANOTHER.example") {
		t.Fatal("env-configured domain must match case-insensitively")
	}
	if IsConsumerEmailDomain("acme.com") {
		t.Fatal("acme.com misclassified as consumer domain")
	}
}
