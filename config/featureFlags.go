package config

import (
	"os"
	"strconv"
	"strings"
)

// FuzzyMatchThreshold is the minimum name-similarity score for an automatic
// contact match. Scores below it mean "no match" (create or review).
//
// Set via env:
// - FUZZY_MATCH_THRESHOLD=0.80 (default)
func FuzzyMatchThreshold() float64 {
	raw := strings.TrimSpace(os.Getenv("FUZZY_MATCH_THRESHOLD"))
	if raw == "" {
		return 0.80
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 || v > 1 {
		return 0.80
	}
	return v
}

// ExtraConsumerEmailDomains extends the built-in consumer email provider set.
// Emails at consumer domains never contribute a company identity key.
//
// Set via env:
// - CONSUMER_EMAIL_DOMAINS="gmx.com,proton.me"
func ExtraConsumerEmailDomains() []string {
	raw := os.Getenv("CONSUMER_EMAIL_DOMAINS")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var domains []string
	for _, part := range strings.Split(raw, ",") {
		d := strings.ToLower(strings.TrimSpace(part))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

// ResolutionEventsEnabled gates the transactional-outbox dispatcher that
// publishes deal.resolved events to Pub/Sub.
//
// Set via env:
// - RESOLUTION_EVENTS_ENABLED=true
func ResolutionEventsEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("RESOLUTION_EVENTS_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
