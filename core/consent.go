package core

import (
	"time"
)

// startOfUTCDay floors an instant to 00:00:00 UTC of its calendar day.
func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// computeTokenExpiry turns an optional requested valid-until date into the
// token's absolute expiry instant.
//
// Without a hint the consent runs for the full 90-day ceiling and rounds up
// to the next UTC midnight, i.e. now + 91 days floored to 00:00:00 UTC. An
// explicit date is honored through the end of that day (its following UTC
// midnight), clamped into [today, today + 90 days]; a date already in the
// past is a caller mistake, not something to clamp silently.
func computeTokenExpiry(validUntil *time.Time, now time.Time) (time.Time, error) {
	now = now.UTC()
	if validUntil == nil {
		return startOfUTCDay(now.AddDate(0, 0, MaxConsentPeriodDays+1)), nil
	}

	day := startOfUTCDay(*validUntil)
	today := startOfUTCDay(now)
	if day.Before(today) {
		return time.Time{}, NewInvalidAttributeValueError("valid_until")
	}
	ceiling := startOfUTCDay(now.AddDate(0, 0, MaxConsentPeriodDays))
	if day.After(ceiling) {
		day = ceiling
	}
	return day.AddDate(0, 0, 1), nil
}

// normalizeConsent builds the consent stored on a new token. A deferred
// all-accounts request yields no consent: the user still has to pick
// accounts on the provider's authorization page.
func normalizeConsent(access AccessRequest, expiresAt time.Time) (*Consent, error) {
	if access.Deferred() {
		return nil, nil
	}

	consent := &Consent{ValidUntil: expiresAt}
	switch {
	case len(access.Accounts) > 0:
		consent.Scope = ScopeAccounts
		consent.Accounts = append([]string(nil), access.Accounts...)
	default:
		consent.Scope = ScopeAllAccounts
	}
	if err := consent.Validate(); err != nil {
		return nil, NewInvalidAttributeValueError("access")
	}
	return consent, nil
}

// consentFromSelection builds the consent recorded when the provider reports
// the accounts the user picked during a deferred-consent flow. An empty
// selection means the user granted access to everything.
func consentFromSelection(accounts []string, expiresAt time.Time) *Consent {
	if len(accounts) == 0 {
		return &Consent{Scope: ScopeAllAccounts, ValidUntil: expiresAt}
	}
	return &Consent{
		Scope:      ScopeAccounts,
		Accounts:   append([]string(nil), accounts...),
		ValidUntil: expiresAt,
	}
}
