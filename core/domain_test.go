package core

import (
	"errors"
	"testing"
	"time"
)

func TestTokenTransitionTo_ValidAndInvalid(t *testing.T) {
	now := time.Now().UTC()
	token := Token{Status: TokenStatusUnconfirmed, AccessToken: "at-1"}

	if err := token.TransitionTo(TokenStatusConfirmed, now); err != nil {
		t.Fatalf("expected unconfirmed->confirmed to work: %v", err)
	}
	if token.AccessToken != "at-1" {
		t.Fatalf("confirming must keep the access token")
	}

	if err := token.TransitionTo(TokenStatusRevoked, now); err != nil {
		t.Fatalf("expected confirmed->revoked to work: %v", err)
	}
	if token.AccessToken != "" {
		t.Fatalf("leaving CONFIRMED must clear the access token")
	}

	err := token.TransitionTo(TokenStatusConfirmed, now)
	if !errors.Is(err, ErrInvalidTokenStatusTransition) {
		t.Fatalf("expected invalid transition error, got: %v", err)
	}
	err = token.TransitionTo(TokenStatusExpired, now)
	if !errors.Is(err, ErrInvalidTokenStatusTransition) {
		t.Fatalf("terminal states must not transition, got: %v", err)
	}
}

func TestTokenTransitionTo_SameStatusTouchesUpdatedAt(t *testing.T) {
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	later := created.Add(time.Hour)
	token := Token{Status: TokenStatusConfirmed, AccessToken: "at-1", UpdatedAt: created}

	if err := token.TransitionTo(TokenStatusConfirmed, later); err != nil {
		t.Fatalf("same-status transition must be idempotent: %v", err)
	}
	if token.AccessToken != "at-1" {
		t.Fatalf("idempotent transition must not clear the access token")
	}
	if !token.UpdatedAt.Equal(later) {
		t.Fatalf("expected updated_at bumped to %v, got %v", later, token.UpdatedAt)
	}
}

func TestTokenExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	token := Token{TokenExpiresAt: now}

	if token.ExpiredAt(now) {
		t.Fatalf("token is valid through its expiry instant")
	}
	if !token.ExpiredAt(now.Add(time.Nanosecond)) {
		t.Fatalf("token must be expired after its expiry instant")
	}
	if (&Token{}).ExpiredAt(now) {
		t.Fatalf("zero expiry means no expiry")
	}
}

func TestConsentValidate(t *testing.T) {
	if err := (*Consent)(nil).Validate(); err != nil {
		t.Fatalf("nil consent is valid (deferred scoping): %v", err)
	}
	if err := (&Consent{Scope: ScopeAllAccounts}).Validate(); err != nil {
		t.Fatalf("all-accounts consent is valid: %v", err)
	}
	err := (&Consent{Scope: ScopeAccounts}).Validate()
	if !errors.Is(err, ErrInvalidConsentScope) {
		t.Fatalf("explicit scope without accounts must fail, got: %v", err)
	}
	err = (&Consent{Scope: "everything"}).Validate()
	if !errors.Is(err, ErrInvalidConsentScope) {
		t.Fatalf("unknown scope must fail, got: %v", err)
	}
}

func TestAccountBalanceLookup(t *testing.T) {
	account := Account{Balances: []AccountBalance{
		{Amount: "10", Currency: "EUR", Type: "closingBooked"},
		{Amount: "12", Currency: "EUR", Type: "openingBooked"},
	}}
	balance, ok := account.Balance("openingBooked")
	if !ok || balance.Amount != "12" {
		t.Fatalf("expected the openingBooked balance, got %+v ok=%v", balance, ok)
	}
	if _, ok := account.Balance("interimAvailable"); ok {
		t.Fatalf("missing balance type must not match")
	}
}
