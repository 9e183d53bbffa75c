package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidTokenStatusTransition = errors.New("core: invalid token status transition")
	ErrInvalidConsentScope          = errors.New("core: invalid consent scope")
	ErrStatusConflict               = errors.New("core: token status changed concurrently")
	ErrTokenNotFound                = errors.New("core: token not found")
)

// MaxConsentPeriodDays is the regulatory ceiling for a consent's lifetime.
const MaxConsentPeriodDays = 90

type TokenStatus string

const (
	TokenStatusUnconfirmed TokenStatus = "UNCONFIRMED"
	TokenStatusConfirmed   TokenStatus = "CONFIRMED"
	TokenStatusRevoked     TokenStatus = "REVOKED"
	TokenStatusExpired     TokenStatus = "EXPIRED"
)

func (s TokenStatus) Terminal() bool {
	return s == TokenStatusRevoked || s == TokenStatusExpired
}

type ScopeKind string

const (
	ScopeAllAccounts ScopeKind = "all_accounts"
	ScopeAccounts    ScopeKind = "accounts"
)

// Consent is the access scope a TPP holds over a user's accounts. A nil
// consent on a Token means account selection was deferred to the user's
// interaction with the authorization page.
type Consent struct {
	Scope      ScopeKind
	Accounts   []string
	ValidUntil time.Time
}

func (c *Consent) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Scope {
	case ScopeAllAccounts:
		return nil
	case ScopeAccounts:
		if len(c.Accounts) == 0 {
			return fmt.Errorf("%w: explicit scope requires at least one account", ErrInvalidConsentScope)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidConsentScope, c.Scope)
	}
}

// AllowsAccount reports whether the given account identifier is covered by
// this consent. An all-accounts scope matches everything.
func (c *Consent) AllowsAccount(id string) bool {
	if c == nil {
		return false
	}
	if c.Scope == ScopeAllAccounts {
		return true
	}
	id = strings.TrimSpace(id)
	for _, account := range c.Accounts {
		if strings.TrimSpace(account) == id {
			return true
		}
	}
	return false
}

// Token is one authorization session and, once confirmed, one access grant.
type Token struct {
	ID                string
	UserID            string
	SessionSecret     string
	AccessToken       string
	ProviderCode      string
	TPPAppName        string
	AuthorizationType string
	Consent           *Consent
	Status            TokenStatus
	TokenExpiresAt    time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TransitionTo moves the token through its lifecycle. The access token is
// present exactly while the token is CONFIRMED, so leaving that state clears
// it.
func (t *Token) TransitionTo(status TokenStatus, now time.Time) error {
	if t == nil {
		return nil
	}
	if t.Status == status {
		t.UpdatedAt = now
		return nil
	}
	if !tokenTransitionAllowed(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTokenStatusTransition, t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = now
	if status != TokenStatusConfirmed {
		t.AccessToken = ""
	}
	return nil
}

func tokenTransitionAllowed(current, next TokenStatus) bool {
	allowed := map[TokenStatus]map[TokenStatus]struct{}{
		TokenStatusUnconfirmed: {
			TokenStatusConfirmed: {},
			TokenStatusRevoked:   {},
			TokenStatusExpired:   {},
		},
		TokenStatusConfirmed: {
			TokenStatusRevoked: {},
			TokenStatusExpired: {},
		},
		TokenStatusRevoked: {},
		TokenStatusExpired: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// ExpiredAt reports whether the token's expiry instant has passed.
func (t *Token) ExpiredAt(now time.Time) bool {
	if t == nil || t.TokenExpiresAt.IsZero() {
		return false
	}
	return now.After(t.TokenExpiresAt)
}

type AuthorizationFlow string

const (
	// FlowRedirect sends the user to a provider-hosted authorization page.
	FlowRedirect AuthorizationFlow = "redirect"
	// FlowEmbedded collects credentials through the hub; the provider reports
	// the decision later through its own channel.
	FlowEmbedded AuthorizationFlow = "embedded"
)

// AuthorizationType is one authorization mechanism a provider advertises,
// e.g. "oauth" (redirect) or "login_password_sms" (embedded).
type AuthorizationType struct {
	Code string
	Flow AuthorizationFlow
}

type AccountBalance struct {
	Amount   string
	Currency string
	Type     string
}

type Account struct {
	ID           string
	IBAN         string
	Name         string
	CurrencyCode string
	Balances     []AccountBalance
}

// Balance returns the account balance of the given type, e.g. "openingBooked".
func (a Account) Balance(balanceType string) (AccountBalance, bool) {
	for _, balance := range a.Balances {
		if balance.Type == balanceType {
			return balance, true
		}
	}
	return AccountBalance{}, false
}

// Amount is a monetary value on the wire; Value stays a string until the
// funds engine parses it so malformed input can be reported by attribute.
type Amount struct {
	Value    string
	Currency string
}

// ExchangeRate expresses how many EUR one unit of Currency is worth.
type ExchangeRate struct {
	Currency  string
	RateToEUR float64
}

type Transaction struct {
	ID        string
	AccountID string
	Amount    Amount
	BookedAt  time.Time
	Details   string
}
