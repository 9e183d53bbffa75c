package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// StartAuthorizationRequest is a token-creation request from a TPP, relayed
// by the compliance hub. All string fields are required.
type StartAuthorizationRequest struct {
	ProviderCode      string
	TPPAppName        string
	AuthorizationType string
	RedirectURL       string
	SessionSecret     string
	Access            AccessRequest
	ValidUntil        *time.Time
}

// AccessRequest is the consent scope a TPP asks for. AllAccounts defers the
// account selection to the user's authorization step; a preselected scope or
// an explicit account list is granted up front and stored on the token.
type AccessRequest struct {
	AllAccounts bool
	Scope       ScopeKind
	Accounts    []string
}

func (a AccessRequest) Empty() bool {
	return !a.AllAccounts && a.Scope == "" && len(a.Accounts) == 0
}

// Deferred reports whether the user still has to pick accounts on the
// provider's authorization page.
func (a AccessRequest) Deferred() bool {
	return a.AllAccounts && a.Scope == "" && len(a.Accounts) == 0
}

// ConfirmTokenRequest is the provider's decision after the user completed
// the authorization step. Accounts carries the user's selection for flows
// where consent scoping was deferred.
type ConfirmTokenRequest struct {
	ProviderCode  string
	SessionSecret string
	UserID        string
	Accounts      []string
	ValidUntil    *time.Time
}

// AccountReference identifies a debtor account by IBAN and currency.
type AccountReference struct {
	IBAN         string
	CurrencyCode string
}

// FundsConfirmationRequest asks whether the debtor account identified by
// IBAN and currency can cover Amount.
type FundsConfirmationRequest struct {
	Account AccountReference
	Amount  Amount
}

// CreatePaymentRequest carries the payment fields the orchestrator forwards
// to the provider adapter.
type CreatePaymentRequest struct {
	ProviderCode  string
	SessionSecret string
	CreditorIBAN  string
	CreditorName  string
	DebtorIBAN    string
	Amount        Amount
	Description   string
	ExtraData     map[string]string
}

// ProviderService is the bank adapter. The core calls it, never implements
// it.
type ProviderService interface {
	GetAuthorizationTypes(ctx context.Context) ([]AuthorizationType, error)
	GetAccountInformationAuthorizationPageURL(ctx context.Context, sessionSecret string, userConsentRequired bool) (string, error)
	GetExchangeRates(ctx context.Context) ([]ExchangeRate, error)
	GetAccountsOfUser(ctx context.Context, userID string) ([]Account, error)
	GetTransactionsOfAccount(ctx context.Context, userID, accountID string, from, to time.Time) ([]Transaction, error)
	CreatePayment(ctx context.Context, creditorIBAN, creditorName, debtorIBAN string, amount Amount, description string, extra map[string]string) (string, error)
	GetPaymentAuthorizationPageURL(ctx context.Context, paymentID string) (string, error)
}

// Registry resolves provider adapters by provider code.
type Registry interface {
	Register(code string, provider ProviderService) error
	Get(code string) (ProviderService, bool)
	List() []string
}

// TokenStore is the persistence port for tokens. SaveCAS and UpdateStatusCAS
// must only apply the write when the stored status still equals expected
// (compare-and-swap or row-level locking in the backing store), so that
// concurrent confirm/revoke attempts for the same session cannot interleave.
// Both return ErrStatusConflict when the guard fails.
type TokenStore interface {
	Create(ctx context.Context, token Token) (Token, error)
	FindBySessionSecret(ctx context.Context, sessionSecret string) (Token, error)
	FindByAccessToken(ctx context.Context, accessToken string) (Token, error)
	SaveCAS(ctx context.Context, token Token, expected TokenStatus) (Token, error)
	UpdateStatusCAS(ctx context.Context, id string, expected, next TokenStatus) (Token, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]Token, error)
}

// CallbackDispatcher notifies the hub of a session's outcome. Delivery is
// fire-and-report: implementations retry transport failures and surface
// exhaustion as a logged warning, never as an error to the caller's flow.
type CallbackDispatcher interface {
	SendUpdateCallback(ctx context.Context, sessionSecret string, payload SessionUpdatePayload)
	SendSuccessCallback(ctx context.Context, sessionSecret string, payload SessionSuccessPayload)
	SendFailCallback(ctx context.Context, sessionSecret string, cause error)
}

// SessionUpdatePayload tells the hub to redirect the user.
type SessionUpdatePayload struct {
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
}

// SessionSuccessPayload delivers the issued access token to the hub.
type SessionSuccessPayload struct {
	Status      string `json:"status"`
	AccessToken string `json:"access_token"`
}

// SignatureService signs outgoing hub messages and verifies incoming ones.
// Key material is loaded once at startup and immutable afterwards.
type SignatureService interface {
	Sign(method, path string, body []byte) (string, error)
	Verify(method, path string, body []byte, signature string) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
