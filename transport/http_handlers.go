package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-psd2-connector/core"
	"github.com/goliatone/go-psd2-connector/ratelimit"
)

const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the hub-facing HTTP surface. Incoming requests carry a
// Signature header produced with the hub's private key; when a verifier is
// configured, unverifiable requests are rejected before any work happens.
type Handler struct {
	service  *core.Service
	verifier core.SignatureService
	quota    *ratelimit.DailyQuotaPolicy
	logger   core.Logger
}

type HandlerOption func(*Handler)

func WithSignatureVerifier(verifier core.SignatureService) HandlerOption {
	return func(h *Handler) {
		h.verifier = verifier
	}
}

// WithUnattendedQuota throttles unattended data endpoints (funds
// confirmation) per access token and day.
func WithUnattendedQuota(quota *ratelimit.DailyQuotaPolicy) HandlerOption {
	return func(h *Handler) {
		h.quota = quota
	}
}

func WithLogger(logger core.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

func NewHandler(service *core.Service, opts ...HandlerOption) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("transport: connector service is required")
	}
	handler := &Handler{service: service}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	handler.logger = glog.Ensure(handler.logger)
	return handler, nil
}

// Router wires the connector endpoints onto a fresh mux.
func (h *Handler) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/connector/v2/tokens", h.handleCreateToken)
	mux.HandleFunc("POST /api/connector/v2/tokens/confirm", h.handleConfirmToken)
	mux.HandleFunc("POST /api/connector/v2/tokens/reject", h.handleRejectToken)
	mux.HandleFunc("POST /api/connector/v2/tokens/revoke", h.handleRevokeToken)
	mux.HandleFunc("POST /api/connector/v2/funds_confirmations", h.handleConfirmFunds)
	mux.HandleFunc("POST /api/connector/v2/payments", h.handleCreatePayment)
	return mux
}

type accessPayload struct {
	AllAccounts bool     `json:"all_accounts"`
	Scope       string   `json:"scope"`
	Accounts    []string `json:"accounts"`
}

type createTokenPayload struct {
	ProviderCode      string        `json:"provider_code"`
	AppName           string        `json:"app_name"`
	AuthorizationType string        `json:"authorization_type"`
	RedirectURL       string        `json:"redirect_url"`
	SessionSecret     string        `json:"session_secret"`
	Access            accessPayload `json:"access"`
	ValidUntil        *time.Time    `json:"valid_until"`
}

func (h *Handler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	payload := createTokenPayload{}
	if !h.readRequest(w, r, &payload) {
		return
	}
	err := h.service.StartAuthorization(r.Context(), core.StartAuthorizationRequest{
		ProviderCode:      payload.ProviderCode,
		TPPAppName:        payload.AppName,
		AuthorizationType: payload.AuthorizationType,
		RedirectURL:       payload.RedirectURL,
		SessionSecret:     payload.SessionSecret,
		Access: core.AccessRequest{
			AllAccounts: payload.Access.AllAccounts,
			Scope:       core.ScopeKind(payload.Access.Scope),
			Accounts:    payload.Access.Accounts,
		},
		ValidUntil: payload.ValidUntil,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	// The outcome arrives at the hub through session callbacks.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}

type confirmTokenPayload struct {
	ProviderCode  string     `json:"provider_code"`
	SessionSecret string     `json:"session_secret"`
	UserID        string     `json:"user_id"`
	Accounts      []string   `json:"accounts"`
	ValidUntil    *time.Time `json:"valid_until"`
}

type tokenResponse struct {
	Status         string     `json:"status"`
	AccessToken    string     `json:"access_token,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

func (h *Handler) handleConfirmToken(w http.ResponseWriter, r *http.Request) {
	payload := confirmTokenPayload{}
	if !h.readRequest(w, r, &payload) {
		return
	}
	token, err := h.service.ConfirmToken(r.Context(), core.ConfirmTokenRequest{
		ProviderCode:  payload.ProviderCode,
		SessionSecret: payload.SessionSecret,
		UserID:        payload.UserID,
		Accounts:      payload.Accounts,
		ValidUntil:    payload.ValidUntil,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(token))
}

type sessionPayload struct {
	SessionSecret string `json:"session_secret"`
}

func (h *Handler) handleRejectToken(w http.ResponseWriter, r *http.Request) {
	payload := sessionPayload{}
	if !h.readRequest(w, r, &payload) {
		return
	}
	token, err := h.service.RejectToken(r.Context(), payload.SessionSecret)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(token))
}

type revokeTokenPayload struct {
	SessionSecret string `json:"session_secret"`
	AccessToken   string `json:"access_token"`
}

func (h *Handler) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	payload := revokeTokenPayload{}
	if !h.readRequest(w, r, &payload) {
		return
	}
	var token core.Token
	var err error
	switch {
	case strings.TrimSpace(payload.AccessToken) != "":
		token, err = h.service.RevokeByAccessToken(r.Context(), payload.AccessToken)
	case strings.TrimSpace(payload.SessionSecret) != "":
		token, err = h.service.RevokeBySessionSecret(r.Context(), payload.SessionSecret)
	default:
		err = core.NewInvalidAttributeValueError("session_secret")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(token))
}

type fundsConfirmationPayload struct {
	AccessToken string `json:"access_token"`
	Account     struct {
		IBAN     string `json:"iban"`
		Currency string `json:"currency"`
	} `json:"account"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"instructed_amount"`
}

func (h *Handler) handleConfirmFunds(w http.ResponseWriter, r *http.Request) {
	payload := fundsConfirmationPayload{}
	if !h.readRequest(w, r, &payload) {
		return
	}
	if h.quota != nil {
		if err := h.quota.Allow(r.Context(), payload.AccessToken); err != nil {
			writeError(w, err)
			return
		}
	}
	confirmed, err := h.service.ConfirmFunds(r.Context(), payload.AccessToken, core.FundsConfirmationRequest{
		Account: core.AccountReference{
			IBAN:         payload.Account.IBAN,
			CurrencyCode: payload.Account.Currency,
		},
		Amount: core.Amount{
			Value:    payload.Amount.Value,
			Currency: payload.Amount.Currency,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"funds_available": confirmed})
}

type createPaymentPayload struct {
	ProviderCode  string            `json:"provider_code"`
	SessionSecret string            `json:"session_secret"`
	CreditorIBAN  string            `json:"creditor_iban"`
	CreditorName  string            `json:"creditor_name"`
	DebtorIBAN    string            `json:"debtor_iban"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	Description   string            `json:"description"`
	ExtraData     map[string]string `json:"extra_data"`
}

func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	payload := createPaymentPayload{}
	if !h.readRequest(w, r, &payload) {
		return
	}
	err := h.service.StartPaymentAuthorization(r.Context(), core.CreatePaymentRequest{
		ProviderCode:  payload.ProviderCode,
		SessionSecret: payload.SessionSecret,
		CreditorIBAN:  payload.CreditorIBAN,
		CreditorName:  payload.CreditorName,
		DebtorIBAN:    payload.DebtorIBAN,
		Amount:        core.Amount{Value: payload.Amount, Currency: payload.Currency},
		Description:   payload.Description,
		ExtraData:     payload.ExtraData,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}

// readRequest reads the body, checks the signature, and decodes JSON. It
// writes the error response itself and reports whether the caller should
// proceed.
func (h *Handler) readRequest(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		writeError(w, core.NewInvalidAttributeValueError("body"))
		return false
	}
	if int64(len(body)) > maxRequestBodyBytes {
		writeError(w, core.NewInvalidAttributeValueError("body"))
		return false
	}
	if h.verifier != nil {
		signature := r.Header.Get("Signature")
		if verifyErr := h.verifier.Verify(r.Method, r.URL.Path, body, signature); verifyErr != nil {
			h.logger.Error("request signature rejected",
				"path", r.URL.Path,
				"error", verifyErr.Error(),
			)
			writeError(w, core.NewInvalidSignatureError(verifyErr))
			return false
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeError(w, core.NewInvalidAttributeValueError("body"))
		return false
	}
	return true
}

func newTokenResponse(token core.Token) tokenResponse {
	response := tokenResponse{Status: string(token.Status)}
	if token.AccessToken != "" {
		response.AccessToken = token.AccessToken
	}
	if !token.TokenExpiresAt.IsZero() {
		expiresAt := token.TokenExpiresAt
		response.TokenExpiresAt = &expiresAt
	}
	return response
}
