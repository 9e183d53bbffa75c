package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-psd2-connector/core"
	"github.com/goliatone/go-psd2-connector/ratelimit"
)

type memoryStore struct {
	mu     sync.Mutex
	tokens map[string]core.Token
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tokens: map[string]core.Token{}}
}

func (s *memoryStore) Create(_ context.Context, token core.Token) (core.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ID] = token
	return token, nil
}

func (s *memoryStore) FindBySessionSecret(_ context.Context, sessionSecret string) (core.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.SessionSecret == sessionSecret {
			return token, nil
		}
	}
	return core.Token{}, core.ErrTokenNotFound
}

func (s *memoryStore) FindByAccessToken(_ context.Context, accessToken string) (core.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.AccessToken != "" && token.AccessToken == accessToken {
			return token, nil
		}
	}
	return core.Token{}, core.ErrTokenNotFound
}

func (s *memoryStore) SaveCAS(_ context.Context, token core.Token, expected core.TokenStatus) (core.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tokens[token.ID]
	if !ok {
		return core.Token{}, core.ErrTokenNotFound
	}
	if current.Status != expected {
		return core.Token{}, core.ErrStatusConflict
	}
	s.tokens[token.ID] = token
	return token, nil
}

func (s *memoryStore) UpdateStatusCAS(_ context.Context, id string, expected, next core.TokenStatus) (core.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tokens[id]
	if !ok {
		return core.Token{}, core.ErrTokenNotFound
	}
	if current.Status != expected {
		return core.Token{}, core.ErrStatusConflict
	}
	if err := current.TransitionTo(next, time.Now().UTC()); err != nil {
		return core.Token{}, err
	}
	s.tokens[id] = current
	return current, nil
}

func (s *memoryStore) ListExpired(_ context.Context, before time.Time, limit int) ([]core.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Token{}
	for _, token := range s.tokens {
		if token.Status.Terminal() || !token.TokenExpiresAt.Before(before) {
			continue
		}
		out = append(out, token)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type recordingDispatcher struct {
	mu        sync.Mutex
	updates   []core.SessionUpdatePayload
	successes []core.SessionSuccessPayload
	failures  []error
}

func (d *recordingDispatcher) SendUpdateCallback(_ context.Context, _ string, payload core.SessionUpdatePayload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, payload)
}

func (d *recordingDispatcher) SendSuccessCallback(_ context.Context, _ string, payload core.SessionSuccessPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.successes = append(d.successes, payload)
}

func (d *recordingDispatcher) SendFailCallback(_ context.Context, _ string, cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, cause)
}

func (d *recordingDispatcher) failureCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.failures)
}

type bankStub struct {
	rates    []core.ExchangeRate
	accounts []core.Account
}

func (p *bankStub) GetAuthorizationTypes(context.Context) ([]core.AuthorizationType, error) {
	return []core.AuthorizationType{{Code: "oauth", Flow: core.FlowRedirect}}, nil
}

func (p *bankStub) GetAccountInformationAuthorizationPageURL(_ context.Context, sessionSecret string, _ bool) (string, error) {
	return "https://bank.example/authorize?session=" + sessionSecret, nil
}

func (p *bankStub) GetExchangeRates(context.Context) ([]core.ExchangeRate, error) {
	return p.rates, nil
}

func (p *bankStub) GetAccountsOfUser(context.Context, string) ([]core.Account, error) {
	return p.accounts, nil
}

func (p *bankStub) GetTransactionsOfAccount(context.Context, string, string, time.Time, time.Time) ([]core.Transaction, error) {
	return nil, nil
}

func (p *bankStub) CreatePayment(context.Context, string, string, string, core.Amount, string, map[string]string) (string, error) {
	return "payment-1", nil
}

func (p *bankStub) GetPaymentAuthorizationPageURL(_ context.Context, paymentID string) (string, error) {
	return "https://bank.example/payments/" + paymentID, nil
}

type stubVerifier struct {
	want string
}

func (v *stubVerifier) Sign(string, string, []byte) (string, error) {
	return v.want, nil
}

func (v *stubVerifier) Verify(_, _ string, _ []byte, signature string) error {
	if signature != v.want {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

type handlerHarness struct {
	handler    *Handler
	service    *core.Service
	store      *memoryStore
	dispatcher *recordingDispatcher
}

func newHandlerHarness(t *testing.T, opts ...HandlerOption) *handlerHarness {
	t.Helper()

	store := newMemoryStore()
	dispatcher := &recordingDispatcher{}
	provider := &bankStub{
		rates: []core.ExchangeRate{
			{Currency: "EUR", RateToEUR: 1.0},
			{Currency: "USD", RateToEUR: 0.90},
		},
		accounts: []core.Account{
			{
				ID:           "acc-1",
				IBAN:         "DE02100100109307118603",
				CurrencyCode: "EUR",
				Balances:     []core.AccountBalance{{Type: "openingBooked", Amount: "500.00", Currency: "EUR"}},
			},
		},
	}

	service, err := core.NewService(core.DefaultConfig(),
		core.WithTokenStore(store),
		core.WithCallbackDispatcher(dispatcher),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := service.Registry().Register("demobank", provider); err != nil {
		t.Fatalf("register provider: %v", err)
	}

	handler, err := NewHandler(service, opts...)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &handlerHarness{
		handler:    handler,
		service:    service,
		store:      store,
		dispatcher: dispatcher,
	}
}

func (h *handlerHarness) do(t *testing.T, method, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	h.handler.Router().ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func createTokenBody(sessionSecret string) map[string]any {
	return map[string]any{
		"provider_code":      "demobank",
		"app_name":           "Spendwise",
		"authorization_type": "oauth",
		"redirect_url":       "https://tpp.example/return",
		"session_secret":     sessionSecret,
		"access":             map[string]any{"all_accounts": true},
	}
}

func TestHandler_CreateTokenAccepted(t *testing.T) {
	harness := newHandlerHarness(t)

	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/tokens", createTokenBody("session-1"), nil)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	token, err := harness.store.FindBySessionSecret(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("token not persisted: %v", err)
	}
	if token.Status != core.TokenStatusUnconfirmed {
		t.Fatalf("expected UNCONFIRMED, got %q", token.Status)
	}
}

func TestHandler_CreateTokenValidationError(t *testing.T) {
	harness := newHandlerHarness(t)

	body := createTokenBody("session-1")
	body["provider_code"] = ""
	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/tokens", body, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}

	envelope := ErrorResponse{}
	decodeBody(t, recorder, &envelope)
	if envelope.ErrorClass != core.ErrorClassInvalidAttributeValue {
		t.Fatalf("expected InvalidAttributeValue, got %q", envelope.ErrorClass)
	}
	if envelope.ErrorMessage == "" {
		t.Fatalf("error message must not be empty")
	}
	// Synchronous rejections never generate a fail callback.
	if harness.dispatcher.failureCount() != 0 {
		t.Fatalf("unexpected fail callback")
	}
}

func TestHandler_ConfirmTokenReturnsAccessToken(t *testing.T) {
	harness := newHandlerHarness(t)

	if code := harness.do(t, http.MethodPost, "/api/connector/v2/tokens", createTokenBody("session-1"), nil).Code; code != http.StatusAccepted {
		t.Fatalf("create token failed with %d", code)
	}

	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/tokens/confirm", map[string]any{
		"provider_code":  "demobank",
		"session_secret": "session-1",
		"user_id":        "user-7",
		"accounts":       []string{"acc-1"},
	}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	response := tokenResponse{}
	decodeBody(t, recorder, &response)
	if response.Status != string(core.TokenStatusConfirmed) {
		t.Fatalf("expected CONFIRMED, got %q", response.Status)
	}
	if response.AccessToken == "" {
		t.Fatalf("confirmation must return the access token")
	}
	if response.TokenExpiresAt == nil {
		t.Fatalf("confirmation must return the expiry")
	}
}

func TestHandler_ConfirmUnknownSessionIsNotFound(t *testing.T) {
	harness := newHandlerHarness(t)

	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/tokens/confirm", map[string]any{
		"provider_code":  "demobank",
		"session_secret": "missing",
		"user_id":        "user-7",
	}, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	envelope := ErrorResponse{}
	decodeBody(t, recorder, &envelope)
	if envelope.ErrorClass != core.ErrorClassTokenNotFound {
		t.Fatalf("expected TokenNotFound, got %q", envelope.ErrorClass)
	}
}

func TestHandler_RejectTokenRevokes(t *testing.T) {
	harness := newHandlerHarness(t)
	harness.do(t, http.MethodPost, "/api/connector/v2/tokens", createTokenBody("session-1"), nil)

	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/tokens/reject", map[string]any{
		"session_secret": "session-1",
	}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	response := tokenResponse{}
	decodeBody(t, recorder, &response)
	if response.Status != string(core.TokenStatusRevoked) {
		t.Fatalf("expected REVOKED, got %q", response.Status)
	}
	if harness.dispatcher.failureCount() != 1 {
		t.Fatalf("rejection must notify the hub")
	}
}

func TestHandler_RevokeByAccessToken(t *testing.T) {
	harness := newHandlerHarness(t)
	harness.do(t, http.MethodPost, "/api/connector/v2/tokens", createTokenBody("session-1"), nil)

	confirm := harness.do(t, http.MethodPost, "/api/connector/v2/tokens/confirm", map[string]any{
		"provider_code":  "demobank",
		"session_secret": "session-1",
		"user_id":        "user-7",
	}, nil)
	confirmed := tokenResponse{}
	decodeBody(t, confirm, &confirmed)

	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/tokens/revoke", map[string]any{
		"access_token": confirmed.AccessToken,
	}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	response := tokenResponse{}
	decodeBody(t, recorder, &response)
	if response.Status != string(core.TokenStatusRevoked) {
		t.Fatalf("expected REVOKED, got %q", response.Status)
	}
	if response.AccessToken != "" {
		t.Fatalf("revoked token must not echo an access token")
	}
}

func TestHandler_RevokeWithoutIdentifiers(t *testing.T) {
	harness := newHandlerHarness(t)

	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/tokens/revoke", map[string]any{}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestHandler_ConfirmFunds(t *testing.T) {
	harness := newHandlerHarness(t)
	harness.do(t, http.MethodPost, "/api/connector/v2/tokens", createTokenBody("session-1"), nil)
	confirm := harness.do(t, http.MethodPost, "/api/connector/v2/tokens/confirm", map[string]any{
		"provider_code":  "demobank",
		"session_secret": "session-1",
		"user_id":        "user-7",
	}, nil)
	confirmed := tokenResponse{}
	decodeBody(t, confirm, &confirmed)

	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/funds_confirmations", map[string]any{
		"access_token": confirmed.AccessToken,
		"account": map[string]any{
			"iban":     "DE02100100109307118603",
			"currency": "EUR",
		},
		"instructed_amount": map[string]any{
			"value":    "100.00",
			"currency": "EUR",
		},
	}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	response := map[string]bool{}
	decodeBody(t, recorder, &response)
	if !response["funds_available"] {
		t.Fatalf("expected funds to be available")
	}
}

func TestHandler_ConfirmFundsInactiveToken(t *testing.T) {
	harness := newHandlerHarness(t)

	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/funds_confirmations", map[string]any{
		"access_token": "stale",
		"account": map[string]any{
			"iban":     "DE02100100109307118603",
			"currency": "EUR",
		},
		"instructed_amount": map[string]any{
			"value":    "1.00",
			"currency": "EUR",
		},
	}, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	envelope := ErrorResponse{}
	decodeBody(t, recorder, &envelope)
	if envelope.ErrorClass != core.ErrorClassTokenNotFound {
		t.Fatalf("expected TokenNotFound, got %q", envelope.ErrorClass)
	}
}

func TestHandler_ConfirmFundsUnattendedQuota(t *testing.T) {
	quota, err := ratelimit.NewDailyQuotaPolicy(ratelimit.NewMemoryStateStore(), ratelimit.WithDailyLimit(1))
	if err != nil {
		t.Fatalf("new quota policy: %v", err)
	}
	harness := newHandlerHarness(t, WithUnattendedQuota(quota))
	harness.do(t, http.MethodPost, "/api/connector/v2/tokens", createTokenBody("session-1"), nil)
	confirm := harness.do(t, http.MethodPost, "/api/connector/v2/tokens/confirm", map[string]any{
		"provider_code":  "demobank",
		"session_secret": "session-1",
		"user_id":        "user-7",
	}, nil)
	confirmed := tokenResponse{}
	decodeBody(t, confirm, &confirmed)

	body := map[string]any{
		"access_token": confirmed.AccessToken,
		"account": map[string]any{
			"iban":     "DE02100100109307118603",
			"currency": "EUR",
		},
		"instructed_amount": map[string]any{
			"value":    "1.00",
			"currency": "EUR",
		},
	}
	if code := harness.do(t, http.MethodPost, "/api/connector/v2/funds_confirmations", body, nil).Code; code != http.StatusOK {
		t.Fatalf("first unattended access must pass, got %d", code)
	}

	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/funds_confirmations", body, nil)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}
	envelope := ErrorResponse{}
	decodeBody(t, recorder, &envelope)
	if envelope.ErrorClass != core.ErrorClassRateLimited {
		t.Fatalf("expected RateLimited, got %q", envelope.ErrorClass)
	}
}

func TestHandler_CreatePaymentAccepted(t *testing.T) {
	harness := newHandlerHarness(t)

	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/payments", map[string]any{
		"provider_code":  "demobank",
		"session_secret": "pay-session-1",
		"creditor_iban":  "NL91ABNA0417164300",
		"creditor_name":  "ACME BV",
		"debtor_iban":    "DE02100100109307118603",
		"amount":         "25.00",
		"currency":       "EUR",
		"description":    "invoice 42",
	}, nil)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestHandler_SignatureVerification(t *testing.T) {
	verifier := &stubVerifier{want: "valid-signature"}
	harness := newHandlerHarness(t, WithSignatureVerifier(verifier))

	recorder := harness.do(t, http.MethodPost, "/api/connector/v2/tokens", createTokenBody("session-1"), map[string]string{
		"Signature": "forged",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	envelope := ErrorResponse{}
	decodeBody(t, recorder, &envelope)
	if envelope.ErrorClass != core.ErrorClassInvalidSignature {
		t.Fatalf("expected InvalidSignature, got %q", envelope.ErrorClass)
	}

	recorder = harness.do(t, http.MethodPost, "/api/connector/v2/tokens", createTokenBody("session-2"), map[string]string{
		"Signature": "valid-signature",
	})
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with valid signature, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestHandler_MalformedJSON(t *testing.T) {
	harness := newHandlerHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/connector/v2/tokens", bytes.NewReader([]byte("{not-json")))
	recorder := httptest.NewRecorder()
	harness.handler.Router().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	envelope := ErrorResponse{}
	decodeBody(t, recorder, &envelope)
	if envelope.ErrorClass != core.ErrorClassInvalidAttributeValue {
		t.Fatalf("expected InvalidAttributeValue, got %q", envelope.ErrorClass)
	}
}

func TestNewHandler_RequiresService(t *testing.T) {
	if _, err := NewHandler(nil); err == nil {
		t.Fatalf("expected error for nil service")
	}
}
