// Package sandbox is an in-memory bank adapter with canned data. It backs
// integration tests and lets a hub integration be exercised end to end before
// a real core banking connection exists.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-psd2-connector/core"
)

const ProviderCode = "sandbox"

type Config struct {
	AuthorizationPageURL string
	PaymentPageURL       string
	Rates                []core.ExchangeRate
	Accounts             map[string][]core.Account
	Transactions         map[string][]core.Transaction
}

// DefaultConfig returns the canned sandbox dataset: a EUR account holding a
// 100 GBP opening balance, and EUR-pivot rates for USD and GBP.
func DefaultConfig() Config {
	return Config{
		AuthorizationPageURL: "https://sandbox.bank.example/authorize",
		PaymentPageURL:       "https://sandbox.bank.example/payments",
		Rates: []core.ExchangeRate{
			{Currency: "EUR", RateToEUR: 1.0},
			{Currency: "USD", RateToEUR: 0.90},
			{Currency: "GBP", RateToEUR: 1.502},
		},
		Accounts: map[string][]core.Account{
			"user-1": {
				{
					ID:           "account-1",
					IBAN:         "iban",
					Name:         "Current Account",
					CurrencyCode: "EUR",
					Balances: []core.AccountBalance{
						{Type: "openingBooked", Amount: "100.0", Currency: "GBP"},
					},
				},
			},
		},
	}
}

type Provider struct {
	mu       sync.Mutex
	cfg      Config
	payments map[string]core.CreatePaymentRequest
}

func New(cfg Config) *Provider {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.AuthorizationPageURL) == "" {
		cfg.AuthorizationPageURL = defaults.AuthorizationPageURL
	}
	if strings.TrimSpace(cfg.PaymentPageURL) == "" {
		cfg.PaymentPageURL = defaults.PaymentPageURL
	}
	if len(cfg.Rates) == 0 {
		cfg.Rates = defaults.Rates
	}
	if cfg.Accounts == nil {
		cfg.Accounts = defaults.Accounts
	}
	if cfg.Transactions == nil {
		cfg.Transactions = map[string][]core.Transaction{}
	}
	return &Provider{
		cfg:      cfg,
		payments: map[string]core.CreatePaymentRequest{},
	}
}

func (p *Provider) GetAuthorizationTypes(context.Context) ([]core.AuthorizationType, error) {
	return []core.AuthorizationType{
		{Code: "oauth", Flow: core.FlowRedirect},
	}, nil
}

func (p *Provider) GetAccountInformationAuthorizationPageURL(_ context.Context, sessionSecret string, userConsentRequired bool) (string, error) {
	if strings.TrimSpace(sessionSecret) == "" {
		return "", fmt.Errorf("sandbox: session secret is required")
	}
	url := fmt.Sprintf("%s?session_secret=%s", p.cfg.AuthorizationPageURL, sessionSecret)
	if userConsentRequired {
		url += "&user_consent_required=true"
	}
	return url, nil
}

func (p *Provider) GetExchangeRates(context.Context) ([]core.ExchangeRate, error) {
	out := make([]core.ExchangeRate, len(p.cfg.Rates))
	copy(out, p.cfg.Rates)
	return out, nil
}

func (p *Provider) GetAccountsOfUser(_ context.Context, userID string) ([]core.Account, error) {
	accounts, ok := p.cfg.Accounts[userID]
	if !ok {
		return nil, core.NewUserNotFoundError(userID)
	}
	out := make([]core.Account, len(accounts))
	copy(out, accounts)
	return out, nil
}

func (p *Provider) GetTransactionsOfAccount(_ context.Context, userID, accountID string, from, to time.Time) ([]core.Transaction, error) {
	if _, ok := p.cfg.Accounts[userID]; !ok {
		return nil, core.NewUserNotFoundError(userID)
	}
	found := false
	for _, account := range p.cfg.Accounts[userID] {
		if account.ID == accountID {
			found = true
			break
		}
	}
	if !found {
		return nil, core.NewAccountNotFoundError(accountID)
	}

	out := []core.Transaction{}
	for _, tx := range p.cfg.Transactions[accountID] {
		if tx.BookedAt.Before(from) || tx.BookedAt.After(to) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (p *Provider) CreatePayment(_ context.Context, creditorIBAN, creditorName, debtorIBAN string, amount core.Amount, description string, extra map[string]string) (string, error) {
	if strings.TrimSpace(creditorIBAN) == "" {
		return "", core.NewInvalidAttributeValueError("creditor_iban")
	}
	if strings.TrimSpace(amount.Value) == "" || strings.TrimSpace(amount.Currency) == "" {
		return "", core.NewInvalidAttributeValueError("amount")
	}

	paymentID := uuid.NewString()
	p.mu.Lock()
	p.payments[paymentID] = core.CreatePaymentRequest{
		CreditorIBAN: creditorIBAN,
		CreditorName: creditorName,
		DebtorIBAN:   debtorIBAN,
		Amount:       amount,
		Description:  description,
		ExtraData:    extra,
	}
	p.mu.Unlock()
	return paymentID, nil
}

func (p *Provider) GetPaymentAuthorizationPageURL(_ context.Context, paymentID string) (string, error) {
	p.mu.Lock()
	_, ok := p.payments[paymentID]
	p.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("sandbox: payment %q not found", paymentID)
	}
	return fmt.Sprintf("%s/%s/authorize", p.cfg.PaymentPageURL, paymentID), nil
}

// Payment returns a stored payment for test assertions.
func (p *Provider) Payment(paymentID string) (core.CreatePaymentRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payment, ok := p.payments[paymentID]
	return payment, ok
}

var _ core.ProviderService = (*Provider)(nil)
