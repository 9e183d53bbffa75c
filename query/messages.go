// Package query exposes the connector's read operations as go-command query
// messages: token resolution, funds confirmation, and provider listing.
package query

import (
	"strings"

	"github.com/goliatone/go-psd2-connector/core"
)

const (
	TypeResolveToken  = "connector.query.token.resolve"
	TypeConfirmFunds  = "connector.query.funds.confirm"
	TypeListProviders = "connector.query.providers.list"
)

type ResolveTokenMessage struct {
	AccessToken string
}

func (ResolveTokenMessage) Type() string { return TypeResolveToken }

func (m ResolveTokenMessage) Validate() error {
	if strings.TrimSpace(m.AccessToken) == "" {
		return queryValidationError("access_token", "access token is required")
	}
	return nil
}

type ConfirmFundsMessage struct {
	AccessToken string
	Request     core.FundsConfirmationRequest
}

func (ConfirmFundsMessage) Type() string { return TypeConfirmFunds }

func (m ConfirmFundsMessage) Validate() error {
	if strings.TrimSpace(m.AccessToken) == "" {
		return queryValidationError("access_token", "access token is required")
	}
	if strings.TrimSpace(m.Request.Account.IBAN) == "" {
		return queryValidationError("account.iban", "debtor iban is required")
	}
	if strings.TrimSpace(m.Request.Amount.Value) == "" {
		return queryValidationError("instructed_amount.value", "amount value is required")
	}
	return nil
}

type ListProvidersMessage struct{}

func (ListProvidersMessage) Type() string { return TypeListProviders }

func (ListProvidersMessage) Validate() error { return nil }
