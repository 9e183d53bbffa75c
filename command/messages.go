// Package command exposes the connector's mutating operations as go-command
// messages so embedding applications can route them through a dispatcher or
// queue instead of calling the service directly.
package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-psd2-connector/core"
)

const (
	TypeStartAuthorization = "connector.command.authorization.start"
	TypeConfirmToken       = "connector.command.token.confirm"
	TypeRejectToken        = "connector.command.token.reject"
	TypeRevokeToken        = "connector.command.token.revoke"
	TypeStartPayment       = "connector.command.payment.start"
	TypeExpireTokens       = "connector.command.tokens.expire"
)

type StartAuthorizationMessage struct {
	Request core.StartAuthorizationRequest
}

func (StartAuthorizationMessage) Type() string { return TypeStartAuthorization }

func (m StartAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderCode) == "" {
		return fmt.Errorf("command: provider code is required")
	}
	if strings.TrimSpace(m.Request.SessionSecret) == "" {
		return fmt.Errorf("command: session secret is required")
	}
	if strings.TrimSpace(m.Request.AuthorizationType) == "" {
		return fmt.Errorf("command: authorization type is required")
	}
	return nil
}

type ConfirmTokenMessage struct {
	Request core.ConfirmTokenRequest
}

func (ConfirmTokenMessage) Type() string { return TypeConfirmToken }

func (m ConfirmTokenMessage) Validate() error {
	if strings.TrimSpace(m.Request.SessionSecret) == "" {
		return fmt.Errorf("command: session secret is required")
	}
	if strings.TrimSpace(m.Request.UserID) == "" {
		return fmt.Errorf("command: user id is required")
	}
	return nil
}

type RejectTokenMessage struct {
	SessionSecret string
}

func (RejectTokenMessage) Type() string { return TypeRejectToken }

func (m RejectTokenMessage) Validate() error {
	if strings.TrimSpace(m.SessionSecret) == "" {
		return fmt.Errorf("command: session secret is required")
	}
	return nil
}

// RevokeTokenMessage revokes by access token when present, otherwise by
// session secret.
type RevokeTokenMessage struct {
	SessionSecret string
	AccessToken   string
}

func (RevokeTokenMessage) Type() string { return TypeRevokeToken }

func (m RevokeTokenMessage) Validate() error {
	if strings.TrimSpace(m.SessionSecret) == "" && strings.TrimSpace(m.AccessToken) == "" {
		return fmt.Errorf("command: session secret or access token is required")
	}
	return nil
}

type StartPaymentMessage struct {
	Request core.CreatePaymentRequest
}

func (StartPaymentMessage) Type() string { return TypeStartPayment }

func (m StartPaymentMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderCode) == "" {
		return fmt.Errorf("command: provider code is required")
	}
	if strings.TrimSpace(m.Request.SessionSecret) == "" {
		return fmt.Errorf("command: session secret is required")
	}
	return nil
}

type ExpireTokensMessage struct {
	BatchSize int
}

func (ExpireTokensMessage) Type() string { return TypeExpireTokens }

func (m ExpireTokensMessage) Validate() error {
	if m.BatchSize < 0 {
		return fmt.Errorf("command: batch size must not be negative")
	}
	return nil
}
