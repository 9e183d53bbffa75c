// Package sqlstore persists connector tokens through bun. All status writes
// are guarded compare-and-swap updates so concurrent confirm, revoke, and
// expiry attempts for the same session serialize cleanly.
package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-psd2-connector/core"
)

type tokenRecord struct {
	bun.BaseModel `bun:"table:connector_tokens,alias:ct"`

	ID                string     `bun:"id,pk"`
	UserID            string     `bun:"user_id"`
	SessionSecret     string     `bun:"session_secret,notnull"`
	AccessToken       *string    `bun:"access_token"`
	ProviderCode      string     `bun:"provider_code,notnull"`
	TPPAppName        string     `bun:"tpp_app_name,notnull"`
	AuthorizationType string     `bun:"authorization_type,notnull"`
	ConsentScope      *string    `bun:"consent_scope"`
	ConsentAccounts   []string   `bun:"consent_accounts,type:jsonb"`
	ConsentValidUntil *time.Time `bun:"consent_valid_until,nullzero"`
	Status            string     `bun:"status,notnull"`
	TokenExpiresAt    time.Time  `bun:"token_expires_at,nullzero,notnull"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newTokenRecord(token core.Token) *tokenRecord {
	record := &tokenRecord{
		ID:                token.ID,
		UserID:            token.UserID,
		SessionSecret:     token.SessionSecret,
		ProviderCode:      token.ProviderCode,
		TPPAppName:        token.TPPAppName,
		AuthorizationType: token.AuthorizationType,
		Status:            string(token.Status),
		TokenExpiresAt:    token.TokenExpiresAt.UTC(),
		CreatedAt:         token.CreatedAt.UTC(),
		UpdatedAt:         token.UpdatedAt.UTC(),
	}
	if token.AccessToken != "" {
		accessToken := token.AccessToken
		record.AccessToken = &accessToken
	}
	if token.Consent != nil {
		scope := string(token.Consent.Scope)
		record.ConsentScope = &scope
		record.ConsentAccounts = append([]string(nil), token.Consent.Accounts...)
		if !token.Consent.ValidUntil.IsZero() {
			validUntil := token.Consent.ValidUntil.UTC()
			record.ConsentValidUntil = &validUntil
		}
	}
	return record
}

func (r *tokenRecord) toDomain() core.Token {
	if r == nil {
		return core.Token{}
	}
	token := core.Token{
		ID:                r.ID,
		UserID:            r.UserID,
		SessionSecret:     r.SessionSecret,
		ProviderCode:      r.ProviderCode,
		TPPAppName:        r.TPPAppName,
		AuthorizationType: r.AuthorizationType,
		Status:            core.TokenStatus(r.Status),
		TokenExpiresAt:    r.TokenExpiresAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.AccessToken != nil {
		token.AccessToken = *r.AccessToken
	}
	if r.ConsentScope != nil {
		consent := &core.Consent{
			Scope:    core.ScopeKind(*r.ConsentScope),
			Accounts: append([]string(nil), r.ConsentAccounts...),
		}
		if r.ConsentValidUntil != nil {
			consent.ValidUntil = *r.ConsentValidUntil
		}
		token.Consent = consent
	}
	return token
}
