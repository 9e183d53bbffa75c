package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-psd2-connector/core"
)

type TokenStore struct {
	db   *bun.DB
	repo repository.Repository[*tokenRecord]
}

func NewTokenStore(db *bun.DB) (*TokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*tokenRecord](db, tokenHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid token repository wiring: %w", err)
		}
	}
	return &TokenStore{db: db, repo: repo}, nil
}

func (s *TokenStore) Create(ctx context.Context, token core.Token) (core.Token, error) {
	if s == nil || s.repo == nil {
		return core.Token{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	if strings.TrimSpace(token.SessionSecret) == "" {
		return core.Token{}, fmt.Errorf("sqlstore: session secret is required")
	}
	created, err := s.repo.Create(ctx, newTokenRecord(token))
	if err != nil {
		return core.Token{}, err
	}
	return created.toDomain(), nil
}

func (s *TokenStore) FindBySessionSecret(ctx context.Context, sessionSecret string) (core.Token, error) {
	return s.findOneBy(ctx, "session_secret", strings.TrimSpace(sessionSecret))
}

func (s *TokenStore) FindByID(ctx context.Context, id string) (core.Token, error) {
	return s.findOneBy(ctx, "id", strings.TrimSpace(id))
}

func (s *TokenStore) FindByAccessToken(ctx context.Context, accessToken string) (core.Token, error) {
	return s.findOneBy(ctx, "access_token", strings.TrimSpace(accessToken))
}

func (s *TokenStore) findOneBy(ctx context.Context, column, value string) (core.Token, error) {
	if s == nil || s.db == nil {
		return core.Token{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	if value == "" {
		return core.Token{}, core.ErrTokenNotFound
	}
	record := &tokenRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias."+column+" = ?", value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Token{}, core.ErrTokenNotFound
		}
		return core.Token{}, err
	}
	return record.toDomain(), nil
}

// SaveCAS persists the full token only if its stored status still equals
// expected, so a confirm cannot race a revoke for the same session.
func (s *TokenStore) SaveCAS(ctx context.Context, token core.Token, expected core.TokenStatus) (core.Token, error) {
	if s == nil || s.db == nil {
		return core.Token{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	record := newTokenRecord(token)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, execErr := tx.NewUpdate().
			Model(record).
			ExcludeColumn("id", "created_at").
			Where("id = ?", record.ID).
			Where("status = ?", string(expected)).
			Exec(ctx)
		if execErr != nil {
			return execErr
		}
		return s.checkGuard(ctx, tx, result, record.ID)
	})
	if err != nil {
		return core.Token{}, err
	}
	return record.toDomain(), nil
}

// UpdateStatusCAS moves a token between statuses only when the stored status
// still equals expected. Leaving CONFIRMED clears the access token.
func (s *TokenStore) UpdateStatusCAS(ctx context.Context, id string, expected, next core.TokenStatus) (core.Token, error) {
	if s == nil || s.db == nil {
		return core.Token{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.Token{}, core.ErrTokenNotFound
	}

	updated := &tokenRecord{}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := tx.NewUpdate().
			Model((*tokenRecord)(nil)).
			Set("status = ?", string(next)).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", trimmedID).
			Where("status = ?", string(expected))
		if next != core.TokenStatusConfirmed {
			query = query.Set("access_token = NULL")
		}
		result, execErr := query.Exec(ctx)
		if execErr != nil {
			return execErr
		}
		if guardErr := s.checkGuard(ctx, tx, result, trimmedID); guardErr != nil {
			return guardErr
		}
		return tx.NewSelect().
			Model(updated).
			Where("?TableAlias.id = ?", trimmedID).
			Scan(ctx)
	})
	if err != nil {
		return core.Token{}, err
	}
	return updated.toDomain(), nil
}

func (s *TokenStore) checkGuard(ctx context.Context, tx bun.Tx, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	exists, err := tx.NewSelect().
		Model((*tokenRecord)(nil)).
		Where("?TableAlias.id = ?", id).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return core.ErrTokenNotFound
	}
	return core.ErrStatusConflict
}

func (s *TokenStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]core.Token, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: token store is not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	records := []*tokenRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status IN (?)", bun.In([]string{
			string(core.TokenStatusUnconfirmed),
			string(core.TokenStatusConfirmed),
		})).
		Where("?TableAlias.token_expires_at < ?", before.UTC()).
		OrderExpr("?TableAlias.token_expires_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Token, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
