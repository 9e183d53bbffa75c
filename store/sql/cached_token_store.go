package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-psd2-connector/core"
)

const tokenCacheKeyPrefix = "go-psd2-connector::token::v1"

// CachedTokenStore layers a read-through cache over access-token lookups, the
// hot path of every account-information request. Writes go straight to the
// base store and invalidate the affected keys so a revoked or expired token
// never resolves from a stale cache entry.
type CachedTokenStore struct {
	base  core.TokenStore
	cache repositorycache.CacheService
}

func NewCachedTokenStore(base core.TokenStore, cacheService repositorycache.CacheService) (*CachedTokenStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base token store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: token cache service is required")
	}
	return &CachedTokenStore{base: base, cache: cacheService}, nil
}

// TokenCacheKey returns the deterministic cache key for access-token reads:
// go-psd2-connector::token::v1::<access_token> with the segment URL-path
// escaped.
func TokenCacheKey(accessToken string) (string, error) {
	trimmed := strings.TrimSpace(accessToken)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: access token is required")
	}
	return tokenCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedTokenStore) Create(ctx context.Context, token core.Token) (core.Token, error) {
	if s == nil || s.base == nil {
		return core.Token{}, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	return s.base.Create(ctx, token)
}

func (s *CachedTokenStore) FindBySessionSecret(ctx context.Context, sessionSecret string) (core.Token, error) {
	if s == nil || s.base == nil {
		return core.Token{}, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	// Session-secret reads happen once per authorization; not worth caching.
	return s.base.FindBySessionSecret(ctx, sessionSecret)
}

func (s *CachedTokenStore) FindByAccessToken(ctx context.Context, accessToken string) (core.Token, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Token{}, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	cacheKey, err := TokenCacheKey(accessToken)
	if err != nil {
		return core.Token{}, core.ErrTokenNotFound
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Token, error) {
		return s.base.FindByAccessToken(ctx, accessToken)
	})
}

func (s *CachedTokenStore) SaveCAS(ctx context.Context, token core.Token, expected core.TokenStatus) (core.Token, error) {
	if s == nil || s.base == nil {
		return core.Token{}, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	previous, _ := s.base.FindBySessionSecret(ctx, token.SessionSecret)
	saved, err := s.base.SaveCAS(ctx, token, expected)
	if err != nil {
		return core.Token{}, err
	}
	s.invalidate(ctx, previous.AccessToken, saved.AccessToken)
	return saved, nil
}

func (s *CachedTokenStore) UpdateStatusCAS(ctx context.Context, id string, expected, next core.TokenStatus) (core.Token, error) {
	if s == nil || s.base == nil {
		return core.Token{}, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	// The status write may clear the access token column, so capture the
	// credential to invalidate before the update.
	var previousAccessToken string
	if byID, ok := s.base.(interface {
		FindByID(ctx context.Context, id string) (core.Token, error)
	}); ok {
		if previous, findErr := byID.FindByID(ctx, id); findErr == nil {
			previousAccessToken = previous.AccessToken
		}
	}
	updated, err := s.base.UpdateStatusCAS(ctx, id, expected, next)
	if err != nil {
		return core.Token{}, err
	}
	s.invalidate(ctx, previousAccessToken, updated.AccessToken)
	return updated, nil
}

func (s *CachedTokenStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]core.Token, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	return s.base.ListExpired(ctx, before, limit)
}

func (s *CachedTokenStore) invalidate(ctx context.Context, accessTokens ...string) {
	if s == nil || s.cache == nil {
		return
	}
	for _, accessToken := range accessTokens {
		cacheKey, err := TokenCacheKey(accessToken)
		if err != nil {
			continue
		}
		_ = s.cache.Delete(ctx, cacheKey)
	}
}
