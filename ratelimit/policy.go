// Package ratelimit enforces the PSD2 unattended-access quota: without the
// user present, a TPP may pull account data a limited number of times per
// day. State is tracked per access token and UTC day.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-psd2-connector/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// DefaultDailyLimit follows PSD2 article 36(5): four unattended data
// accesses per day.
const DefaultDailyLimit = 4

// Key identifies one quota bucket.
type Key struct {
	AccessToken string
	Window      string // UTC day, e.g. "2026-03-10"
}

type State struct {
	Key       Key
	Limit     int
	Used      int
	ResetAt   time.Time
	UpdatedAt time.Time
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: unattended access quota exhausted, retry in %s", e.RetryAfter)
}

func (e ThrottledError) ToConnectorError() *goerrors.Error {
	metadata := map[string]any{}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorClassRateLimited).
		WithMetadata(metadata)
}

// DailyQuotaPolicy counts unattended accesses per access token and UTC day.
type DailyQuotaPolicy struct {
	store StateStore
	limit int
	now   func() time.Time
}

type PolicyOption func(*DailyQuotaPolicy)

func WithDailyLimit(limit int) PolicyOption {
	return func(p *DailyQuotaPolicy) {
		if limit > 0 {
			p.limit = limit
		}
	}
}

func WithClock(now func() time.Time) PolicyOption {
	return func(p *DailyQuotaPolicy) {
		if now != nil {
			p.now = now
		}
	}
}

func NewDailyQuotaPolicy(store StateStore, opts ...PolicyOption) (*DailyQuotaPolicy, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: state store is required")
	}
	policy := &DailyQuotaPolicy{
		store: store,
		limit: DefaultDailyLimit,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(policy)
		}
	}
	return policy, nil
}

// Allow consumes one unattended access for the token, or returns a
// ThrottledError-backed envelope when today's quota is exhausted.
func (p *DailyQuotaPolicy) Allow(ctx context.Context, accessToken string) error {
	if p == nil || p.store == nil {
		return nil
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil
	}

	now := p.now().UTC()
	key := Key{
		AccessToken: accessToken,
		Window:      now.Format("2006-01-02"),
	}

	state, err := p.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrStateNotFound) {
			return err
		}
		state = State{
			Key:     key,
			Limit:   p.limit,
			ResetAt: startOfNextDay(now),
		}
	}
	if state.Limit <= 0 {
		state.Limit = p.limit
	}
	if state.ResetAt.IsZero() {
		state.ResetAt = startOfNextDay(now)
	}

	if state.Used >= state.Limit {
		throttled := ThrottledError{RetryAfter: state.ResetAt.Sub(now)}
		return throttled.ToConnectorError()
	}

	state.Used++
	state.UpdatedAt = now
	return p.store.Upsert(ctx, state)
}

func startOfNextDay(now time.Time) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Add(24 * time.Hour)
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[Key]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[Key]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[key]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Key] = state
	return nil
}
