package core

import (
	"context"
	"errors"
	"time"
)

// DefaultExpirySweepBatchSize bounds one sweep pass so a backlog of expired
// tokens cannot hold a worker indefinitely.
const DefaultExpirySweepBatchSize = 100

// RunExpirySweep moves confirmed tokens past their expiry instant into
// EXPIRED. Expiry is already enforced lazily on every read; the sweep exists
// so tokens nobody reads anymore still reach a terminal state. Returns the
// number of tokens expired in this pass.
func (s *Service) RunExpirySweep(ctx context.Context, batchSize int) (expired int, err error) {
	startedAt := s.clock()
	fields := map[string]any{}
	defer func() {
		fields["expired"] = expired
		s.observeOperation(ctx, startedAt, "expiry_sweep", err, fields)
	}()

	if s == nil || s.tokenStore == nil {
		err = s.mapError(errors.New("core: token store is required"))
		return 0, err
	}
	if batchSize <= 0 {
		batchSize = DefaultExpirySweepBatchSize
	}

	now := s.clock()
	tokens, listErr := s.tokenStore.ListExpired(ctx, now, batchSize)
	if listErr != nil {
		err = s.mapError(listErr)
		return 0, err
	}

	for _, token := range tokens {
		if token.Status.Terminal() {
			continue
		}
		if _, casErr := s.tokenStore.UpdateStatusCAS(ctx, token.ID, token.Status, TokenStatusExpired); casErr != nil {
			// Lost the race to a concurrent revoke or lazy expiry; the token
			// is terminal either way.
			if errors.Is(casErr, ErrStatusConflict) {
				continue
			}
			err = s.mapError(casErr)
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// NextSweepAt returns when the following sweep should run given the cadence.
func NextSweepAt(now time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		interval = time.Hour
	}
	return now.UTC().Add(interval)
}
