package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"barberbook/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverLocker uses the primary locker (Redis) and switches to the fallback
// (in-process) when the primary errors, retrying the primary after a minute.
type FailoverLocker struct {
	primary  domain.KeyLocker
	fallback domain.KeyLocker
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	retryIn   time.Duration
}

func NewFailoverLocker(primary, fallback domain.KeyLocker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		retryIn:  time.Minute,
	}
}

func (l *FailoverLocker) markDown(err error) {
	l.logger.Error().Err(err).Msg("Primary locker failed, falling back to memory")
	l.isDown.Store(true)
	l.mu.Lock()
	l.lastCheck = time.Now()
	l.mu.Unlock()
}

func (l *FailoverLocker) shouldRetryPrimary() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Since(l.lastCheck) > l.retryIn
}

func (l *FailoverLocker) Lock(ctx context.Context, key string) (func(), error) {
	if !l.isDown.Load() || l.shouldRetryPrimary() {
		unlock, err := l.primary.Lock(ctx, key)
		if err == nil {
			if l.isDown.Swap(false) {
				l.logger.Info().Msg("Primary locker recovered")
			}
			return unlock, nil
		}
		// contention or caller cancellation is not an outage
		if errors.Is(err, domain.ErrLockNotAcquired) || ctx.Err() != nil {
			return nil, err
		}
		l.markDown(err)
	}

	return l.fallback.Lock(ctx, key)
}
