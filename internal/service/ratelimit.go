package service

import (
	"context"
	"sync"
	"time"

	"changerequest/internal/repository"

	"github.com/google/uuid"
)

// RateLimitConfig throttles how many outstanding changes one actor may
// accumulate.
type RateLimitConfig struct {
	// MaxPending is the per-actor ceiling. Zero disables the limiter.
	MaxPending int
	// Window switches from counting PENDING records to counting all records
	// created within the trailing window. Zero keeps the pending-count policy.
	Window time.Duration
	// LimitAutoApproved also routes auto-approved submissions through the
	// limiter.
	LimitAutoApproved bool
}

// RateLimiter implements check-and-reserve: the per-actor lock is held from
// the count until the record is created, so concurrent submissions by one
// actor cannot race past the ceiling. Submissions by different actors
// proceed in parallel. The repository adds an advisory lock inside the
// transaction for cross-process serialization on postgres.
type RateLimiter struct {
	cfg  RateLimitConfig
	repo repository.ChangeRequestRepository
	mu   sync.Mutex
	// locks holds one mutex per actor ever seen and is never evicted; its
	// size is bounded by the user population, not by request volume.
	locks map[uuid.UUID]*sync.Mutex
}

func NewRateLimiter(cfg RateLimitConfig, repo repository.ChangeRequestRepository) *RateLimiter {
	return &RateLimiter{cfg: cfg, repo: repo, locks: make(map[uuid.UUID]*sync.Mutex)}
}

// Acquire takes the actor's submission lock and returns the release func.
func (l *RateLimiter) Acquire(actorID uuid.UUID) func() {
	l.mu.Lock()
	actorMu, ok := l.locks[actorID]
	if !ok {
		actorMu = &sync.Mutex{}
		l.locks[actorID] = actorMu
	}
	l.mu.Unlock()

	actorMu.Lock()
	return actorMu.Unlock
}

// Check counts the actor's outstanding requests and returns a RateLimitError
// at or above the ceiling. Callers must hold the actor's submission lock.
func (l *RateLimiter) Check(ctx context.Context, actorID uuid.UUID, autoApprove bool) error {
	if l.cfg.MaxPending <= 0 {
		return nil
	}
	if autoApprove && !l.cfg.LimitAutoApproved {
		return nil
	}

	var (
		count int64
		err   error
	)
	if l.cfg.Window > 0 {
		count, err = l.repo.CountCreatedSince(ctx, actorID, time.Now().Add(-l.cfg.Window))
	} else {
		count, err = l.repo.CountPending(ctx, actorID)
	}
	if err != nil {
		return err
	}
	if count >= int64(l.cfg.MaxPending) {
		rlErr := &RateLimitError{Limit: l.cfg.MaxPending}
		if l.cfg.Window > 0 {
			rlErr.RetryAfter = l.cfg.Window
		}
		return rlErr
	}
	return nil
}
