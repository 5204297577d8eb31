package pinguard

import (
	"context"
	"sync"
	"time"
)

type attemptRecord struct {
	attempts    int
	lockedUntil time.Time
	lastAttempt time.Time
}

// MemoryAttemptStore is a process-local AttemptStore for tests and single-instance runs.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	records map[string]*attemptRecord
	policy  Policy
	clock   func() time.Time
}

func NewMemoryAttemptStore(p Policy) *MemoryAttemptStore {
	return &MemoryAttemptStore{records: make(map[string]*attemptRecord), policy: p.withDefaults(), clock: time.Now}
}

func (s *MemoryAttemptStore) Locked(ctx context.Context, userID string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining(userID), nil
}

func (s *MemoryAttemptStore) Reserve(ctx context.Context, userID string) (int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if left := s.remaining(userID); left > 0 {
		return 0, left, nil
	}

	now := s.clock()
	r, ok := s.records[userID]
	if !ok || now.Sub(r.lastAttempt) > attemptWindow {
		r = &attemptRecord{}
		s.records[userID] = r
	}
	r.attempts++
	r.lastAttempt = now
	n := r.attempts
	if n >= s.policy.MaxAttempts {
		r.attempts = 0
		r.lockedUntil = now.Add(s.policy.LockDuration)
		return n, s.policy.LockDuration, nil
	}
	return n, 0, nil
}

func (s *MemoryAttemptStore) Reset(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

// remaining expects s.mu to be held. An expired lock is cleared on read.
func (s *MemoryAttemptStore) remaining(userID string) time.Duration {
	r, ok := s.records[userID]
	if !ok || r.lockedUntil.IsZero() {
		return 0
	}
	left := r.lockedUntil.Sub(s.clock())
	if left <= 0 {
		r.lockedUntil = time.Time{}
		r.attempts = 0
		return 0
	}
	return left
}
