package memory

import (
	"context"
	"sync"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/idempotency"
)

type idemRecord struct {
	claim     idempotency.Claim
	response  *idempotency.Response
	touched   time.Time
	expiresAt time.Time
}

// IdempotencyStore implements idempotency.Store in memory. Keys live outside
// the transactional state so a rolled-back posting does not drop its claim.
type IdempotencyStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]*idemRecord
	now  func() time.Time
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{ttl: ttl, keys: make(map[string]*idemRecord), now: time.Now}
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

func (s *IdempotencyStore) Begin(_ context.Context, c idempotency.Claim) (*idempotency.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec, ok := s.keys[c.Key]
	if ok && now.After(rec.expiresAt) {
		ok = false
	}
	if ok && rec.response == nil && now.Sub(rec.touched) > idempotency.StaleAfter {
		ok = false
	}
	if !ok {
		s.keys[c.Key] = &idemRecord{claim: c, touched: now, expiresAt: now.Add(s.ttl)}
		return nil, nil
	}

	if err := idempotency.Match(rec.claim, c); err != nil {
		return nil, err
	}
	if rec.response == nil {
		return nil, apperror.NewIdempotencyConflict(c.Key)
	}
	r := *rec.response
	return &r, nil
}

func (s *IdempotencyStore) Finish(_ context.Context, key string, r idempotency.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[key]
	if !ok {
		return apperror.NewNotFound("idempotency key", key)
	}
	r.Body = append([]byte(nil), r.Body...)
	rec.response = &r
	rec.touched = s.now().UTC()
	return nil
}

func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
