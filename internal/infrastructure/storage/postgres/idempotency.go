package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/idempotency"
)

const (
	idemPending = "pending"
	idemDone    = "done"
)

type idempotencyRow struct {
	Key         string `db:"idempotency_key"`
	ClientID    string `db:"client_id"`
	Operation   string `db:"operation"`
	Status      string `db:"status"`
	RequestHash string `db:"request_hash"`
	Response    []byte `db:"response"`
	StatusCode  int    `db:"response_status"`
	ContentType string `db:"response_content_type"`
}

// IdempotencyStore implements idempotency.Store on sys_idempotency. Claims
// are written outside the request's transaction so they survive its rollback.
type IdempotencyStore struct {
	txm *TxManager
	ttl time.Duration
}

func NewIdempotencyStore(txm *TxManager, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{txm: txm, ttl: ttl}
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// claimSQL inserts a claim, or takes over one that expired or whose request
// died before finishing.
const claimSQL = `
	INSERT INTO sys_idempotency
		(idempotency_key, client_id, operation, status, request_hash, created_at, updated_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
	ON CONFLICT (idempotency_key) DO UPDATE SET
		client_id = EXCLUDED.client_id,
		operation = EXCLUDED.operation,
		status = EXCLUDED.status,
		request_hash = EXCLUDED.request_hash,
		response = NULL,
		response_status = 0,
		response_content_type = '',
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at,
		expires_at = EXCLUDED.expires_at
	WHERE sys_idempotency.expires_at < EXCLUDED.created_at
	   OR (sys_idempotency.status = $4 AND sys_idempotency.updated_at < $8)
`

func (s *IdempotencyStore) Begin(ctx context.Context, c idempotency.Claim) (*idempotency.Response, error) {
	q := s.txm.GetQuerier(ctx)
	now := time.Now().UTC()

	tag, err := q.Exec(ctx, claimSQL,
		c.Key, c.ClientID, c.Operation, idemPending, c.RequestHash, now, now.Add(s.ttl), now.Add(-idempotency.StaleAfter))
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	var row idempotencyRow
	err = pgxscan.Get(ctx, q, &row, `
		SELECT idempotency_key, client_id, operation, status, request_hash,
		       response, response_status, response_content_type
		FROM sys_idempotency WHERE idempotency_key = $1
	`, c.Key)
	if err != nil {
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}

	stored := idempotency.Claim{Key: row.Key, ClientID: row.ClientID, Operation: row.Operation, RequestHash: row.RequestHash}
	if err := idempotency.Match(stored, c); err != nil {
		return nil, err
	}
	if row.Status != idemDone {
		return nil, apperror.NewIdempotencyConflict(c.Key)
	}
	return &idempotency.Response{Status: row.StatusCode, ContentType: row.ContentType, Body: row.Response}, nil
}

func (s *IdempotencyStore) Finish(ctx context.Context, key string, r idempotency.Response) error {
	_, err := s.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_idempotency
		SET status = $1, response = $2, response_status = $3, response_content_type = $4, updated_at = $5
		WHERE idempotency_key = $6
	`, idemDone, r.Body, r.Status, r.ContentType, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("finish idempotency key: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.txm.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_idempotency WHERE idempotency_key = $1 AND status = $2`, key, idemPending)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
