// Package idempotency lets a client resubmit a voucher or closing request
// under the same key and get the first response back instead of a second
// posting.
package idempotency

import (
	"context"
	"time"

	"stockledger/internal/core/apperror"
)

// StaleAfter is how long a claim may stay unfinished before another request
// may take it over. A claim that old belongs to a crashed request.
const StaleAfter = time.Minute

// Claim identifies one request made under a key.
type Claim struct {
	Key         string
	ClientID    string
	Operation   string
	RequestHash string
}

// Response is the stored outcome of a finished claim.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Store keeps claims and their responses until they expire.
type Store interface {
	// Begin claims c.Key. It returns the stored response when the key has
	// already finished, CodeIdempotency while another request holds the key,
	// and a mismatch when the key was used for a different request.
	Begin(ctx context.Context, c Claim) (*Response, error)
	// Finish stores the response of a claimed key.
	Finish(ctx context.Context, key string, r Response) error
	// Release drops a claim so the request can run again.
	Release(ctx context.Context, key string) error
}

// Match rejects a key reused for another request.
func Match(stored, c Claim) error {
	if stored.ClientID == c.ClientID && stored.Operation == c.Operation && stored.RequestHash == c.RequestHash {
		return nil
	}
	return apperror.NewIdempotencyMismatch(c.Key).
		WithDetail("stored_operation", stored.Operation).
		WithDetail("request_operation", c.Operation)
}
