// Package tx abstracts the unit of work that postings, reposts and closings
// run in. The postgres and in-memory stores both implement it.
package tx

import "context"

// Manager runs fn as one unit of work: an error from fn discards everything
// fn wrote. A call made inside fn joins the outer unit.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Snapshotter is implemented by managers that can run fn against one
// consistent read-only view of the ledger.
type Snapshotter interface {
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnly runs fn on a read-only snapshot when m supports it and directly
// otherwise. Balance checks use it so the stored balance and its replays see
// the same entries.
func ReadOnly(ctx context.Context, m Manager, fn func(ctx context.Context) error) error {
	if s, ok := m.(Snapshotter); ok {
		return s.ReadOnly(ctx, fn)
	}
	return fn(ctx)
}
