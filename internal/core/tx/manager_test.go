package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type plainManager struct{ runs int }

func (m *plainManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.runs++
	return fn(ctx)
}

type snapshotManager struct {
	plainManager
	snapshots int
}

func (m *snapshotManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	m.snapshots++
	return fn(ctx)
}

func TestReadOnly(t *testing.T) {
	errBoom := errors.New("boom")

	plain := &plainManager{}
	assert.ErrorIs(t, ReadOnly(context.Background(), plain, func(context.Context) error { return errBoom }), errBoom)
	assert.Zero(t, plain.runs, "managers without snapshots run fn directly")

	snap := &snapshotManager{}
	assert.NoError(t, ReadOnly(context.Background(), snap, func(context.Context) error { return nil }))
	assert.Equal(t, 1, snap.snapshots)
	assert.Zero(t, snap.runs)
}
