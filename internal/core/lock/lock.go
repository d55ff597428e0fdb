// Package lock defines the per-key logical lock that linearizes ledger mutations.
package lock

import (
	"context"
	"errors"
	"sort"

	"stockledger/internal/core/entity"
)

// ErrNotObtained is returned when a lock could not be acquired before the deadline.
var ErrNotObtained = errors.New("lock: not obtained")

// Locker acquires a set of named locks. Implementations must take the names in
// the given order and release all of them through the returned function.
type Locker interface {
	Acquire(ctx context.Context, names []string) (release func(), err error)
}

// LedgerNames returns the sorted, de-duplicated lock names for keys.
func LedgerNames(keys []entity.LedgerKey) []string {
	seen := make(map[string]struct{}, len(keys))
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		n := "sle:" + k.String()
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
