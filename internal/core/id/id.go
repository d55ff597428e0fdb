// Package id issues the identifiers of ledger entries, closings and repost jobs.
package id

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ID identifies a stored record. Version 7 ids sort by issue time, so
// ledger entries created in one transaction keep their insertion order.
type ID = uuid.UUID

// ErrNil is returned by Parse for the all-zero id.
var ErrNil = errors.New("id: nil id")

// New issues a version 7 id.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse reads a textual id. The nil id never names a record and is rejected.
func Parse(s string) (ID, error) {
	v, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, err
	}
	if v == uuid.Nil {
		return uuid.Nil, ErrNil
	}
	return v, nil
}

func Nil() ID { return uuid.Nil }

func IsNil(v ID) bool { return v == uuid.Nil }

// IssuedAt returns the millisecond timestamp embedded in a version 7 id,
// or the zero time for any other version.
func IssuedAt(v ID) time.Time {
	if v.Version() != 7 {
		return time.Time{}
	}
	sec, nsec := v.Time().UnixTime()
	return time.Unix(sec, nsec).UTC()
}
