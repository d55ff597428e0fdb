package guard

import (
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
)

// FreezePolicy forbids postings dated at or before the stock freeze boundary.
// The boundary is the latest of the global date, the company date and
// "N days before today".
type FreezePolicy struct {
	frozenUpTo time.Time
	frozenDays int
	now        func() time.Time
}

// NewFreezePolicy creates a policy from the global settings.
// A zero frozenUpTo and frozenDays of 0 disable the global part.
func NewFreezePolicy(frozenUpTo time.Time, frozenDays int) *FreezePolicy {
	return &FreezePolicy{
		frozenUpTo: truncateDay(frozenUpTo),
		frozenDays: frozenDays,
		now:        time.Now,
	}
}

// WithClock replaces the clock used for the rolling boundary.
func (p *FreezePolicy) WithClock(now func() time.Time) *FreezePolicy {
	p.now = now
	return p
}

// Boundary returns the last frozen date, or zero when nothing is frozen.
func (p *FreezePolicy) Boundary(company *entity.CompanySettings) time.Time {
	boundary := p.frozenUpTo
	days := p.frozenDays

	if company != nil {
		if company.StockFrozenUpTo != nil {
			boundary = later(boundary, truncateDay(*company.StockFrozenUpTo))
		}
		if company.StockFrozenDays > 0 {
			days = company.StockFrozenDays
		}
	}
	if days > 0 {
		boundary = later(boundary, truncateDay(p.now()).AddDate(0, 0, -days))
	}
	return boundary
}

// CanPost returns a StockFreezeError when postingAt falls on or before the boundary.
func (p *FreezePolicy) CanPost(company *entity.CompanySettings, postingAt time.Time) error {
	boundary := p.Boundary(company)
	if boundary.IsZero() {
		return nil
	}
	if day := truncateDay(postingAt); !day.After(boundary) {
		return apperror.NewStockFrozen(day, boundary)
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
