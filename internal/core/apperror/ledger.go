package apperror

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// NewNegativeStock reports a running quantity that would drop below zero.
// Deficit is the positive quantity missing at that point.
func NewNegativeStock(key string, at time.Time, deficit string) *AppError {
	return newError(CodeNegativeStock,
		fmt.Sprintf("%s units of %s needed on %s to complete this transaction", deficit, key, at.Format(dateLayout))).
		WithDetail("key", key).
		WithDetail("date", at.Format(time.RFC3339)).
		WithDetail("deficit", deficit)
}

// NewStockFrozen rejects a posting on or before the freeze date.
func NewStockFrozen(postingDate, frozenUpTo time.Time) *AppError {
	return newError(CodeStockFrozen,
		fmt.Sprintf("Stock transactions up to %s are frozen", frozenUpTo.Format(dateLayout))).
		WithDetail("posting_date", postingDate.Format(dateLayout)).
		WithDetail("frozen_up_to", frozenUpTo.Format(dateLayout))
}

// NewOpeningEntryAccount rejects an opening movement against an account that
// does not hold opening balances.
func NewOpeningEntryAccount(company, account string) *AppError {
	return newError(CodeOpeningEntryAccount,
		fmt.Sprintf("Account %q is not an opening balance account of company %s", account, company)).
		WithDetail("company", company).
		WithDetail("account", account)
}

func NewDuplicateClosingRange(existingID any, from, to time.Time) *AppError {
	return newError(CodeDuplicateClosingRange,
		fmt.Sprintf("Stock closing %v already covers %s to %s", existingID, from.Format(dateLayout), to.Format(dateLayout))).
		WithDetail("existing_entry", existingID).
		WithDetail("from_date", from.Format(dateLayout)).
		WithDetail("to_date", to.Format(dateLayout))
}

// NewRepostFailure wraps what stopped a repost. A coded cause lends its
// details and its code as "reason".
func NewRepostFailure(key string, cause error) *AppError {
	e := newError(CodeRepostFailed, fmt.Sprintf("Repost of %s could not complete", key)).
		WithDetail("key", key).
		WithCause(cause)
	if inner, ok := AsAppError(cause); ok {
		for k, v := range inner.Details {
			e.WithDetail(k, v)
		}
		e.WithDetail("reason", inner.Code)
	}
	return e
}

// NewLockTimeout reports a ledger key held by another posting for too long.
func NewLockTimeout(key string) *AppError {
	return newError(CodeLockTimeout, "Ledger key is busy, retry later").WithDetail("key", key)
}
