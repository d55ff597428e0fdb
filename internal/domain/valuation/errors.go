package valuation

import (
	"errors"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
)

// AsValidation turns a strategy error into a validation AppError that names
// the key and date of the offending movement. Other errors pass through.
func AsValidation(key entity.LedgerKey, at time.Time, err error) error {
	if !errors.Is(err, ErrMissingRate) && !errors.Is(err, ErrNegativeRate) {
		return err
	}
	reason := err
	if inner := errors.Unwrap(err); inner != nil {
		reason = inner
	}
	return apperror.NewValidation(fmt.Sprintf("%s on %s: %v", key, at.Format("2006-01-02"), reason)).
		WithDetail("key", key.String()).
		WithDetail("date", at.Format(time.RFC3339)).
		WithCause(err)
}
