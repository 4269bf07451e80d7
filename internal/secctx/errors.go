package secctx

import "errors"

// MinBypassReason is the minimum trimmed length of a bypass justification.
const MinBypassReason = 20

var (
	// ErrReasonTooShort rejects a bypass whose justification is too short.
	ErrReasonTooShort = errors.New("secctx: bypass reason must be at least 20 characters")
	// ErrGrantInvalid rejects an unknown, used, expired or cross-lane grant.
	ErrGrantInvalid = errors.New("secctx: bypass grant is not valid")
)
