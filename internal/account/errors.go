package account

import (
	"errors"
	"fmt"
)

// Scheduler operations reported in AttemptError.Op.
const (
	OpConfirm    = "confirm"
	OpPromotable = "promotable"
	OpPromote    = "promote"
	OpReattach   = "reattach"
)

var (
	// ErrNoTransfers is returned by Send when nothing would be sent.
	ErrNoTransfers = errors.New("at least one transfer is required")
	// ErrTimeUnavailable wraps time source failures.
	ErrTimeUnavailable = errors.New("trusted time unavailable")
)

// AttemptError is a ledger failure while processing one pending transaction.
// It is reported and the transaction is tried again on a later tick.
type AttemptError struct {
	TransactionID string
	Op            string
	Err           error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.TransactionID, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}
