// Package deposit describes conditional deposit addresses: addresses an
// account allocates for receiving funds, valid until a timeout and optionally
// bound to an expected amount.
package deposit

import (
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/tangle_account/internal/ledger"
)

var (
	// ErrTimeoutRequired indicates conditions without a timeout.
	ErrTimeoutRequired = errors.New("deposit timeout is required")

	// ErrTimeoutPassed indicates a timeout that is not in the future.
	ErrTimeoutPassed = errors.New("deposit timeout has already passed")

	// ErrInvalidAmount indicates a non-positive expected amount, or an expected
	// amount on a multi-use address.
	ErrInvalidAmount = errors.New("invalid expected amount")
)

// Conditions constrain how a deposit address may be used.
type Conditions struct {
	TimeoutAt time.Time `json:"timeout_at"`
	// MultiUse addresses accept any number of deposits until they time out.
	MultiUse bool `json:"multi_use"`
	// ExpectedAmount, when set, is the value a single-use address waits for.
	ExpectedAmount *int64 `json:"expected_amount,omitempty"`
}

// Validate checks the conditions against the trusted current time.
func (c Conditions) Validate(now time.Time) error {
	if c.TimeoutAt.IsZero() {
		return ErrTimeoutRequired
	}
	if !c.TimeoutAt.After(now) {
		return fmt.Errorf("%w: %s is not after %s", ErrTimeoutPassed, c.TimeoutAt.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	if c.ExpectedAmount != nil {
		if *c.ExpectedAmount <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidAmount, *c.ExpectedAmount)
		}
		if c.MultiUse {
			return fmt.Errorf("%w: multi-use addresses cannot expect an amount", ErrInvalidAmount)
		}
	}
	return nil
}

// Clone returns a copy that does not share ExpectedAmount.
func (c Conditions) Clone() Conditions {
	if c.ExpectedAmount != nil {
		v := *c.ExpectedAmount
		c.ExpectedAmount = &v
	}
	return c
}

// Equal compares timeouts as instants.
func (c Conditions) Equal(o Conditions) bool {
	if !c.TimeoutAt.Equal(o.TimeoutAt) || c.MultiUse != o.MultiUse {
		return false
	}
	if c.ExpectedAmount == nil || o.ExpectedAmount == nil {
		return c.ExpectedAmount == o.ExpectedAmount
	}
	return *c.ExpectedAmount == *o.ExpectedAmount
}

// CDA is a conditional deposit address as handed to a depositor.
type CDA struct {
	Address string `json:"address"`
	Conditions
}

// AsTransfer builds the transfer that pays the CDA its expected amount, or a
// zero-value transfer when no amount is expected.
func (c CDA) AsTransfer() ledger.Transfer {
	t := ledger.Transfer{Address: c.Address}
	if c.ExpectedAmount != nil {
		t.Value = *c.ExpectedAmount
	}
	return t
}
