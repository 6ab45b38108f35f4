package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/tangle_account/internal/timesrc"
)

// DefaultSendThreshold is the minimum remaining lifetime of a CDA worth paying.
const DefaultSendThreshold = 30 * time.Minute

// ErrRejected indicates the oracle refused to send to a CDA.
var ErrRejected = errors.New("deposit address rejected")

// Decider judges whether sending to a CDA is safe. A false result carries a
// human-readable reason.
type Decider interface {
	Decide(ctx context.Context, cda CDA) (ok bool, reason string, err error)
}

// TimeDecider rejects CDAs that expire within a threshold of the trusted
// current time, since a deposit might not confirm before the address stops
// being watched.
type TimeDecider struct {
	source    timesrc.Source
	threshold time.Duration
}

// NewTimeDecider returns a decider using source as the clock.
func NewTimeDecider(source timesrc.Source, threshold time.Duration) *TimeDecider {
	return &TimeDecider{source: source, threshold: threshold}
}

// Decide implements Decider.
func (d *TimeDecider) Decide(ctx context.Context, cda CDA) (bool, string, error) {
	now, err := d.source.Time(ctx)
	if err != nil {
		return false, "", fmt.Errorf("read time: %w", err)
	}
	if cda.TimeoutAt.IsZero() {
		return false, "deposit address has no timeout", nil
	}
	if remaining := cda.TimeoutAt.Sub(now); remaining < d.threshold {
		return false, fmt.Sprintf("deposit address expires in %s, below the %s threshold", remaining.Round(time.Second), d.threshold), nil
	}
	return true, "", nil
}

// Oracle combines deciders; every one of them must accept.
type Oracle struct {
	deciders []Decider
}

// NewOracle returns an oracle consulting deciders in order.
func NewOracle(deciders ...Decider) *Oracle {
	return &Oracle{deciders: deciders}
}

// OkToSend reports whether cda may be paid. The first rejection wins.
func (o *Oracle) OkToSend(ctx context.Context, cda CDA) (bool, string, error) {
	for _, d := range o.deciders {
		ok, reason, err := d.Decide(ctx, cda)
		if err != nil || !ok {
			return false, reason, err
		}
	}
	return true, "", nil
}
