package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/tangle_account/internal/metrics"
	"github.com/congo-pay/tangle_account/internal/notification"
	"github.com/congo-pay/tangle_account/internal/state"
)

func (a *Account) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.settings.Delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			a.tick(ctx)
		}
	}
}

func (a *Account) now(ctx context.Context) (time.Time, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.settings.CallTimeout)
	defer cancel()
	now, err := a.settings.TimeSource.Time(callCtx)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrTimeUnavailable, err)
	}
	return now.UTC(), nil
}

// tick runs one reattachment round. ctx is the run context: once it is
// cancelled nothing the tick computed is committed. The lease is renewed
// before every attempt; once a renewal fails the rest of the round is
// abandoned.
func (a *Account) tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues(a.id).Observe(time.Since(started).Seconds())
	}()

	held := &leaseGuard{lease: a.lease, accountID: a.id}
	if err := held.renew(ctx); err != nil {
		a.skip(ctx, "lease not held", err)
		return
	}

	now, err := a.now(ctx)
	if err != nil {
		a.skip(ctx, "no trusted time", err)
		return
	}

	tickCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	due, generation := a.due(now)
	a.logger.Debug("tick", slog.Int("due", len(due)), slog.Time("now", now))

	var g errgroup.Group
	g.SetLimit(a.settings.Concurrency)
	for _, p := range due {
		g.Go(func() error {
			if tickCtx.Err() != nil {
				return nil
			}
			if err := held.renew(tickCtx); err != nil {
				cancel(err)
				return nil
			}
			a.attempt(tickCtx, generation, now, p)
			return nil
		})
	}
	_ = g.Wait()

	if err := context.Cause(tickCtx); tickCtx.Err() != nil && ctx.Err() == nil {
		a.skip(ctx, "lease lost during tick", err)
		a.observe()
		return
	}

	a.mu.Lock()
	if ctx.Err() == nil && generation == a.generation {
		a.st.Cursor.LastRunAt = now
	}
	a.mu.Unlock()

	a.observe()
	metrics.Ticks.WithLabelValues(a.id, "ok").Inc()
}

// leaseGuard renews the account lease. A nil lease is always held.
type leaseGuard struct {
	lease     Lease
	accountID string
}

func (l *leaseGuard) renew(ctx context.Context) error {
	if l.lease == nil {
		return nil
	}
	return l.lease.Renew(ctx, l.accountID)
}

func (a *Account) skip(ctx context.Context, reason string, err error) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	metrics.Ticks.WithLabelValues(a.id, "skipped").Inc()
	_ = a.notifier.Send(ctx, notification.Message{
		Kind:      notification.KindTickSkipped,
		AccountID: a.id,
		Body:      reason,
		Err:       err,
	})
}

// due returns copies of the pending transactions eligible this round, oldest
// first, along with the state generation they were read from. A transaction
// is eligible once its last attempt is a full delay old, or once it was last
// attempted in an earlier round and at least half a delay has passed since.
// The second rule keeps ticker jitter from skipping a round.
func (a *Account) due(now time.Time) ([]*state.PendingTransaction, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.st.Cursor.LastRunAt
	var out []*state.PendingTransaction
	for _, p := range a.st.Pending {
		age := now.Sub(p.LastAttemptAt)
		earlierRound := !prev.IsZero() && !p.LastAttemptAt.After(prev)
		if age >= a.settings.Delay || (earlierRound && age >= a.settings.Delay/2) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, a.generation
}

// attempt drives one pending transaction forward: confirm, promote or
// reattach. Failures are reported and leave the transaction untouched.
func (a *Account) attempt(ctx context.Context, generation uint64, now time.Time, snap *state.PendingTransaction) {
	latest := snap.LatestAttachment()

	confirmed, err := a.callBool(ctx, func(c context.Context) (bool, error) {
		return a.client.Confirmed(c, snap.Attachments)
	})
	if err != nil {
		a.fail(ctx, snap.ID, OpConfirm, err)
		return
	}
	if confirmed {
		a.commit(ctx, generation, snap, metrics.OutcomeConfirmed, func(p *state.PendingTransaction) {
			delete(a.st.Pending, p.ID)
			delete(a.st.Cursor.Promotions, p.ID)
			a.st.Confirmed[p.ID] = state.ConfirmedTransaction{ID: p.ID, ConfirmedAt: now}
		})
		return
	}

	promotable, err := a.callBool(ctx, func(c context.Context) (bool, error) {
		return a.client.Promotable(c, latest, a.settings.MaxDepth)
	})
	if err != nil {
		a.fail(ctx, snap.ID, OpPromotable, err)
		return
	}

	if promotable {
		callCtx, cancel := context.WithTimeout(ctx, a.settings.CallTimeout)
		err := a.client.Promote(callCtx, latest, a.attachOptions())
		cancel()
		if err != nil {
			a.fail(ctx, snap.ID, OpPromote, err)
			return
		}
		a.commit(ctx, generation, snap, metrics.OutcomePromoted, func(p *state.PendingTransaction) {
			p.LastAttemptAt = now
			a.st.Cursor.Promotions[p.ID]++
		})
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, a.settings.CallTimeout)
	tail, err := a.client.Reattach(callCtx, latest, a.attachOptions())
	cancel()
	if err != nil {
		a.fail(ctx, snap.ID, OpReattach, err)
		return
	}
	a.commit(ctx, generation, snap, metrics.OutcomeReattached, func(p *state.PendingTransaction) {
		p.Attachments = append(p.Attachments, tail)
		p.LastAttemptAt = now
		delete(a.st.Cursor.Promotions, p.ID)
	})
}

func (a *Account) callBool(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.settings.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// commit applies one transaction's outcome atomically. It is dropped when the
// run was cancelled, the state was replaced by an import, or the record moved
// on since the tick read it.
func (a *Account) commit(ctx context.Context, generation uint64, snap *state.PendingTransaction, outcome string, apply func(p *state.PendingTransaction)) {
	a.mu.Lock()
	p, ok := a.st.Pending[snap.ID]
	fresh := ctx.Err() == nil &&
		generation == a.generation &&
		ok &&
		p.LatestAttachment() == snap.LatestAttachment() &&
		p.LastAttemptAt.Equal(snap.LastAttemptAt)
	if fresh {
		apply(p)
	}
	a.mu.Unlock()

	if !fresh {
		metrics.Attempts.WithLabelValues(a.id, metrics.OutcomeDiscarded).Inc()
		a.logger.Debug("discarded stale outcome", slog.String("transaction_id", snap.ID), slog.String("outcome", outcome))
		return
	}

	metrics.Attempts.WithLabelValues(a.id, outcome).Inc()
	kind := map[string]string{
		metrics.OutcomeConfirmed:  notification.KindConfirmed,
		metrics.OutcomePromoted:   notification.KindPromoted,
		metrics.OutcomeReattached: notification.KindReattached,
	}[outcome]
	_ = a.notifier.Send(ctx, notification.Message{Kind: kind, AccountID: a.id, TransactionID: snap.ID})
}

func (a *Account) fail(ctx context.Context, transactionID, op string, err error) {
	if ctx.Err() != nil {
		// Stopped mid-call; not a ledger failure.
		return
	}
	metrics.Attempts.WithLabelValues(a.id, metrics.OutcomeFailed).Inc()
	attemptErr := &AttemptError{TransactionID: transactionID, Op: op, Err: err}
	_ = a.notifier.Send(ctx, notification.Message{
		Kind:          notification.KindAttemptFailed,
		AccountID:     a.id,
		TransactionID: transactionID,
		Op:            op,
		Err:           attemptErr,
	})
}
