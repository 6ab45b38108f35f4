package account

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/tangle_account/internal/deposit"
	"github.com/congo-pay/tangle_account/internal/ledger"
	"github.com/congo-pay/tangle_account/internal/metrics"
	"github.com/congo-pay/tangle_account/internal/notification"
	"github.com/congo-pay/tangle_account/internal/seed"
	"github.com/congo-pay/tangle_account/internal/state"
)

const leaseReleaseTimeout = 5 * time.Second

// Lease guards against two processes driving the same account at once.
type Lease interface {
	Acquire(ctx context.Context, accountID string) error
	Renew(ctx context.Context, accountID string) error
	Release(ctx context.Context, accountID string) error
}

// Option customises an Account.
type Option func(*Account)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Account) { a.logger = logger }
}

// WithNotifier sets where scheduler events are reported. The default logs them.
func WithNotifier(n notification.Notifier) Option {
	return func(a *Account) { a.notifier = n }
}

// WithSendOracle sets the oracle consulted before paying a CDA. The default
// rejects CDAs expiring within deposit.DefaultSendThreshold.
func WithSendOracle(o *deposit.Oracle) Option {
	return func(a *Account) { a.oracle = o }
}

// WithLease makes Start acquire the lease and Stop release it. Ticks renew
// it before every ledger attempt.
func WithLease(l Lease) Option {
	return func(a *Account) { a.lease = l }
}

// Account owns a seed and the state of its in-flight transactions, and runs
// the reattachment scheduler while started.
type Account struct {
	settings Settings
	seed     seed.Seed
	id       string
	client   ledger.Client
	logger   *slog.Logger
	notifier notification.Notifier
	lease    Lease
	oracle   *deposit.Oracle

	// mu guards st and generation. Every mutation of st happens under it.
	mu sync.Mutex
	st state.AccountState
	// generation changes whenever st is replaced wholesale by an import.
	generation uint64

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New validates settings and builds a stopped account with empty state. It
// does not contact the network.
func New(settings Settings, client ledger.Client, opts ...Option) (*Account, error) {
	sd, settings, err := settings.validate()
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, configErr("client", "is required")
	}

	a := &Account{
		settings: settings,
		seed:     sd,
		id:       sd.ID(),
		client:   client,
		st:       state.New(sd),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a.logger = a.logger.With(slog.String("account_id", a.id))
	if a.notifier == nil {
		a.notifier = notification.NewLoggerNotifier(a.logger)
	}
	if a.oracle == nil {
		a.oracle = deposit.NewOracle(deposit.NewTimeDecider(a.settings.TimeSource, deposit.DefaultSendThreshold))
	}
	a.observe()
	return a, nil
}

// ID returns the non-secret account identifier derived from the seed.
func (a *Account) ID() string {
	return a.id
}

// Settings returns the settings with defaults applied and the seed removed.
func (a *Account) Settings() Settings {
	return a.settings
}

// Running reports whether the scheduler is active.
func (a *Account) Running() bool {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.cancel != nil
}

// Start activates the scheduler. Calling it on a started account is a no-op.
// Each start begins a fresh timer.
func (a *Account) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if a.cancel != nil {
		return nil
	}

	if a.lease != nil {
		if err := a.lease.Acquire(ctx, a.id); err != nil {
			return fmt.Errorf("acquire lease: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancel, a.done = cancel, done
	go a.run(runCtx, done)

	a.logger.Info("account started", slog.Any("settings", a.settings))
	return nil
}

// Stop deactivates the scheduler and waits for an in-flight tick to finish.
// Results a cancelled tick produces are discarded, so no mutation happens once
// Stop has been called. If ctx ends first Stop returns its error; the tick is
// still cancelled. Calling Stop on a stopped account is a no-op.
func (a *Account) Stop(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if a.cancel == nil {
		return nil
	}

	a.cancel()
	done := a.done
	a.cancel, a.done = nil, nil

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("wait for scheduler: %w", ctx.Err())
	}

	if a.lease != nil {
		// ctx may already be done; the release still gets its own deadline.
		releaseCtx, cancel := context.WithTimeout(context.Background(), leaseReleaseTimeout)
		err := a.lease.Release(releaseCtx, a.id)
		cancel()
		if err != nil {
			a.logger.Warn("release lease", slog.Any("error", err))
		}
	}

	a.logger.Info("account stopped")
	return waitErr
}

// Send submits a new transaction and tracks it as pending.
func (a *Account) Send(ctx context.Context, transfers []ledger.Transfer) (state.PendingTransaction, error) {
	if len(transfers) == 0 {
		return state.PendingTransaction{}, ErrNoTransfers
	}

	now, err := a.now(ctx)
	if err != nil {
		return state.PendingTransaction{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.settings.CallTimeout)
	defer cancel()
	tail, err := a.client.Send(callCtx, a.seed, transfers, a.attachOptions())
	if err != nil {
		return state.PendingTransaction{}, fmt.Errorf("send transfers: %w", err)
	}

	p := &state.PendingTransaction{
		ID:              uuid.NewString(),
		Payload:         append([]ledger.Transfer(nil), transfers...),
		CreatedAt:       now,
		Attachments:     []string{tail},
		LastAttemptAt:   now,
		DepthAtCreation: a.settings.Depth,
	}

	a.mu.Lock()
	a.st.Pending[p.ID] = p
	out := *p.Clone()
	a.mu.Unlock()

	a.observe()
	a.logger.Info("transaction sent", slog.String("transaction_id", p.ID), slog.String("attachment", tail))
	return out, nil
}

// ExportState returns a point-in-time snapshot of the account. It never
// observes a partially applied tick and does not stop the scheduler.
func (a *Account) ExportState(ctx context.Context) (state.Document, error) {
	if err := ctx.Err(); err != nil {
		return state.Document{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return state.Encode(a.st), nil
}

// ImportState replaces the account state with doc. The document must be for
// this account's seed and must not list as pending a transaction this account
// has already confirmed. Transactions the account has confirmed stay confirmed
// whether or not doc lists them, and the key index never moves backwards. On
// error the current state is left unchanged.
func (a *Account) ImportState(ctx context.Context, doc state.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	imported, err := state.Decode(doc)
	if err != nil {
		return err
	}
	if !imported.Seed.Equal(a.seed) {
		return state.SeedMismatch()
	}

	a.mu.Lock()
	// Confirmation is permanent: the live confirmed set survives every import.
	for id, c := range a.st.Confirmed {
		imported.Confirmed[id] = c
	}
	for id := range imported.Pending {
		if _, ok := imported.Confirmed[id]; ok {
			a.mu.Unlock()
			return state.Conflict("transaction %q is already confirmed", id)
		}
	}
	if imported.KeyIndex < a.st.KeyIndex {
		imported.KeyIndex = a.st.KeyIndex
	}
	a.st = imported
	a.generation++
	a.mu.Unlock()

	a.observe()
	a.logger.Info("state imported", slog.Int("pending", len(imported.Pending)), slog.Int("confirmed", len(imported.Confirmed)))
	return nil
}

// Snapshot returns a deep copy of the current state.
func (a *Account) Snapshot() state.AccountState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.Clone()
}

// Pending returns the pending transactions ordered by creation time.
func (a *Account) Pending() []state.PendingTransaction {
	a.mu.Lock()
	out := make([]state.PendingTransaction, 0, len(a.st.Pending))
	for _, p := range a.st.Pending {
		out = append(out, *p.Clone())
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Confirmed returns the confirmed transactions ordered by confirmation time.
func (a *Account) Confirmed() []state.ConfirmedTransaction {
	a.mu.Lock()
	out := make([]state.ConfirmedTransaction, 0, len(a.st.Confirmed))
	for _, c := range a.st.Confirmed {
		out = append(out, c)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfirmedAt.Equal(out[j].ConfirmedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConfirmedAt.Before(out[j].ConfirmedAt)
	})
	return out
}

func (a *Account) attachOptions() ledger.AttachOptions {
	return ledger.AttachOptions{Depth: a.settings.Depth, MinWeightMagnitude: a.settings.MinWeightMagnitude}
}

func (a *Account) observe() {
	a.mu.Lock()
	pending, confirmed, deposits := len(a.st.Pending), len(a.st.Confirmed), len(a.st.Deposits)
	a.mu.Unlock()
	metrics.Pending.WithLabelValues(a.id).Set(float64(pending))
	metrics.Confirmed.WithLabelValues(a.id).Set(float64(confirmed))
	metrics.Deposits.WithLabelValues(a.id).Set(float64(deposits))
}
