package account

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/congo-pay/tangle_account/internal/deposit"
	"github.com/congo-pay/tangle_account/internal/ledger"
	"github.com/congo-pay/tangle_account/internal/state"
)

// AllocateDepositAddress derives the next unused address of the seed and
// records it as a deposit request under conds. The timeout is checked against
// the trusted time source.
func (a *Account) AllocateDepositAddress(ctx context.Context, conds deposit.Conditions) (deposit.CDA, error) {
	now, err := a.now(ctx)
	if err != nil {
		return deposit.CDA{}, err
	}
	if err := conds.Validate(now); err != nil {
		return deposit.CDA{}, err
	}

	// Reserve the index first; a failed derivation burns it.
	a.mu.Lock()
	index := a.st.KeyIndex
	a.st.KeyIndex++
	a.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, a.settings.CallTimeout)
	defer cancel()
	addr, err := a.client.NewAddress(callCtx, a.seed, index)
	if err != nil {
		return deposit.CDA{}, fmt.Errorf("derive address %d: %w", index, err)
	}

	req := state.DepositRequest{Address: addr, KeyIndex: index, Conditions: conds.Clone(), AllocatedAt: now}
	a.mu.Lock()
	if a.st.KeyIndex <= index {
		a.st.KeyIndex = index + 1
	}
	a.st.Deposits[addr] = req
	a.mu.Unlock()
	a.observe()

	a.logger.Info("deposit address allocated",
		slog.String("address", addr),
		slog.Uint64("key_index", index),
		slog.Time("timeout_at", conds.TimeoutAt),
	)
	return req.CDA(), nil
}

// Deposits returns the deposit requests ordered by key index.
func (a *Account) Deposits() []state.DepositRequest {
	a.mu.Lock()
	out := make([]state.DepositRequest, 0, len(a.st.Deposits))
	for _, d := range a.st.Deposits {
		d.Conditions = d.Conditions.Clone()
		out = append(out, d)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].KeyIndex < out[j].KeyIndex })
	return out
}

// Balance splits the funds held on deposit addresses.
type Balance struct {
	// Total is everything confirmed on the account's deposit addresses.
	Total int64 `json:"total"`
	// Available only counts addresses that expired or reached their expected
	// amount; the rest may still receive deposits.
	Available int64 `json:"available"`
}

// Balance queries the ledger for every deposit address.
func (a *Account) Balance(ctx context.Context) (Balance, error) {
	now, err := a.now(ctx)
	if err != nil {
		return Balance{}, err
	}
	deposits := a.Deposits()
	if len(deposits) == 0 {
		return Balance{}, nil
	}

	addresses := make([]string, len(deposits))
	for i, d := range deposits {
		addresses[i] = d.Address
	}
	callCtx, cancel := context.WithTimeout(ctx, a.settings.CallTimeout)
	defer cancel()
	balances, err := a.client.Balances(callCtx, addresses)
	if err != nil {
		return Balance{}, fmt.Errorf("query balances: %w", err)
	}
	if len(balances) != len(deposits) {
		return Balance{}, fmt.Errorf("query balances: got %d balances for %d addresses", len(balances), len(deposits))
	}

	var b Balance
	for i, d := range deposits {
		b.Total += balances[i]
		expired := !now.Before(d.Conditions.TimeoutAt)
		fulfilled := d.Conditions.ExpectedAmount != nil && balances[i] >= *d.Conditions.ExpectedAmount
		if expired || fulfilled {
			b.Available += balances[i]
		}
	}
	return b, nil
}

// AvailableBalance is Balance(ctx).Available.
func (a *Account) AvailableBalance(ctx context.Context) (int64, error) {
	b, err := a.Balance(ctx)
	return b.Available, err
}

// SendToDeposit pays cda once the send oracle accepts it. A rejection wraps
// deposit.ErrRejected and carries the oracle's reason.
func (a *Account) SendToDeposit(ctx context.Context, cda deposit.CDA) (state.PendingTransaction, error) {
	if cda.Address == "" {
		return state.PendingTransaction{}, fmt.Errorf("%w: no address", deposit.ErrRejected)
	}
	ok, reason, err := a.oracle.OkToSend(ctx, cda)
	if err != nil {
		return state.PendingTransaction{}, fmt.Errorf("consult send oracle: %w", err)
	}
	if !ok {
		return state.PendingTransaction{}, fmt.Errorf("%w: %s", deposit.ErrRejected, reason)
	}
	return a.Send(ctx, []ledger.Transfer{cda.AsTransfer()})
}
