package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/congo-pay/tangle_account/internal/deposit"
	"github.com/congo-pay/tangle_account/internal/ledger"
	"github.com/congo-pay/tangle_account/internal/timesrc"
)

func TestAllocateDepositAddress(t *testing.T) {
	l := ledger.NewInMemory()
	clock := timesrc.NewManual(t0)
	a, _ := newTestAccount(t, l, clock)
	ctx := context.Background()

	amount := int64(40)
	first, err := a.AllocateDepositAddress(ctx, deposit.Conditions{TimeoutAt: t0.Add(24 * time.Hour), ExpectedAmount: &amount})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	second, err := a.AllocateDepositAddress(ctx, deposit.Conditions{TimeoutAt: t0.Add(time.Hour), MultiUse: true})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if first.Address == "" || first.Address == second.Address {
		t.Fatalf("expected two distinct addresses, got %q and %q", first.Address, second.Address)
	}

	if _, err := a.AllocateDepositAddress(ctx, deposit.Conditions{TimeoutAt: t0}); !errors.Is(err, deposit.ErrTimeoutPassed) {
		t.Fatalf("expected ErrTimeoutPassed, got %v", err)
	}

	deposits := a.Deposits()
	if len(deposits) != 2 || deposits[0].Address != first.Address || deposits[0].KeyIndex != 0 || deposits[1].KeyIndex != 1 {
		t.Fatalf("unexpected deposits %+v", deposits)
	}
	if !deposits[0].AllocatedAt.Equal(t0) {
		t.Fatalf("expected allocation time from the time source, got %v", deposits[0].AllocatedAt)
	}
	if got := a.Snapshot().KeyIndex; got != 2 {
		t.Fatalf("rejected conditions must not consume an index, next index %d", got)
	}

	clock.Fail(errors.New("ntp unreachable"))
	if _, err := a.AllocateDepositAddress(ctx, deposit.Conditions{TimeoutAt: t0.Add(time.Hour)}); !errors.Is(err, ErrTimeUnavailable) {
		t.Fatalf("expected ErrTimeUnavailable, got %v", err)
	}
}

func TestBalanceSplitsAvailableFunds(t *testing.T) {
	l := ledger.NewInMemory()
	clock := timesrc.NewManual(t0)
	a, _ := newTestAccount(t, l, clock)
	ctx := context.Background()

	amount := int64(40)
	single, _ := a.AllocateDepositAddress(ctx, deposit.Conditions{TimeoutAt: t0.Add(24 * time.Hour), ExpectedAmount: &amount})
	multi, _ := a.AllocateDepositAddress(ctx, deposit.Conditions{TimeoutAt: t0.Add(48 * time.Hour), MultiUse: true})

	ledger.Credit(l, single.Address, 30)
	ledger.Credit(l, multi.Address, 10)
	b, err := a.Balance(ctx)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.Total != 40 || b.Available != 0 {
		t.Fatalf("expected nothing available before fulfilment, got %+v", b)
	}

	ledger.Credit(l, single.Address, 10)
	if got, _ := a.AvailableBalance(ctx); got != 40 {
		t.Fatalf("expected the fulfilled address to count, got %d", got)
	}

	clock.Advance(72 * time.Hour)
	if got, _ := a.AvailableBalance(ctx); got != 50 {
		t.Fatalf("expected expired addresses to count, got %d", got)
	}

	ledger.FailNext(l, ledger.OpBalances, "", ledger.ErrUnavailable)
	if _, err := a.Balance(ctx); !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSendToDepositConsultsOracle(t *testing.T) {
	l := ledger.NewInMemory()
	clock := timesrc.NewManual(t0)
	a, _ := newTestAccount(t, l, clock)
	ctx := context.Background()

	amount := int64(25)
	cda, err := a.AllocateDepositAddress(ctx, deposit.Conditions{TimeoutAt: t0.Add(24 * time.Hour), ExpectedAmount: &amount})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	soon := cda
	soon.TimeoutAt = t0.Add(10 * time.Minute)
	if _, err := a.SendToDeposit(ctx, soon); !errors.Is(err, deposit.ErrRejected) {
		t.Fatalf("expected rejection for a CDA about to expire, got %v", err)
	}
	if n := ledger.Calls(l, ledger.OpSend); n != 0 {
		t.Fatalf("rejected CDA must not be paid, got %d sends", n)
	}

	p, err := a.SendToDeposit(ctx, cda)
	if err != nil {
		t.Fatalf("send to deposit: %v", err)
	}
	if len(p.Payload) != 1 || p.Payload[0].Address != cda.Address || p.Payload[0].Value != 25 {
		t.Fatalf("unexpected payload %+v", p.Payload)
	}

	ledger.MarkConfirmed(l, p.LatestAttachment())
	if b, _ := a.Balance(ctx); b.Total != 25 || b.Available != 25 {
		t.Fatalf("expected the paid CDA to be fulfilled, got %+v", b)
	}
}

func TestImportKeepsKeyIndexMonotonic(t *testing.T) {
	l := ledger.NewInMemory()
	clock := timesrc.NewManual(t0)
	a, _ := newTestAccount(t, l, clock)
	ctx := context.Background()

	old, err := a.ExportState(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	cda, _ := a.AllocateDepositAddress(ctx, deposit.Conditions{TimeoutAt: t0.Add(time.Hour), MultiUse: true})

	exported, err := a.ExportState(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	b, _ := newTestAccount(t, l, clock)
	if err := b.ImportState(ctx, exported); err != nil {
		t.Fatalf("import: %v", err)
	}
	if d := b.Deposits(); len(d) != 1 || d[0].Address != cda.Address {
		t.Fatalf("deposits must survive export and import, got %+v", d)
	}

	if err := a.ImportState(ctx, old); err != nil {
		t.Fatalf("import older document: %v", err)
	}
	next, err := a.AllocateDepositAddress(ctx, deposit.Conditions{TimeoutAt: t0.Add(time.Hour), MultiUse: true})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if next.Address == cda.Address {
		t.Fatalf("address %s handed out twice after importing an older document", cda.Address)
	}
}
