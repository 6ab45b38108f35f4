package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/congo-pay/tangle_account/internal/seed"
)

func testSeed(t *testing.T) seed.Seed {
	t.Helper()
	s, err := seed.Parse("PUETTSEITFEVEWCWBTSIZM9NKRGJEIMXTULBACGFRQK9IMGICLBKW9TTEVSDQMGWKBXPVCBMMCXWMNPDX")
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	return s
}

var opts = AttachOptions{Depth: 3, MinWeightMagnitude: 9}

func TestInMemoryLedger_SendThenConfirm(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	tail, err := l.Send(ctx, testSeed(t), []Transfer{{Address: "ADDR", Value: 1}}, opts)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	ok, err := l.Confirmed(ctx, []string{tail})
	if err != nil || ok {
		t.Fatalf("expected unconfirmed, got %v %v", ok, err)
	}

	MarkConfirmed(l, tail)
	ok, err = l.Confirmed(ctx, []string{"other", tail})
	if err != nil || !ok {
		t.Fatalf("expected confirmed, got %v %v", ok, err)
	}
}

func TestInMemoryLedger_SendRequiresSeedAndTransfers(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	if _, err := l.Send(ctx, seed.Seed{}, []Transfer{{Address: "A"}}, opts); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection without seed, got %v", err)
	}
	if _, err := l.Send(ctx, testSeed(t), nil, opts); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection without transfers, got %v", err)
	}
}

func TestInMemoryLedger_PromoteAndReattach(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	tail, _ := l.Send(ctx, testSeed(t), []Transfer{{Address: "ADDR"}}, opts)

	promotable, err := l.Promotable(ctx, tail, 6)
	if err != nil || !promotable {
		t.Fatalf("expected promotable, got %v %v", promotable, err)
	}
	if err := l.Promote(ctx, tail, opts); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if Promotions(l, tail) != 1 {
		t.Fatalf("expected one promotion, got %d", Promotions(l, tail))
	}

	SetPromotable(l, tail, false)
	promotable, _ = l.Promotable(ctx, tail, 6)
	if promotable {
		t.Fatalf("expected tail to be no longer promotable")
	}

	reattached, err := l.Reattach(ctx, tail, opts)
	if err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if reattached == tail {
		t.Fatalf("expected a new attachment id")
	}
	if _, err := l.Reattach(ctx, "missing", opts); !errors.Is(err, ErrUnknownAttachment) {
		t.Fatalf("expected unknown attachment, got %v", err)
	}
}

func TestInMemoryLedger_FailNextIsOneShot(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	Register(l, "T1-A")
	boom := fmt.Errorf("%w: node down", ErrUnavailable)
	FailNext(l, OpPromote, "T1-A", boom)

	if err := l.Promote(ctx, "T1-A", opts); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if err := l.Promote(ctx, "T1-A", opts); err != nil {
		t.Fatalf("expected second call to succeed, got %v", err)
	}
	if Calls(l, OpPromote) != 2 {
		t.Fatalf("expected 2 promote calls, got %d", Calls(l, OpPromote))
	}
}

func TestInMemoryLedger_ConcurrentSends(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	s := testSeed(t)

	const workers = 10
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		tails = make(map[string]struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tail, err := l.Send(ctx, s, []Transfer{{Address: fmt.Sprintf("ADDR%d", i)}}, opts)
			if err != nil {
				t.Errorf("send %d failed: %v", i, err)
				return
			}
			mu.Lock()
			tails[tail] = struct{}{}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(tails) != workers {
		t.Fatalf("expected %d distinct tails, got %d", workers, len(tails))
	}
}

func TestInMemoryLedger_AddressesAndBalances(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	s := testSeed(t)

	a0, err := l.NewAddress(ctx, s, 0)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	again, _ := l.NewAddress(ctx, s, 0)
	a1, _ := l.NewAddress(ctx, s, 1)
	if a0 != again || a0 == a1 {
		t.Fatalf("addresses must be stable per index and distinct across indexes: %s %s %s", a0, again, a1)
	}

	tail, _ := l.Send(ctx, s, []Transfer{{Address: a0, Value: 40}}, opts)
	reattached, _ := l.Reattach(ctx, tail, opts)
	Credit(l, a1, 2)

	balances, _ := l.Balances(ctx, []string{a0, a1})
	if balances[0] != 0 {
		t.Fatalf("unconfirmed transfers must not count, got %d", balances[0])
	}

	MarkConfirmed(l, tail)
	MarkConfirmed(l, reattached)
	balances, err = l.Balances(ctx, []string{a0, a1, "UNKNOWN"})
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if balances[0] != 40 || balances[1] != 2 || balances[2] != 0 {
		t.Fatalf("expected a bundle to be credited once, got %v", balances)
	}
}
