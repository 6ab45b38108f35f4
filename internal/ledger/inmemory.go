package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/congo-pay/tangle_account/internal/seed"
)

// Operation names used by the in-memory ledger for call accounting and
// failure injection.
const (
	OpSend       = "send"
	OpConfirmed  = "confirmed"
	OpPromotable = "promotable"
	OpPromote    = "promote"
	OpReattach   = "reattach"
	OpNewAddress = "new_address"
	OpBalances   = "balances"
)

type attachment struct {
	bundle     string
	transfers  []Transfer
	confirmed  bool
	promotable bool
	promotions int
}

type inMemoryLedger struct {
	mu          sync.RWMutex
	attachments map[string]*attachment
	balances    map[string]int64
	failures    map[string]error
	calls       map[string]int
}

// NewInMemory creates a concurrency-safe simulated tangle useful for unit tests
// and local development. New attachments start unconfirmed and promotable.
func NewInMemory() Client {
	return &inMemoryLedger{
		attachments: make(map[string]*attachment),
		balances:    make(map[string]int64),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
	}
}

func failureKey(op, attachmentID string) string {
	return op + ":" + attachmentID
}

// takeFailure must be called with l.mu held.
func (l *inMemoryLedger) takeFailure(op, attachmentID string) error {
	l.calls[op]++
	key := failureKey(op, attachmentID)
	if err, ok := l.failures[key]; ok {
		delete(l.failures, key)
		return err
	}
	return nil
}

func (l *inMemoryLedger) Send(ctx context.Context, s seed.Seed, transfers []Transfer, _ AttachOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.IsZero() {
		return "", fmt.Errorf("%w: seed required", ErrRejected)
	}
	if len(transfers) == 0 {
		return "", fmt.Errorf("%w: no transfers", ErrRejected)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(OpSend, ""); err != nil {
		return "", err
	}

	id := uuid.NewString()
	l.attachments[id] = &attachment{
		bundle:     uuid.NewString(),
		transfers:  append([]Transfer(nil), transfers...),
		promotable: true,
	}
	return id, nil
}

func (l *inMemoryLedger) Confirmed(ctx context.Context, attachmentIDs []string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	confirmed := false
	for _, id := range attachmentIDs {
		if err := l.takeFailure(OpConfirmed, id); err != nil {
			return false, err
		}
		if a, ok := l.attachments[id]; ok && a.confirmed {
			confirmed = true
		}
	}
	return confirmed, nil
}

func (l *inMemoryLedger) Promotable(ctx context.Context, attachmentID string, _ int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(OpPromotable, attachmentID); err != nil {
		return false, err
	}
	a, ok := l.attachments[attachmentID]
	if !ok {
		return false, ErrUnknownAttachment
	}
	return a.promotable, nil
}

func (l *inMemoryLedger) Promote(ctx context.Context, attachmentID string, _ AttachOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(OpPromote, attachmentID); err != nil {
		return err
	}
	a, ok := l.attachments[attachmentID]
	if !ok {
		return ErrUnknownAttachment
	}
	a.promotions++
	return nil
}

func (l *inMemoryLedger) Reattach(ctx context.Context, attachmentID string, _ AttachOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(OpReattach, attachmentID); err != nil {
		return "", err
	}
	a, ok := l.attachments[attachmentID]
	if !ok {
		return "", ErrUnknownAttachment
	}

	id := uuid.NewString()
	l.attachments[id] = &attachment{
		bundle:     a.bundle,
		transfers:  a.transfers,
		promotable: true,
	}
	return id, nil
}

// addressSpace namespaces simulated addresses so they never collide with
// attachment ids.
var addressSpace = uuid.MustParse("6f1c2a4e-5b0d-4c1e-9a57-3d2b8e7f0a91")

// NewAddress derives a stable address from the seed and index.
func (l *inMemoryLedger) NewAddress(ctx context.Context, s seed.Seed, index uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.IsZero() {
		return "", fmt.Errorf("%w: seed required", ErrRejected)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(OpNewAddress, ""); err != nil {
		return "", err
	}
	id := uuid.NewSHA1(addressSpace, []byte(s.Reveal()+":"+strconv.FormatUint(index, 10)))
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")), nil
}

// Balances reports what confirmed transfers and Credit paid each address.
func (l *inMemoryLedger) Balances(ctx context.Context, addresses []string) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(OpBalances, ""); err != nil {
		return nil, err
	}
	out := make([]int64, len(addresses))
	for i, addr := range addresses {
		out[i] = l.balances[addr]
	}
	return out, nil
}
