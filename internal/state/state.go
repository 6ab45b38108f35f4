package state

import (
	"fmt"
	"time"

	"github.com/congo-pay/tangle_account/internal/deposit"
	"github.com/congo-pay/tangle_account/internal/ledger"
	"github.com/congo-pay/tangle_account/internal/seed"
)

// PendingTransaction is a transaction the account submitted that has not been
// observed as confirmed yet.
type PendingTransaction struct {
	ID              string
	Payload         []ledger.Transfer
	CreatedAt       time.Time
	Attachments     []string
	LastAttemptAt   time.Time
	DepthAtCreation int
}

// LatestAttachment returns the most recent attachment id.
func (p *PendingTransaction) LatestAttachment() string {
	if len(p.Attachments) == 0 {
		return ""
	}
	return p.Attachments[len(p.Attachments)-1]
}

// Clone returns a deep copy.
func (p *PendingTransaction) Clone() *PendingTransaction {
	c := *p
	c.Payload = append([]ledger.Transfer(nil), p.Payload...)
	c.Attachments = append([]string(nil), p.Attachments...)
	return &c
}

// Equal compares field by field; timestamps are compared as instants.
func (p *PendingTransaction) Equal(o *PendingTransaction) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.ID != o.ID || p.DepthAtCreation != o.DepthAtCreation ||
		!p.CreatedAt.Equal(o.CreatedAt) || !p.LastAttemptAt.Equal(o.LastAttemptAt) {
		return false
	}
	if len(p.Payload) != len(o.Payload) || len(p.Attachments) != len(o.Attachments) {
		return false
	}
	for i := range p.Payload {
		if p.Payload[i] != o.Payload[i] {
			return false
		}
	}
	for i := range p.Attachments {
		if p.Attachments[i] != o.Attachments[i] {
			return false
		}
	}
	return true
}

// ConfirmedTransaction records when a pending transaction was seen confirmed.
// It is never mutated once created.
type ConfirmedTransaction struct {
	ID          string
	ConfirmedAt time.Time
}

// Cursor is the scheduler's bookkeeping.
type Cursor struct {
	LastRunAt time.Time
	// Promotions counts promotions issued against the current attachment of
	// each pending transaction.
	Promotions map[string]int
}

// DepositRequest is an address the account allocated for receiving funds.
type DepositRequest struct {
	Address     string
	KeyIndex    uint64
	Conditions  deposit.Conditions
	AllocatedAt time.Time
}

// CDA returns the form handed to depositors.
func (d DepositRequest) CDA() deposit.CDA {
	return deposit.CDA{Address: d.Address, Conditions: d.Conditions.Clone()}
}

// Equal compares field by field; timestamps are compared as instants.
func (d DepositRequest) Equal(o DepositRequest) bool {
	return d.Address == o.Address && d.KeyIndex == o.KeyIndex &&
		d.AllocatedAt.Equal(o.AllocatedAt) && d.Conditions.Equal(o.Conditions)
}

// AccountState is everything an account needs to resume elsewhere.
type AccountState struct {
	Seed      seed.Seed
	Pending   map[string]*PendingTransaction
	Confirmed map[string]ConfirmedTransaction
	// Deposits is keyed by address.
	Deposits map[string]DepositRequest
	// KeyIndex is the next unused address index. It only grows, so no address
	// is handed out twice.
	KeyIndex uint64
	Cursor   Cursor
}

// New returns an empty state for s.
func New(s seed.Seed) AccountState {
	return AccountState{
		Seed:      s,
		Pending:   make(map[string]*PendingTransaction),
		Confirmed: make(map[string]ConfirmedTransaction),
		Deposits:  make(map[string]DepositRequest),
		Cursor:    Cursor{Promotions: make(map[string]int)},
	}
}

// Clone returns a deep copy that shares nothing mutable with s.
func (s AccountState) Clone() AccountState {
	c := New(s.Seed)
	for id, p := range s.Pending {
		c.Pending[id] = p.Clone()
	}
	for id, tx := range s.Confirmed {
		c.Confirmed[id] = tx
	}
	for addr, d := range s.Deposits {
		d.Conditions = d.Conditions.Clone()
		c.Deposits[addr] = d
	}
	c.KeyIndex = s.KeyIndex
	c.Cursor.LastRunAt = s.Cursor.LastRunAt
	for id, n := range s.Cursor.Promotions {
		c.Cursor.Promotions[id] = n
	}
	return c
}

// Equal reports key-set and field-wise equality. Map order is irrelevant and
// timestamps are compared as instants.
func (s AccountState) Equal(o AccountState) bool {
	if !s.Seed.Equal(o.Seed) || !s.Cursor.LastRunAt.Equal(o.Cursor.LastRunAt) {
		return false
	}
	if len(s.Pending) != len(o.Pending) || len(s.Confirmed) != len(o.Confirmed) ||
		len(s.Deposits) != len(o.Deposits) || s.KeyIndex != o.KeyIndex {
		return false
	}
	for addr, d := range s.Deposits {
		od, ok := o.Deposits[addr]
		if !ok || !d.Equal(od) {
			return false
		}
	}
	for id, p := range s.Pending {
		if !p.Equal(o.Pending[id]) {
			return false
		}
	}
	for id, c := range s.Confirmed {
		oc, ok := o.Confirmed[id]
		if !ok || oc.ID != c.ID || !oc.ConfirmedAt.Equal(c.ConfirmedAt) {
			return false
		}
	}
	if nonZero(s.Cursor.Promotions) != nonZero(o.Cursor.Promotions) {
		return false
	}
	for id, n := range s.Cursor.Promotions {
		if n != 0 && o.Cursor.Promotions[id] != n {
			return false
		}
	}
	return true
}

func nonZero(m map[string]int) int {
	n := 0
	for _, v := range m {
		if v != 0 {
			n++
		}
	}
	return n
}

// Validate checks the structural invariants of the state.
func (s AccountState) Validate() error {
	if s.Seed.IsZero() {
		return fmt.Errorf("seed is required")
	}
	for id, p := range s.Pending {
		if p == nil {
			return fmt.Errorf("pending %q: nil record", id)
		}
		if id == "" || p.ID != id {
			return fmt.Errorf("pending %q: id mismatch", id)
		}
		if len(p.Attachments) == 0 {
			return fmt.Errorf("pending %q: no attachments", id)
		}
		for _, a := range p.Attachments {
			if a == "" {
				return fmt.Errorf("pending %q: empty attachment id", id)
			}
		}
		if _, dup := s.Confirmed[id]; dup {
			return fmt.Errorf("transaction %q is both pending and confirmed", id)
		}
	}
	for id, c := range s.Confirmed {
		if id == "" || c.ID != id {
			return fmt.Errorf("confirmed %q: id mismatch", id)
		}
	}
	for id := range s.Cursor.Promotions {
		if _, ok := s.Pending[id]; !ok {
			return fmt.Errorf("promotion counter for unknown pending transaction %q", id)
		}
	}
	indexes := make(map[uint64]string, len(s.Deposits))
	for addr, d := range s.Deposits {
		if addr == "" || d.Address != addr {
			return fmt.Errorf("deposit %q: address mismatch", addr)
		}
		if d.KeyIndex >= s.KeyIndex {
			return fmt.Errorf("deposit %q: key index %d not below next index %d", addr, d.KeyIndex, s.KeyIndex)
		}
		if other, dup := indexes[d.KeyIndex]; dup {
			return fmt.Errorf("deposits %q and %q share key index %d", other, addr, d.KeyIndex)
		}
		indexes[d.KeyIndex] = addr
		if d.Conditions.TimeoutAt.IsZero() {
			return fmt.Errorf("deposit %q: no timeout", addr)
		}
	}
	return nil
}
