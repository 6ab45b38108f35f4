package ledger

// The helpers below only affect ledgers built with NewInMemory and are no-ops
// for any other Client.

// Register makes an attachment id known to the in-memory ledger, as if it had
// been attached by an earlier process.
func Register(l Client, attachmentID string, transfers ...Transfer) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if _, exists := mem.attachments[attachmentID]; !exists {
			mem.attachments[attachmentID] = &attachment{bundle: attachmentID, transfers: transfers, promotable: true}
		}
	}
}

// MarkConfirmed flags an attachment as confirmed and credits its transfers to
// their addresses. A bundle is only credited once.
func MarkConfirmed(l Client, attachmentID string) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		a, exists := mem.attachments[attachmentID]
		if !exists || a.confirmed {
			return
		}
		for _, other := range mem.attachments {
			if other.bundle == a.bundle && other.confirmed {
				a.confirmed = true
				return
			}
		}
		a.confirmed = true
		for _, t := range a.transfers {
			mem.balances[t.Address] += t.Value
		}
	}
}

// Credit adds amount to an address balance.
func Credit(l Client, address string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.balances[address] += amount
	}
}

// SetPromotable controls whether an attachment's tip can still be promoted.
func SetPromotable(l Client, attachmentID string, promotable bool) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if a, exists := mem.attachments[attachmentID]; exists {
			a.promotable = promotable
		}
	}
}

// FailNext makes the next op call for attachmentID return err. Use an empty
// attachment id for operations that do not take one.
func FailNext(l Client, op, attachmentID string, err error) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failures[failureKey(op, attachmentID)] = err
	}
}

// Calls returns how many times op was invoked.
func Calls(l Client, op string) int {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.RLock()
		defer mem.mu.RUnlock()
		return mem.calls[op]
	}
	return 0
}

// Promotions returns how many promotions an attachment received.
func Promotions(l Client, attachmentID string) int {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.RLock()
		defer mem.mu.RUnlock()
		if a, exists := mem.attachments[attachmentID]; exists {
			return a.promotions
		}
	}
	return 0
}
