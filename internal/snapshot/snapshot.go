// Package snapshot persists account state through a store.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/tangle_account/internal/account"
	"github.com/congo-pay/tangle_account/internal/metrics"
	"github.com/congo-pay/tangle_account/internal/state"
	"github.com/congo-pay/tangle_account/internal/store"
)

// Snapshotter saves and restores one account.
type Snapshotter struct {
	acct   *account.Account
	store  store.Store
	logger *slog.Logger
}

// New builds a snapshotter for acct.
func New(acct *account.Account, st store.Store, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{acct: acct, store: st, logger: logger.With(slog.String("account_id", acct.ID()))}
}

// Restore imports the saved document, if any. It reports false when nothing
// had been saved for the account.
func (s *Snapshotter) Restore(ctx context.Context) (bool, error) {
	data, err := s.store.Load(ctx, s.acct.ID())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	doc, err := state.Parse(data)
	if err != nil {
		return false, fmt.Errorf("parse saved state: %w", err)
	}
	if err := s.acct.ImportState(ctx, doc); err != nil {
		return false, fmt.Errorf("import saved state: %w", err)
	}
	s.logger.Info("state restored", slog.Int("pending", len(doc.Pending)), slog.Int("confirmed", len(doc.Confirmed)))
	return true, nil
}

// Save exports the account and writes the document to the store.
func (s *Snapshotter) Save(ctx context.Context) error {
	doc, err := s.acct.ExportState(ctx)
	if err != nil {
		metrics.Snapshots.WithLabelValues(s.acct.ID(), "failed").Inc()
		return fmt.Errorf("export state: %w", err)
	}
	data, err := doc.Marshal()
	if err != nil {
		metrics.Snapshots.WithLabelValues(s.acct.ID(), "failed").Inc()
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.store.Save(ctx, s.acct.ID(), data); err != nil {
		metrics.Snapshots.WithLabelValues(s.acct.ID(), "failed").Inc()
		return err
	}
	metrics.Snapshots.WithLabelValues(s.acct.ID(), "ok").Inc()
	return nil
}

// Run saves every interval until ctx is done. A failed save is logged and
// retried at the next interval.
func (s *Snapshotter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Save(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("snapshot failed", slog.Any("error", err))
			}
		}
	}
}
