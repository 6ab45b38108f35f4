package notification

import (
	"context"
	"log/slog"
)

const (
	// KindConfirmed reports a pending transaction moving to confirmed.
	KindConfirmed = "transaction_confirmed"
	// KindPromoted reports a promotion issued for a pending transaction.
	KindPromoted = "transaction_promoted"
	// KindReattached reports a new attachment for a pending transaction.
	KindReattached = "transaction_reattached"
	// KindAttemptFailed reports a per-transaction failure during a tick.
	KindAttemptFailed = "attempt_failed"
	// KindTickSkipped reports a tick that did not run (no time, lease lost).
	KindTickSkipped = "tick_skipped"
)

// Message describes a scheduler event.
type Message struct {
	Kind          string
	AccountID     string
	TransactionID string
	// Op names the failed ledger operation, if any.
	Op   string
	Body string
	Err  error
}

// Notifier delivers scheduler events to whoever observes the account.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes events to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger. Failures log at warn.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []any{
		slog.String("kind", message.Kind),
		slog.String("account_id", message.AccountID),
	}
	if message.TransactionID != "" {
		attrs = append(attrs, slog.String("transaction_id", message.TransactionID))
	}
	if message.Op != "" {
		attrs = append(attrs, slog.String("op", message.Op))
	}
	if message.Body != "" {
		attrs = append(attrs, slog.String("body", message.Body))
	}
	if message.Err != nil {
		attrs = append(attrs, slog.Any("error", message.Err))
		n.logger.WarnContext(ctx, "account event", attrs...)
		return nil
	}
	n.logger.InfoContext(ctx, "account event", attrs...)
	return nil
}

// Multi fans a message out to several notifiers and returns the first error.
type Multi []Notifier

// Send implements Notifier.
func (m Multi) Send(ctx context.Context, message Message) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
