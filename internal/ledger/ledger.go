package ledger

import (
	"context"
	"errors"

	"github.com/congo-pay/tangle_account/internal/seed"
)

var (
	// ErrUnavailable indicates the node could not be reached or timed out.
	ErrUnavailable = errors.New("ledger node unavailable")

	// ErrRejected indicates the node refused the request or the transaction.
	ErrRejected = errors.New("ledger node rejected request")

	// ErrUnknownAttachment indicates the node has no record of an attachment.
	ErrUnknownAttachment = errors.New("unknown attachment")
)

// Transfer is one output of a transaction bundle.
type Transfer struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
	Tag     string `json:"tag,omitempty"`
	Message string `json:"message,omitempty"`
}

// AttachOptions carries the tip selection depth and proof-of-work difficulty
// used whenever something is attached to the tangle.
type AttachOptions struct {
	Depth              int `json:"depth"`
	MinWeightMagnitude int `json:"minWeightMagnitude"`
}

// Client is the contract the account needs from the ledger. Address derivation,
// balance lookups, signing, tip selection, proof of work and broadcast all live behind it.
type Client interface {
	// Send signs the transfers with the seed, attaches them and returns the
	// attachment (tail transaction) id.
	Send(ctx context.Context, s seed.Seed, transfers []Transfer, opts AttachOptions) (string, error)
	// Confirmed reports whether any of the given attachments is confirmed.
	Confirmed(ctx context.Context, attachmentIDs []string) (bool, error)
	// Promotable reports whether the attachment's tip can still be promoted
	// given the configured max depth.
	Promotable(ctx context.Context, attachmentID string, maxDepth int) (bool, error)
	// Promote issues a zero-value transaction referencing the attachment.
	Promote(ctx context.Context, attachmentID string, opts AttachOptions) error
	// Reattach rebroadcasts the attachment's bundle on fresh tips and returns
	// the new attachment id.
	Reattach(ctx context.Context, attachmentID string, opts AttachOptions) (string, error)
	// NewAddress derives the seed's address at key index.
	NewAddress(ctx context.Context, s seed.Seed, index uint64) (string, error)
	// Balances returns the confirmed balance of each address, in order.
	Balances(ctx context.Context, addresses []string) ([]int64, error)
}
