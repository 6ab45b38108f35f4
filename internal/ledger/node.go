package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/congo-pay/tangle_account/internal/seed"
)

const (
	apiVersionHeader    = "X-IOTA-API-Version"
	apiVersion          = "1"
	defaultCallTimeout  = 10 * time.Second
	defaultConfirmCache = 10_000
	addressSecurity     = 2
	balanceThreshold    = 100
)

// NodeOptions tunes the node gateway client.
type NodeOptions struct {
	// CallTimeout bounds every request. Defaults to 10s.
	CallTimeout time.Duration
	// ConfirmedCacheSize is the number of confirmed attachment ids remembered.
	ConfirmedCacheSize int
}

// NodeClient talks to a node gateway that exposes JSON commands over HTTP POST.
// The gateway holds the signing and proof-of-work machinery, so it receives the
// seed on sendTransfer and must be a trusted endpoint: plain http is only
// accepted for loopback hosts.
type NodeClient struct {
	provider  string
	timeout   time.Duration
	confirmed *lru.Cache[string, struct{}]
}

// NewNodeClient validates the provider URL and builds a client. It does not
// contact the node.
func NewNodeClient(provider string, opts NodeOptions) (*NodeClient, error) {
	u, err := url.Parse(provider)
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !isLoopback(u.Hostname()) {
			return nil, fmt.Errorf("provider %s: plain http is only allowed for loopback hosts", u.Host)
		}
	default:
		return nil, fmt.Errorf("provider url must be http(s), got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("provider url has no host")
	}

	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.ConfirmedCacheSize <= 0 {
		opts.ConfirmedCacheSize = defaultConfirmCache
	}
	cache, err := lru.New[string, struct{}](opts.ConfirmedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build confirmation cache: %w", err)
	}

	return &NodeClient{provider: u.String(), timeout: opts.CallTimeout, confirmed: cache}, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type nodeError struct {
	Error     string `json:"error"`
	Exception string `json:"exception"`
}

func (c *NodeClient) call(ctx context.Context, command string, req map[string]any, resp any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("%s: %w", command, context.DeadlineExceeded)
	}

	req["command"] = command
	agent := fiber.Post(c.provider).
		Set(apiVersionHeader, apiVersion).
		Timeout(timeout).
		JSON(req)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w: %v", command, ErrUnavailable, errors.Join(errs...))
	}

	if code < 200 || code >= 300 {
		var ne nodeError
		_ = json.Unmarshal(body, &ne)
		msg := ne.Error
		if msg == "" {
			msg = ne.Exception
		}
		if msg == "" {
			msg = fmt.Sprintf("status %d", code)
		}
		return fmt.Errorf("%s: %w: %s", command, ErrRejected, msg)
	}

	if err := json.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", command, err)
	}
	return nil
}

// Send implements Client.
func (c *NodeClient) Send(ctx context.Context, s seed.Seed, transfers []Transfer, opts AttachOptions) (string, error) {
	var out struct {
		Tail string `json:"tail"`
	}
	err := c.call(ctx, "sendTransfer", map[string]any{
		"seed":               s.Reveal(),
		"transfers":          transfers,
		"depth":              opts.Depth,
		"minWeightMagnitude": opts.MinWeightMagnitude,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Tail == "" {
		return "", fmt.Errorf("sendTransfer: %w: empty tail", ErrRejected)
	}
	return out.Tail, nil
}

// Confirmed implements Client. Confirmations are cached; a confirmed attachment
// never becomes unconfirmed.
func (c *NodeClient) Confirmed(ctx context.Context, attachmentIDs []string) (bool, error) {
	for _, id := range attachmentIDs {
		if c.confirmed.Contains(id) {
			return true, nil
		}
	}
	if len(attachmentIDs) == 0 {
		return false, nil
	}

	var out struct {
		States []bool `json:"states"`
	}
	if err := c.call(ctx, "getInclusionStates", map[string]any{"transactions": attachmentIDs}, &out); err != nil {
		return false, err
	}
	if len(out.States) != len(attachmentIDs) {
		return false, fmt.Errorf("getInclusionStates: %w: got %d states for %d transactions", ErrRejected, len(out.States), len(attachmentIDs))
	}

	confirmed := false
	for i, ok := range out.States {
		if ok {
			c.confirmed.Add(attachmentIDs[i], struct{}{})
			confirmed = true
		}
	}
	return confirmed, nil
}

// Promotable implements Client.
func (c *NodeClient) Promotable(ctx context.Context, attachmentID string, maxDepth int) (bool, error) {
	var out struct {
		Promotable bool   `json:"promotable"`
		Info       string `json:"info"`
	}
	err := c.call(ctx, "isPromotable", map[string]any{
		"tail":     attachmentID,
		"maxDepth": maxDepth,
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Promotable, nil
}

// Promote implements Client.
func (c *NodeClient) Promote(ctx context.Context, attachmentID string, opts AttachOptions) error {
	var out struct {
		Tail string `json:"tail"`
	}
	return c.call(ctx, "promoteTransaction", map[string]any{
		"tail":               attachmentID,
		"depth":              opts.Depth,
		"minWeightMagnitude": opts.MinWeightMagnitude,
	}, &out)
}

// Reattach implements Client.
func (c *NodeClient) Reattach(ctx context.Context, attachmentID string, opts AttachOptions) (string, error) {
	var out struct {
		Tail string `json:"tail"`
	}
	err := c.call(ctx, "replayBundle", map[string]any{
		"tail":               attachmentID,
		"depth":              opts.Depth,
		"minWeightMagnitude": opts.MinWeightMagnitude,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Tail == "" {
		return "", fmt.Errorf("replayBundle: %w: empty tail", ErrRejected)
	}
	return out.Tail, nil
}

// NewAddress implements Client. Like sendTransfer it hands the seed to the
// gateway.
func (c *NodeClient) NewAddress(ctx context.Context, s seed.Seed, index uint64) (string, error) {
	var out struct {
		Addresses []string `json:"addresses"`
	}
	err := c.call(ctx, "getNewAddress", map[string]any{
		"seed":     s.Reveal(),
		"index":    index,
		"total":    1,
		"security": addressSecurity,
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Addresses) != 1 || out.Addresses[0] == "" {
		return "", fmt.Errorf("getNewAddress: %w: expected one address, got %d", ErrRejected, len(out.Addresses))
	}
	return out.Addresses[0], nil
}

// Balances implements Client.
func (c *NodeClient) Balances(ctx context.Context, addresses []string) ([]int64, error) {
	if len(addresses) == 0 {
		return []int64{}, nil
	}
	var out struct {
		Balances []string `json:"balances"`
	}
	err := c.call(ctx, "getBalances", map[string]any{
		"addresses": addresses,
		"threshold": balanceThreshold,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Balances) != len(addresses) {
		return nil, fmt.Errorf("getBalances: %w: got %d balances for %d addresses", ErrRejected, len(out.Balances), len(addresses))
	}
	balances := make([]int64, len(out.Balances))
	for i, b := range out.Balances {
		v, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("getBalances: %w: balance %q: %v", ErrRejected, b, err)
		}
		balances[i] = v
	}
	return balances, nil
}
