package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeNode struct {
	inclusionCalls atomic.Int32
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(apiVersionHeader) != apiVersion {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing api version"})
		return
	}
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cmd, _ := req["command"].(string)

	w.Header().Set("Content-Type", "application/json")
	switch cmd {
	case "sendTransfer":
		if req["seed"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid seed"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"tail": "TAIL1"})
	case "getInclusionStates":
		n.inclusionCalls.Add(1)
		txs, _ := req["transactions"].([]any)
		states := make([]bool, len(txs))
		for i, tx := range txs {
			states[i] = tx == "CONFIRMED"
		}
		_ = json.NewEncoder(w).Encode(map[string][]bool{"states": states})
	case "isPromotable":
		_ = json.NewEncoder(w).Encode(map[string]any{"promotable": req["tail"] == "FRESH"})
	case "promoteTransaction":
		_ = json.NewEncoder(w).Encode(map[string]string{"tail": "PROMO"})
	case "replayBundle":
		_ = json.NewEncoder(w).Encode(map[string]string{"tail": "REATTACHED"})
	case "getNewAddress":
		index, _ := req["index"].(float64)
		_ = json.NewEncoder(w).Encode(map[string][]string{"addresses": {fmt.Sprintf("ADDR%d", int(index))}})
	case "getBalances":
		addrs, _ := req["addresses"].([]any)
		balances := make([]string, len(addrs))
		for i, a := range addrs {
			balances[i] = "250"
			if a == "GARBLED" {
				balances[i] = "lots"
			}
		}
		_ = json.NewEncoder(w).Encode(map[string][]string{"balances": balances})
	default:
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown command"})
	}
}

func newTestNode(t *testing.T) (*fakeNode, *NodeClient) {
	t.Helper()
	node := &fakeNode{}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	client, err := NewNodeClient(srv.URL, NodeOptions{CallTimeout: time.Second})
	if err != nil {
		t.Fatalf("new node client: %v", err)
	}
	return node, client
}

func TestNewNodeClientRejectsInsecureRemote(t *testing.T) {
	if _, err := NewNodeClient("http://nodes.devnet.iota.org:443", NodeOptions{}); err == nil {
		t.Fatalf("expected plain http remote to be rejected")
	}
	if _, err := NewNodeClient("ftp://localhost", NodeOptions{}); err == nil {
		t.Fatalf("expected unsupported scheme to be rejected")
	}
	if _, err := NewNodeClient("https://nodes.devnet.iota.org:443", NodeOptions{}); err != nil {
		t.Fatalf("expected https to be accepted: %v", err)
	}
}

func TestNodeClientSendAndReattach(t *testing.T) {
	_, client := newTestNode(t)
	ctx := context.Background()

	tail, err := client.Send(ctx, testSeed(t), []Transfer{{Address: "ADDR", Value: 5}}, opts)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if tail != "TAIL1" {
		t.Fatalf("unexpected tail %q", tail)
	}

	newTail, err := client.Reattach(ctx, tail, opts)
	if err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if newTail != "REATTACHED" {
		t.Fatalf("unexpected reattach tail %q", newTail)
	}

	if err := client.Promote(ctx, tail, opts); err != nil {
		t.Fatalf("promote: %v", err)
	}
}

func TestNodeClientConfirmedIsCached(t *testing.T) {
	node, client := newTestNode(t)
	ctx := context.Background()

	ok, err := client.Confirmed(ctx, []string{"PENDING", "CONFIRMED"})
	if err != nil || !ok {
		t.Fatalf("expected confirmed, got %v %v", ok, err)
	}
	ok, err = client.Confirmed(ctx, []string{"CONFIRMED"})
	if err != nil || !ok {
		t.Fatalf("expected cached confirmation, got %v %v", ok, err)
	}
	if got := node.inclusionCalls.Load(); got != 1 {
		t.Fatalf("expected one inclusion call, got %d", got)
	}

	ok, err = client.Confirmed(ctx, []string{"PENDING"})
	if err != nil || ok {
		t.Fatalf("expected pending, got %v %v", ok, err)
	}
}

func TestNodeClientPromotable(t *testing.T) {
	_, client := newTestNode(t)
	ctx := context.Background()

	if ok, err := client.Promotable(ctx, "FRESH", 6); err != nil || !ok {
		t.Fatalf("expected promotable, got %v %v", ok, err)
	}
	if ok, err := client.Promotable(ctx, "STALE", 6); err != nil || ok {
		t.Fatalf("expected not promotable, got %v %v", ok, err)
	}
}

func TestNodeClientAddressesAndBalances(t *testing.T) {
	_, client := newTestNode(t)
	ctx := context.Background()

	addr, err := client.NewAddress(ctx, testSeed(t), 7)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	if addr != "ADDR7" {
		t.Fatalf("unexpected address %q", addr)
	}

	balances, err := client.Balances(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 2 || balances[0] != 250 || balances[1] != 250 {
		t.Fatalf("unexpected balances %v", balances)
	}
	if _, err := client.Balances(ctx, []string{"GARBLED"}); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected for an unparsable balance, got %v", err)
	}
	if balances, err := client.Balances(ctx, nil); err != nil || len(balances) != 0 {
		t.Fatalf("expected no call for no addresses, got %v %v", balances, err)
	}
}

func TestNodeClientErrors(t *testing.T) {
	_, client := newTestNode(t)
	ctx := context.Background()

	err := client.call(ctx, "bogus", map[string]any{}, &struct{}{})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	down, err := NewNodeClient("http://127.0.0.1:1", NodeOptions{CallTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("new node client: %v", err)
	}
	if _, err := down.Confirmed(ctx, []string{"X"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := client.Promote(cancelled, "X", opts); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
