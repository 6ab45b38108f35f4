package state_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/tangle_account/internal/deposit"
	"github.com/congo-pay/tangle_account/internal/ledger"
	"github.com/congo-pay/tangle_account/internal/seed"
	"github.com/congo-pay/tangle_account/internal/state"
)

const testSeed = "PUETTSEITFEVEWCWBTSIZM9NKRGJEIMXTULBACGFRQK9IMGICLBKW9TTEVSDQMGWKBXPVCBMMCXWMNPDX"

func mustSeed(t *testing.T) seed.Seed {
	t.Helper()
	s, err := seed.Parse(testSeed)
	require.NoError(t, err)
	return s
}

func randomState(t *testing.T, r *rand.Rand) state.AccountState {
	t.Helper()
	s := state.New(mustSeed(t))
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	pending, confirmed := r.Intn(6), r.Intn(6)
	for i := 0; i < pending; i++ {
		id := fmt.Sprintf("P%d", i)
		p := &state.PendingTransaction{
			ID:              id,
			CreatedAt:       base.Add(time.Duration(r.Intn(1000)) * time.Second),
			LastAttemptAt:   base.Add(time.Duration(1000+r.Intn(1000)) * time.Second),
			DepthAtCreation: 1 + r.Intn(5),
		}
		attachments, transfers := 1+r.Intn(3), r.Intn(3)
		for j := 0; j < attachments; j++ {
			p.Attachments = append(p.Attachments, fmt.Sprintf("%s-A%d", id, j))
		}
		for j := 0; j < transfers; j++ {
			p.Payload = append(p.Payload, ledger.Transfer{Address: fmt.Sprintf("ADDR%d", j), Value: r.Int63n(100), Tag: "TAG"})
		}
		s.Pending[id] = p
		if r.Intn(2) == 0 {
			s.Cursor.Promotions[id] = 1 + r.Intn(4)
		}
	}
	for i := 0; i < confirmed; i++ {
		id := fmt.Sprintf("C%d", i)
		s.Confirmed[id] = state.ConfirmedTransaction{ID: id, ConfirmedAt: base.Add(time.Duration(r.Intn(5000)) * time.Second)}
	}
	deposits := r.Intn(4)
	for i := 0; i < deposits; i++ {
		addr := fmt.Sprintf("DEPOSIT%d", i)
		d := state.DepositRequest{
			Address:     addr,
			KeyIndex:    uint64(i),
			AllocatedAt: base.Add(time.Duration(r.Intn(1000)) * time.Second),
			Conditions:  deposit.Conditions{TimeoutAt: base.Add(24 * time.Hour), MultiUse: r.Intn(2) == 0},
		}
		if !d.Conditions.MultiUse {
			v := 1 + r.Int63n(100)
			d.Conditions.ExpectedAmount = &v
		}
		s.Deposits[addr] = d
	}
	s.KeyIndex = uint64(deposits + r.Intn(3))
	if r.Intn(2) == 0 {
		s.Cursor.LastRunAt = base.Add(time.Hour)
	}
	return s
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		original := randomState(t, r)

		decoded, err := state.Decode(state.Encode(original))
		require.NoError(t, err)
		assert.True(t, original.Equal(decoded), "typed round trip %d", i)

		data, err := state.Encode(original).Marshal()
		require.NoError(t, err)
		doc, err := state.Parse(data)
		require.NoError(t, err)
		fromJSON, err := state.Decode(doc)
		require.NoError(t, err)
		assert.True(t, original.Equal(fromJSON), "json round trip %d", i)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	s := randomState(t, rand.New(rand.NewSource(3)))

	first, err := state.Encode(s).Marshal()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := state.Encode(s.Clone()).Marshal()
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestEncodeCarriesVersionAndSeed(t *testing.T) {
	doc := state.Encode(state.New(mustSeed(t)))
	assert.Equal(t, state.FormatVersion, doc.Version)
	assert.Equal(t, testSeed, doc.Seed)
	assert.Equal(t, mustSeed(t).ID(), doc.AccountID)
	assert.NotNil(t, doc.Pending)
	assert.NotNil(t, doc.Confirmed)
}

func TestParseMissingVersion(t *testing.T) {
	data, err := state.Encode(state.New(mustSeed(t))).Marshal()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	delete(raw, "version")
	data, err = json.Marshal(raw)
	require.NoError(t, err)

	_, err = state.Parse(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, state.ErrMalformed))

	var ie *state.ImportError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, state.ReasonMalformed, ie.Reason)
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{`, state.ErrMalformed},
		{"not an object", `[1,2]`, state.ErrMalformed},
		{"string version", `{"version":"1","seed":"ABC","pending":[],"confirmed":[]}`, state.ErrMalformed},
		{"future version", `{"version":2,"seed":"ABC","pending":[],"confirmed":[]}`, state.ErrUnsupportedVersion},
		{"missing pending", `{"version":1,"seed":"ABC","confirmed":[]}`, state.ErrMalformed},
		{"lowercase seed", `{"version":1,"seed":"abc","pending":[],"confirmed":[]}`, state.ErrMalformed},
		{"pending without attachments", `{"version":1,"seed":"ABC","pending":[{"id":"T1","payload":[],"created_at":"2024-01-01T00:00:00Z","attachments":[],"last_attempt_at":"2024-01-01T00:00:00Z"}],"confirmed":[]}`, state.ErrMalformed},
		{"unknown field", `{"version":1,"seed":"ABC","pending":[],"confirmed":[],"extra":true}`, state.ErrMalformed},
		{"zero expected amount", `{"version":1,"seed":"ABC","pending":[],"confirmed":[],"key_index":1,"deposits":[{"address":"D","key_index":0,"timeout_at":"2024-01-01T00:00:00Z","allocated_at":"2024-01-01T00:00:00Z","expected_amount":0}]}`, state.ErrMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := state.Parse([]byte(tc.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	valid := func() state.Document {
		s := state.New(mustSeed(t))
		s.Pending["T1"] = &state.PendingTransaction{ID: "T1", Attachments: []string{"A1"}}
		return state.Encode(s)
	}

	doc := valid()
	doc.Version = 0
	_, err := state.Decode(doc)
	assert.ErrorIs(t, err, state.ErrMalformed)

	doc = valid()
	doc.Version = 9
	_, err = state.Decode(doc)
	assert.ErrorIs(t, err, state.ErrUnsupportedVersion)

	doc = valid()
	doc.Confirmed = append(doc.Confirmed, state.ConfirmedRecord{ID: "T1", ConfirmedAt: time.Now()})
	_, err = state.Decode(doc)
	assert.ErrorIs(t, err, state.ErrMalformed, "pending and confirmed must be disjoint")

	doc = valid()
	doc.Pending = append(doc.Pending, doc.Pending[0])
	_, err = state.Decode(doc)
	assert.ErrorIs(t, err, state.ErrMalformed, "duplicate ids")

	doc = valid()
	doc.AccountID = "someone-else"
	_, err = state.Decode(doc)
	assert.ErrorIs(t, err, state.ErrMalformed)

	doc = valid()
	doc.Scheduler.Promotions = map[string]int{"ghost": 1}
	_, err = state.Decode(doc)
	assert.ErrorIs(t, err, state.ErrMalformed)

	record := state.DepositRecord{Address: "D1", KeyIndex: 0, TimeoutAt: time.Now(), AllocatedAt: time.Now()}
	doc = valid()
	doc.Deposits = []state.DepositRecord{record}
	_, err = state.Decode(doc)
	assert.ErrorIs(t, err, state.ErrMalformed, "deposit index must be below the next key index")

	doc.KeyIndex = 2
	doc.Deposits = []state.DepositRecord{record, {Address: "D2", KeyIndex: 0, TimeoutAt: time.Now(), AllocatedAt: time.Now()}}
	_, err = state.Decode(doc)
	assert.ErrorIs(t, err, state.ErrMalformed, "deposits must not share a key index")

	doc.Deposits = []state.DepositRecord{record, record}
	_, err = state.Decode(doc)
	assert.ErrorIs(t, err, state.ErrMalformed, "duplicate deposit address")
}

func TestCloneIsIndependent(t *testing.T) {
	s := state.New(mustSeed(t))
	s.Pending["T1"] = &state.PendingTransaction{ID: "T1", Attachments: []string{"A1"}}

	c := s.Clone()
	c.Pending["T1"].Attachments = append(c.Pending["T1"].Attachments, "A2")
	c.Cursor.Promotions["T1"] = 3

	assert.Len(t, s.Pending["T1"].Attachments, 1)
	assert.Zero(t, s.Cursor.Promotions["T1"])
	assert.False(t, s.Equal(c))

	amount := int64(5)
	s.Deposits["D1"] = state.DepositRequest{Address: "D1", Conditions: deposit.Conditions{TimeoutAt: time.Now(), ExpectedAmount: &amount}}
	s.KeyIndex = 1
	c = s.Clone()
	*c.Deposits["D1"].Conditions.ExpectedAmount = 6
	assert.Equal(t, int64(5), *s.Deposits["D1"].Conditions.ExpectedAmount)
}
