package state

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/congo-pay/tangle_account/internal/deposit"
	"github.com/congo-pay/tangle_account/internal/ledger"
	"github.com/congo-pay/tangle_account/internal/seed"
)

// FormatVersion is the export document version written by Encode.
const FormatVersion = 1

const schemaURL = "export-v1.schema.json"

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func exportSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Document is the portable, human-diffable form of an AccountState. It carries
// the seed in cleartext; persisting it is the caller's responsibility.
type Document struct {
	Version   int               `json:"version"`
	AccountID string            `json:"account_id,omitempty"`
	Seed      string            `json:"seed"`
	Pending   []PendingRecord   `json:"pending"`
	Confirmed []ConfirmedRecord `json:"confirmed"`
	Deposits  []DepositRecord   `json:"deposits,omitempty"`
	KeyIndex  uint64            `json:"key_index,omitempty"`
	Scheduler SchedulerRecord   `json:"scheduler"`
}

// PendingRecord is the document form of a PendingTransaction.
type PendingRecord struct {
	ID              string            `json:"id"`
	Payload         []ledger.Transfer `json:"payload"`
	CreatedAt       time.Time         `json:"created_at"`
	Attachments     []string          `json:"attachments"`
	LastAttemptAt   time.Time         `json:"last_attempt_at"`
	DepthAtCreation int               `json:"depth_at_creation"`
}

// ConfirmedRecord is the document form of a ConfirmedTransaction.
type ConfirmedRecord struct {
	ID          string    `json:"id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// DepositRecord is the document form of a DepositRequest.
type DepositRecord struct {
	Address        string    `json:"address"`
	KeyIndex       uint64    `json:"key_index"`
	TimeoutAt      time.Time `json:"timeout_at"`
	MultiUse       bool      `json:"multi_use"`
	ExpectedAmount *int64    `json:"expected_amount,omitempty"`
	AllocatedAt    time.Time `json:"allocated_at"`
}

// SchedulerRecord is the document form of the scheduler Cursor.
type SchedulerRecord struct {
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	Promotions map[string]int `json:"promotions,omitempty"`
}

// Encode serializes s. Output is deterministic: records are sorted by id and
// timestamps normalised to UTC.
func Encode(s AccountState) Document {
	doc := Document{
		Version:   FormatVersion,
		AccountID: s.Seed.ID(),
		Seed:      s.Seed.Reveal(),
		Pending:   make([]PendingRecord, 0, len(s.Pending)),
		Confirmed: make([]ConfirmedRecord, 0, len(s.Confirmed)),
	}

	for _, p := range s.Pending {
		doc.Pending = append(doc.Pending, PendingRecord{
			ID:              p.ID,
			Payload:         append([]ledger.Transfer{}, p.Payload...),
			CreatedAt:       p.CreatedAt.UTC(),
			Attachments:     append([]string{}, p.Attachments...),
			LastAttemptAt:   p.LastAttemptAt.UTC(),
			DepthAtCreation: p.DepthAtCreation,
		})
	}
	sort.Slice(doc.Pending, func(i, j int) bool { return doc.Pending[i].ID < doc.Pending[j].ID })

	for _, c := range s.Confirmed {
		doc.Confirmed = append(doc.Confirmed, ConfirmedRecord{ID: c.ID, ConfirmedAt: c.ConfirmedAt.UTC()})
	}
	sort.Slice(doc.Confirmed, func(i, j int) bool { return doc.Confirmed[i].ID < doc.Confirmed[j].ID })

	for _, d := range s.Deposits {
		c := d.Conditions.Clone()
		doc.Deposits = append(doc.Deposits, DepositRecord{
			Address:        d.Address,
			KeyIndex:       d.KeyIndex,
			TimeoutAt:      c.TimeoutAt.UTC(),
			MultiUse:       c.MultiUse,
			ExpectedAmount: c.ExpectedAmount,
			AllocatedAt:    d.AllocatedAt.UTC(),
		})
	}
	sort.Slice(doc.Deposits, func(i, j int) bool { return doc.Deposits[i].KeyIndex < doc.Deposits[j].KeyIndex })
	doc.KeyIndex = s.KeyIndex

	if !s.Cursor.LastRunAt.IsZero() {
		t := s.Cursor.LastRunAt.UTC()
		doc.Scheduler.LastRunAt = &t
	}
	for id, n := range s.Cursor.Promotions {
		if n == 0 {
			continue
		}
		if doc.Scheduler.Promotions == nil {
			doc.Scheduler.Promotions = make(map[string]int)
		}
		doc.Scheduler.Promotions[id] = n
	}
	return doc
}

// Decode rebuilds an AccountState from doc. It performs no I/O.
func Decode(doc Document) (AccountState, error) {
	if doc.Version == 0 {
		return AccountState{}, Malformed("missing version")
	}
	if doc.Version != FormatVersion {
		return AccountState{}, importErr(ReasonUnsupportedVersion, "version %d", doc.Version)
	}

	sd, err := seed.Parse(doc.Seed)
	if err != nil {
		return AccountState{}, Malformed("seed: %v", err)
	}
	if doc.AccountID != "" && doc.AccountID != sd.ID() {
		return AccountState{}, Malformed("account_id does not match seed")
	}

	s := New(sd)
	for _, r := range doc.Pending {
		if _, dup := s.Pending[r.ID]; dup {
			return AccountState{}, Malformed("duplicate pending transaction %q", r.ID)
		}
		s.Pending[r.ID] = &PendingTransaction{
			ID:              r.ID,
			Payload:         append([]ledger.Transfer(nil), r.Payload...),
			CreatedAt:       r.CreatedAt.UTC(),
			Attachments:     append([]string(nil), r.Attachments...),
			LastAttemptAt:   r.LastAttemptAt.UTC(),
			DepthAtCreation: r.DepthAtCreation,
		}
	}
	for _, r := range doc.Confirmed {
		if _, dup := s.Confirmed[r.ID]; dup {
			return AccountState{}, Malformed("duplicate confirmed transaction %q", r.ID)
		}
		s.Confirmed[r.ID] = ConfirmedTransaction{ID: r.ID, ConfirmedAt: r.ConfirmedAt.UTC()}
	}
	for _, r := range doc.Deposits {
		if _, dup := s.Deposits[r.Address]; dup {
			return AccountState{}, Malformed("duplicate deposit address %q", r.Address)
		}
		s.Deposits[r.Address] = DepositRequest{
			Address:  r.Address,
			KeyIndex: r.KeyIndex,
			Conditions: deposit.Conditions{
				TimeoutAt:      r.TimeoutAt.UTC(),
				MultiUse:       r.MultiUse,
				ExpectedAmount: r.ExpectedAmount,
			}.Clone(),
			AllocatedAt: r.AllocatedAt.UTC(),
		}
	}
	s.KeyIndex = doc.KeyIndex
	if doc.Scheduler.LastRunAt != nil {
		s.Cursor.LastRunAt = doc.Scheduler.LastRunAt.UTC()
	}
	for id, n := range doc.Scheduler.Promotions {
		if n < 0 {
			return AccountState{}, Malformed("negative promotion count for %q", id)
		}
		s.Cursor.Promotions[id] = n
	}

	if err := s.Validate(); err != nil {
		return AccountState{}, Malformed("%v", err)
	}
	return s, nil
}

// Parse reads a raw export document. The version is checked before the schema
// so that documents from a newer release report UnsupportedVersion rather than
// Malformed.
func Parse(data []byte) (Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, Malformed("invalid json: %v", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return Document{}, Malformed("document must be a json object")
	}
	v, ok := obj["version"]
	if !ok {
		return Document{}, Malformed("missing version")
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return Document{}, Malformed("version must be an integer")
	}
	if int(f) != FormatVersion {
		return Document{}, importErr(ReasonUnsupportedVersion, "version %v", v)
	}

	sch, err := exportSchema()
	if err != nil {
		return Document{}, fmt.Errorf("load export schema: %w", err)
	}
	if err := sch.Validate(raw); err != nil {
		return Document{}, Malformed("%v", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, Malformed("%v", err)
	}
	return doc, nil
}

// Marshal renders the document as indented JSON.
func (d Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
