package seed

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
)

// MaxLength is the number of trytes in a full seed.
const MaxLength = 81

const redacted = "[redacted]"

var (
	// ErrEmpty is returned when no seed material was provided.
	ErrEmpty = errors.New("seed is empty")
	// ErrInvalid is returned when the seed is not a valid tryte string.
	ErrInvalid = errors.New("seed must be at most 81 trytes (A-Z, 9)")
)

// Seed holds the secret an account derives its addresses and signatures from.
// The zero value is an empty seed.
type Seed struct {
	value string
}

// Parse validates s and wraps it in a Seed.
func Parse(s string) (Seed, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Seed{}, ErrEmpty
	}
	if len(s) > MaxLength {
		return Seed{}, ErrInvalid
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && r != '9' {
			return Seed{}, ErrInvalid
		}
	}
	return Seed{value: s}, nil
}

// Reveal returns the cleartext seed. Only export and signing call this.
func (s Seed) Reveal() string {
	return s.value
}

// IsZero reports whether the seed is empty.
func (s Seed) IsZero() bool {
	return s.value == ""
}

// ID returns a stable, non-secret identifier derived from the seed.
func (s Seed) ID() string {
	sum := sha256.Sum256([]byte(s.value))
	return hex.EncodeToString(sum[:16])
}

// Equal compares two seeds in constant time.
func (s Seed) Equal(other Seed) bool {
	return subtle.ConstantTimeCompare([]byte(s.value), []byte(other.value)) == 1
}

func (s Seed) String() string {
	return redacted
}

// GoString keeps %#v from printing the secret.
func (s Seed) GoString() string {
	return redacted
}

// LogValue implements slog.LogValuer.
func (s Seed) LogValue() slog.Value {
	return slog.StringValue(redacted)
}
