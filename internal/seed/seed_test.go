package seed

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const testSeed = "PUETTSEITFEVEWCWBTSIZM9NKRGJEIMXTULBACGFRQK9IMGICLBKW9TTEVSDQMGWKBXPVCBMMCXWMNPDX"

func TestParse(t *testing.T) {
	s, err := Parse("  " + testSeed + "\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Reveal() != testSeed {
		t.Fatalf("expected trimmed seed, got %q", s.Reveal())
	}

	if _, err := Parse(""); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := Parse("abc"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for lowercase, got %v", err)
	}
	if _, err := Parse(strings.Repeat("A", MaxLength+1)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for long seed, got %v", err)
	}
}

func TestSeedNeverPrinted(t *testing.T) {
	s, _ := Parse(testSeed)

	for _, out := range []string{fmt.Sprint(s), fmt.Sprintf("%v %+v %#v %s", s, s, s, s)} {
		if strings.Contains(out, testSeed) {
			t.Fatalf("seed leaked through fmt: %s", out)
		}
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("account", "seed", s)
	if strings.Contains(buf.String(), testSeed) {
		t.Fatalf("seed leaked through slog: %s", buf.String())
	}
}

func TestIDStableAndEqual(t *testing.T) {
	a, _ := Parse(testSeed)
	b, _ := Parse(testSeed)
	c, _ := Parse("ABC")

	if a.ID() != b.ID() {
		t.Fatalf("expected stable id")
	}
	if len(a.ID()) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a.ID()))
	}
	if !a.Equal(b) || a.Equal(c) {
		t.Fatalf("unexpected equality result")
	}
}
