package ledger

import (
	"errors"
	"testing"
)

func TestParseAccountKind(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"credit", "wallet"} {
		kind, err := ParseAccountKind(raw)
		if err != nil {
			test.Fatalf("parse %q: %v", raw, err)
		}
		if kind.String() != raw {
			test.Fatalf("expected %q, got %q", raw, kind.String())
		}
	}
	if _, err := ParseAccountKind("escrow"); !errors.Is(err, ErrInvalidAccountKind) {
		test.Fatalf("expected ErrInvalidAccountKind, got %v", err)
	}
}

func TestParseEntryKind(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"acquire", "consume", "payout", "reversal"} {
		kind, err := ParseEntryKind(raw)
		if err != nil {
			test.Fatalf("parse %q: %v", raw, err)
		}
		if kind.String() != raw {
			test.Fatalf("expected %q, got %q", raw, kind.String())
		}
	}
	if _, err := ParseEntryKind("bonus"); !errors.Is(err, ErrInvalidEntryKind) {
		test.Fatalf("expected ErrInvalidEntryKind, got %v", err)
	}
}

func TestAmountCentsNegated(test *testing.T) {
	test.Parallel()
	if AmountCents(25).Negated() != -25 {
		test.Fatalf("expected -25, got %d", AmountCents(25).Negated())
	}
	if AmountCents(-10).Negated() != 10 {
		test.Fatalf("expected 10, got %d", AmountCents(-10).Negated())
	}
}
