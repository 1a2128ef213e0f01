package ledger

import (
	"context"
	"fmt"
	"strings"
)

// AmountCents is an integer currency in minor units.
type AmountCents int64

// Int64 returns the raw minor-unit value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Negated flips the sign of the amount.
func (amount AmountCents) Negated() AmountCents {
	return -amount
}

// AccountKind separates author credit accounts from reader cash wallets.
type AccountKind string

const (
	AccountCredit AccountKind = "credit"
	AccountWallet AccountKind = "wallet"
)

// String returns the stored representation.
func (kind AccountKind) String() string {
	return string(kind)
}

// ParseAccountKind validates a stored account kind.
func ParseAccountKind(raw string) (AccountKind, error) {
	switch AccountKind(raw) {
	case AccountCredit, AccountWallet:
		return AccountKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAccountKind, raw)
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryAcquire  EntryKind = "acquire"
	EntryConsume  EntryKind = "consume"
	EntryPayout   EntryKind = "payout"
	EntryReversal EntryKind = "reversal"
)

// String returns the stored representation.
func (kind EntryKind) String() string {
	return string(kind)
}

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	switch EntryKind(raw) {
	case EntryAcquire, EntryConsume, EntryPayout, EntryReversal:
		return EntryKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

// Account is the balance-holding aggregate. The stored balance is mutated only
// through Service operations; everything else reads it.
type Account struct {
	AccountID        string
	OwnerID          string
	Kind             AccountKind
	BalanceCents     AmountCents
	LifetimeInCents  AmountCents
	LifetimeOutCents AmountCents
	CreatedUnixUTC   int64
}

// Entry is a single immutable line in the ledger. AmountCents is signed;
// BalanceAfterCents is always BalanceBeforeCents plus AmountCents.
type Entry struct {
	EntryID            string
	AccountID          string
	Kind               EntryKind
	AmountCents        AmountCents
	BalanceBeforeCents AmountCents
	BalanceAfterCents  AmountCents
	Description        string
	PerformedBy        string
	MetadataJSON       string
	CreatedUnixUTC     int64
}

// Grant is a batch of credit issued from one external payment. The external
// payment id is globally unique and carries the ingestion idempotency.
type Grant struct {
	GrantID                  string
	AccountID                string
	Credits                  AmountCents
	Activated                bool
	ExternalPaymentID        string
	CouponID                 string
	ActivationExpiresUnixUTC int64
	CreatedUnixUTC           int64
}

// Balance is the read view over an account.
type Balance struct {
	BalanceCents     AmountCents
	LifetimeInCents  AmountCents
	LifetimeOutCents AmountCents
}

// CreditInput describes one balance mutation.
type CreditInput struct {
	AccountID    string
	AmountCents  AmountCents
	Kind         EntryKind
	Description  string
	PerformedBy  string
	MetadataJSON string
}

func (input CreditInput) validate() error {
	if strings.TrimSpace(input.AccountID) == "" {
		return fmt.Errorf("%w: empty account id", ErrInvalidAccountID)
	}
	if input.AmountCents == 0 {
		return fmt.Errorf("%w: amount must be non-zero", ErrInvalidAmount)
	}
	if _, err := ParseEntryKind(input.Kind.String()); err != nil {
		return err
	}
	return nil
}

// Store is the persistence contract used by Service. Implementations must make
// WithTx a real atomicity boundary: every closure failure rolls back all of it.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccount(ctx context.Context, ownerID string, kind AccountKind) (Account, error)
	GetAccount(ctx context.Context, accountID string) (Account, error)
	GetAccountForUpdate(ctx context.Context, accountID string) (Account, error)
	UpdateAccountBalance(ctx context.Context, account Account) error
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	SumExpiredPendingGrants(ctx context.Context, accountID string, nowUnixUTC int64) (AmountCents, error)
	ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Entry, error)
}
