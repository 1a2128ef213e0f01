package payout

import (
	"context"
	"fmt"
	"strings"

	"github.com/quillmarket/ledger/pkg/ledger"
)

// Status enumerates the payout request lifecycle.
type Status string

const (
	StatusRequested  Status = "requested"
	StatusApproved   Status = "approved"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

// String returns the stored representation.
func (status Status) String() string {
	return string(status)
}

// Terminal reports whether no further transition is possible.
func (status Status) Terminal() bool {
	switch status {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus validates a stored status.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusRequested, StatusApproved, StatusProcessing, StatusCompleted, StatusRejected, StatusCancelled:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Request is one withdrawal moving through the approval state machine.
// PaymentDetails is ciphertext at rest; only Details decrypts it.
type Request struct {
	RequestID        string
	AccountID        string
	AmountCents      ledger.AmountCents
	Status           Status
	PaymentMethod    string
	PaymentDetails   string
	Notes            string
	ProcessedBy      string
	RejectionReason  string
	TransactionID    string
	RequestedUnixUTC int64
	ProcessedUnixUTC int64
	PaidUnixUTC      int64
}

// RequestInput describes a new withdrawal request.
type RequestInput struct {
	AccountID      string
	AmountCents    ledger.AmountCents
	PaymentMethod  string
	PaymentDetails string
	Notes          string
}

func (input RequestInput) validate() error {
	if strings.TrimSpace(input.AccountID) == "" {
		return fmt.Errorf("%w: empty account id", ErrInvalidRequest)
	}
	if input.AmountCents <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if strings.TrimSpace(input.PaymentMethod) == "" {
		return fmt.Errorf("%w: empty payment method", ErrInvalidRequest)
	}
	if strings.TrimSpace(input.PaymentDetails) == "" {
		return fmt.Errorf("%w: empty payment details", ErrInvalidRequest)
	}
	return nil
}

// StatusUpdate carries the fields stamped alongside a transition.
type StatusUpdate struct {
	ProcessedBy      string
	RejectionReason  string
	TransactionID    string
	Notes            string
	ProcessedUnixUTC int64
	PaidUnixUTC      int64
}

// Encryptor protects payment details at rest.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// PayeeNotifier delivers the payout confirmation after completion.
// Failures are logged, never propagated.
type PayeeNotifier interface {
	PayoutCompleted(ctx context.Context, request Request) error
}

// Store is the persistence contract used by Service. Ledger returns a ledger
// store bound to the same transaction so the debit or reversal commits with
// the state change.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Ledger() ledger.Store
	CreateRequest(ctx context.Context, request Request) (Request, error)
	GetRequest(ctx context.Context, requestID string) (Request, error)
	GetRequestForUpdate(ctx context.Context, requestID string) (Request, error)
	CountPendingRequests(ctx context.Context, accountID string) (int64, error)
	UpdateRequestStatus(ctx context.Context, requestID string, from Status, to Status, update StatusUpdate) error
}
