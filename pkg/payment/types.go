package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/quillmarket/ledger/pkg/coupon"
	"github.com/quillmarket/ledger/pkg/ledger"
)

// EventPaymentConfirmed is the dispatcher event type this package consumes.
const EventPaymentConfirmed = "payment.confirmed"

// GatewayNotification is the external payment confirmation as delivered by the
// gateway webhook. Delivery is at-least-once; Ingest must tolerate replays.
type GatewayNotification struct {
	ExternalPaymentID   string
	AccountID           string
	Credits             int64
	AmountPaidCents     int64
	Currency            string
	ValidityDays        int
	CouponCode          string
	CouponDiscountCents int64
	PayerUserID         string
	PayerEmail          string
}

// IngestInput is the normalized form of a gateway notification.
type IngestInput struct {
	ExternalPaymentID   string
	AccountID           string
	Credits             ledger.AmountCents
	AmountPaidCents     ledger.AmountCents
	Currency            string
	ValidityDays        int
	CouponCode          string
	CouponDiscountCents ledger.AmountCents
	PayerUserID         string
	PayerEmail          string
}

func (input IngestInput) validate() error {
	if strings.TrimSpace(input.ExternalPaymentID) == "" {
		return fmt.Errorf("%w: empty external payment id", ErrInvalidNotification)
	}
	if strings.TrimSpace(input.AccountID) == "" {
		return fmt.Errorf("%w: empty account id", ErrInvalidNotification)
	}
	if input.Credits <= 0 {
		return fmt.Errorf("%w: credits must be positive", ErrInvalidNotification)
	}
	if input.AmountPaidCents < 0 {
		return fmt.Errorf("%w: negative amount paid", ErrInvalidNotification)
	}
	return nil
}

// IngestResult reports the idempotent outcome of one notification.
type IngestResult struct {
	AlreadyProcessed bool
	Grant            ledger.Grant
}

// Receipt is the payload handed to the notification collaborator.
type Receipt struct {
	AccountID         string
	PayerEmail        string
	ExternalPaymentID string
	Credits           ledger.AmountCents
	AmountPaidCents   ledger.AmountCents
	Currency          string
}

// Commissioner is notified after a successful ingestion so an affiliate
// commission can be created. Failures are logged, never propagated.
type Commissioner interface {
	CommissionEarned(ctx context.Context, grantID string, accountID string) error
}

// Notifier delivers the transactional receipt. Failures are logged, never
// propagated.
type Notifier interface {
	PaymentReceipt(ctx context.Context, receipt Receipt) error
}

// AuditLog records ingestion outcomes for an external monitoring collaborator.
type AuditLog interface {
	Record(ctx context.Context, action string, subject string, detail string) error
}

// CouponRedeemer is the slice of the coupon engine ingestion needs.
type CouponRedeemer interface {
	FindByCode(ctx context.Context, code string) (coupon.Coupon, error)
	RedeemByCode(ctx context.Context, code string, userID string, userEmail string, orderRef string, discountCents ledger.AmountCents) (coupon.Redemption, error)
}

// Store is the persistence contract used by Service. Ledger returns a ledger
// store bound to the same transaction so the grant and the credit commit or
// roll back together.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Ledger() ledger.Store
	GetGrantByExternalID(ctx context.Context, externalPaymentID string) (ledger.Grant, bool, error)
	CreateGrant(ctx context.Context, grant ledger.Grant) (ledger.Grant, error)
}
