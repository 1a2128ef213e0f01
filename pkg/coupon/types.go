package coupon

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quillmarket/ledger/pkg/ledger"
)

// DiscountKind enumerates the supported discount shapes.
type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed_amount"
	DiscountFreeAddon  DiscountKind = "free_addon"
)

// String returns the stored representation.
func (kind DiscountKind) String() string {
	return string(kind)
}

// ParseDiscountKind validates a stored discount kind.
func ParseDiscountKind(raw string) (DiscountKind, error) {
	switch DiscountKind(raw) {
	case DiscountPercentage, DiscountFixed, DiscountFreeAddon:
		return DiscountKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDiscount, raw)
}

// OrderType scopes which orders a coupon applies to.
type OrderType string

const (
	OrderCredits OrderType = "credits"
	OrderAddon   OrderType = "addon"
	OrderAll     OrderType = "all"
)

// String returns the stored representation.
func (orderType OrderType) String() string {
	return string(orderType)
}

// Coupon is a discount code with its constraints. Codes are stored upper-cased
// and coupons are deactivated rather than deleted.
type Coupon struct {
	CouponID            string
	Code                string
	DiscountKind        DiscountKind
	DiscountPercent     decimal.Decimal
	DiscountAmountCents ledger.AmountCents
	MinPurchaseCents    ledger.AmountCents
	MinCredits          int64
	MaxUses             int64
	MaxUsesPerUser      int64
	Active              bool
	ValidFromUnixUTC    int64
	ValidUntilUnixUTC   int64
	CurrentUses         int64
	AppliesTo           OrderType
	CreatedUnixUTC      int64
}

// Redemption records one use of a coupon against one order.
type Redemption struct {
	RedemptionID         string
	CouponID             string
	UserID               string
	UserEmail            string
	OrderRef             string
	DiscountAppliedCents ledger.AmountCents
	RedeemedUnixUTC      int64
}

// ValidationContext carries the order being priced.
type ValidationContext struct {
	UserID           string
	PurchaseCents    ledger.AmountCents
	CreditsRequested int64
	OrderType        OrderType
}

// ValidationResult is the structured outcome of Validate. A failed check is
// not an error: coupon typos and expiries are expected traffic.
type ValidationResult struct {
	Valid           bool
	Reason          string
	CouponID        string
	DiscountCents   ledger.AmountCents
	FinalPriceCents ledger.AmountCents
}

// CreateInput describes a coupon to be created.
type CreateInput struct {
	Code                string
	DiscountKind        DiscountKind
	DiscountPercent     decimal.Decimal
	DiscountAmountCents ledger.AmountCents
	MinPurchaseCents    ledger.AmountCents
	MinCredits          int64
	MaxUses             int64
	MaxUsesPerUser      int64
	ValidFromUnixUTC    int64
	ValidUntilUnixUTC   int64
	AppliesTo           OrderType
}

// RedeemInput describes one redemption attempt.
type RedeemInput struct {
	CouponID             string
	UserID               string
	UserEmail            string
	OrderRef             string
	DiscountAppliedCents ledger.AmountCents
}

// NormalizeCode maps a raw code to its canonical lookup form.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateCoupon(ctx context.Context, record Coupon) (Coupon, error)
	GetCoupon(ctx context.Context, couponID string) (Coupon, bool, error)
	GetCouponByCode(ctx context.Context, code string) (Coupon, bool, error)
	SetCouponActive(ctx context.Context, code string, active bool) error
	CountUserRedemptions(ctx context.Context, couponID string, userID string) (int64, error)
	InsertRedemption(ctx context.Context, record Redemption) (Redemption, error)
	IncrementCouponUses(ctx context.Context, couponID string, maxUses int64) error
}
