package coupon

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quillmarket/ledger/pkg/ledger"
)

// Reasons reported on a failed validation.
const (
	ReasonUnknownCode          = "unknown_code"
	ReasonInactive             = "inactive"
	ReasonNotYetValid          = "not_yet_valid"
	ReasonExpired              = "expired"
	ReasonExhausted            = "exhausted"
	ReasonUserLimitReached     = "user_limit_reached"
	ReasonBelowMinimumPurchase = "below_minimum_purchase"
	ReasonBelowMinimumCredits  = "below_minimum_credits"
	ReasonNotApplicable        = "not_applicable"
)

var decimalHundred = decimal.NewFromInt(100)

// Service validates, redeems, and administers coupons over a Store.
type Service struct {
	store Store
	nowFn func() int64
}

// NewService wires a Service.
func NewService(store Store, now func() int64) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store, nowFn: now}, nil
}

// Create stores a new coupon with a canonicalized code.
func (service *Service) Create(ctx context.Context, input CreateInput) (Coupon, error) {
	code := NormalizeCode(input.Code)
	if code == "" {
		return Coupon{}, fmt.Errorf("%w: empty code", ErrInvalidCode)
	}
	if err := validateDiscountFields(input); err != nil {
		return Coupon{}, err
	}
	if input.ValidFromUnixUTC != 0 && input.ValidUntilUnixUTC != 0 && input.ValidFromUnixUTC >= input.ValidUntilUnixUTC {
		return Coupon{}, fmt.Errorf("%w: valid_from must precede valid_until", ErrInvalidDateRange)
	}
	record := Coupon{
		Code:                code,
		DiscountKind:        input.DiscountKind,
		DiscountPercent:     input.DiscountPercent,
		DiscountAmountCents: input.DiscountAmountCents,
		MinPurchaseCents:    input.MinPurchaseCents,
		MinCredits:          input.MinCredits,
		MaxUses:             input.MaxUses,
		MaxUsesPerUser:      input.MaxUsesPerUser,
		Active:              true,
		ValidFromUnixUTC:    input.ValidFromUnixUTC,
		ValidUntilUnixUTC:   input.ValidUntilUnixUTC,
		AppliesTo:           input.AppliesTo,
		CreatedUnixUTC:      service.nowFn(),
	}
	return service.store.CreateCoupon(ctx, record)
}

// Deactivate soft-disables a coupon; history stays referentially intact.
func (service *Service) Deactivate(ctx context.Context, code string) error {
	return service.store.SetCouponActive(ctx, NormalizeCode(code), false)
}

// Activate re-enables a previously deactivated coupon.
func (service *Service) Activate(ctx context.Context, code string) error {
	return service.store.SetCouponActive(ctx, NormalizeCode(code), true)
}

// FindByCode looks a coupon up by its case-insensitive code.
func (service *Service) FindByCode(ctx context.Context, code string) (Coupon, error) {
	record, found, err := service.store.GetCouponByCode(ctx, NormalizeCode(code))
	if err != nil {
		return Coupon{}, err
	}
	if !found {
		return Coupon{}, ErrCouponNotFound
	}
	return record, nil
}

// Validate runs the ordered constraint chain and computes the discount.
// The first failing check wins; a failed check is a structured result, not an
// error. Nothing is cached: an admin deactivation is visible on the next call.
func (service *Service) Validate(ctx context.Context, code string, validationContext ValidationContext) (ValidationResult, error) {
	record, found, err := service.store.GetCouponByCode(ctx, NormalizeCode(code))
	if err != nil {
		return ValidationResult{}, err
	}
	if !found {
		return invalidResult(ReasonUnknownCode), nil
	}
	if !record.Active {
		return invalidResult(ReasonInactive), nil
	}
	now := service.nowFn()
	if record.ValidFromUnixUTC > now {
		return invalidResult(ReasonNotYetValid), nil
	}
	if record.ValidUntilUnixUTC != 0 && record.ValidUntilUnixUTC < now {
		return invalidResult(ReasonExpired), nil
	}
	if record.MaxUses > 0 && record.CurrentUses >= record.MaxUses {
		return invalidResult(ReasonExhausted), nil
	}
	if record.MaxUsesPerUser > 0 && strings.TrimSpace(validationContext.UserID) != "" {
		used, err := service.store.CountUserRedemptions(ctx, record.CouponID, validationContext.UserID)
		if err != nil {
			return ValidationResult{}, err
		}
		if used >= record.MaxUsesPerUser {
			return invalidResult(ReasonUserLimitReached), nil
		}
	}
	if record.MinPurchaseCents > 0 && validationContext.PurchaseCents < record.MinPurchaseCents {
		return invalidResult(ReasonBelowMinimumPurchase), nil
	}
	if record.MinCredits > 0 && validationContext.CreditsRequested < record.MinCredits {
		return invalidResult(ReasonBelowMinimumCredits), nil
	}
	if !orderTypeCompatible(record, validationContext.OrderType) {
		return invalidResult(ReasonNotApplicable), nil
	}
	discount := computeDiscount(record, validationContext.PurchaseCents)
	return ValidationResult{
		Valid:           true,
		CouponID:        record.CouponID,
		DiscountCents:   discount,
		FinalPriceCents: finalPrice(validationContext.PurchaseCents, discount),
	}, nil
}

// Redeem records one use against one order and bumps the usage counter in the
// same transaction. Duplicate (coupon, order) pairs fail outright; the caller
// is expected to validate before redeeming.
func (service *Service) Redeem(ctx context.Context, input RedeemInput) (Redemption, error) {
	var redemption Redemption
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		record, found, err := transactionStore.GetCoupon(ctx, input.CouponID)
		if err != nil {
			return err
		}
		if !found {
			return ErrCouponNotFound
		}
		inserted, err := transactionStore.InsertRedemption(ctx, Redemption{
			CouponID:             input.CouponID,
			UserID:               input.UserID,
			UserEmail:            input.UserEmail,
			OrderRef:             input.OrderRef,
			DiscountAppliedCents: input.DiscountAppliedCents,
			RedeemedUnixUTC:      service.nowFn(),
		})
		if err != nil {
			return err
		}
		redemption = inserted
		return transactionStore.IncrementCouponUses(ctx, input.CouponID, record.MaxUses)
	})
	if err != nil {
		return Redemption{}, err
	}
	return redemption, nil
}

// RedeemByCode resolves the code and redeems with a capped usage increment.
// Used by payment ingestion, where the coupon cap must hold under races.
func (service *Service) RedeemByCode(ctx context.Context, code string, userID string, userEmail string, orderRef string, discountCents ledger.AmountCents) (Redemption, error) {
	record, found, err := service.store.GetCouponByCode(ctx, NormalizeCode(code))
	if err != nil {
		return Redemption{}, err
	}
	if !found {
		return Redemption{}, ErrCouponNotFound
	}
	var redemption Redemption
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		inserted, err := transactionStore.InsertRedemption(ctx, Redemption{
			CouponID:             record.CouponID,
			UserID:               userID,
			UserEmail:            userEmail,
			OrderRef:             orderRef,
			DiscountAppliedCents: discountCents,
			RedeemedUnixUTC:      service.nowFn(),
		})
		if err != nil {
			return err
		}
		redemption = inserted
		return transactionStore.IncrementCouponUses(ctx, record.CouponID, record.MaxUses)
	})
	if err != nil {
		return Redemption{}, err
	}
	return redemption, nil
}

func validateDiscountFields(input CreateInput) error {
	switch input.DiscountKind {
	case DiscountPercentage:
		if input.DiscountPercent.IsZero() || input.DiscountAmountCents != 0 {
			return fmt.Errorf("%w: percentage coupons set discount_percent only", ErrInvalidDiscount)
		}
		if input.DiscountPercent.IsNegative() {
			return fmt.Errorf("%w: discount_percent must be positive", ErrInvalidDiscount)
		}
	case DiscountFixed:
		if input.DiscountAmountCents <= 0 || !input.DiscountPercent.IsZero() {
			return fmt.Errorf("%w: fixed coupons set discount_amount only", ErrInvalidDiscount)
		}
	case DiscountFreeAddon:
		if input.DiscountAmountCents != 0 || !input.DiscountPercent.IsZero() {
			return fmt.Errorf("%w: free addon coupons carry no monetary discount", ErrInvalidDiscount)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDiscount, input.DiscountKind)
	}
	return nil
}

func orderTypeCompatible(record Coupon, orderType OrderType) bool {
	// Free-addon coupons carry no monetary discount and never apply to a
	// credits (monetary) order.
	if record.DiscountKind == DiscountFreeAddon && orderType == OrderCredits {
		return false
	}
	if record.AppliesTo == OrderAll || record.AppliesTo == "" {
		return true
	}
	return record.AppliesTo == orderType
}

// computeDiscount keeps the source behavior: a fixed discount is not capped at
// the purchase amount; only the final price is floored at zero.
func computeDiscount(record Coupon, purchaseCents ledger.AmountCents) ledger.AmountCents {
	switch record.DiscountKind {
	case DiscountPercentage:
		discount := decimal.NewFromInt(purchaseCents.Int64()).
			Mul(record.DiscountPercent).
			Div(decimalHundred)
		return ledger.AmountCents(discount.IntPart())
	case DiscountFixed:
		return record.DiscountAmountCents
	default:
		return 0
	}
}

func finalPrice(purchaseCents ledger.AmountCents, discountCents ledger.AmountCents) ledger.AmountCents {
	price := purchaseCents - discountCents
	if price < 0 {
		return 0
	}
	return price
}

func invalidResult(reason string) ValidationResult {
	return ValidationResult{Valid: false, Reason: reason}
}
