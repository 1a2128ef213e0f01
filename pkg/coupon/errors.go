package coupon

import "errors"

// Domain-level error values returned by the coupon engine.
var (
	ErrCouponNotFound       = errors.New("coupon not found")
	ErrDuplicateCode        = errors.New("coupon code already exists")
	ErrDuplicateRedemption  = errors.New("coupon already redeemed for order")
	ErrCouponExhausted      = errors.New("coupon usage limit reached")
	ErrInvalidDiscount      = errors.New("invalid discount definition")
	ErrInvalidDateRange     = errors.New("invalid validity date range")
	ErrInvalidCode          = errors.New("invalid coupon code")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)
