package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/quillmarket/ledger/pkg/coupon"
	"github.com/quillmarket/ledger/pkg/ledger"
)

// CouponStore implements coupon.Store using GORM.
type CouponStore struct {
	db *gorm.DB
}

// WithTx executes fn within a transaction.
func (store *CouponStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore coupon.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &CouponStore{db: transaction})
	})
}

// CreateCoupon inserts a coupon; a code collision is a duplicate error.
func (store *CouponStore) CreateCoupon(ctx context.Context, record coupon.Coupon) (coupon.Coupon, error) {
	row := Coupon{
		Code:                record.Code,
		DiscountKind:        record.DiscountKind.String(),
		DiscountPercent:     record.DiscountPercent,
		DiscountAmountCents: record.DiscountAmountCents.Int64(),
		MinPurchaseCents:    record.MinPurchaseCents.Int64(),
		MinCredits:          record.MinCredits,
		MaxUses:             record.MaxUses,
		MaxUsesPerUser:      record.MaxUsesPerUser,
		Active:              record.Active,
		ValidFrom:           unixOrNil(record.ValidFromUnixUTC),
		ValidUntil:          unixOrNil(record.ValidUntilUnixUTC),
		CurrentUses:         record.CurrentUses,
		AppliesTo:           record.AppliesTo.String(),
		CreatedAt:           time.Unix(record.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintCouponCode) {
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeDuplicate, coupon.ErrDuplicateCode)
	}
	if err != nil {
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeCreate, err)
	}
	return mapCoupon(row)
}

// GetCoupon fetches one coupon by id.
func (store *CouponStore) GetCoupon(ctx context.Context, couponID string) (coupon.Coupon, bool, error) {
	var row Coupon
	err := store.db.WithContext(ctx).Where("coupon_id = ?", couponID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return coupon.Coupon{}, false, nil
	}
	if err != nil {
		return coupon.Coupon{}, false, wrapStoreError(errorSubjectCoupon, errorCodeGet, err)
	}
	record, err := mapCoupon(row)
	if err != nil {
		return coupon.Coupon{}, false, err
	}
	return record, true, nil
}

// GetCouponByCode fetches one coupon by its canonical code.
func (store *CouponStore) GetCouponByCode(ctx context.Context, code string) (coupon.Coupon, bool, error) {
	var row Coupon
	err := store.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return coupon.Coupon{}, false, nil
	}
	if err != nil {
		return coupon.Coupon{}, false, wrapStoreError(errorSubjectCoupon, errorCodeLookup, err)
	}
	record, err := mapCoupon(row)
	if err != nil {
		return coupon.Coupon{}, false, err
	}
	return record, true, nil
}

// SetCouponActive toggles the soft-delete flag.
func (store *CouponStore) SetCouponActive(ctx context.Context, code string, active bool) error {
	result := store.db.WithContext(ctx).
		Model(&Coupon{}).
		Where("code = ?", code).
		Update("active", active)
	if result.Error != nil {
		return wrapStoreError(errorSubjectCoupon, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCoupon, errorCodeUpdate, coupon.ErrCouponNotFound)
	}
	return nil
}

// CountUserRedemptions counts how often one user already used one coupon.
func (store *CouponStore) CountUserRedemptions(ctx context.Context, couponID string, userID string) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&CouponRedemption{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectRedeem, errorCodeCount, err)
	}
	return count, nil
}

// InsertRedemption appends one redemption; a (coupon, order) collision is a
// duplicate error.
func (store *CouponStore) InsertRedemption(ctx context.Context, record coupon.Redemption) (coupon.Redemption, error) {
	row := CouponRedemption{
		CouponID:             record.CouponID,
		UserID:               record.UserID,
		UserEmail:            record.UserEmail,
		OrderRef:             record.OrderRef,
		DiscountAppliedCents: record.DiscountAppliedCents.Int64(),
		RedeemedAt:           time.Unix(record.RedeemedUnixUTC, 0).UTC(),
	}
	if row.RedeemedAt.IsZero() {
		row.RedeemedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintRedemptionOrder) {
		return coupon.Redemption{}, wrapStoreError(errorSubjectRedeem, errorCodeDuplicate, coupon.ErrDuplicateRedemption)
	}
	if err != nil {
		return coupon.Redemption{}, wrapStoreError(errorSubjectRedeem, errorCodeInsert, err)
	}
	return mapRedemption(row), nil
}

// IncrementCouponUses bumps the usage counter, guarded by the cap when one is
// set so concurrent redeemers cannot exceed it.
func (store *CouponStore) IncrementCouponUses(ctx context.Context, couponID string, maxUses int64) error {
	query := store.db.WithContext(ctx).
		Model(&Coupon{}).
		Where("coupon_id = ?", couponID)
	if maxUses > 0 {
		query = query.Where("current_uses < ?", maxUses)
	}
	result := query.Update("current_uses", gorm.Expr("current_uses + 1"))
	if result.Error != nil {
		return wrapStoreError(errorSubjectCoupon, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		if maxUses > 0 {
			return wrapStoreError(errorSubjectCoupon, errorCodeUpdate, coupon.ErrCouponExhausted)
		}
		return wrapStoreError(errorSubjectCoupon, errorCodeUpdate, coupon.ErrCouponNotFound)
	}
	return nil
}

func mapCoupon(row Coupon) (coupon.Coupon, error) {
	discountKind, err := coupon.ParseDiscountKind(row.DiscountKind)
	if err != nil {
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	return coupon.Coupon{
		CouponID:            row.CouponID,
		Code:                row.Code,
		DiscountKind:        discountKind,
		DiscountPercent:     row.DiscountPercent,
		DiscountAmountCents: ledger.AmountCents(row.DiscountAmountCents),
		MinPurchaseCents:    ledger.AmountCents(row.MinPurchaseCents),
		MinCredits:          row.MinCredits,
		MaxUses:             row.MaxUses,
		MaxUsesPerUser:      row.MaxUsesPerUser,
		Active:              row.Active,
		ValidFromUnixUTC:    timeOrZero(row.ValidFrom),
		ValidUntilUnixUTC:   timeOrZero(row.ValidUntil),
		CurrentUses:         row.CurrentUses,
		AppliesTo:           coupon.OrderType(row.AppliesTo),
		CreatedUnixUTC:      row.CreatedAt.Unix(),
	}, nil
}

func mapRedemption(row CouponRedemption) coupon.Redemption {
	return coupon.Redemption{
		RedemptionID:         row.RedemptionID,
		CouponID:             row.CouponID,
		UserID:               row.UserID,
		UserEmail:            row.UserEmail,
		OrderRef:             row.OrderRef,
		DiscountAppliedCents: ledger.AmountCents(row.DiscountAppliedCents),
		RedeemedUnixUTC:      row.RedeemedAt.Unix(),
	}
}
