package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/quillmarket/ledger/pkg/ledger"
	"github.com/quillmarket/ledger/pkg/payment"
)

// PaymentStore implements payment.Store using GORM.
type PaymentStore struct {
	db *gorm.DB
}

// WithTx executes fn within a transaction.
func (store *PaymentStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore payment.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &PaymentStore{db: transaction})
	})
}

// Ledger returns a ledger facet bound to the same transaction.
func (store *PaymentStore) Ledger() ledger.Store {
	return &LedgerStore{db: store.db}
}

// GetGrantByExternalID looks a grant up by its idempotency key.
func (store *PaymentStore) GetGrantByExternalID(ctx context.Context, externalPaymentID string) (ledger.Grant, bool, error) {
	var row CreditGrant
	err := store.db.WithContext(ctx).Where("external_payment_id = ?", externalPaymentID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Grant{}, false, nil
	}
	if err != nil {
		return ledger.Grant{}, false, wrapStoreError(errorSubjectGrant, errorCodeLookup, err)
	}
	return mapGrant(row), true, nil
}

// CreateGrant inserts a grant; an external-payment-id collision is the
// duplicate-delivery signal.
func (store *PaymentStore) CreateGrant(ctx context.Context, grant ledger.Grant) (ledger.Grant, error) {
	var couponID *string
	if grant.CouponID != "" {
		value := grant.CouponID
		couponID = &value
	}
	row := CreditGrant{
		AccountID:           grant.AccountID,
		Credits:             grant.Credits.Int64(),
		Activated:           grant.Activated,
		ExternalPaymentID:   grant.ExternalPaymentID,
		CouponID:            couponID,
		ActivationExpiresAt: unixOrNil(grant.ActivationExpiresUnixUTC),
		CreatedAt:           time.Unix(grant.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintGrantExternalPayment) {
		return ledger.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeDuplicate, ledger.ErrDuplicateGrant)
	}
	if err != nil {
		return ledger.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeCreate, err)
	}
	return mapGrant(row), nil
}
