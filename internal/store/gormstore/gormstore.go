// Package gormstore persists the ledger, coupon, payment, and payout state in
// one schema. Each domain package gets its own facet store; facets created
// inside a WithTx closure share the transaction, and the ledger facet handed
// out by the payment and payout facets is bound to the same transaction so
// cross-component writes commit or roll back together.
package gormstore

import (
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/quillmarket/ledger/pkg/ledger"
)

const (
	constraintAccountOwnerKind     = "uniq_account_owner_kind"
	constraintGrantExternalPayment = "uniq_grant_external_payment"
	constraintCouponCode           = "uniq_coupon_code"
	constraintRedemptionOrder      = "uniq_redemption_coupon_order"
	pgUniqueViolationCode          = "23505"
	sqliteConstraintCode           = 19

	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectEntry     = "entry"
	errorSubjectGrant     = "grant"
	errorSubjectCoupon    = "coupon"
	errorSubjectRedeem    = "redemption"
	errorSubjectPayout    = "payout_request"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeLookup       = "lookup"
	errorCodeSum          = "sum"
	errorCodeCount        = "count"
	errorCodeUpdate       = "update"
	errorCodeUpdateStatus = "update_status"
)

// Store is the root handle over a gorm.DB. It only hands out facets.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ledger returns the ledger facet.
func (store *Store) Ledger() *LedgerStore {
	return &LedgerStore{db: store.db}
}

// Coupons returns the coupon facet.
func (store *Store) Coupons() *CouponStore {
	return &CouponStore{db: store.db}
}

// Payments returns the payment facet.
func (store *Store) Payments() *PaymentStore {
	return &PaymentStore{db: store.db}
}

// Payouts returns the payout facet.
func (store *Store) Payouts() *PayoutStore {
	return &PayoutStore{db: store.db}
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func unixOrNil(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	converted := time.Unix(value, 0).UTC()
	return &converted
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
