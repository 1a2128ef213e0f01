package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. One row per (owner, kind).
type Account struct {
	AccountID        string    `gorm:"type:uuid;primaryKey"`
	OwnerID          string    `gorm:"not null;index:uniq_account_owner_kind,unique,priority:1"`
	Kind             string    `gorm:"not null;index:uniq_account_owner_kind,unique,priority:2"`
	BalanceCents     int64     `gorm:"not null;default:0"`
	LifetimeInCents  int64     `gorm:"not null;default:0"`
	LifetimeOutCents int64     `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the ledger_entries table. Rows are append-only.
type LedgerEntry struct {
	EntryID            string         `gorm:"type:uuid;primaryKey"`
	AccountID          string         `gorm:"type:uuid;not null;index:idx_entries_account_created,priority:1"`
	Kind               string         `gorm:"not null"`
	AmountCents        int64          `gorm:"not null"`
	BalanceBeforeCents int64          `gorm:"not null"`
	BalanceAfterCents  int64          `gorm:"not null"`
	Description        string         `gorm:""`
	PerformedBy        string         `gorm:""`
	Metadata           datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt          time.Time      `gorm:"not null;index:idx_entries_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// CreditGrant mirrors the credit_grants table. The unique external payment id
// is the ingestion idempotency key.
type CreditGrant struct {
	GrantID             string     `gorm:"type:uuid;primaryKey"`
	AccountID           string     `gorm:"type:uuid;not null;index:idx_grants_account"`
	Credits             int64      `gorm:"not null"`
	Activated           bool       `gorm:"not null;default:false"`
	ExternalPaymentID   string     `gorm:"not null;index:uniq_grant_external_payment,unique"`
	CouponID            *string    `gorm:"type:uuid"`
	ActivationExpiresAt *time.Time `gorm:""`
	CreatedAt           time.Time  `gorm:"not null"`
}

func (CreditGrant) TableName() string { return "credit_grants" }

func (grant *CreditGrant) BeforeCreate(tx *gorm.DB) error {
	if grant.GrantID == "" {
		grant.GrantID = uuid.NewString()
	}
	return nil
}

// Coupon mirrors the coupons table. Codes are stored upper-cased.
type Coupon struct {
	CouponID            string          `gorm:"type:uuid;primaryKey"`
	Code                string          `gorm:"not null;index:uniq_coupon_code,unique"`
	DiscountKind        string          `gorm:"not null"`
	DiscountPercent     decimal.Decimal `gorm:"type:numeric(8,4);not null;default:0"`
	DiscountAmountCents int64           `gorm:"not null;default:0"`
	MinPurchaseCents    int64           `gorm:"not null;default:0"`
	MinCredits          int64           `gorm:"not null;default:0"`
	MaxUses             int64           `gorm:"not null;default:0"`
	MaxUsesPerUser      int64           `gorm:"not null;default:0"`
	Active              bool            `gorm:"not null;default:true"`
	ValidFrom           *time.Time      `gorm:""`
	ValidUntil          *time.Time      `gorm:""`
	CurrentUses         int64           `gorm:"not null;default:0"`
	AppliesTo           string          `gorm:"not null;default:'all'"`
	CreatedAt           time.Time       `gorm:"not null"`
}

func (Coupon) TableName() string { return "coupons" }

func (record *Coupon) BeforeCreate(tx *gorm.DB) error {
	if record.CouponID == "" {
		record.CouponID = uuid.NewString()
	}
	return nil
}

// CouponRedemption mirrors the coupon_redemptions table. The composite unique
// index prevents double-applying one coupon to one order.
type CouponRedemption struct {
	RedemptionID         string    `gorm:"type:uuid;primaryKey"`
	CouponID             string    `gorm:"type:uuid;not null;index:uniq_redemption_coupon_order,unique,priority:1;index:idx_redemptions_coupon_user,priority:1"`
	UserID               string    `gorm:"not null;index:idx_redemptions_coupon_user,priority:2"`
	UserEmail            string    `gorm:""`
	OrderRef             string    `gorm:"not null;index:uniq_redemption_coupon_order,unique,priority:2"`
	DiscountAppliedCents int64     `gorm:"not null;default:0"`
	RedeemedAt           time.Time `gorm:"not null"`
}

func (CouponRedemption) TableName() string { return "coupon_redemptions" }

func (record *CouponRedemption) BeforeCreate(tx *gorm.DB) error {
	if record.RedemptionID == "" {
		record.RedemptionID = uuid.NewString()
	}
	return nil
}

// PayoutRequest mirrors the payout_requests table.
type PayoutRequest struct {
	RequestID       string     `gorm:"type:uuid;primaryKey"`
	AccountID       string     `gorm:"type:uuid;not null;index:idx_payouts_account_status,priority:1"`
	AmountCents     int64      `gorm:"not null"`
	Status          string     `gorm:"not null;index:idx_payouts_account_status,priority:2"`
	PaymentMethod   string     `gorm:"not null"`
	PaymentDetails  string     `gorm:"not null"`
	Notes           string     `gorm:""`
	ProcessedBy     string     `gorm:""`
	RejectionReason string     `gorm:""`
	TransactionID   string     `gorm:""`
	RequestedAt     time.Time  `gorm:"not null"`
	ProcessedAt     *time.Time `gorm:""`
	PaidAt          *time.Time `gorm:""`
}

func (PayoutRequest) TableName() string { return "payout_requests" }

func (request *PayoutRequest) BeforeCreate(tx *gorm.DB) error {
	if request.RequestID == "" {
		request.RequestID = uuid.NewString()
	}
	return nil
}

// Models lists every table for migration at startup.
func Models() []any {
	return []any{
		&Account{},
		&LedgerEntry{},
		&CreditGrant{},
		&Coupon{},
		&CouponRedemption{},
		&PayoutRequest{},
	}
}
