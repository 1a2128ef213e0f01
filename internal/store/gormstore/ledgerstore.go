package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quillmarket/ledger/pkg/ledger"
)

// LedgerStore implements ledger.Store using GORM.
type LedgerStore struct {
	db *gorm.DB
}

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction})
	})
}

// GetOrCreateAccount returns the account for (ownerID, kind), creating it when absent.
func (store *LedgerStore) GetOrCreateAccount(ctx context.Context, ownerID string, kind ledger.AccountKind) (ledger.Account, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Where(Account{OwnerID: ownerID, Kind: kind.String()}).
		Attrs(Account{CreatedAt: time.Now().UTC()}).
		FirstOrCreate(&account).Error
	if isUniqueViolation(err, constraintAccountOwnerKind) {
		// Lost a creation race: the row exists now.
		err = store.db.WithContext(ctx).
			Where(Account{OwnerID: ownerID, Kind: kind.String()}).
			Take(&account).Error
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return mapAccount(account)
}

// GetAccount fetches one account by id.
func (store *LedgerStore) GetAccount(ctx context.Context, accountID string) (ledger.Account, error) {
	return store.getAccount(ctx, accountID, false)
}

// GetAccountForUpdate fetches one account by id with a row lock.
func (store *LedgerStore) GetAccountForUpdate(ctx context.Context, accountID string) (ledger.Account, error) {
	return store.getAccount(ctx, accountID, true)
}

func (store *LedgerStore) getAccount(ctx context.Context, accountID string, forUpdate bool) (ledger.Account, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var account Account
	err := query.Where("account_id = ?", accountID).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(account)
}

// UpdateAccountBalance writes the balance and lifetime totals back.
func (store *LedgerStore) UpdateAccountBalance(ctx context.Context, account ledger.Account) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", account.AccountID).
		Updates(map[string]interface{}{
			"balance_cents":      account.BalanceCents.Int64(),
			"lifetime_in_cents":  account.LifetimeInCents.Int64(),
			"lifetime_out_cents": account.LifetimeOutCents.Int64(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrAccountNotFound)
	}
	return nil
}

// InsertEntry appends one immutable ledger entry.
func (store *LedgerStore) InsertEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	row := LedgerEntry{
		AccountID:          entry.AccountID,
		Kind:               entry.Kind.String(),
		AmountCents:        entry.AmountCents.Int64(),
		BalanceBeforeCents: entry.BalanceBeforeCents.Int64(),
		BalanceAfterCents:  entry.BalanceAfterCents.Int64(),
		Description:        entry.Description,
		PerformedBy:        entry.PerformedBy,
		Metadata:           datatypesJSON(entry.MetadataJSON),
		CreatedAt:          time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return mapLedgerEntry(row)
}

// SumExpiredPendingGrants totals credits from grants whose activation window
// expired without activation; the reconciler has not swept them yet.
func (store *LedgerStore) SumExpiredPendingGrants(ctx context.Context, accountID string, nowUnixUTC int64) (ledger.AmountCents, error) {
	at := time.Unix(nowUnixUTC, 0).UTC()
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&CreditGrant{}).
		Select("coalesce(sum(credits),0) as total").
		Where("account_id = ?", accountID).
		Where("activated = ?", false).
		Where("activation_expires_at is not null and activation_expires_at <= ?", at).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectGrant, errorCodeSum, err)
	}
	return ledger.AmountCents(sum.Total), nil
}

// ListEntries lists entries for an account before a cutoff, newest first.
func (store *LedgerStore) ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID, before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mapAccount(row Account) (ledger.Account, error) {
	kind, err := ledger.ParseAccountKind(row.Kind)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.Account{
		AccountID:        row.AccountID,
		OwnerID:          row.OwnerID,
		Kind:             kind,
		BalanceCents:     ledger.AmountCents(row.BalanceCents),
		LifetimeInCents:  ledger.AmountCents(row.LifetimeInCents),
		LifetimeOutCents: ledger.AmountCents(row.LifetimeOutCents),
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}, nil
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	kind, err := ledger.ParseEntryKind(row.Kind)
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		EntryID:            row.EntryID,
		AccountID:          row.AccountID,
		Kind:               kind,
		AmountCents:        ledger.AmountCents(row.AmountCents),
		BalanceBeforeCents: ledger.AmountCents(row.BalanceBeforeCents),
		BalanceAfterCents:  ledger.AmountCents(row.BalanceAfterCents),
		Description:        row.Description,
		PerformedBy:        row.PerformedBy,
		MetadataJSON:       string(row.Metadata),
		CreatedUnixUTC:     row.CreatedAt.Unix(),
	}, nil
}

func mapGrant(row CreditGrant) ledger.Grant {
	couponID := ""
	if row.CouponID != nil {
		couponID = *row.CouponID
	}
	return ledger.Grant{
		GrantID:                  row.GrantID,
		AccountID:                row.AccountID,
		Credits:                  ledger.AmountCents(row.Credits),
		Activated:                row.Activated,
		ExternalPaymentID:        row.ExternalPaymentID,
		CouponID:                 couponID,
		ActivationExpiresUnixUTC: timeOrZero(row.ActivationExpiresAt),
		CreatedUnixUTC:           row.CreatedAt.Unix(),
	}
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON([]byte(raw))
}
