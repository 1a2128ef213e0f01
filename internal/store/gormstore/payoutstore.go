package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quillmarket/ledger/pkg/ledger"
	"github.com/quillmarket/ledger/pkg/payout"
)

// PayoutStore implements payout.Store using GORM.
type PayoutStore struct {
	db *gorm.DB
}

// WithTx executes fn within a transaction.
func (store *PayoutStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore payout.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &PayoutStore{db: transaction})
	})
}

// Ledger returns a ledger facet bound to the same transaction.
func (store *PayoutStore) Ledger() ledger.Store {
	return &LedgerStore{db: store.db}
}

// CreateRequest inserts a new payout request.
func (store *PayoutStore) CreateRequest(ctx context.Context, request payout.Request) (payout.Request, error) {
	row := PayoutRequest{
		AccountID:      request.AccountID,
		AmountCents:    request.AmountCents.Int64(),
		Status:         request.Status.String(),
		PaymentMethod:  request.PaymentMethod,
		PaymentDetails: request.PaymentDetails,
		Notes:          request.Notes,
		RequestedAt:    time.Unix(request.RequestedUnixUTC, 0).UTC(),
	}
	if row.RequestedAt.IsZero() {
		row.RequestedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return payout.Request{}, wrapStoreError(errorSubjectPayout, errorCodeCreate, err)
	}
	return mapPayoutRequest(row)
}

// GetRequest fetches one request by id.
func (store *PayoutStore) GetRequest(ctx context.Context, requestID string) (payout.Request, error) {
	return store.getRequest(ctx, requestID, false)
}

// GetRequestForUpdate fetches one request by id with a row lock.
func (store *PayoutStore) GetRequestForUpdate(ctx context.Context, requestID string) (payout.Request, error) {
	return store.getRequest(ctx, requestID, true)
}

func (store *PayoutStore) getRequest(ctx context.Context, requestID string, forUpdate bool) (payout.Request, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row PayoutRequest
	err := query.Where("request_id = ?", requestID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return payout.Request{}, wrapStoreError(errorSubjectPayout, errorCodeGet, payout.ErrRequestNotFound)
		}
		return payout.Request{}, wrapStoreError(errorSubjectPayout, errorCodeGet, err)
	}
	return mapPayoutRequest(row)
}

// CountPendingRequests counts the account's requests in a non-terminal state.
func (store *PayoutStore) CountPendingRequests(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&PayoutRequest{}).
		Where("account_id = ?", accountID).
		Where("status in ?", []string{
			payout.StatusRequested.String(),
			payout.StatusApproved.String(),
			payout.StatusProcessing.String(),
		}).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectPayout, errorCodeCount, err)
	}
	return count, nil
}

// UpdateRequestStatus performs the compare-and-set transition. Zero rows
// affected means the request is absent or not in the expected state.
func (store *PayoutStore) UpdateRequestStatus(ctx context.Context, requestID string, from payout.Status, to payout.Status, update payout.StatusUpdate) error {
	assignments := map[string]interface{}{
		"status": to.String(),
	}
	if update.ProcessedBy != "" {
		assignments["processed_by"] = update.ProcessedBy
	}
	if update.RejectionReason != "" {
		assignments["rejection_reason"] = update.RejectionReason
	}
	if update.TransactionID != "" {
		assignments["transaction_id"] = update.TransactionID
	}
	if update.Notes != "" {
		assignments["notes"] = update.Notes
	}
	if update.ProcessedUnixUTC != 0 {
		assignments["processed_at"] = time.Unix(update.ProcessedUnixUTC, 0).UTC()
	}
	if update.PaidUnixUTC != 0 {
		assignments["paid_at"] = time.Unix(update.PaidUnixUTC, 0).UTC()
	}
	result := store.db.WithContext(ctx).
		Model(&PayoutRequest{}).
		Where("request_id = ? AND status = ?", requestID, from.String()).
		Updates(assignments)
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := store.db.WithContext(ctx).
			Model(&PayoutRequest{}).
			Where("request_id = ?", requestID).
			Count(&count).Error; err != nil {
			return wrapStoreError(errorSubjectPayout, errorCodeUpdateStatus, err)
		}
		if count == 0 {
			return wrapStoreError(errorSubjectPayout, errorCodeUpdateStatus, payout.ErrRequestNotFound)
		}
		return wrapStoreError(errorSubjectPayout, errorCodeUpdateStatus, payout.ErrInvalidStateTransition)
	}
	return nil
}

func mapPayoutRequest(row PayoutRequest) (payout.Request, error) {
	status, err := payout.ParseStatus(row.Status)
	if err != nil {
		return payout.Request{}, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
	}
	return payout.Request{
		RequestID:        row.RequestID,
		AccountID:        row.AccountID,
		AmountCents:      ledger.AmountCents(row.AmountCents),
		Status:           status,
		PaymentMethod:    row.PaymentMethod,
		PaymentDetails:   row.PaymentDetails,
		Notes:            row.Notes,
		ProcessedBy:      row.ProcessedBy,
		RejectionReason:  row.RejectionReason,
		TransactionID:    row.TransactionID,
		RequestedUnixUTC: row.RequestedAt.Unix(),
		ProcessedUnixUTC: timeOrZero(row.ProcessedAt),
		PaidUnixUTC:      timeOrZero(row.PaidAt),
	}, nil
}
