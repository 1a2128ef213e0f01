package payout

import (
	"context"
	"fmt"

	"github.com/quillmarket/ledger/pkg/ledger"
)

const (
	payoutDescriptionLabel   = "payout request"
	reversalDescriptionLabel = "payout reversal"
	cancelledByOwnerReason   = "cancelled by owner"
)

// Config carries the workflow policy knobs.
type Config struct {
	MinimumPayoutCents ledger.AmountCents
}

// Service drives a withdrawal request through the approval state machine,
// debiting the wallet on request and crediting it back on rejection.
type Service struct {
	store     Store
	encryptor Encryptor
	nowFn     func() int64
	config    Config
	notifier  PayeeNotifier
	logger    OperationLogger
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithPayeeNotifier wires the completion notification collaborator.
func WithPayeeNotifier(notifier PayeeNotifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// NewService wires a Service.
func NewService(store Store, encryptor Encryptor, now func() int64, config Config, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if encryptor == nil {
		return nil, fmt.Errorf("%w: encryptor dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if config.MinimumPayoutCents < 0 {
		return nil, fmt.Errorf("%w: negative minimum payout", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, encryptor: encryptor, nowFn: now, config: config}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Request opens a withdrawal. The single-flight check, the effective-balance
// guard, the wallet debit, and the row insert share one atomic transaction so
// two concurrent requests cannot both pass the guards on a stale balance.
func (service *Service) Request(ctx context.Context, input RequestInput) (Request, error) {
	if err := input.validate(); err != nil {
		return Request{}, err
	}
	if input.AmountCents < service.config.MinimumPayoutCents {
		return Request{}, ErrBelowMinimum
	}
	encryptedDetails, err := service.encryptor.Encrypt(input.PaymentDetails)
	if err != nil {
		return Request{}, err
	}

	var request Request
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		now := service.nowFn()
		ledgerStore := transactionStore.Ledger()
		account, err := ledgerStore.GetAccountForUpdate(ctx, input.AccountID)
		if err != nil {
			return err
		}
		// The pending count must run under the account row lock: a racing
		// request serializes here and then observes the winner's row.
		pending, err := transactionStore.CountPendingRequests(ctx, input.AccountID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return ErrRequestAlreadyPending
		}
		effective, err := ledger.EffectiveBalanceInTx(ctx, ledgerStore, now, account)
		if err != nil {
			return err
		}
		if input.AmountCents > effective {
			return ledger.ErrInsufficientBalance
		}
		if _, err := ledger.DebitInTx(ctx, ledgerStore, now, ledger.CreditInput{
			AccountID:   input.AccountID,
			AmountCents: input.AmountCents,
			Kind:        ledger.EntryPayout,
			Description: payoutDescriptionLabel,
		}); err != nil {
			return err
		}
		created, err := transactionStore.CreateRequest(ctx, Request{
			AccountID:        input.AccountID,
			AmountCents:      input.AmountCents,
			Status:           StatusRequested,
			PaymentMethod:    input.PaymentMethod,
			PaymentDetails:   encryptedDetails,
			Notes:            input.Notes,
			RequestedUnixUTC: now,
		})
		if err != nil {
			return err
		}
		request = created
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	return request, nil
}

// Approve moves a request from requested to approved.
func (service *Service) Approve(ctx context.Context, requestID string, reviewerID string, notes string) (Request, error) {
	return service.transition(ctx, requestID, StatusRequested, StatusApproved, StatusUpdate{
		ProcessedBy:      reviewerID,
		Notes:            notes,
		ProcessedUnixUTC: service.nowFn(),
	})
}

// MarkProcessing moves an approved request into processing for operator batching.
func (service *Service) MarkProcessing(ctx context.Context, requestID string, reviewerID string) (Request, error) {
	return service.transition(ctx, requestID, StatusApproved, StatusProcessing, StatusUpdate{
		ProcessedBy:      reviewerID,
		ProcessedUnixUTC: service.nowFn(),
	})
}

// Reject refuses a requested payout and reverses the wallet debit. The
// reversal entry and the state change commit together; a crash between them is
// never observable.
func (service *Service) Reject(ctx context.Context, requestID string, reviewerID string, reason string) (Request, error) {
	var request Request
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if current.Status != StatusRequested {
			return ErrInvalidStateTransition
		}
		now := service.nowFn()
		if _, err := ledger.CreditInTx(ctx, transactionStore.Ledger(), now, ledger.CreditInput{
			AccountID:   current.AccountID,
			AmountCents: current.AmountCents,
			Kind:        ledger.EntryReversal,
			Description: fmt.Sprintf("%s: %s", reversalDescriptionLabel, reason),
			PerformedBy: reviewerID,
		}); err != nil {
			return err
		}
		update := StatusUpdate{
			ProcessedBy:      reviewerID,
			RejectionReason:  reason,
			ProcessedUnixUTC: now,
		}
		if err := transactionStore.UpdateRequestStatus(ctx, requestID, StatusRequested, StatusRejected, update); err != nil {
			return err
		}
		request, err = transactionStore.GetRequest(ctx, requestID)
		return err
	})
	if err != nil {
		return Request{}, err
	}
	return request, nil
}

// Cancel lets the owner withdraw a still-requested payout, reversing the
// debit the same way rejection does.
func (service *Service) Cancel(ctx context.Context, requestID string, accountID string) (Request, error) {
	var request Request
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if current.AccountID != accountID {
			return ErrRequestNotFound
		}
		if current.Status != StatusRequested {
			return ErrInvalidStateTransition
		}
		now := service.nowFn()
		if _, err := ledger.CreditInTx(ctx, transactionStore.Ledger(), now, ledger.CreditInput{
			AccountID:   current.AccountID,
			AmountCents: current.AmountCents,
			Kind:        ledger.EntryReversal,
			Description: fmt.Sprintf("%s: %s", reversalDescriptionLabel, cancelledByOwnerReason),
		}); err != nil {
			return err
		}
		update := StatusUpdate{ProcessedUnixUTC: now}
		if err := transactionStore.UpdateRequestStatus(ctx, requestID, StatusRequested, StatusCancelled, update); err != nil {
			return err
		}
		request, err = transactionStore.GetRequest(ctx, requestID)
		return err
	})
	if err != nil {
		return Request{}, err
	}
	return request, nil
}

// Complete records the external transfer reference on an approved (or
// processing) request. The debit already happened at request time, so no
// ledger mutation occurs here. Payee notification is best-effort.
func (service *Service) Complete(ctx context.Context, requestID string, reviewerID string, externalTransactionID string, notes string) (Request, error) {
	var request Request
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if current.Status != StatusApproved && current.Status != StatusProcessing {
			return ErrInvalidStateTransition
		}
		now := service.nowFn()
		update := StatusUpdate{
			ProcessedBy:      reviewerID,
			TransactionID:    externalTransactionID,
			Notes:            notes,
			ProcessedUnixUTC: now,
			PaidUnixUTC:      now,
		}
		if err := transactionStore.UpdateRequestStatus(ctx, requestID, current.Status, StatusCompleted, update); err != nil {
			return err
		}
		request, err = transactionStore.GetRequest(ctx, requestID)
		return err
	})
	if err != nil {
		return Request{}, err
	}
	if service.notifier != nil {
		// Confirmation delivery never blocks or reverses completion.
		if notifyErr := service.notifier.PayoutCompleted(ctx, request); notifyErr != nil {
			service.logOperation(ctx, OperationLog{
				Operation: operationPayeeNotify,
				RequestID: request.RequestID,
				AccountID: request.AccountID,
				Amount:    request.AmountCents,
				Error:     notifyErr,
			})
		}
	}
	return request, nil
}

// Details returns the request with payment details decrypted for a reviewer.
func (service *Service) Details(ctx context.Context, requestID string) (Request, error) {
	request, err := service.store.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	plaintext, err := service.encryptor.Decrypt(request.PaymentDetails)
	if err != nil {
		return Request{}, err
	}
	request.PaymentDetails = plaintext
	return request, nil
}

// Get returns the request with payment details redacted.
func (service *Service) Get(ctx context.Context, requestID string) (Request, error) {
	request, err := service.store.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	request.PaymentDetails = ""
	return request, nil
}

func (service *Service) transition(ctx context.Context, requestID string, from Status, to Status, update StatusUpdate) (Request, error) {
	var request Request
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.UpdateRequestStatus(ctx, requestID, from, to, update); err != nil {
			return err
		}
		var getErr error
		request, getErr = transactionStore.GetRequest(ctx, requestID)
		return getErr
	})
	if err != nil {
		return Request{}, err
	}
	return request, nil
}
