package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillmarket/ledger/pkg/ledger"
)

const (
	operationIngest         = "ingest"
	operationCouponRedeem   = "coupon_redeem"
	operationCouponLookup   = "coupon_lookup"
	operationCommission     = "commission"
	operationReceipt        = "receipt"
	operationAudit          = "audit"
	defaultValidityDays     = 365
	secondsPerDay           = 24 * 60 * 60
	auditActionIngested     = "payment_ingested"
	auditActionCouponDrift  = "coupon_redemption_failed"
	operationStatusOK       = "ok"
	operationStatusError    = "error"
	operationStatusSkipped  = "skipped"
	acquireDescriptionLabel = "credit purchase"
)

// Service turns confirmed gateway notifications into exactly one grant and one
// ledger credit per external payment id.
type Service struct {
	store        Store
	nowFn        func() int64
	logger       OperationLogger
	commissioner Commissioner
	notifier     Notifier
	auditLog     AuditLog
	coupons      CouponRedeemer
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// HandleGatewayEvent adapts a dispatched gateway payload to Ingest. The
// dispatcher owns delivery; this handler owns idempotency.
func (service *Service) HandleGatewayEvent(ctx context.Context, payload any) error {
	notification, ok := payload.(GatewayNotification)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedPayload, payload)
	}
	_, err := service.Ingest(ctx, IngestInput{
		ExternalPaymentID:   notification.ExternalPaymentID,
		AccountID:           notification.AccountID,
		Credits:             ledger.AmountCents(notification.Credits),
		AmountPaidCents:     ledger.AmountCents(notification.AmountPaidCents),
		Currency:            notification.Currency,
		ValidityDays:        notification.ValidityDays,
		CouponCode:          notification.CouponCode,
		CouponDiscountCents: ledger.AmountCents(notification.CouponDiscountCents),
		PayerUserID:         notification.PayerUserID,
		PayerEmail:          notification.PayerEmail,
	})
	return err
}

// Ingest processes one confirmed payment. The grant and the ledger credit are
// one atomic unit keyed on the external payment id; a replayed notification
// returns AlreadyProcessed without any mutation. Coupon bookkeeping and the
// downstream collaborators run after commit and never reverse the financial
// write.
func (service *Service) Ingest(ctx context.Context, input IngestInput) (IngestResult, error) {
	if err := input.validate(); err != nil {
		return IngestResult{}, err
	}

	existing, found, err := service.store.GetGrantByExternalID(ctx, input.ExternalPaymentID)
	if err != nil {
		return IngestResult{}, err
	}
	if found {
		service.logOperation(ctx, OperationLog{
			Operation:         operationIngest,
			ExternalPaymentID: input.ExternalPaymentID,
			AccountID:         input.AccountID,
			GrantID:           existing.GrantID,
			Status:            operationStatusSkipped,
		})
		return IngestResult{AlreadyProcessed: true, Grant: existing}, nil
	}

	validityDays := input.ValidityDays
	if validityDays <= 0 {
		validityDays = defaultValidityDays
	}
	couponID := service.resolveCouponID(ctx, input)

	var grant ledger.Grant
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		now := service.nowFn()
		created, err := transactionStore.CreateGrant(ctx, ledger.Grant{
			AccountID:                input.AccountID,
			Credits:                  input.Credits,
			ExternalPaymentID:        input.ExternalPaymentID,
			CouponID:                 couponID,
			ActivationExpiresUnixUTC: now + int64(validityDays)*secondsPerDay,
			CreatedUnixUTC:           now,
		})
		if err != nil {
			return err
		}
		grant = created
		_, err = ledger.CreditInTx(ctx, transactionStore.Ledger(), now, ledger.CreditInput{
			AccountID:   input.AccountID,
			AmountCents: input.Credits,
			Kind:        ledger.EntryAcquire,
			Description: fmt.Sprintf("%s %s", acquireDescriptionLabel, input.ExternalPaymentID),
		})
		return err
	})
	if errors.Is(operationError, ledger.ErrDuplicateGrant) {
		// Lost the race on the idempotency key: the other delivery won.
		winner, _, lookupErr := service.store.GetGrantByExternalID(ctx, input.ExternalPaymentID)
		if lookupErr != nil {
			return IngestResult{}, lookupErr
		}
		return IngestResult{AlreadyProcessed: true, Grant: winner}, nil
	}
	service.logOperation(ctx, OperationLog{
		Operation:         operationIngest,
		ExternalPaymentID: input.ExternalPaymentID,
		AccountID:         input.AccountID,
		GrantID:           grant.GrantID,
		Amount:            input.Credits,
		Error:             operationError,
	})
	if operationError != nil {
		return IngestResult{}, operationError
	}

	service.recordCouponRedemption(ctx, input, grant)
	service.notifyCollaborators(ctx, input, grant)
	return IngestResult{Grant: grant}, nil
}

// resolveCouponID links the grant to the coupon it was purchased with. The
// lookup is best-effort: an unknown code or a failing lookup leaves the grant
// without a coupon link rather than failing the ingestion.
func (service *Service) resolveCouponID(ctx context.Context, input IngestInput) string {
	if service.coupons == nil || input.CouponCode == "" {
		return ""
	}
	record, err := service.coupons.FindByCode(ctx, input.CouponCode)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:         operationCouponLookup,
			ExternalPaymentID: input.ExternalPaymentID,
			AccountID:         input.AccountID,
			Error:             err,
		})
		return ""
	}
	return record.CouponID
}

// recordCouponRedemption is best-effort: a failure here is logged and audited
// but the committed grant stands. Known gap: current_uses can drift from the
// number of grants carrying the coupon when this step fails.
func (service *Service) recordCouponRedemption(ctx context.Context, input IngestInput, grant ledger.Grant) {
	if service.coupons == nil || input.CouponCode == "" {
		return
	}
	_, err := service.coupons.RedeemByCode(ctx, input.CouponCode, input.PayerUserID, input.PayerEmail, grant.GrantID, input.CouponDiscountCents)
	service.logOperation(ctx, OperationLog{
		Operation:         operationCouponRedeem,
		ExternalPaymentID: input.ExternalPaymentID,
		AccountID:         input.AccountID,
		GrantID:           grant.GrantID,
		Amount:            input.CouponDiscountCents,
		Error:             err,
	})
	if err != nil && service.auditLog != nil {
		_ = service.auditLog.Record(ctx, auditActionCouponDrift, grant.GrantID, err.Error())
	}
}

func (service *Service) notifyCollaborators(ctx context.Context, input IngestInput, grant ledger.Grant) {
	if service.commissioner != nil {
		if err := service.commissioner.CommissionEarned(ctx, grant.GrantID, input.AccountID); err != nil {
			service.logOperation(ctx, OperationLog{Operation: operationCommission, GrantID: grant.GrantID, Error: err})
		}
	}
	if service.notifier != nil {
		receipt := Receipt{
			AccountID:         input.AccountID,
			PayerEmail:        input.PayerEmail,
			ExternalPaymentID: input.ExternalPaymentID,
			Credits:           input.Credits,
			AmountPaidCents:   input.AmountPaidCents,
			Currency:          input.Currency,
		}
		if err := service.notifier.PaymentReceipt(ctx, receipt); err != nil {
			service.logOperation(ctx, OperationLog{Operation: operationReceipt, GrantID: grant.GrantID, Error: err})
		}
	}
	if service.auditLog != nil {
		if err := service.auditLog.Record(ctx, auditActionIngested, grant.GrantID, input.ExternalPaymentID); err != nil {
			service.logOperation(ctx, OperationLog{Operation: operationAudit, GrantID: grant.GrantID, Error: err})
		}
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
