package payment

import (
	"context"

	"github.com/quillmarket/ledger/pkg/ledger"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records ingestion events, including collaborator failures
// that do not propagate to the caller.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one ingestion step.
type OperationLog struct {
	Operation         string
	ExternalPaymentID string
	AccountID         string
	GrantID           string
	Amount            ledger.AmountCents
	Status            string
	Error             error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithCommissioner wires the affiliate commission collaborator.
func WithCommissioner(commissioner Commissioner) ServiceOption {
	return func(service *Service) {
		service.commissioner = commissioner
	}
}

// WithNotifier wires the receipt notification collaborator.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithAuditLog wires the audit collaborator.
func WithAuditLog(auditLog AuditLog) ServiceOption {
	return func(service *Service) {
		service.auditLog = auditLog
	}
}

// WithCouponRedeemer wires the coupon engine for best-effort redemption.
func WithCouponRedeemer(redeemer CouponRedeemer) ServiceOption {
	return func(service *Service) {
		service.coupons = redeemer
	}
}
