// Package notify holds the log-only collaborator adapters. Delivery of
// emails, commissions, and audit rows belongs to external systems; the core
// only hands payloads over and records that it did.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/quillmarket/ledger/pkg/ledger"
	"github.com/quillmarket/ledger/pkg/payment"
	"github.com/quillmarket/ledger/pkg/payout"
)

// ZapOperationLogger adapts zap to the ledger OperationLogger contract.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wires a zap-backed operation logger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

// LogOperation emits one structured line per ledger operation.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("account_id", entry.AccountID),
		zap.String("kind", entry.Kind.String()),
		zap.Int64("amount_cents", entry.Amount.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("ledger operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}

// ZapIngestionLogger adapts zap to the payment OperationLogger contract.
type ZapIngestionLogger struct {
	logger *zap.Logger
}

// NewZapIngestionLogger wires a zap-backed ingestion logger.
func NewZapIngestionLogger(logger *zap.Logger) *ZapIngestionLogger {
	return &ZapIngestionLogger{logger: logger}
}

// LogOperation emits one structured line per ingestion step.
func (operationLogger *ZapIngestionLogger) LogOperation(_ context.Context, entry payment.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("external_payment_id", entry.ExternalPaymentID),
		zap.String("account_id", entry.AccountID),
		zap.String("grant_id", entry.GrantID),
		zap.Int64("amount_cents", entry.Amount.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("ingestion step failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("ingestion step", fields...)
}

// ZapWorkflowLogger adapts zap to the payout OperationLogger contract.
type ZapWorkflowLogger struct {
	logger *zap.Logger
}

// NewZapWorkflowLogger wires a zap-backed workflow logger.
func NewZapWorkflowLogger(logger *zap.Logger) *ZapWorkflowLogger {
	return &ZapWorkflowLogger{logger: logger}
}

// LogOperation emits one structured line per workflow step.
func (operationLogger *ZapWorkflowLogger) LogOperation(_ context.Context, entry payout.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("request_id", entry.RequestID),
		zap.String("account_id", entry.AccountID),
		zap.Int64("amount_cents", entry.Amount.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("payout step failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("payout step", fields...)
}

// LogCommissioner satisfies payment.Commissioner by recording the event.
type LogCommissioner struct {
	logger *zap.Logger
}

// NewLogCommissioner wires a log-only commissioner.
func NewLogCommissioner(logger *zap.Logger) *LogCommissioner {
	return &LogCommissioner{logger: logger}
}

// CommissionEarned records the commission hand-off.
func (commissioner *LogCommissioner) CommissionEarned(_ context.Context, grantID string, accountID string) error {
	commissioner.logger.Info("commission earned",
		zap.String("grant_id", grantID),
		zap.String("account_id", accountID))
	return nil
}

// LogNotifier satisfies payment.Notifier and payout.PayeeNotifier by
// recording the payloads that an external mailer would deliver.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wires a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// PaymentReceipt records the receipt payload.
func (notifier *LogNotifier) PaymentReceipt(_ context.Context, receipt payment.Receipt) error {
	notifier.logger.Info("payment receipt",
		zap.String("account_id", receipt.AccountID),
		zap.String("external_payment_id", receipt.ExternalPaymentID),
		zap.Int64("credits", receipt.Credits.Int64()),
		zap.Int64("amount_paid_cents", receipt.AmountPaidCents.Int64()),
		zap.String("currency", receipt.Currency))
	return nil
}

// PayoutCompleted records the payout confirmation payload.
func (notifier *LogNotifier) PayoutCompleted(_ context.Context, request payout.Request) error {
	notifier.logger.Info("payout completed",
		zap.String("request_id", request.RequestID),
		zap.String("account_id", request.AccountID),
		zap.Int64("amount_cents", request.AmountCents.Int64()),
		zap.String("transaction_id", request.TransactionID))
	return nil
}

// LogAuditLog satisfies payment.AuditLog.
type LogAuditLog struct {
	logger *zap.Logger
}

// NewLogAuditLog wires a log-only audit sink.
func NewLogAuditLog(logger *zap.Logger) *LogAuditLog {
	return &LogAuditLog{logger: logger}
}

// Record emits one audit line.
func (auditLog *LogAuditLog) Record(_ context.Context, action string, subject string, detail string) error {
	auditLog.logger.Info("audit",
		zap.String("action", action),
		zap.String("subject", subject),
		zap.String("detail", detail))
	return nil
}
