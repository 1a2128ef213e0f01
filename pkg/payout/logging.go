package payout

import (
	"context"

	"github.com/quillmarket/ledger/pkg/ledger"
)

const (
	operationPayeeNotify = "payee_notify"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)

// OperationLogger records workflow events, including collaborator failures
// that do not propagate to the caller.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one workflow step.
type OperationLog struct {
	Operation string
	RequestID string
	AccountID string
	Amount    ledger.AmountCents
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
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
