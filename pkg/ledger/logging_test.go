package ledger

import (
	"context"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsCreditOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	logger := &recorderLogger{}
	service, err := NewService(store, func() int64 { return 42 }, WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	if _, err := service.Credit(context.Background(), CreditInput{
		AccountID:   stubAccountIDValue,
		AmountCents: 100,
		Kind:        EntryAcquire,
		Description: "purchase",
	}); err != nil {
		test.Fatalf("credit failed: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationCredit || entry.AccountID != stubAccountIDValue || entry.Amount != 100 {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	store.insertEntryError = errStoreFailure
	logger := &recorderLogger{}
	service, err := NewService(store, func() int64 { return 1 }, WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	if _, err := service.Credit(context.Background(), CreditInput{
		AccountID:   stubAccountIDValue,
		AmountCents: 100,
		Kind:        EntryAcquire,
	}); err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
}
