package ledger

import (
	"context"
	"fmt"
)

// Service contains the domain logic over a Store. It is the only mutator of
// account balances; callers that need to join a wider atomic unit use the
// InTx helpers with their own transactional store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
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

// CreateAccount returns the account for (ownerID, kind), creating it when absent.
func (service *Service) CreateAccount(ctx context.Context, ownerID string, kind AccountKind) (Account, error) {
	if _, err := ParseAccountKind(kind.String()); err != nil {
		return Account{}, err
	}
	account, operationError := service.store.GetOrCreateAccount(ctx, ownerID, kind)
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateAccount,
		AccountID: account.AccountID,
		Error:     operationError,
	})
	return account, operationError
}

// Credit applies a signed balance mutation inside one atomic transaction:
// read balance, guard, write new balance, append the entry. A failure at any
// step rolls back all of it.
func (service *Service) Credit(ctx context.Context, input CreditInput) (Entry, error) {
	var entry Entry
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		applied, err := CreditInTx(ctx, transactionStore, service.nowFn(), input)
		if err != nil {
			return err
		}
		entry = applied
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationCredit,
		AccountID:   input.AccountID,
		Kind:        input.Kind,
		Amount:      input.AmountCents,
		Description: input.Description,
		PerformedBy: input.PerformedBy,
		Error:       operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	return entry, nil
}

// Debit is the negative-direction convenience over Credit.
func (service *Service) Debit(ctx context.Context, input CreditInput) (Entry, error) {
	input.AmountCents = input.AmountCents.Negated()
	var entry Entry
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		applied, err := CreditInTx(ctx, transactionStore, service.nowFn(), input)
		if err != nil {
			return err
		}
		entry = applied
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationDebit,
		AccountID:   input.AccountID,
		Kind:        input.Kind,
		Amount:      input.AmountCents,
		Description: input.Description,
		PerformedBy: input.PerformedBy,
		Error:       operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	return entry, nil
}

// Balance returns the stored balance and lifetime totals.
func (service *Service) Balance(ctx context.Context, accountID string) (Balance, error) {
	account, err := service.store.GetAccount(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		BalanceCents:     account.BalanceCents,
		LifetimeInCents:  account.LifetimeInCents,
		LifetimeOutCents: account.LifetimeOutCents,
	}, nil
}

// EffectiveBalance returns the stored balance reduced by grants whose
// activation window has expired but which the background reconciler has not
// yet swept. Read-only projection; the stored balance is untouched.
func (service *Service) EffectiveBalance(ctx context.Context, accountID string) (AmountCents, error) {
	account, err := service.store.GetAccount(ctx, accountID)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationEffectiveBalance, AccountID: accountID, Error: err})
		return 0, err
	}
	effective, err := EffectiveBalanceInTx(ctx, service.store, service.nowFn(), account)
	service.logOperation(ctx, OperationLog{
		Operation: operationEffectiveBalance,
		AccountID: accountID,
		Amount:    effective,
		Error:     err,
	})
	return effective, err
}

// ListEntries lists ledger entries for an account before a cutoff time.
func (service *Service) ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Entry, error) {
	return service.store.ListEntries(ctx, accountID, beforeUnixUTC, limit)
}

// CreditInTx applies one balance mutation on a caller-owned transactional
// store. Every balance write in the system funnels through here.
func CreditInTx(ctx context.Context, transactionStore Store, nowUnixUTC int64, input CreditInput) (Entry, error) {
	if err := input.validate(); err != nil {
		return Entry{}, err
	}
	account, err := transactionStore.GetAccountForUpdate(ctx, input.AccountID)
	if err != nil {
		return Entry{}, err
	}
	balanceBefore := account.BalanceCents
	balanceAfter := balanceBefore + input.AmountCents
	if balanceAfter < 0 {
		return Entry{}, ErrInsufficientBalance
	}
	account.BalanceCents = balanceAfter
	if input.AmountCents > 0 {
		account.LifetimeInCents += input.AmountCents
	} else {
		account.LifetimeOutCents += input.AmountCents.Negated()
	}
	if err := transactionStore.UpdateAccountBalance(ctx, account); err != nil {
		return Entry{}, err
	}
	entry := Entry{
		AccountID:          input.AccountID,
		Kind:               input.Kind,
		AmountCents:        input.AmountCents,
		BalanceBeforeCents: balanceBefore,
		BalanceAfterCents:  balanceAfter,
		Description:        input.Description,
		PerformedBy:        input.PerformedBy,
		MetadataJSON:       input.MetadataJSON,
		CreatedUnixUTC:     nowUnixUTC,
	}
	return transactionStore.InsertEntry(ctx, entry)
}

// DebitInTx is the negative-direction convenience over CreditInTx.
func DebitInTx(ctx context.Context, transactionStore Store, nowUnixUTC int64, input CreditInput) (Entry, error) {
	input.AmountCents = input.AmountCents.Negated()
	return CreditInTx(ctx, transactionStore, nowUnixUTC, input)
}

// EffectiveBalanceInTx computes the user-visible balance for an already
// loaded account, discounting expired unactivated grants.
func EffectiveBalanceInTx(ctx context.Context, transactionStore Store, nowUnixUTC int64, account Account) (AmountCents, error) {
	pending, err := transactionStore.SumExpiredPendingGrants(ctx, account.AccountID, nowUnixUTC)
	if err != nil {
		return 0, err
	}
	effective := account.BalanceCents - pending
	if effective < 0 {
		effective = 0
	}
	return effective, nil
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
