package payout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/quillmarket/ledger/pkg/ledger"
)

const (
	payoutAccountIDValue = "acct-1"
	reviewerIDValue      = "reviewer-1"
	paymentMethodValue   = "paypal"
	paymentDetailsValue  = `{"email":"author@example.com"}`
)

func TestRequestDebitsWalletAndOpensRequest(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 10000)
	service := mustNewPayoutService(test, store, 1000)

	request, err := service.Request(context.Background(), validRequestInput(6000))
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if request.Status != StatusRequested {
		test.Fatalf("expected requested status, got %s", request.Status)
	}
	account := store.ledgerStore.mustAccount(test, payoutAccountIDValue)
	if account.BalanceCents != 4000 {
		test.Fatalf("expected balance 4000 after debit, got %d", account.BalanceCents)
	}
	if len(store.ledgerStore.entries) != 1 {
		test.Fatalf("expected 1 ledger entry, got %d", len(store.ledgerStore.entries))
	}
	entry := store.ledgerStore.entries[0]
	if entry.Kind != ledger.EntryPayout || entry.AmountCents != -6000 {
		test.Fatalf("unexpected debit entry: %+v", entry)
	}
	stored := store.mustRequest(test, request.RequestID)
	if stored.PaymentDetails == paymentDetailsValue {
		test.Fatalf("expected encrypted details at rest")
	}
}

func TestRequestBelowMinimum(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 10000)
	service := mustNewPayoutService(test, store, 1000)

	_, err := service.Request(context.Background(), validRequestInput(500))
	if !errors.Is(err, ErrBelowMinimum) {
		test.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if len(store.requests) != 0 {
		test.Fatalf("expected no requests, got %d", len(store.requests))
	}
}

func TestRequestInsufficientEffectiveBalance(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 5000)
	store.ledgerStore.expiredPending = 2000
	service := mustNewPayoutService(test, store, 1000)

	_, err := service.Request(context.Background(), validRequestInput(4000))
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	account := store.ledgerStore.mustAccount(test, payoutAccountIDValue)
	if account.BalanceCents != 5000 {
		test.Fatalf("expected untouched balance, got %d", account.BalanceCents)
	}
}

func TestRequestSingleFlightPerAccount(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 20000)
	service := mustNewPayoutService(test, store, 1000)

	if _, err := service.Request(context.Background(), validRequestInput(5000)); err != nil {
		test.Fatalf("first request: %v", err)
	}
	_, err := service.Request(context.Background(), validRequestInput(5000))
	if !errors.Is(err, ErrRequestAlreadyPending) {
		test.Fatalf("expected ErrRequestAlreadyPending, got %v", err)
	}
	if len(store.requests) != 1 {
		test.Fatalf("expected 1 request, got %d", len(store.requests))
	}
}

func TestConcurrentRequestsOpenOnlyOne(test *testing.T) {
	test.Parallel()
	store := &lockingPayoutStore{stubPayoutStore: newStubPayoutStore(test, 20000)}
	service := mustNewPayoutService(test, store, 1000)

	start := make(chan struct{})
	results := make(chan error, 2)
	for index := 0; index < 2; index++ {
		go func() {
			<-start
			_, err := service.Request(context.Background(), validRequestInput(6000))
			results <- err
		}()
	}
	close(start)

	var opened, refused int
	for index := 0; index < 2; index++ {
		err := <-results
		switch {
		case err == nil:
			opened++
		case errors.Is(err, ErrRequestAlreadyPending):
			refused++
		default:
			test.Fatalf("unexpected request error: %v", err)
		}
	}
	if opened != 1 || refused != 1 {
		test.Fatalf("expected one opened and one refused request, got %d and %d", opened, refused)
	}
	if len(store.requests) != 1 {
		test.Fatalf("expected 1 request, got %d", len(store.requests))
	}
	account := store.ledgerStore.mustAccount(test, payoutAccountIDValue)
	if account.BalanceCents != 14000 {
		test.Fatalf("expected single debit leaving 14000, got %d", account.BalanceCents)
	}
}

func TestRequestRejectsInvalidInput(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name  string
		alter func(input *RequestInput)
	}{
		{
			name:  "empty account id",
			alter: func(input *RequestInput) { input.AccountID = "" },
		},
		{
			name:  "zero amount",
			alter: func(input *RequestInput) { input.AmountCents = 0 },
		},
		{
			name:  "empty payment method",
			alter: func(input *RequestInput) { input.PaymentMethod = " " },
		},
		{
			name:  "empty payment details",
			alter: func(input *RequestInput) { input.PaymentDetails = "" },
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubPayoutStore(test, 10000)
			service := mustNewPayoutService(test, store, 1000)
			input := validRequestInput(5000)
			testCase.alter(&input)

			_, err := service.Request(context.Background(), input)
			if !errors.Is(err, ErrInvalidRequest) {
				test.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestRejectReversesDebit(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 10000)
	service := mustNewPayoutService(test, store, 1000)

	request, err := service.Request(context.Background(), validRequestInput(6000))
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	rejected, err := service.Reject(context.Background(), request.RequestID, reviewerIDValue, "details mismatch")
	if err != nil {
		test.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		test.Fatalf("expected rejected status, got %s", rejected.Status)
	}
	if rejected.RejectionReason != "details mismatch" {
		test.Fatalf("expected rejection reason stamped, got %q", rejected.RejectionReason)
	}
	account := store.ledgerStore.mustAccount(test, payoutAccountIDValue)
	if account.BalanceCents != 10000 {
		test.Fatalf("expected restored balance 10000, got %d", account.BalanceCents)
	}
	if len(store.ledgerStore.entries) != 2 {
		test.Fatalf("expected payout and reversal entries, got %d", len(store.ledgerStore.entries))
	}
	var sum ledger.AmountCents
	for _, entry := range store.ledgerStore.entries {
		sum += entry.AmountCents
	}
	if sum != 0 {
		test.Fatalf("expected entries to sum to zero, got %d", sum)
	}
	reversal := store.ledgerStore.entries[1]
	if reversal.Kind != ledger.EntryReversal {
		test.Fatalf("expected reversal entry, got %s", reversal.Kind)
	}
}

func TestRejectOnlyFromRequested(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 10000)
	service := mustNewPayoutService(test, store, 1000)

	request, err := service.Request(context.Background(), validRequestInput(6000))
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if _, err := service.Approve(context.Background(), request.RequestID, reviewerIDValue, ""); err != nil {
		test.Fatalf("approve: %v", err)
	}
	_, err = service.Reject(context.Background(), request.RequestID, reviewerIDValue, "too late")
	if !errors.Is(err, ErrInvalidStateTransition) {
		test.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	account := store.ledgerStore.mustAccount(test, payoutAccountIDValue)
	if account.BalanceCents != 4000 {
		test.Fatalf("expected debit to stand, got %d", account.BalanceCents)
	}
}

func TestCancelByOwnerReversesDebit(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 10000)
	service := mustNewPayoutService(test, store, 1000)

	request, err := service.Request(context.Background(), validRequestInput(6000))
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	cancelled, err := service.Cancel(context.Background(), request.RequestID, payoutAccountIDValue)
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		test.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}
	account := store.ledgerStore.mustAccount(test, payoutAccountIDValue)
	if account.BalanceCents != 10000 {
		test.Fatalf("expected restored balance, got %d", account.BalanceCents)
	}
}

func TestCancelByStrangerLooksAbsent(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 10000)
	service := mustNewPayoutService(test, store, 1000)

	request, err := service.Request(context.Background(), validRequestInput(6000))
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	_, err = service.Cancel(context.Background(), request.RequestID, "someone-else")
	if !errors.Is(err, ErrRequestNotFound) {
		test.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestApproveThenProcessThenComplete(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 10000)
	notifier := &recordingPayeeNotifier{}
	service, err := NewService(store, passthroughEncryptor{}, func() int64 { return 100 }, Config{MinimumPayoutCents: 1000}, WithPayeeNotifier(notifier))
	if err != nil {
		test.Fatalf("new service: %v", err)
	}

	request, err := service.Request(context.Background(), validRequestInput(6000))
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if _, err := service.Approve(context.Background(), request.RequestID, reviewerIDValue, "looks good"); err != nil {
		test.Fatalf("approve: %v", err)
	}
	if _, err := service.MarkProcessing(context.Background(), request.RequestID, reviewerIDValue); err != nil {
		test.Fatalf("mark processing: %v", err)
	}
	completed, err := service.Complete(context.Background(), request.RequestID, reviewerIDValue, "wise-tx-9", "")
	if err != nil {
		test.Fatalf("complete: %v", err)
	}
	if completed.Status != StatusCompleted {
		test.Fatalf("expected completed status, got %s", completed.Status)
	}
	if completed.TransactionID != "wise-tx-9" {
		test.Fatalf("expected transaction id stamped, got %q", completed.TransactionID)
	}
	if completed.PaidUnixUTC == 0 {
		test.Fatalf("expected paid timestamp stamped")
	}
	if len(store.ledgerStore.entries) != 1 {
		test.Fatalf("completion must not touch the ledger, got %d entries", len(store.ledgerStore.entries))
	}
	if len(notifier.completed) != 1 {
		test.Fatalf("expected one payee notification, got %d", len(notifier.completed))
	}
}

func TestCompleteLogsNotifierFailure(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 10000)
	logger := &recordingWorkflowLogger{}
	notifierError := errors.New("mailer down")
	service, err := NewService(store, passthroughEncryptor{}, func() int64 { return 100 },
		Config{MinimumPayoutCents: 1000},
		WithPayeeNotifier(failingPayeeNotifier{err: notifierError}),
		WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("new service: %v", err)
	}

	request, err := service.Request(context.Background(), validRequestInput(6000))
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if _, err := service.Approve(context.Background(), request.RequestID, reviewerIDValue, ""); err != nil {
		test.Fatalf("approve: %v", err)
	}
	completed, err := service.Complete(context.Background(), request.RequestID, reviewerIDValue, "wise-tx-12", "")
	if err != nil {
		test.Fatalf("complete: %v", err)
	}
	if completed.Status != StatusCompleted {
		test.Fatalf("expected completed status, got %s", completed.Status)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one logged entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationPayeeNotify || entry.Status != operationStatusError {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if !errors.Is(entry.Error, notifierError) {
		test.Fatalf("expected notifier error logged, got %v", entry.Error)
	}
	if entry.RequestID != request.RequestID {
		test.Fatalf("expected request id %q, got %q", request.RequestID, entry.RequestID)
	}
}

func TestCompleteDirectlyFromApproved(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 10000)
	service := mustNewPayoutService(test, store, 1000)

	request, err := service.Request(context.Background(), validRequestInput(6000))
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if _, err := service.Approve(context.Background(), request.RequestID, reviewerIDValue, ""); err != nil {
		test.Fatalf("approve: %v", err)
	}
	completed, err := service.Complete(context.Background(), request.RequestID, reviewerIDValue, "wise-tx-10", "")
	if err != nil {
		test.Fatalf("complete: %v", err)
	}
	if completed.Status != StatusCompleted {
		test.Fatalf("expected completed status, got %s", completed.Status)
	}
}

func TestCompleteRequiresApproval(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 10000)
	service := mustNewPayoutService(test, store, 1000)

	request, err := service.Request(context.Background(), validRequestInput(6000))
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	_, err = service.Complete(context.Background(), request.RequestID, reviewerIDValue, "wise-tx-11", "")
	if !errors.Is(err, ErrInvalidStateTransition) {
		test.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestInvalidTransitions(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		prepare func(test *testing.T, service *Service, requestID string)
		act     func(service *Service, requestID string) error
	}{
		{
			name: "approve twice",
			prepare: func(test *testing.T, service *Service, requestID string) {
				if _, err := service.Approve(context.Background(), requestID, reviewerIDValue, ""); err != nil {
					test.Fatalf("approve: %v", err)
				}
			},
			act: func(service *Service, requestID string) error {
				_, err := service.Approve(context.Background(), requestID, reviewerIDValue, "")
				return err
			},
		},
		{
			name: "process before approval",
			prepare: func(test *testing.T, service *Service, requestID string) {
			},
			act: func(service *Service, requestID string) error {
				_, err := service.MarkProcessing(context.Background(), requestID, reviewerIDValue)
				return err
			},
		},
		{
			name: "cancel after approval",
			prepare: func(test *testing.T, service *Service, requestID string) {
				if _, err := service.Approve(context.Background(), requestID, reviewerIDValue, ""); err != nil {
					test.Fatalf("approve: %v", err)
				}
			},
			act: func(service *Service, requestID string) error {
				_, err := service.Cancel(context.Background(), requestID, payoutAccountIDValue)
				return err
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubPayoutStore(test, 10000)
			service := mustNewPayoutService(test, store, 1000)
			request, err := service.Request(context.Background(), validRequestInput(6000))
			if err != nil {
				test.Fatalf("request: %v", err)
			}
			testCase.prepare(test, service, request.RequestID)
			err = testCase.act(service, request.RequestID)
			if !errors.Is(err, ErrInvalidStateTransition) {
				test.Fatalf("expected ErrInvalidStateTransition, got %v", err)
			}
		})
	}
}

func TestGetRedactsDetailsAndDetailsDecrypts(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 10000)
	service := mustNewPayoutService(test, store, 1000)

	request, err := service.Request(context.Background(), validRequestInput(6000))
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	redacted, err := service.Get(context.Background(), request.RequestID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if redacted.PaymentDetails != "" {
		test.Fatalf("expected redacted details, got %q", redacted.PaymentDetails)
	}
	detailed, err := service.Details(context.Background(), request.RequestID)
	if err != nil {
		test.Fatalf("details: %v", err)
	}
	if detailed.PaymentDetails != paymentDetailsValue {
		test.Fatalf("expected decrypted details, got %q", detailed.PaymentDetails)
	}
}

func TestNewServiceValidatesConfig(test *testing.T) {
	test.Parallel()
	store := newStubPayoutStore(test, 0)
	clock := func() int64 { return 0 }

	if _, err := NewService(nil, passthroughEncryptor{}, clock, Config{}); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for nil store, got %v", err)
	}
	if _, err := NewService(store, nil, clock, Config{}); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for nil encryptor, got %v", err)
	}
	if _, err := NewService(store, passthroughEncryptor{}, nil, Config{}); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for nil clock, got %v", err)
	}
	if _, err := NewService(store, passthroughEncryptor{}, clock, Config{MinimumPayoutCents: -1}); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for negative minimum, got %v", err)
	}
}

func validRequestInput(amount ledger.AmountCents) RequestInput {
	return RequestInput{
		AccountID:      payoutAccountIDValue,
		AmountCents:    amount,
		PaymentMethod:  paymentMethodValue,
		PaymentDetails: paymentDetailsValue,
	}
}

// passthroughEncryptor marks ciphertext with a prefix so tests can tell the
// two representations apart without a real key.
type passthroughEncryptor struct{}

func (passthroughEncryptor) Encrypt(plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (passthroughEncryptor) Decrypt(ciphertext string) (string, error) {
	if len(ciphertext) < 4 || ciphertext[:4] != "enc:" {
		return "", errors.New("not ciphertext")
	}
	return ciphertext[4:], nil
}

type failingPayeeNotifier struct {
	err error
}

func (notifier failingPayeeNotifier) PayoutCompleted(ctx context.Context, request Request) error {
	return notifier.err
}

type recordingWorkflowLogger struct {
	entries []OperationLog
}

func (logger *recordingWorkflowLogger) LogOperation(ctx context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

type recordingPayeeNotifier struct {
	completed []Request
}

func (notifier *recordingPayeeNotifier) PayoutCompleted(ctx context.Context, request Request) error {
	notifier.completed = append(notifier.completed, request)
	return nil
}

type stubPayoutLedgerStore struct {
	accounts       map[string]ledger.Account
	entries        []ledger.Entry
	expiredPending ledger.AmountCents
}

func (store *stubPayoutLedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store *stubPayoutLedgerStore) GetOrCreateAccount(ctx context.Context, ownerID string, kind ledger.AccountKind) (ledger.Account, error) {
	return ledger.Account{}, errors.New("not implemented")
}

func (store *stubPayoutLedgerStore) GetAccount(ctx context.Context, accountID string) (ledger.Account, error) {
	account, ok := store.accounts[accountID]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return account, nil
}

func (store *stubPayoutLedgerStore) GetAccountForUpdate(ctx context.Context, accountID string) (ledger.Account, error) {
	return store.GetAccount(ctx, accountID)
}

func (store *stubPayoutLedgerStore) UpdateAccountBalance(ctx context.Context, account ledger.Account) error {
	store.accounts[account.AccountID] = account
	return nil
}

func (store *stubPayoutLedgerStore) InsertEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	entry.EntryID = fmt.Sprintf("entry-%d", len(store.entries)+1)
	store.entries = append(store.entries, entry)
	return entry, nil
}

func (store *stubPayoutLedgerStore) SumExpiredPendingGrants(ctx context.Context, accountID string, nowUnixUTC int64) (ledger.AmountCents, error) {
	return store.expiredPending, nil
}

func (store *stubPayoutLedgerStore) ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	return append([]ledger.Entry(nil), store.entries...), nil
}

func (store *stubPayoutLedgerStore) mustAccount(test *testing.T, accountID string) ledger.Account {
	test.Helper()
	account, ok := store.accounts[accountID]
	if !ok {
		test.Fatalf("account %s not found", accountID)
	}
	return account
}

type stubPayoutStore struct {
	ledgerStore    *stubPayoutLedgerStore
	requests       map[string]Request
	nextRequestSeq int
}

func newStubPayoutStore(test *testing.T, initialBalance ledger.AmountCents) *stubPayoutStore {
	test.Helper()
	return &stubPayoutStore{
		ledgerStore: &stubPayoutLedgerStore{
			accounts: map[string]ledger.Account{
				payoutAccountIDValue: {
					AccountID:    payoutAccountIDValue,
					Kind:         ledger.AccountWallet,
					BalanceCents: initialBalance,
				},
			},
		},
		requests: make(map[string]Request),
	}
}

func (store *stubPayoutStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubPayoutStore) Ledger() ledger.Store {
	return store.ledgerStore
}

func (store *stubPayoutStore) CreateRequest(ctx context.Context, request Request) (Request, error) {
	store.nextRequestSeq++
	request.RequestID = fmt.Sprintf("payout-%d", store.nextRequestSeq)
	store.requests[request.RequestID] = request
	return request, nil
}

func (store *stubPayoutStore) GetRequest(ctx context.Context, requestID string) (Request, error) {
	request, ok := store.requests[requestID]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return request, nil
}

func (store *stubPayoutStore) GetRequestForUpdate(ctx context.Context, requestID string) (Request, error) {
	return store.GetRequest(ctx, requestID)
}

func (store *stubPayoutStore) CountPendingRequests(ctx context.Context, accountID string) (int64, error) {
	var count int64
	for _, request := range store.requests {
		if request.AccountID == accountID && !request.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (store *stubPayoutStore) UpdateRequestStatus(ctx context.Context, requestID string, from Status, to Status, update StatusUpdate) error {
	request, ok := store.requests[requestID]
	if !ok {
		return ErrRequestNotFound
	}
	if request.Status != from {
		return ErrInvalidStateTransition
	}
	request.Status = to
	if update.ProcessedBy != "" {
		request.ProcessedBy = update.ProcessedBy
	}
	if update.RejectionReason != "" {
		request.RejectionReason = update.RejectionReason
	}
	if update.TransactionID != "" {
		request.TransactionID = update.TransactionID
	}
	if update.Notes != "" {
		request.Notes = update.Notes
	}
	if update.ProcessedUnixUTC != 0 {
		request.ProcessedUnixUTC = update.ProcessedUnixUTC
	}
	if update.PaidUnixUTC != 0 {
		request.PaidUnixUTC = update.PaidUnixUTC
	}
	store.requests[requestID] = request
	return nil
}

func (store *stubPayoutStore) mustRequest(test *testing.T, requestID string) Request {
	test.Helper()
	request, ok := store.requests[requestID]
	if !ok {
		test.Fatalf("request %s not found", requestID)
	}
	return request
}

// lockingPayoutStore layers a real account row lock over the stub so two
// Request calls can race up to the lock the way concurrent database
// transactions do. The lock is taken by GetAccountForUpdate and held until the
// transaction closure returns.
type lockingPayoutStore struct {
	*stubPayoutStore
	rowLock sync.Mutex
}

func (store *lockingPayoutStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	transaction := &lockingPayoutTx{stubPayoutStore: store.stubPayoutStore, locker: store}
	defer transaction.release()
	return fn(ctx, transaction)
}

type lockingPayoutTx struct {
	*stubPayoutStore
	locker *lockingPayoutStore
	held   bool
}

func (transaction *lockingPayoutTx) Ledger() ledger.Store {
	return &lockingLedgerTx{stubPayoutLedgerStore: transaction.stubPayoutStore.ledgerStore, transaction: transaction}
}

func (transaction *lockingPayoutTx) lockRow() {
	if !transaction.held {
		transaction.locker.rowLock.Lock()
		transaction.held = true
	}
}

func (transaction *lockingPayoutTx) release() {
	if transaction.held {
		transaction.locker.rowLock.Unlock()
		transaction.held = false
	}
}

type lockingLedgerTx struct {
	*stubPayoutLedgerStore
	transaction *lockingPayoutTx
}

func (store *lockingLedgerTx) GetAccountForUpdate(ctx context.Context, accountID string) (ledger.Account, error) {
	store.transaction.lockRow()
	return store.stubPayoutLedgerStore.GetAccountForUpdate(ctx, accountID)
}

func mustNewPayoutService(test *testing.T, store Store, minimum ledger.AmountCents) *Service {
	test.Helper()
	service, err := NewService(store, passthroughEncryptor{}, func() int64 { return 100 }, Config{MinimumPayoutCents: minimum})
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}
