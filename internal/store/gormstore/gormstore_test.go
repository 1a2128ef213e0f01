package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/quillmarket/ledger/pkg/coupon"
	"github.com/quillmarket/ledger/pkg/ledger"
	"github.com/quillmarket/ledger/pkg/payout"
)

const testClockUnixUTC = int64(100)

// newTestStore opens a throwaway database with the full schema. The pool is
// pinned to one connection so concurrent transactions queue on BEGIN the way
// a single-writer database serializes them.
func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/ledger.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(Models()...); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	test.Cleanup(func() { _ = sqlDB.Close() })
	return New(db)
}

func testClock() int64 { return testClockUnixUTC }

func TestConcurrentDebitsAllowSingleOverdraw(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newTestStore(test)
	ledgerService, err := ledger.NewService(store.Ledger(), testClock)
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	account, err := ledgerService.CreateAccount(ctx, "author-1", ledger.AccountWallet)
	if err != nil {
		test.Fatalf("create account: %v", err)
	}
	if _, err := ledgerService.Credit(ctx, ledger.CreditInput{
		AccountID:   account.AccountID,
		AmountCents: 100,
		Kind:        ledger.EntryAcquire,
	}); err != nil {
		test.Fatalf("credit: %v", err)
	}

	start := make(chan struct{})
	results := make(chan error, 2)
	for index := 0; index < 2; index++ {
		go func() {
			<-start
			_, err := ledgerService.Debit(ctx, ledger.CreditInput{
				AccountID:   account.AccountID,
				AmountCents: 60,
				Kind:        ledger.EntryConsume,
			})
			results <- err
		}()
	}
	close(start)

	var debited, overdrawn int
	for index := 0; index < 2; index++ {
		err := <-results
		switch {
		case err == nil:
			debited++
		case errors.Is(err, ledger.ErrInsufficientBalance):
			overdrawn++
		default:
			test.Fatalf("unexpected debit error: %v", err)
		}
	}
	if debited != 1 || overdrawn != 1 {
		test.Fatalf("expected one debit and one overdraw, got %d and %d", debited, overdrawn)
	}
	balance, err := ledgerService.Balance(ctx, account.AccountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.BalanceCents != 40 {
		test.Fatalf("expected balance 40 after one debit, got %d", balance.BalanceCents)
	}
	entries, err := ledgerService.ListEntries(ctx, account.AccountID, 0, 10)
	if err != nil {
		test.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		test.Fatalf("expected credit and one debit entry, got %d", len(entries))
	}
}

func TestConcurrentRedemptionsStopAtMaxUses(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newTestStore(test)
	couponService, err := coupon.NewService(store.Coupons(), testClock)
	if err != nil {
		test.Fatalf("coupon service: %v", err)
	}
	created, err := couponService.Create(ctx, coupon.CreateInput{
		Code:                "launch10",
		DiscountKind:        coupon.DiscountFixed,
		DiscountAmountCents: 100,
		MaxUses:             2,
		AppliesTo:           coupon.OrderAll,
	})
	if err != nil {
		test.Fatalf("create coupon: %v", err)
	}

	start := make(chan struct{})
	results := make(chan error, 3)
	for index := 0; index < 3; index++ {
		index := index
		go func() {
			<-start
			_, err := couponService.Redeem(ctx, coupon.RedeemInput{
				CouponID:             created.CouponID,
				UserID:               fmt.Sprintf("reader-%d", index),
				OrderRef:             fmt.Sprintf("order-%d", index),
				DiscountAppliedCents: 100,
			})
			results <- err
		}()
	}
	close(start)

	var redeemed, exhausted int
	for index := 0; index < 3; index++ {
		err := <-results
		switch {
		case err == nil:
			redeemed++
		case errors.Is(err, coupon.ErrCouponExhausted):
			exhausted++
		default:
			test.Fatalf("unexpected redeem error: %v", err)
		}
	}
	if redeemed != 2 || exhausted != 1 {
		test.Fatalf("expected two redemptions and one exhaustion, got %d and %d", redeemed, exhausted)
	}
	record, err := couponService.FindByCode(ctx, "LAUNCH10")
	if err != nil {
		test.Fatalf("find coupon: %v", err)
	}
	if record.CurrentUses != 2 {
		test.Fatalf("expected current uses capped at 2, got %d", record.CurrentUses)
	}
}

func TestConcurrentPayoutRequestsOpenOnlyOne(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newTestStore(test)
	ledgerService, err := ledger.NewService(store.Ledger(), testClock)
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	account, err := ledgerService.CreateAccount(ctx, "author-2", ledger.AccountWallet)
	if err != nil {
		test.Fatalf("create account: %v", err)
	}
	if _, err := ledgerService.Credit(ctx, ledger.CreditInput{
		AccountID:   account.AccountID,
		AmountCents: 20000,
		Kind:        ledger.EntryAcquire,
	}); err != nil {
		test.Fatalf("credit: %v", err)
	}
	payoutService, err := payout.NewService(store.Payouts(), sealedEncryptor{}, testClock,
		payout.Config{MinimumPayoutCents: 1000})
	if err != nil {
		test.Fatalf("payout service: %v", err)
	}

	start := make(chan struct{})
	results := make(chan error, 2)
	for index := 0; index < 2; index++ {
		go func() {
			<-start
			_, err := payoutService.Request(ctx, payout.RequestInput{
				AccountID:      account.AccountID,
				AmountCents:    6000,
				PaymentMethod:  "paypal",
				PaymentDetails: `{"email":"author@example.com"}`,
			})
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
		case errors.Is(err, payout.ErrRequestAlreadyPending):
			refused++
		default:
			test.Fatalf("unexpected request error: %v", err)
		}
	}
	if opened != 1 || refused != 1 {
		test.Fatalf("expected one opened and one refused request, got %d and %d", opened, refused)
	}
	pending, err := store.Payouts().CountPendingRequests(ctx, account.AccountID)
	if err != nil {
		test.Fatalf("count pending: %v", err)
	}
	if pending != 1 {
		test.Fatalf("expected 1 pending request, got %d", pending)
	}
	balance, err := ledgerService.Balance(ctx, account.AccountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.BalanceCents != 14000 {
		test.Fatalf("expected single debit leaving 14000, got %d", balance.BalanceCents)
	}
}

// sealedEncryptor keeps ciphertext distinguishable without a real key.
type sealedEncryptor struct{}

func (sealedEncryptor) Encrypt(plaintext string) (string, error) {
	return "sealed:" + plaintext, nil
}

func (sealedEncryptor) Decrypt(ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, "sealed:"), nil
}
