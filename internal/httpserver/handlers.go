package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quillmarket/ledger/pkg/coupon"
	"github.com/quillmarket/ledger/pkg/ledger"
	"github.com/quillmarket/ledger/pkg/payment"
	"github.com/quillmarket/ledger/pkg/payout"
)

type webhookRequest struct {
	ExternalPaymentID   string `json:"external_payment_id" binding:"required"`
	AccountID           string `json:"account_id" binding:"required"`
	Credits             int64  `json:"credits" binding:"required"`
	AmountPaidCents     int64  `json:"amount_paid_cents"`
	Currency            string `json:"currency"`
	ValidityDays        int    `json:"validity_days"`
	CouponCode          string `json:"coupon_code"`
	CouponDiscountCents int64  `json:"coupon_discount_cents"`
	PayerUserID         string `json:"payer_user_id"`
	PayerEmail          string `json:"payer_email"`
}

func (server *Server) handlePaymentWebhook(ctx *gin.Context) {
	var body webhookRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	notification := payment.GatewayNotification{
		ExternalPaymentID:   body.ExternalPaymentID,
		AccountID:           body.AccountID,
		Credits:             body.Credits,
		AmountPaidCents:     body.AmountPaidCents,
		Currency:            body.Currency,
		ValidityDays:        body.ValidityDays,
		CouponCode:          body.CouponCode,
		CouponDiscountCents: body.CouponDiscountCents,
		PayerUserID:         body.PayerUserID,
		PayerEmail:          body.PayerEmail,
	}
	if err := server.services.Dispatcher.Dispatch(ctx.Request.Context(), payment.EventPaymentConfirmed, notification); err != nil {
		server.respondError(ctx, err)
		return
	}
	// Redeliveries land here too; the ingestion layer already made them a no-op.
	ctx.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

type createAccountRequest struct {
	OwnerID string `json:"owner_id" binding:"required"`
	Kind    string `json:"kind" binding:"required"`
}

func (server *Server) handleCreateAccount(ctx *gin.Context) {
	var body createAccountRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, err := ledger.ParseAccountKind(body.Kind)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	account, err := server.services.Ledger.CreateAccount(ctx.Request.Context(), body.OwnerID, kind)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"account_id": account.AccountID,
		"owner_id":   account.OwnerID,
		"kind":       account.Kind.String(),
	})
}

func (server *Server) handleBalance(ctx *gin.Context) {
	accountID := ctx.Param("id")
	balance, err := server.services.Ledger.Balance(ctx.Request.Context(), accountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	effective, err := server.services.Ledger.EffectiveBalance(ctx.Request.Context(), accountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance_cents":           balance.BalanceCents.Int64(),
		"effective_balance_cents": effective.Int64(),
		"lifetime_in_cents":       balance.LifetimeInCents.Int64(),
		"lifetime_out_cents":      balance.LifetimeOutCents.Int64(),
	})
}

func (server *Server) handleEntries(ctx *gin.Context) {
	accountID := ctx.Param("id")
	limit := defaultEntriesLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxEntriesLimit {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	var before int64
	if raw := ctx.Query("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid before"})
			return
		}
		before = parsed
	}
	entries, err := server.services.Ledger.ListEntries(ctx.Request.Context(), accountID, before, limit)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, gin.H{
			"entry_id":             entry.EntryID,
			"kind":                 entry.Kind.String(),
			"amount_cents":         entry.AmountCents.Int64(),
			"balance_before_cents": entry.BalanceBeforeCents.Int64(),
			"balance_after_cents":  entry.BalanceAfterCents.Int64(),
			"description":          entry.Description,
			"created_unix_utc":     entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

type createCouponRequest struct {
	Code                string `json:"code" binding:"required"`
	DiscountKind        string `json:"discount_kind" binding:"required"`
	DiscountPercent     string `json:"discount_percent"`
	DiscountAmountCents int64  `json:"discount_amount_cents"`
	MinPurchaseCents    int64  `json:"min_purchase_cents"`
	MinCredits          int64  `json:"min_credits"`
	MaxUses             int64  `json:"max_uses"`
	MaxUsesPerUser      int64  `json:"max_uses_per_user"`
	ValidFromUnixUTC    int64  `json:"valid_from_unix_utc"`
	ValidUntilUnixUTC   int64  `json:"valid_until_unix_utc"`
	AppliesTo           string `json:"applies_to"`
}

func (server *Server) handleCreateCoupon(ctx *gin.Context) {
	var body createCouponRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	discountKind, err := coupon.ParseDiscountKind(body.DiscountKind)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	discountPercent := decimal.Zero
	if body.DiscountPercent != "" {
		discountPercent, err = decimal.NewFromString(body.DiscountPercent)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid discount_percent"})
			return
		}
	}
	appliesTo := coupon.OrderType(body.AppliesTo)
	if body.AppliesTo == "" {
		appliesTo = coupon.OrderAll
	}
	created, err := server.services.Coupons.Create(ctx.Request.Context(), coupon.CreateInput{
		Code:                body.Code,
		DiscountKind:        discountKind,
		DiscountPercent:     discountPercent,
		DiscountAmountCents: ledger.AmountCents(body.DiscountAmountCents),
		MinPurchaseCents:    ledger.AmountCents(body.MinPurchaseCents),
		MinCredits:          body.MinCredits,
		MaxUses:             body.MaxUses,
		MaxUsesPerUser:      body.MaxUsesPerUser,
		ValidFromUnixUTC:    body.ValidFromUnixUTC,
		ValidUntilUnixUTC:   body.ValidUntilUnixUTC,
		AppliesTo:           appliesTo,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"coupon_id": created.CouponID, "code": created.Code})
}

type validateCouponRequest struct {
	Code             string `json:"code" binding:"required"`
	UserID           string `json:"user_id"`
	PurchaseCents    int64  `json:"purchase_cents"`
	CreditsRequested int64  `json:"credits_requested"`
	OrderType        string `json:"order_type"`
}

func (server *Server) handleValidateCoupon(ctx *gin.Context) {
	var body validateCouponRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	orderType := coupon.OrderType(body.OrderType)
	if body.OrderType == "" {
		orderType = coupon.OrderCredits
	}
	result, err := server.services.Coupons.Validate(ctx.Request.Context(), body.Code, coupon.ValidationContext{
		UserID:           body.UserID,
		PurchaseCents:    ledger.AmountCents(body.PurchaseCents),
		CreditsRequested: body.CreditsRequested,
		OrderType:        orderType,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"valid":             result.Valid,
		"reason":            result.Reason,
		"discount_cents":    result.DiscountCents.Int64(),
		"final_price_cents": result.FinalPriceCents.Int64(),
	})
}

func (server *Server) handleDeactivateCoupon(ctx *gin.Context) {
	if err := server.services.Coupons.Deactivate(ctx.Request.Context(), ctx.Param("code")); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

func (server *Server) handleActivateCoupon(ctx *gin.Context) {
	if err := server.services.Coupons.Activate(ctx.Request.Context(), ctx.Param("code")); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "activated"})
}

type requestPayoutRequest struct {
	AccountID      string `json:"account_id" binding:"required"`
	AmountCents    int64  `json:"amount_cents" binding:"required"`
	PaymentMethod  string `json:"payment_method" binding:"required"`
	PaymentDetails string `json:"payment_details" binding:"required"`
	Notes          string `json:"notes"`
}

func (server *Server) handleRequestPayout(ctx *gin.Context) {
	var body requestPayoutRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	request, err := server.services.Payouts.Request(ctx.Request.Context(), payout.RequestInput{
		AccountID:      body.AccountID,
		AmountCents:    ledger.AmountCents(body.AmountCents),
		PaymentMethod:  body.PaymentMethod,
		PaymentDetails: body.PaymentDetails,
		Notes:          body.Notes,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, payoutPayload(request))
}

func (server *Server) handleGetPayout(ctx *gin.Context) {
	request, err := server.services.Payouts.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, payoutPayload(request))
}

func (server *Server) handlePayoutDetails(ctx *gin.Context) {
	request, err := server.services.Payouts.Details(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := payoutPayload(request)
	payload["payment_details"] = request.PaymentDetails
	ctx.JSON(http.StatusOK, payload)
}

type reviewPayoutRequest struct {
	ReviewerID    string `json:"reviewer_id" binding:"required"`
	Reason        string `json:"reason"`
	TransactionID string `json:"transaction_id"`
	Notes         string `json:"notes"`
}

func (server *Server) handleApprovePayout(ctx *gin.Context) {
	var body reviewPayoutRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	request, err := server.services.Payouts.Approve(ctx.Request.Context(), ctx.Param("id"), body.ReviewerID, body.Notes)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, payoutPayload(request))
}

func (server *Server) handleRejectPayout(ctx *gin.Context) {
	var body reviewPayoutRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Reason == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	request, err := server.services.Payouts.Reject(ctx.Request.Context(), ctx.Param("id"), body.ReviewerID, body.Reason)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, payoutPayload(request))
}

func (server *Server) handleProcessPayout(ctx *gin.Context) {
	var body reviewPayoutRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	request, err := server.services.Payouts.MarkProcessing(ctx.Request.Context(), ctx.Param("id"), body.ReviewerID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, payoutPayload(request))
}

func (server *Server) handleCompletePayout(ctx *gin.Context) {
	var body reviewPayoutRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.TransactionID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "transaction_id is required"})
		return
	}
	request, err := server.services.Payouts.Complete(ctx.Request.Context(), ctx.Param("id"), body.ReviewerID, body.TransactionID, body.Notes)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, payoutPayload(request))
}

type cancelPayoutRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

func (server *Server) handleCancelPayout(ctx *gin.Context) {
	var body cancelPayoutRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	request, err := server.services.Payouts.Cancel(ctx.Request.Context(), ctx.Param("id"), body.AccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, payoutPayload(request))
}

func payoutPayload(request payout.Request) gin.H {
	return gin.H{
		"request_id":         request.RequestID,
		"account_id":         request.AccountID,
		"amount_cents":       request.AmountCents.Int64(),
		"status":             request.Status.String(),
		"payment_method":     request.PaymentMethod,
		"notes":              request.Notes,
		"processed_by":       request.ProcessedBy,
		"rejection_reason":   request.RejectionReason,
		"transaction_id":     request.TransactionID,
		"requested_unix_utc": request.RequestedUnixUTC,
		"processed_unix_utc": request.ProcessedUnixUTC,
		"paid_unix_utc":      request.PaidUnixUTC,
	}
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, coupon.ErrCouponNotFound),
		errors.Is(err, payout.ErrRequestNotFound):
		status = http.StatusNotFound
	case errors.Is(err, coupon.ErrDuplicateCode),
		errors.Is(err, coupon.ErrDuplicateRedemption),
		errors.Is(err, coupon.ErrCouponExhausted),
		errors.Is(err, ledger.ErrDuplicateGrant),
		errors.Is(err, payout.ErrRequestAlreadyPending):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, payout.ErrBelowMinimum),
		errors.Is(err, payout.ErrInvalidStateTransition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAccountKind),
		errors.Is(err, ledger.ErrInvalidAccountID),
		errors.Is(err, ledger.ErrInvalidEntryKind),
		errors.Is(err, coupon.ErrInvalidDiscount),
		errors.Is(err, coupon.ErrInvalidDateRange),
		errors.Is(err, coupon.ErrInvalidCode),
		errors.Is(err, payment.ErrInvalidNotification),
		errors.Is(err, payout.ErrInvalidRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		server.logger.Error("request failed", zap.Error(err))
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}
