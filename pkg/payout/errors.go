package payout

import (
	"errors"

	"github.com/quillmarket/ledger/pkg/ledger"
)

// Domain-level error values returned by the payout workflow.
var (
	ErrRequestNotFound        = errors.New("payout request not found")
	ErrBelowMinimum           = errors.New("amount below minimum payout")
	ErrRequestAlreadyPending  = errors.New("payout request already pending")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidStatus          = errors.New("invalid payout status")
	ErrInvalidRequest         = errors.New("invalid payout request")
	ErrInvalidServiceConfig   = errors.New("invalid service config")

	// ErrInsufficientBalance is the ledger guard surfacing through Request.
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
)
