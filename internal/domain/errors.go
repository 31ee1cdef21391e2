package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure by how callers are expected to react to it.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindCapacity
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindCapacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by the ledger and the reward engines.
// Settled marks a conflict that means "this reward was already applied"; callers
// treat it as an idempotent no-op.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Settled bool
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by code so that copies produced by With* helpers
// still compare equal to the package-level value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code != "" && e.Code == t.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

func NewValidationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func NewNotFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func NewConflictError(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func NewCapacityError(code, message string) *Error {
	return &Error{Kind: KindCapacity, Code: code, Message: message}
}

func newSettledError(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message, Settled: true}
}

var (
	// Wallet update protocol
	ErrWalletNotFound      = NewNotFoundError("wallet_not_found", "wallet not found")
	ErrInsufficientBalance = NewValidationError("insufficient_balance", "insufficient balance")
	ErrVersionConflict     = NewConflictError("version_conflict", "wallet version conflict")
	ErrInvalidAmount       = NewValidationError("invalid_amount", "invalid amount")
	ErrInvalidCurrency     = NewValidationError("invalid_currency", "invalid currency")
	ErrSettlementContended = NewConflictError("settlement_contended", "settlement retries exhausted")

	// Users
	ErrUserNotFound = NewNotFoundError("user_not_found", "user not found")

	// VIP
	ErrInvalidXpAmount          = NewValidationError("invalid_xp_amount", "xp amount must be positive")
	ErrInvalidXpSource          = NewValidationError("invalid_xp_source", "xp source is required")
	ErrInvalidLossAmount        = NewValidationError("invalid_loss_amount", "loss amount must be positive")
	ErrInvalidCashbackReference = NewValidationError("invalid_cashback_reference", "a round reference is required to accrue cashback")
	ErrNoCashbackAvailable      = NewValidationError("no_cashback_available", "no cashback available to claim")
	ErrVipTiersMissing          = NewNotFoundError("vip_tiers_missing", "no vip tiers configured")
	ErrUserVipNotFound          = NewNotFoundError("user_vip_not_found", "vip profile not found")
	ErrXpAlreadyAwarded         = newSettledError("xp_already_awarded", "xp already awarded for this event")
	ErrCashbackAlreadyAccrued   = newSettledError("cashback_already_accrued", "cashback already accrued for this round")

	// Code minting
	ErrCodeSpaceExhausted = NewConflictError("code_space_exhausted", "could not mint a unique code")

	// Referral
	ErrReferralCodeNotFound    = NewNotFoundError("referral_code_not_found", "referral code not found")
	ErrReferralNotFound        = NewNotFoundError("referral_not_found", "referral not found")
	ErrSelfReferral            = NewValidationError("self_referral", "cannot apply your own referral code")
	ErrReferrerInactive        = NewValidationError("referrer_inactive", "referrer account is not active")
	ErrReferralAlreadyApplied  = newSettledError("referral_already_applied", "a referral code was already applied")
	ErrReferralAlreadyRewarded = newSettledError("referral_already_rewarded", "referral already rewarded")

	// AMOE
	ErrAmoeEntryNotFound    = NewNotFoundError("amoe_entry_not_found", "amoe entry not found")
	ErrAmoeDailyLimit       = NewCapacityError("amoe_daily_limit", "daily amoe code limit reached")
	ErrAmoeWeeklyLimit      = NewCapacityError("amoe_weekly_limit", "weekly amoe code limit reached")
	ErrAmoeRateLimited      = NewCapacityError("amoe_rate_limited", "too many amoe code requests")
	ErrAmoeNotApproved      = NewConflictError("amoe_not_approved", "amoe entry is not approved")
	ErrAmoeNotSubmitted     = NewConflictError("amoe_not_submitted", "amoe entry is not submitted")
	ErrAmoeAlreadyApproved  = newSettledError("amoe_already_approved", "amoe entry already approved")
	ErrAmoeAlreadyRedeemed  = newSettledError("amoe_already_redeemed", "amoe entry already redeemed")
	ErrInvalidPostalAddress = NewValidationError("invalid_postal_address", "invalid postal address")
)

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsAlreadySettled reports whether err signals that the reward was applied before.
func IsAlreadySettled(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Settled
}

// IsRetryable reports whether a caller may re-read and retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrSettlementContended)
}
