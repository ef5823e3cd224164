// Package errs defines the error taxonomy surfaced by the session, balance
// and transaction layers, and maps raw wallet / JSON-RPC / transport errors
// onto it.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure callers can react to.
type Kind string

const (
	ProviderUnavailable         Kind = "provider_unavailable"
	UserRejected                Kind = "user_rejected"
	WrongNetwork                Kind = "wrong_network"
	StaleSession                Kind = "stale_session"
	InsufficientFunds           Kind = "insufficient_funds"
	InsufficientContractReserve Kind = "insufficient_contract_reserve"
	ContractReverted            Kind = "contract_reverted"
	NetworkError                Kind = "network_error"
	ConfirmationTimeout         Kind = "confirmation_timeout"
	AlreadyInProgress           Kind = "already_in_progress"
	ContentUploadFailed         Kind = "content_upload_failed"
	BalanceUnavailable          Kind = "balance_unavailable"
	InvalidArgument             Kind = "invalid_argument"
)

// UnknownRevert is the reason reported when revert data cannot be decoded.
const UnknownRevert = "unknown revert"

// Retryable reports whether the same call may succeed if simply repeated.
func (k Kind) Retryable() bool {
	switch k {
	case NetworkError, ConfirmationTimeout, BalanceUnavailable, AlreadyInProgress:
		return true
	default:
		return false
	}
}

// Advisory reports whether the failure came from a local pre-check rather
// than from the chain.
func (k Kind) Advisory() bool {
	return k == InsufficientFunds || k == InsufficientContractReserve
}

type Error struct {
	Kind   Kind
	Reason string
	TxHash string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	if e.Err != nil && e.Reason == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil || e == nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrProviderUnavailable         = &Error{Kind: ProviderUnavailable}
	ErrUserRejected                = &Error{Kind: UserRejected}
	ErrWrongNetwork                = &Error{Kind: WrongNetwork}
	ErrStaleSession                = &Error{Kind: StaleSession}
	ErrInsufficientFunds           = &Error{Kind: InsufficientFunds}
	ErrInsufficientContractReserve = &Error{Kind: InsufficientContractReserve}
	ErrContractReverted            = &Error{Kind: ContractReverted}
	ErrNetworkError                = &Error{Kind: NetworkError}
	ErrConfirmationTimeout         = &Error{Kind: ConfirmationTimeout}
	ErrAlreadyInProgress           = &Error{Kind: AlreadyInProgress}
	ErrContentUploadFailed         = &Error{Kind: ContentUploadFailed}
	ErrBalanceUnavailable          = &Error{Kind: BalanceUnavailable}
	ErrInvalidArgument             = &Error{Kind: InvalidArgument}
)

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Reverted builds a ContractReverted error, substituting UnknownRevert for
// an empty reason.
func Reverted(reason string) *Error {
	if reason == "" {
		reason = UnknownRevert
	}
	return &Error{Kind: ContractReverted, Reason: reason}
}

// KindOf returns the taxonomy kind carried by err, or "" when err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// WithTx attaches a transaction hash to err, classifying it first.
func WithTx(err error, hash string) error {
	if err == nil {
		return nil
	}
	classified := Classify(err)
	var e *Error
	if errors.As(classified, &e) {
		cp := *e
		cp.TxHash = hash
		return &cp
	}
	return classified
}
