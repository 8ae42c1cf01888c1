package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidInput        ErrorCode = "invalid_input"
	ValidationFailure   ErrorCode = "validation_failure"
	DuplicateKey        ErrorCode = "duplicate_key"
	DuplicateRequest    ErrorCode = "duplicate_request"
	InsufficientFunds   ErrorCode = "insufficient_funds"
	PreconditionNotMet  ErrorCode = "precondition_not_met"
	AlreadyFinalized    ErrorCode = "already_finalized"
	NotFound            ErrorCode = "not_found"
	AmbiguousState      ErrorCode = "ambiguous_state"
	IntentExpired       ErrorCode = "intent_expired"
	ProviderTransient   ErrorCode = "provider_transient"
	ProviderRejected    ErrorCode = "provider_rejected"
	BadTransaction      ErrorCode = "bad_transaction"
	InvalidCredentials  ErrorCode = "invalid_credentials"
	InternalError       ErrorCode = "internal_error"
	CannotBeginTransact ErrorCode = "cannot_begin_transaction"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches on code so sentinels compare equal to copies made by WithDetails.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Message == "" || e.Message == t.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap builds an AppError that keeps err reachable through errors.Unwrap.
func Wrap(code ErrorCode, message string, err error) *AppError {
	appErr := &AppError{Code: code, Message: message, cause: err}
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidInput, ValidationFailure:
		return http.StatusBadRequest
	case InvalidCredentials:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case DuplicateKey, DuplicateRequest, AlreadyFinalized, AmbiguousState:
		return http.StatusConflict
	case InsufficientFunds, PreconditionNotMet, IntentExpired:
		return http.StatusPreconditionFailed
	case BadTransaction:
		return http.StatusUnprocessableEntity
	case ProviderRejected:
		return http.StatusBadGateway
	case ProviderTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the code of the first AppError in err's chain, or InternalError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return InternalError
}

// Is reports whether err carries an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if stderrors.As(err, &appErr) {
			if appErr.Code == code {
				return true
			}
			err = appErr.cause
			continue
		}
		return false
	}
	return false
}

// As exposes the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Predefined errors for common cases
var (
	ErrDuplicateKey           = NewAppError(DuplicateKey, "idempotency key already exists")
	ErrDuplicateRequest       = NewAppError(DuplicateRequest, "transaction has already been processed")
	ErrInsufficientFunds      = NewAppError(InsufficientFunds, "INSUFFICIENT_BALANCE")
	ErrHoldNotCompleted       = NewAppError(PreconditionNotMet, "HOLD was not successful, HOLD it first")
	ErrOutNotCompleted        = NewAppError(PreconditionNotMet, "CHARGE/RELEASE was not successful, do it first")
	ErrRolledBack             = NewAppError(AlreadyFinalized, "transaction has been rolled back")
	ErrPaymentSettled         = NewAppError(AlreadyFinalized, "payment already settled, cannot cancel")
	ErrTransactionNotFound    = NewAppError(NotFound, "transaction not found")
	ErrIntentNotFound         = NewAppError(NotFound, "intent not found")
	ErrMultipleIntents        = NewAppError(AmbiguousState, "MORE_THAN_ONE_INTENT_EXISTS")
	ErrIntentExpired          = NewAppError(IntentExpired, "topup intent expired")
	ErrIncorrectPaymentMethod = NewAppError(ValidationFailure, "incorrect payment method")
	ErrMinorDenomination      = NewAppError(ValidationFailure, "minor denomination is not allowed")
	ErrBadTransaction         = NewAppError(BadTransaction, "unknown error/bad transaction")
	ErrInvalidCredentials     = NewAppError(InvalidCredentials, "invalid data")
	ErrCannotBeginTransaction = NewAppError(CannotBeginTransact, "cannot begin transaction on a transactional store")
)
