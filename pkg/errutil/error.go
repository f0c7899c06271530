package errutil

import (
	"errors"
	"fmt"
)

type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details,omitempty"`
	Err     error      `json:"-"`
}

func (e BaseError) Status() CoreStatus {
	return e.Code
}

func (e BaseError) JSON() interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.messageWithErr(),
			"details": e.Details,
		},
	}
}

func (e BaseError) Unwrap() error {
	return e.Err
}

func (e BaseError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.messageWithErr())
}

func (e BaseError) messageWithErr() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

type Option func(*BaseError)

func WithDetails(details ...Detail) Option {
	return func(be *BaseError) { be.Details = details }
}

func WithErr(err error) Option {
	return func(be *BaseError) { be.Err = err }
}

func New(code CoreStatus, message string, opts ...Option) error {
	be := BaseError{Code: code, Message: message}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

// HasStatus reports whether err carries the given CoreStatus.
func HasStatus(err error, status CoreStatus) bool {
	var be BaseError
	if errors.As(err, &be) {
		return be.Code == status
	}
	return false
}

// StatusOf extracts the CoreStatus from err, or StatusUnknown when err does not
// wrap a BaseError.
func StatusOf(err error) CoreStatus {
	var be BaseError
	if errors.As(err, &be) {
		return be.Code
	}
	return StatusUnknown
}

func BadRequest(msg string, opts ...Option) error {
	return New(StatusBadRequest, msg, opts...)
}

func ValidationFailed(msg string, opts ...Option) error {
	return New(StatusValidationFailed, msg, opts...)
}

func NotFound(msg string, opts ...Option) error {
	return New(StatusNotFound, msg, opts...)
}

func Conflict(msg string, opts ...Option) error {
	return New(StatusConflict, msg, opts...)
}

func Timeout(msg string, opts ...Option) error {
	return New(StatusTimeout, msg, opts...)
}

func Internal(msg string, opts ...Option) error {
	return New(StatusInternal, msg, opts...)
}

func InsufficientBalance(msg string, opts ...Option) error {
	return New(StatusInsufficientBalance, msg, opts...)
}

func PoolExhausted(msg string, opts ...Option) error {
	return New(StatusPoolExhausted, msg, opts...)
}

func BudgetExceeded(msg string, opts ...Option) error {
	return New(StatusBudgetExceeded, msg, opts...)
}

func InvalidStateTransition(msg string, opts ...Option) error {
	return New(StatusInvalidStateTransition, msg, opts...)
}

func AlreadyAwarded(msg string, opts ...Option) error {
	return New(StatusAlreadyAwarded, msg, opts...)
}

func OutOfStock(msg string, opts ...Option) error {
	return New(StatusOutOfStock, msg, opts...)
}

func ConcurrencyConflict(msg string, opts ...Option) error {
	return New(StatusConcurrencyConflict, msg, opts...)
}
