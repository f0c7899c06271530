package errutil

import "net/http"

// CoreStatus is the stable machine-readable code carried by every BaseError.
type CoreStatus string

const (
	StatusBadRequest       CoreStatus = "BAD_REQUEST"
	StatusValidationFailed CoreStatus = "VALIDATION_FAILED"
	StatusNotFound         CoreStatus = "NOT_FOUND"
	StatusConflict         CoreStatus = "CONFLICT"
	StatusTimeout          CoreStatus = "TIMEOUT"
	StatusInternal         CoreStatus = "INTERNAL"
	StatusUnknown          CoreStatus = "UNKNOWN"

	// Ledger business rules. These are expected outcomes surfaced to callers
	// verbatim and never retried.
	StatusInsufficientBalance    CoreStatus = "INSUFFICIENT_BALANCE"
	StatusPoolExhausted          CoreStatus = "POOL_EXHAUSTED"
	StatusBudgetExceeded         CoreStatus = "BUDGET_EXCEEDED"
	StatusInvalidStateTransition CoreStatus = "INVALID_STATE_TRANSITION"
	StatusAlreadyAwarded         CoreStatus = "ALREADY_AWARDED"
	StatusOutOfStock             CoreStatus = "OUT_OF_STOCK"

	// StatusConcurrencyConflict is transient: the operation lost a race and may
	// be retried by the caller.
	StatusConcurrencyConflict CoreStatus = "CONCURRENCY_CONFLICT"
)

// HTTPCode maps the CoreStatus to its closest HTTP status code equivalent.
func (s CoreStatus) HTTPCode() int {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusNotFound:
		return http.StatusNotFound
	case StatusConflict, StatusConcurrencyConflict, StatusAlreadyAwarded, StatusInvalidStateTransition:
		return http.StatusConflict
	case StatusInsufficientBalance, StatusPoolExhausted, StatusBudgetExceeded, StatusOutOfStock:
		return http.StatusUnprocessableEntity
	case StatusTimeout:
		return http.StatusGatewayTimeout
	case StatusInternal, StatusUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
