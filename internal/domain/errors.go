package domain

import "errors"

// ValidationErrorType classifies why an event failed (or was flagged by)
// validation. Malformed and duplicate events are dropped; out-of-order
// events are forwarded with a tag.
type ValidationErrorType string

const (
	ErrTypeMalformed      ValidationErrorType = "MALFORMED_EVENT"
	ErrTypeDuplicate      ValidationErrorType = "DUPLICATE_EVENT"
	ErrTypeOutOfOrder     ValidationErrorType = "OUT_OF_ORDER_EVENT"
	ErrTypeEmptyOrderBook ValidationErrorType = "EMPTY_ORDERBOOK"
	ErrTypeInvalidSymbol  ValidationErrorType = "INVALID_SYMBOL"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// PullSourceError represents a failure talking to the pull-based
// authoritative source. Timeouts and transport errors are retriable on the
// next audit tick; the verification path treats every variant as fail-closed.
type PullSourceError struct {
	Op        string // "fetch_price", "fetch_orderbook"
	Symbol    string
	Err       error
	Retriable bool
}

func (e *PullSourceError) Error() string {
	return "pull source " + e.Op + " [" + e.Symbol + "]: " + e.Err.Error()
}

func (e *PullSourceError) IsRetriable() bool {
	return e.Retriable
}

func (e *PullSourceError) Unwrap() error {
	return e.Err
}

// NewPullSourceError creates a retriable pull-source error
func NewPullSourceError(op, symbol string, err error) *PullSourceError {
	return &PullSourceError{Op: op, Symbol: symbol, Err: err, Retriable: true}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrVerificationRejected is returned when a pre-action price check
	// fails the reject threshold. The caller must not act.
	ErrVerificationRejected = errors.New("price verification rejected")

	// ErrPullSourceUnavailable is returned when the pull source could not be
	// reached at all. Treated identically to a rejected verification.
	ErrPullSourceUnavailable = errors.New("pull source unavailable")

	// ErrUnknownSymbol is returned when a symbol is not tracked by the core.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
