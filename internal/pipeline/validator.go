package pipeline

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"marketpipe/internal/domain"
	"marketpipe/internal/infra"
)

// ValidationResult reports the outcome of validating one event.
// OK=false means the event must be dropped. OutOfOrder is a tag, not a
// failure: tagged events are still forwarded.
type ValidationResult struct {
	OK         bool
	OutOfOrder bool
	Reason     domain.ValidationErrorType
	Message    string
}

// Validator rejects malformed and duplicate events and tags timestamp
// regressions. Checks run in order and short-circuit on the first failure.
// No blocking I/O on this path.
type Validator struct {
	mu sync.Mutex

	expectedSymbols map[string]bool

	// Duplicate detection: bounded FIFO of recently seen identities.
	seen      map[string]struct{}
	seenOrder []string
	seenMax   int

	// Per-symbol latest accepted timestamp.
	lastTradeTS map[string]int64
	lastBookTS  map[string]int64
	toleranceMS int64

	totalValidated int64
	totalErrors    int64
	errorCounts    map[domain.ValidationErrorType]int64
}

// NewValidator creates a validator. duplicateWindow bounds the identity set;
// toleranceMS is how far a timestamp may regress before being tagged
// out-of-order.
func NewValidator(symbols []string, duplicateWindow int, toleranceMS int64) *Validator {
	expected := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		expected[s] = true
	}
	return &Validator{
		expectedSymbols: expected,
		seen:            make(map[string]struct{}, duplicateWindow),
		seenOrder:       make([]string, 0, duplicateWindow),
		seenMax:         duplicateWindow,
		lastTradeTS:     make(map[string]int64),
		lastBookTS:      make(map[string]int64),
		toleranceMS:     toleranceMS,
		errorCounts:     make(map[domain.ValidationErrorType]int64),
	}
}

// Validate dispatches on the event tag.
func (v *Validator) Validate(ev domain.Event) ValidationResult {
	switch e := ev.(type) {
	case *domain.Trade:
		return v.ValidateTrade(e)
	case *domain.OrderBookUpdate:
		return v.ValidateOrderBook(e)
	default:
		v.mu.Lock()
		defer v.mu.Unlock()
		v.totalValidated++
		return v.fail(domain.ErrTypeMalformed, fmt.Sprintf("unknown event kind: %T", ev))
	}
}

// ValidateTrade checks a trade event: shape, bounds, duplicate identity,
// timestamp ordering. Passing events update the identity window and the
// latest accepted timestamp.
func (v *Validator) ValidateTrade(t *domain.Trade) ValidationResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalValidated++

	if t.Symbol == "" || t.Timestamp <= 0 {
		return v.fail(domain.ErrTypeMalformed, fmt.Sprintf("missing symbol or timestamp: %+v", t))
	}
	if t.Price.LessThanOrEqual(decimal.Zero) {
		return v.fail(domain.ErrTypeMalformed, fmt.Sprintf("non-positive price: %s", t.Price))
	}
	if t.Quantity.IsNegative() {
		return v.fail(domain.ErrTypeMalformed, fmt.Sprintf("negative quantity: %s", t.Quantity))
	}
	if len(v.expectedSymbols) > 0 && !v.expectedSymbols[t.Symbol] {
		return v.fail(domain.ErrTypeInvalidSymbol, fmt.Sprintf("unexpected symbol: %s", t.Symbol))
	}

	identity := fmt.Sprintf("%s/t/%d", t.Symbol, t.ID)
	if _, dup := v.seen[identity]; dup {
		return v.fail(domain.ErrTypeDuplicate, fmt.Sprintf("duplicate trade id: %d", t.ID))
	}

	outOfOrder := false
	if last := v.lastTradeTS[t.Symbol]; t.Timestamp < last-v.toleranceMS {
		outOfOrder = true
		v.errorCounts[domain.ErrTypeOutOfOrder]++
		infra.GlobalMetrics.RecordOutOfOrder()
	}

	v.remember(identity)
	if t.Timestamp > v.lastTradeTS[t.Symbol] {
		v.lastTradeTS[t.Symbol] = t.Timestamp
	}
	infra.GlobalMetrics.RecordValidated()

	return ValidationResult{OK: true, OutOfOrder: outOfOrder}
}

// ValidateOrderBook checks a depth event. The top levels of each side are
// validated the same way trade prices are.
func (v *Validator) ValidateOrderBook(ob *domain.OrderBookUpdate) ValidationResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalValidated++

	if ob.Symbol == "" || ob.Timestamp <= 0 {
		return v.fail(domain.ErrTypeMalformed, fmt.Sprintf("missing symbol or timestamp: %+v", ob))
	}
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return v.fail(domain.ErrTypeEmptyOrderBook, "bids or asks is empty")
	}
	if len(v.expectedSymbols) > 0 && !v.expectedSymbols[ob.Symbol] {
		return v.fail(domain.ErrTypeInvalidSymbol, fmt.Sprintf("unexpected symbol: %s", ob.Symbol))
	}
	for _, side := range [][]domain.PriceLevel{ob.Bids, ob.Asks} {
		for _, lvl := range side {
			if lvl.Price.LessThanOrEqual(decimal.Zero) || lvl.Quantity.IsNegative() {
				return v.fail(domain.ErrTypeMalformed,
					fmt.Sprintf("invalid level: price=%s qty=%s", lvl.Price, lvl.Quantity))
			}
		}
	}

	identity := fmt.Sprintf("%s/b/%d", ob.Symbol, ob.Sequence)
	if _, dup := v.seen[identity]; dup {
		return v.fail(domain.ErrTypeDuplicate, fmt.Sprintf("duplicate book sequence: %d", ob.Sequence))
	}

	outOfOrder := false
	if last := v.lastBookTS[ob.Symbol]; ob.Timestamp < last-v.toleranceMS {
		outOfOrder = true
		v.errorCounts[domain.ErrTypeOutOfOrder]++
		infra.GlobalMetrics.RecordOutOfOrder()
	}

	v.remember(identity)
	if ob.Timestamp > v.lastBookTS[ob.Symbol] {
		v.lastBookTS[ob.Symbol] = ob.Timestamp
	}
	infra.GlobalMetrics.RecordValidated()

	return ValidationResult{OK: true, OutOfOrder: outOfOrder}
}

// remember adds an identity to the bounded window, evicting the oldest
// entry once full. Caller holds the lock.
func (v *Validator) remember(identity string) {
	if len(v.seenOrder) >= v.seenMax {
		oldest := v.seenOrder[0]
		v.seenOrder = v.seenOrder[1:]
		delete(v.seen, oldest)
	}
	v.seen[identity] = struct{}{}
	v.seenOrder = append(v.seenOrder, identity)
}

// fail records a dropped event. Caller holds the lock (Validate dispatch
// acquires it in the typed entrypoints).
func (v *Validator) fail(t domain.ValidationErrorType, msg string) ValidationResult {
	v.totalErrors++
	v.errorCounts[t]++
	switch t {
	case domain.ErrTypeDuplicate:
		infra.GlobalMetrics.RecordDuplicate()
	default:
		infra.GlobalMetrics.RecordMalformed()
	}
	return ValidationResult{OK: false, Reason: t, Message: msg}
}

// ValidatorStats is the aggregated validation outcome counters.
type ValidatorStats struct {
	TotalValidated int64                                `json:"total_validated"`
	TotalErrors    int64                                `json:"total_errors"`
	ErrorCounts    map[domain.ValidationErrorType]int64 `json:"error_counts"`
}

// Stats returns a copy of the running counters.
func (v *Validator) Stats() ValidatorStats {
	v.mu.Lock()
	defer v.mu.Unlock()

	counts := make(map[domain.ValidationErrorType]int64, len(v.errorCounts))
	for k, c := range v.errorCounts {
		counts[k] = c
	}
	return ValidatorStats{
		TotalValidated: v.totalValidated,
		TotalErrors:    v.totalErrors,
		ErrorCounts:    counts,
	}
}

// ErrorRate returns total_errors/total_validated, 0 before the first event.
func (v *Validator) ErrorRate() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.totalValidated == 0 {
		return 0
	}
	return float64(v.totalErrors) / float64(v.totalValidated)
}
