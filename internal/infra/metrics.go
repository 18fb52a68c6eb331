package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Pipeline counters
	eventsValidated  atomic.Uint64
	malformedDropped atomic.Uint64
	duplicateDropped atomic.Uint64
	outOfOrderSeen   atomic.Uint64
	tradesProcessed  atomic.Uint64
	booksProcessed   atomic.Uint64
	largeTrades      atomic.Uint64

	// Reconciliation counters
	reconChecks     atomic.Uint64
	reconMismatches atomic.Uint64
	verifyAccepted  atomic.Uint64
	verifyDegraded  atomic.Uint64
	verifyRejected  atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordValidated records one event accepted by the validator.
func (m *Metrics) RecordValidated() { m.eventsValidated.Add(1) }

// RecordMalformed records one malformed event dropped.
func (m *Metrics) RecordMalformed() { m.malformedDropped.Add(1) }

// RecordDuplicate records one duplicate event dropped.
func (m *Metrics) RecordDuplicate() { m.duplicateDropped.Add(1) }

// RecordOutOfOrder records one event forwarded with the out-of-order tag.
func (m *Metrics) RecordOutOfOrder() { m.outOfOrderSeen.Add(1) }

// RecordTrade records a fully processed trade with pipeline latency.
func (m *Metrics) RecordTrade(latencyNs int64) {
	m.tradesProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordOrderBook records a fully processed order-book update with latency.
func (m *Metrics) RecordOrderBook(latencyNs int64) {
	m.booksProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordLargeTrade records a trade above the large-trade threshold.
func (m *Metrics) RecordLargeTrade() { m.largeTrades.Add(1) }

// RecordReconCheck records one periodic audit check and whether it mismatched.
func (m *Metrics) RecordReconCheck(mismatch bool) {
	m.reconChecks.Add(1)
	if mismatch {
		m.reconMismatches.Add(1)
	}
}

// RecordVerification records the outcome of a pre-action verification.
func (m *Metrics) RecordVerification(accepted, degraded bool) {
	switch {
	case !accepted:
		m.verifyRejected.Add(1)
	case degraded:
		m.verifyDegraded.Add(1)
	default:
		m.verifyAccepted.Add(1)
	}
}

// IncrementConnections increments active feed connections by 1.
func (m *Metrics) IncrementConnections() { m.activeConnections.Add(1) }

// DecrementConnections decrements active feed connections by 1.
func (m *Metrics) DecrementConnections() { m.activeConnections.Add(-1) }

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsValidated   uint64
	MalformedDropped  uint64
	DuplicateDropped  uint64
	OutOfOrderSeen    uint64
	TradesProcessed   uint64
	BooksProcessed    uint64
	LargeTrades       uint64
	ReconChecks       uint64
	ReconMismatches   uint64
	VerifyAccepted    uint64
	VerifyDegraded    uint64
	VerifyRejected    uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsValidated:   m.eventsValidated.Load(),
		MalformedDropped:  m.malformedDropped.Load(),
		DuplicateDropped:  m.duplicateDropped.Load(),
		OutOfOrderSeen:    m.outOfOrderSeen.Load(),
		TradesProcessed:   m.tradesProcessed.Load(),
		BooksProcessed:    m.booksProcessed.Load(),
		LargeTrades:       m.largeTrades.Load(),
		ReconChecks:       m.reconChecks.Load(),
		ReconMismatches:   m.reconMismatches.Load(),
		VerifyAccepted:    m.verifyAccepted.Load(),
		VerifyDegraded:    m.verifyDegraded.Load(),
		VerifyRejected:    m.verifyRejected.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsValidated.Store(0)
	m.malformedDropped.Store(0)
	m.duplicateDropped.Store(0)
	m.outOfOrderSeen.Store(0)
	m.tradesProcessed.Store(0)
	m.booksProcessed.Store(0)
	m.largeTrades.Store(0)
	m.reconChecks.Store(0)
	m.reconMismatches.Store(0)
	m.verifyAccepted.Store(0)
	m.verifyDegraded.Store(0)
	m.verifyRejected.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
}
