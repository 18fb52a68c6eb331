package store

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"marketpipe/internal/domain"
)

// tradeEntry keys trades by (timestamp, sequence) so that late arrivals land
// at their logical position and duplicate timestamps stay distinct.
type tradeEntry struct {
	ts    int64
	seq   uint64
	trade domain.NormalizedTrade
}

type bookEntry struct {
	ts   int64
	seq  uint64
	book domain.NormalizedOrderBook
}

func tradeLess(a, b tradeEntry) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.seq < b.seq
}

func bookLess(a, b bookEntry) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.seq < b.seq
}

// shard is the per-symbol slice of the store. One writer (the symbol's
// pipeline goroutine), many readers.
type shard struct {
	mu     sync.RWMutex
	trades *btree.BTreeG[tradeEntry]
	books  *btree.BTreeG[bookEntry]

	totalTrades int64
	totalBooks  int64
}

// TimeSeriesStore is the bounded in-memory history of recent trades and
// order-book snapshots, indexed by timestamp. Entries are retrievable in
// timestamp order regardless of insertion order. Eviction is
// oldest-timestamp-first, driven by capacity and TTL; the TTL cutoff is
// measured against the newest timestamp seen for the symbol, which keeps
// eviction deterministic under replay.
type TimeSeriesStore struct {
	mu     sync.RWMutex
	shards map[string]*shard

	maxTrades int
	maxBooks  int
	ttl       time.Duration
}

// New creates a store with the given per-symbol bounds.
func New(maxTrades, maxBooks int, ttl time.Duration) *TimeSeriesStore {
	return &TimeSeriesStore{
		shards:    make(map[string]*shard),
		maxTrades: maxTrades,
		maxBooks:  maxBooks,
		ttl:       ttl,
	}
}

func (s *TimeSeriesStore) shardFor(symbol string) *shard {
	s.mu.RLock()
	sh, ok := s.shards[symbol]
	s.mu.RUnlock()
	if ok {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[symbol]; ok {
		return sh
	}
	sh = &shard{
		trades: btree.NewBTreeG(tradeLess),
		books:  btree.NewBTreeG(bookLess),
	}
	s.shards[symbol] = sh
	return sh
}

// AppendTrade inserts a normalized trade at its logical timestamp position.
// An insert older than the current eviction floor is discarded: it would be
// evicted immediately anyway.
func (s *TimeSeriesStore) AppendTrade(t *domain.NormalizedTrade) {
	sh := s.shardFor(t.Symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if max, ok := sh.trades.Max(); ok && t.Timestamp < max.ts-s.ttl.Milliseconds() {
		return
	}

	sh.trades.Set(tradeEntry{ts: t.Timestamp, seq: t.Sequence, trade: *t})
	sh.totalTrades++

	s.evictTrades(sh)
}

// AppendOrderBook inserts a normalized order-book snapshot.
func (s *TimeSeriesStore) AppendOrderBook(ob *domain.NormalizedOrderBook) {
	sh := s.shardFor(ob.Symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if max, ok := sh.books.Max(); ok && ob.Timestamp < max.ts-s.ttl.Milliseconds() {
		return
	}

	sh.books.Set(bookEntry{ts: ob.Timestamp, seq: ob.Sequence, book: *ob})
	sh.totalBooks++

	s.evictBooks(sh)
}

// evictTrades enforces capacity and TTL, oldest timestamp first.
// Caller holds the shard write lock.
func (s *TimeSeriesStore) evictTrades(sh *shard) {
	for sh.trades.Len() > s.maxTrades {
		if min, ok := sh.trades.Min(); ok {
			sh.trades.Delete(min)
		}
	}
	max, ok := sh.trades.Max()
	if !ok {
		return
	}
	cutoff := max.ts - s.ttl.Milliseconds()
	for {
		min, ok := sh.trades.Min()
		if !ok || min.ts >= cutoff {
			return
		}
		sh.trades.Delete(min)
	}
}

func (s *TimeSeriesStore) evictBooks(sh *shard) {
	for sh.books.Len() > s.maxBooks {
		if min, ok := sh.books.Min(); ok {
			sh.books.Delete(min)
		}
	}
	max, ok := sh.books.Max()
	if !ok {
		return
	}
	cutoff := max.ts - s.ttl.Milliseconds()
	for {
		min, ok := sh.books.Min()
		if !ok || min.ts >= cutoff {
			return
		}
		sh.books.Delete(min)
	}
}

// TradesRange returns trades with from <= timestamp <= to in timestamp order.
func (s *TimeSeriesStore) TradesRange(symbol string, from, to int64) []domain.NormalizedTrade {
	sh := s.shardFor(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var out []domain.NormalizedTrade
	sh.trades.Ascend(tradeEntry{ts: from}, func(e tradeEntry) bool {
		if e.ts > to {
			return false
		}
		out = append(out, e.trade)
		return true
	})
	return out
}

// TradesSince returns trades with timestamp >= since in timestamp order.
func (s *TimeSeriesStore) TradesSince(symbol string, since int64) []domain.NormalizedTrade {
	sh := s.shardFor(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var out []domain.NormalizedTrade
	sh.trades.Ascend(tradeEntry{ts: since}, func(e tradeEntry) bool {
		out = append(out, e.trade)
		return true
	})
	return out
}

// LatestTrade returns the trade with the newest timestamp, O(1) off the tree max.
func (s *TimeSeriesStore) LatestTrade(symbol string) (domain.NormalizedTrade, bool) {
	sh := s.shardFor(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	max, ok := sh.trades.Max()
	if !ok {
		return domain.NormalizedTrade{}, false
	}
	return max.trade, true
}

// LatestOrderBook returns the newest order-book snapshot.
func (s *TimeSeriesStore) LatestOrderBook(symbol string) (domain.NormalizedOrderBook, bool) {
	sh := s.shardFor(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	max, ok := sh.books.Max()
	if !ok {
		return domain.NormalizedOrderBook{}, false
	}
	return max.book, true
}

// VolumeInWindow sums trade quantity over [ref-window, ref].
func (s *TimeSeriesStore) VolumeInWindow(symbol string, ref int64, window time.Duration) decimal.Decimal {
	total := decimal.Zero
	for _, t := range s.TradesRange(symbol, ref-window.Milliseconds(), ref) {
		total = total.Add(t.Quantity)
	}
	return total
}

// VWAPInWindow computes Σ(price·qty)/Σ(qty) over [ref-window, ref].
// The second return is false when the window holds no volume.
func (s *TimeSeriesStore) VWAPInWindow(symbol string, ref int64, window time.Duration) (decimal.Decimal, bool) {
	trades := s.TradesRange(symbol, ref-window.Milliseconds(), ref)
	if len(trades) == 0 {
		return decimal.Zero, false
	}

	totalPQ := decimal.Zero
	totalQty := decimal.Zero
	for _, t := range trades {
		totalPQ = totalPQ.Add(t.Price.Mul(t.Quantity))
		totalQty = totalQty.Add(t.Quantity)
	}
	if totalQty.IsZero() {
		return decimal.Zero, false
	}
	return totalPQ.Div(totalQty), true
}

// LargeTradesInWindow counts large trades over [ref-window, ref].
func (s *TimeSeriesStore) LargeTradesInWindow(symbol string, ref int64, window time.Duration) int {
	count := 0
	for _, t := range s.TradesRange(symbol, ref-window.Milliseconds(), ref) {
		if t.IsLargeTrade {
			count++
		}
	}
	return count
}

// Stats describes the in-memory footprint of one symbol's shard.
type Stats struct {
	Symbol         string `json:"symbol"`
	TradesInMemory int    `json:"trades_in_memory"`
	BooksInMemory  int    `json:"books_in_memory"`
	TotalTrades    int64  `json:"total_trades_stored"`
	TotalBooks     int64  `json:"total_orderbooks_stored"`
}

// GetStats returns the footprint of one symbol's shard.
func (s *TimeSeriesStore) GetStats(symbol string) Stats {
	sh := s.shardFor(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	return Stats{
		Symbol:         symbol,
		TradesInMemory: sh.trades.Len(),
		BooksInMemory:  sh.books.Len(),
		TotalTrades:    sh.totalTrades,
		TotalBooks:     sh.totalBooks,
	}
}
