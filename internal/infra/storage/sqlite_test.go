package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketpipe/internal/domain"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorage_LargeTrades(t *testing.T) {
	s := setupTestDB(t)

	nt := &domain.NormalizedTrade{
		ID:         42,
		Symbol:     "BTCUSDT",
		Price:      decimal.NewFromInt(62000),
		Quantity:   decimal.NewFromFloat(0.5),
		Side:       domain.SideBuy,
		Timestamp:  1700000000123,
		AmountUSDT: decimal.NewFromInt(31000),
	}
	require.NoError(t, s.SaveLargeTrade(nt))

	rows, err := s.LargeTradesSince("BTCUSDT", 1700000000000)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(42), rows[0].TradeID)
	require.Equal(t, "62000", rows[0].Price)
	require.Equal(t, "31000", rows[0].AmountUSDT)

	rows, err = s.LargeTradesSince("BTCUSDT", 1700000001000)
	require.NoError(t, err)
	require.Empty(t, rows, "since bound excludes older rows")

	rows, err = s.LargeTradesSince("ETHUSDT", 0)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestStorage_AuditChecks(t *testing.T) {
	s := setupTestDB(t)

	rec := &domain.ReconciliationRecord{
		Symbol:              "BTCUSDT",
		TotalChecks:         10,
		MismatchCount:       1,
		ConsecutiveMismatch: 1,
		LastPushPrice:       decimal.NewFromInt(62015),
		LastPullPrice:       decimal.NewFromInt(62000),
		LastDiff:            decimal.RequireFromString("0.000242"),
		LastCheckedAt:       1700000000500,
	}
	require.NoError(t, s.SaveAuditCheck(rec))

	rows, err := s.AuditEntriesSince("BTCUSDT", 1700000000000)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "62015", rows[0].PushPrice)
	require.Equal(t, "62000", rows[0].PullPrice)
	require.True(t, rows[0].Mismatch)
	require.Equal(t, int64(10), rows[0].TotalChecks)
}

func TestStorage_Cleanup(t *testing.T) {
	s := setupTestDB(t)

	oldTS := time.Now().Add(-100 * time.Hour).UnixMilli()
	newTS := time.Now().UnixMilli()

	for _, ts := range []int64{oldTS, newTS} {
		require.NoError(t, s.SaveLargeTrade(&domain.NormalizedTrade{
			Symbol: "BTCUSDT", Price: decimal.NewFromInt(62000),
			Quantity: decimal.NewFromInt(1), AmountUSDT: decimal.NewFromInt(62000),
			Side: domain.SideBuy, Timestamp: ts,
		}))
		require.NoError(t, s.SaveAuditCheck(&domain.ReconciliationRecord{
			Symbol: "BTCUSDT", TotalChecks: 1,
			LastPushPrice: decimal.NewFromInt(62000), LastPullPrice: decimal.NewFromInt(62000),
			LastDiff: decimal.Zero, LastCheckedAt: ts,
		}))
	}

	require.NoError(t, s.Cleanup(72*time.Hour))

	trades, err := s.LargeTradesSince("BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, trades, 1, "only the fresh trade survives retention")

	audits, err := s.AuditEntriesSince("BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, audits, 1)
}

func TestStorage_DefaultPath(t *testing.T) {
	// Path handling only; use an explicit temp path to avoid workspace writes.
	s, err := NewStorage(filepath.Join(t.TempDir(), "nested", "dir", "db.sqlite"))
	require.NoError(t, err, "missing parent directories are created")
	require.NoError(t, s.Close())
}
