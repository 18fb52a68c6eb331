package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestReconciliationRecord_MismatchRate(t *testing.T) {
	r := &ReconciliationRecord{}
	require.True(t, r.MismatchRate().IsZero(), "no checks yet means rate 0, not NaN")

	r.TotalChecks = 100
	r.MismatchCount = 6
	require.True(t, r.MismatchRate().Equal(decimal.NewFromFloat(0.06)))
}

func TestIsRetriable(t *testing.T) {
	pullErr := NewPullSourceError("fetch_price", "BTCUSDT", errors.New("timeout"))
	require.True(t, IsRetriable(pullErr))
	require.True(t, IsRetriable(errors.Join(errors.New("wrapped"), pullErr)))

	cfgErr := &ConfigError{Field: "ws_url", Err: errors.New("missing")}
	require.False(t, IsRetriable(cfgErr))
	require.False(t, IsRetriable(errors.New("plain")))

	require.ErrorIs(t, errors.Join(pullErr), pullErr)
	require.Contains(t, pullErr.Error(), "BTCUSDT")
}
