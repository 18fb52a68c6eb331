package recon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"marketpipe/internal/domain"
)

// limitedSource wraps the pull source with a bounded concurrent-call
// semaphore and a per-call timeout. The periodic audit and ad hoc
// verification calls share one instance, so their combined rate respects
// the external API's limits while neither path blocks the other beyond the
// semaphore bound.
type limitedSource struct {
	src     domain.PriceSource
	sem     chan struct{}
	timeout time.Duration
}

func newLimitedSource(src domain.PriceSource, maxConcurrent int, timeout time.Duration) *limitedSource {
	return &limitedSource{
		src:     src,
		sem:     make(chan struct{}, maxConcurrent),
		timeout: timeout,
	}
}

// FetchPrice acquires a slot, bounds the call with the configured timeout
// and fetches. Context cancellation while waiting for a slot counts as a
// fetch failure, which the callers treat fail-closed.
func (l *limitedSource) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return decimal.Zero, domain.NewPullSourceError("fetch_price", symbol, ctx.Err())
	}
	defer func() { <-l.sem }()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	price, err := l.src.FetchPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, domain.NewPullSourceError("fetch_price", symbol, err)
	}
	return price, nil
}
