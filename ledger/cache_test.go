package ledger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLedger struct {
	*Memory
	feeCalls  atomic.Int32
	rateCalls atomic.Int32
}

func (c *countingLedger) NetworkFee(ctx context.Context, network, token string) (FeeQuote, error) {
	c.feeCalls.Add(1)
	return c.Memory.NetworkFee(ctx, network, token)
}

func (c *countingLedger) MarketRate(ctx context.Context, sell, buy string) (decimal.Decimal, error) {
	c.rateCalls.Add(1)
	return c.Memory.MarketRate(ctx, sell, buy)
}

func TestQuoteCacheServesRepeatedLookups(t *testing.T) {
	live := &countingLedger{Memory: NewMemory()}
	live.SetNetworkFee("CELL", FeeQuote{Fee: d("0.003")})
	live.SetMarketRate("CELL", "USDT", d("1.5"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qc, err := NewQuoteCache(ctx, live, time.Minute, nil)
	require.NoError(t, err)
	defer qc.Close()

	for i := 0; i < 3; i++ {
		q, err := qc.NetworkFee(ctx, "Backbone", "CELL")
		require.NoError(t, err)
		assert.True(t, q.Fee.Equal(d("0.003")))

		r, err := qc.MarketRate(ctx, "CELL", "USDT")
		require.NoError(t, err)
		assert.True(t, r.Equal(d("1.5")))
	}
	assert.Equal(t, int32(1), live.feeCalls.Load())
	assert.Equal(t, int32(1), live.rateCalls.Load())
}

func TestQuoteCacheDoesNotCacheErrors(t *testing.T) {
	live := &countingLedger{Memory: NewMemory()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qc, err := NewQuoteCache(ctx, live, time.Minute, nil)
	require.NoError(t, err)
	defer qc.Close()

	_, err = qc.NetworkFee(ctx, "Backbone", "KEL")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = qc.NetworkFee(ctx, "Backbone", "KEL")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), live.feeCalls.Load())
}
