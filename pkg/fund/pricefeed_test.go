package fund

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedPriceSource(t *testing.T) {
	clk := newTestClock()
	feed := NewFeedPriceSource()
	feed.clock = clk.Now

	t.Run("unknown pair", func(t *testing.T) {
		_, err := feed.Quote("WETH", "USDC")
		require.Error(t, err)
	})

	t.Run("identity pair is always one", func(t *testing.T) {
		q, err := feed.Quote("USDC", "USDC")
		require.NoError(t, err)
		assert.True(t, q.Rate.Equal(decimal.NewFromInt(1)))
	})

	t.Run("set and read", func(t *testing.T) {
		feed.SetRate("WETH", "USDC", decimal.NewFromInt(2000))
		q, err := feed.Quote("WETH", "USDC")
		require.NoError(t, err)
		assert.True(t, q.Rate.Equal(decimal.NewFromInt(2000)))
		assert.Equal(t, clk.Now(), q.UpdatedAt)
		assert.Equal(t, clk.Now(), feed.LastUpdate())
	})

	t.Run("pairs are directional", func(t *testing.T) {
		_, err := feed.Quote("USDC", "WETH")
		require.Error(t, err)
	})

	t.Run("updates advance last update", func(t *testing.T) {
		before := feed.LastUpdate()
		clk.Advance(time.Minute)
		feed.SetRate("WETH", "USDC", decimal.NewFromInt(2100))
		assert.True(t, feed.LastUpdate().After(before))
	})
}
