package fund

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOTCAdapterParseFill(t *testing.T) {
	otc := NewOTCAdapter("otc-desk", "otc-inventory")

	t.Run("valid order", func(t *testing.T) {
		args, _ := json.Marshal(otcOrderArgs{
			SpendAsset:   "USDC",
			SpendAmount:  "4000",
			ReceiveAsset: "WETH",
			MinReceive:   "2",
		})
		fill, err := otc.ParseFill(SelectorTakeOrder, args)
		require.NoError(t, err)
		assert.Equal(t, []string{"WETH"}, fill.IncomingAssets)
		assert.Equal(t, []string{"USDC"}, fill.OutgoingAssets)
		assert.Equal(t, "4000", fill.MaxOutgoing[0].String())
		assert.Equal(t, "2", fill.MinIncoming[0].String())
		assert.Equal(t, []string{"otc-desk"}, fill.Targets)
		require.NoError(t, fill.validate())
	})

	t.Run("unsupported selector", func(t *testing.T) {
		_, err := otc.ParseFill("settle", []byte("{}"))
		require.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := otc.ParseFill(SelectorTakeOrder, []byte("{"))
		require.Error(t, err)
	})

	t.Run("empty assets", func(t *testing.T) {
		args, _ := json.Marshal(otcOrderArgs{SpendAmount: "1", MinReceive: "1"})
		_, err := otc.ParseFill(SelectorTakeOrder, args)
		require.Error(t, err)
	})

	t.Run("non-integer amount", func(t *testing.T) {
		args, _ := json.Marshal(otcOrderArgs{
			SpendAsset: "USDC", SpendAmount: "4000.5", ReceiveAsset: "WETH", MinReceive: "2",
		})
		_, err := otc.ParseFill(SelectorTakeOrder, args)
		require.Error(t, err)
	})

	t.Run("negative amount", func(t *testing.T) {
		args, _ := json.Marshal(otcOrderArgs{
			SpendAsset: "USDC", SpendAmount: "-1", ReceiveAsset: "WETH", MinReceive: "0",
		})
		_, err := otc.ParseFill(SelectorTakeOrder, args)
		require.Error(t, err)
	})
}

func TestOTCAdapterParseIncomingAssets(t *testing.T) {
	otc := NewOTCAdapter("otc-desk", "otc-inventory")
	args, _ := json.Marshal(otcOrderArgs{
		SpendAsset: "USDC", SpendAmount: "100", ReceiveAsset: "WETH", MinReceive: "0",
	})
	assets, err := otc.ParseIncomingAssets(SelectorTakeOrder, args)
	require.NoError(t, err)
	assert.Equal(t, []string{"WETH"}, assets)
}

func TestOTCAdapterTakeOrderNoQuote(t *testing.T) {
	otc := NewOTCAdapter("otc-desk", "otc-inventory")
	ledger := NewMemoryLedger()
	args, _ := json.Marshal(otcOrderArgs{
		SpendAsset: "USDC", SpendAmount: "100", ReceiveAsset: "WETH", MinReceive: "0",
	})
	_, err := otc.TakeOrder(SelectorTakeOrder, args, "vault:f1", ledger)
	require.Error(t, err)
}

func TestOrderFillValidate(t *testing.T) {
	t.Run("misaligned legs", func(t *testing.T) {
		fill := &OrderFill{
			IncomingAssets: []string{"WETH"},
			MinIncoming:    nil,
		}
		require.Error(t, fill.validate())

		fill = &OrderFill{
			OutgoingAssets: []string{"USDC"},
			MaxOutgoing:    []*big.Int{big.NewInt(1)},
		}
		require.Error(t, fill.validate())
	})

	t.Run("zero spend rejected", func(t *testing.T) {
		fill := &OrderFill{
			OutgoingAssets: []string{"USDC"},
			MaxOutgoing:    []*big.Int{big.NewInt(0)},
			Targets:        []string{"desk"},
		}
		require.Error(t, fill.validate())
	})

	t.Run("zero minimum incoming allowed", func(t *testing.T) {
		fill := &OrderFill{
			IncomingAssets: []string{"WETH"},
			MinIncoming:    []*big.Int{big.NewInt(0)},
			OutgoingAssets: []string{"USDC"},
			MaxOutgoing:    []*big.Int{big.NewInt(1)},
			Targets:        []string{"desk"},
		}
		require.NoError(t, fill.validate())
	})
}

func TestOrderFillAssetsDeduplicates(t *testing.T) {
	fill := &OrderFill{
		IncomingAssets: []string{"WETH", "USDC"},
		OutgoingAssets: []string{"USDC"},
	}
	assert.Equal(t, []string{"WETH", "USDC"}, fill.assets())
}

func TestValueAtRate(t *testing.T) {
	cases := []struct {
		balance int64
		rate    string
		want    string
	}{
		{4000, "0.0005", "2"},
		{3, "1500.5", "4501"},
		{1000, "2", "2000"},
		{1, "0.4", "0"},
		{7, "1e3", "7000"},
	}
	for _, tc := range cases {
		got := valueAtRate(big.NewInt(tc.balance), decimal.RequireFromString(tc.rate))
		assert.Equal(t, tc.want, got.String(), "%d at %s", tc.balance, tc.rate)
	}
}
