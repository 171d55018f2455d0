package fund

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdatePolicySettings(t *testing.T) {
	env := newTestEnv(t)
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice"})

	pols := []Policy{&InvestorAllowList{Allowed: map[string]bool{"bob": true}}}

	t.Run("manager only", func(t *testing.T) {
		err := h.Policies().UpdatePolicySettings("mallory", SelectorRequestShares, HookPre, pols)
		assert.ErrorIs(t, err, ErrNotManager)
		assert.Empty(t, h.Policies().PoliciesFor(SelectorRequestShares, HookPre))
	})

	t.Run("replaces the set", func(t *testing.T) {
		require.NoError(t, h.Policies().UpdatePolicySettings("alice", SelectorRequestShares, HookPre, pols))
		assert.Len(t, h.Policies().PoliciesFor(SelectorRequestShares, HookPre), 1)

		require.NoError(t, h.Policies().UpdatePolicySettings("alice", SelectorRequestShares, HookPre, nil))
		assert.Empty(t, h.Policies().PoliciesFor(SelectorRequestShares, HookPre))
	})

	t.Run("hooks are independent", func(t *testing.T) {
		require.NoError(t, h.Policies().UpdatePolicySettings("alice", SelectorTakeOrder, HookPost, pols))
		assert.Len(t, h.Policies().PoliciesFor(SelectorTakeOrder, HookPost), 1)
		assert.Empty(t, h.Policies().PoliciesFor(SelectorTakeOrder, HookPre))
	})
}

func TestAdapterAllowList(t *testing.T) {
	p := &AdapterAllowList{Allowed: map[string]bool{"otc-desk": true}}
	assert.True(t, p.Validate(&PolicyContext{Adapter: "otc-desk"}))
	assert.False(t, p.Validate(&PolicyContext{Adapter: "other"}))
}

func TestAssetAllowList(t *testing.T) {
	p := &AssetAllowList{Allowed: map[string]bool{"WETH": true, "WBTC": true}}
	assert.True(t, p.Validate(&PolicyContext{Incoming: []string{"WETH"}}))
	assert.True(t, p.Validate(&PolicyContext{Incoming: []string{"WETH", "WBTC"}}))
	assert.False(t, p.Validate(&PolicyContext{Incoming: []string{"WETH", "DOGE"}}))
	assert.True(t, p.Validate(&PolicyContext{}))
}

func TestMaxTradeSpend(t *testing.T) {
	p := &MaxTradeSpend{Max: big.NewInt(1000)}
	assert.True(t, p.Validate(&PolicyContext{Outgoing: []AssetAmount{{Asset: "USDC", Amount: big.NewInt(1000)}}}))
	assert.False(t, p.Validate(&PolicyContext{Outgoing: []AssetAmount{{Asset: "USDC", Amount: big.NewInt(1001)}}}))
}

func TestInvestorAllowList(t *testing.T) {
	p := &InvestorAllowList{Allowed: map[string]bool{"bob": true}}
	assert.True(t, p.Validate(&PolicyContext{Caller: "bob"}))
	assert.False(t, p.Validate(&PolicyContext{Caller: "mallory"}))
}

func TestRunPoliciesNamesFailingPolicy(t *testing.T) {
	err := runPolicies([]Policy{
		&AdapterAllowList{Allowed: map[string]bool{"ok": true}},
	}, &PolicyContext{Adapter: "bad"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPolicyRejected)
	assert.Contains(t, err.Error(), "adapter-allowlist")
}
