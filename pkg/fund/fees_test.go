package fund

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagementFeeAccrual(t *testing.T) {
	env := newTestEnv(t)
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice", ManagementFeeBps: 200})
	env.mintShares(t, h, "bob", 1000)

	env.clock.Advance(365 * 24 * time.Hour)

	minted, err := h.Fees().RewardManagementFee()
	require.NoError(t, err)

	// One year at 2%: preDilution = 1000 * 200 / 10000 = 20, corrected to
	// 1000*20/980 = 20 (truncating).
	assert.Equal(t, "20", minted.String())
	assert.Equal(t, "20", h.Shares().BalanceOf("alice").String())
	assert.Equal(t, "1020", h.Shares().TotalSupply().String())
}

func TestManagementFeeLeavesGAVUnchanged(t *testing.T) {
	env := newTestEnv(t)
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice", ManagementFeeBps: 500})
	env.mintShares(t, h, "bob", 100000)

	before, err := h.Shares().CalcGAV()
	require.NoError(t, err)

	env.clock.Advance(90 * 24 * time.Hour)
	minted, err := h.Fees().RewardManagementFee()
	require.NoError(t, err)
	require.True(t, minted.Sign() > 0)

	after, err := h.Shares().CalcGAV()
	require.NoError(t, err)
	assert.Equal(t, before.String(), after.String(), "settlement moves ownership, not assets")
}

func TestManagementFeeIdempotent(t *testing.T) {
	env := newTestEnv(t)
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice", ManagementFeeBps: 200})
	env.mintShares(t, h, "bob", 1000)

	env.clock.Advance(365 * 24 * time.Hour)
	minted, err := h.Fees().RewardManagementFee()
	require.NoError(t, err)
	assert.Equal(t, "20", minted.String())

	// Settling again without time passing mints nothing.
	minted, err = h.Fees().RewardManagementFee()
	require.NoError(t, err)
	assert.Equal(t, "0", minted.String())
	assert.Equal(t, "1020", h.Shares().TotalSupply().String())
}

func TestManagementFeeDilutionTarget(t *testing.T) {
	// With a large supply the truncation error vanishes: the manager ends
	// up owning (almost exactly) the accrued fraction of post-mint supply.
	env := newTestEnv(t)
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice", ManagementFeeBps: 200})
	env.mintShares(t, h, "bob", 1_000_000_000)

	env.clock.Advance(365 * 24 * time.Hour)
	minted, err := h.Fees().RewardManagementFee()
	require.NoError(t, err)

	// pre = 20_000_000; corrected = 1e9 * 2e7 / 98e7 = 20_408_163.
	assert.Equal(t, "20408163", minted.String())

	supply := h.Shares().TotalSupply()
	// minted / supply ~= 2% of the post-mint supply.
	frac := new(big.Int).Mul(minted, big.NewInt(1_000_000))
	frac.Quo(frac, supply)
	assert.Equal(t, "19999", frac.String()) // 1.9999%, one unit under from truncation
}

func TestManagementFeePeriodic(t *testing.T) {
	env := newTestEnv(t)
	period := 30 * 24 * time.Hour
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice", ManagementFeeBps: 1000, FeePeriod: period})
	env.mintShares(t, h, "bob", 1_000_000)

	t.Run("below one period accrues nothing", func(t *testing.T) {
		env.clock.Advance(20 * 24 * time.Hour)
		minted, err := h.Fees().RewardManagementFee()
		require.NoError(t, err)
		assert.Equal(t, "0", minted.String())
	})

	t.Run("charges whole periods only", func(t *testing.T) {
		// 45 days elapsed in total: one full period charged.
		env.clock.Advance(25 * 24 * time.Hour)
		minted, err := h.Fees().RewardManagementFee()
		require.NoError(t, err)

		// pre = 1e6 * 1000 * 2592000 / (31536000 * 10000) = 8219
		// corrected = 1e6 * 8219 / 991781 = 8287
		assert.Equal(t, "8287", minted.String())
	})

	t.Run("remainder carries into the next period", func(t *testing.T) {
		// 15 days were left over; another 15 completes period two.
		env.clock.Advance(15 * 24 * time.Hour)
		minted, err := h.Fees().RewardManagementFee()
		require.NoError(t, err)
		assert.True(t, minted.Sign() > 0)
	})
}

func TestManagementFeeEmptyFund(t *testing.T) {
	env := newTestEnv(t)
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice", ManagementFeeBps: 200})

	env.clock.Advance(365 * 24 * time.Hour)
	minted, err := h.Fees().RewardManagementFee()
	require.NoError(t, err)
	assert.Equal(t, "0", minted.String())

	// The idle year is not charged retroactively against the first investor.
	env.mintShares(t, h, "bob", 1000)
	minted, err = h.Fees().RewardManagementFee()
	require.NoError(t, err)
	assert.Equal(t, "0", minted.String())
}

func TestManagementFeeTruncatedAccrualCarries(t *testing.T) {
	env := newTestEnv(t)
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice", ManagementFeeBps: 200})
	env.mintShares(t, h, "bob", 1000)

	// One hour on 1000 shares truncates to zero; LastPaid must not advance
	// or the accrual would be silently lost.
	env.clock.Advance(time.Hour)
	minted, err := h.Fees().RewardManagementFee()
	require.NoError(t, err)
	assert.Equal(t, "0", minted.String())

	env.clock.Advance(365*24*time.Hour - time.Hour)
	minted, err = h.Fees().RewardManagementFee()
	require.NoError(t, err)
	assert.Equal(t, "20", minted.String())
}

func TestPerformanceFee(t *testing.T) {
	env := newTestEnv(t)
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice", PerformanceFeeBps: 2000})
	env.mintShares(t, h, "bob", 1000)

	t.Run("first settlement arms the mark", func(t *testing.T) {
		minted, err := h.Fees().RewardAllFees()
		require.NoError(t, err)
		assert.Equal(t, "0", minted.String())

		var hwm *big.Int
		for _, fi := range h.Fees().Infos() {
			if fi.Kind == FeePerformance {
				hwm = fi.HighWaterMark
			}
		}
		require.NotNil(t, hwm)
		assert.Equal(t, priceScale.String(), hwm.String())
	})

	t.Run("gain above the mark is charged", func(t *testing.T) {
		// Double the fund's value: share price 1.0 -> 2.0.
		env.ledger.Mint("USDC", h.Vault().Account(), big.NewInt(1000))
		h.mu.Lock()
		h.vault.creditHolding("USDC", big.NewInt(1000))
		h.mu.Unlock()

		minted, err := h.Fees().RewardAllFees()
		require.NoError(t, err)

		// feeValue = 20% of the 1000 gain = 200.
		// feeShares = 1000 * 200 / (2000 - 200) = 111.
		assert.Equal(t, "111", minted.String())
		assert.Equal(t, "111", h.Shares().BalanceOf("alice").String())
	})

	t.Run("no charge below the mark", func(t *testing.T) {
		minted, err := h.Fees().RewardAllFees()
		require.NoError(t, err)
		assert.Equal(t, "0", minted.String())
	})
}

func TestPerformanceFeeDoesNotResetOnDrawdown(t *testing.T) {
	env := newTestEnv(t)
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice", PerformanceFeeBps: 2000})
	env.mintShares(t, h, "bob", 1000)

	_, err := h.Fees().RewardAllFees()
	require.NoError(t, err)

	// Lose 40% of the fund, settle, then recover back to par. No fee is
	// due until the old mark is exceeded.
	h.mu.Lock()
	require.NoError(t, h.vault.pay("USDC", "sink", big.NewInt(400)))
	h.mu.Unlock()
	minted, err := h.Fees().RewardAllFees()
	require.NoError(t, err)
	assert.Equal(t, "0", minted.String())

	env.ledger.Mint("USDC", h.Vault().Account(), big.NewInt(400))
	h.mu.Lock()
	h.vault.creditHolding("USDC", big.NewInt(400))
	h.mu.Unlock()
	minted, err = h.Fees().RewardAllFees()
	require.NoError(t, err)
	assert.Equal(t, "0", minted.String(), "recovery to the mark is not a gain")
}

func TestRewardAllFeesCombined(t *testing.T) {
	env := newTestEnv(t)
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice", ManagementFeeBps: 200, PerformanceFeeBps: 2000})
	env.mintShares(t, h, "bob", 1000)

	// Arm the performance mark at par.
	_, err := h.Fees().RewardAllFees()
	require.NoError(t, err)

	env.clock.Advance(365 * 24 * time.Hour)
	minted, err := h.Fees().RewardAllFees()
	require.NoError(t, err)

	// Management charges 20 shares. GAV is unchanged by that, so the share
	// price drops below the mark and the performance leg charges nothing.
	assert.Equal(t, "20", minted.String())
}

func TestMintSettlesFeesFirst(t *testing.T) {
	env := newTestEnv(t)
	h := env.createFund(t, FundConfig{ID: "f1", Manager: "alice", ManagementFeeBps: 200})
	env.mintShares(t, h, "bob", 1000)

	env.clock.Advance(365 * 24 * time.Hour)

	// The incoming investor is priced against the post-settlement supply:
	// 1020 shares on 1000 GAV, so 1000 buys 1020 shares.
	shares := env.mintShares(t, h, "carol", 1000)
	assert.Equal(t, "1020", shares.String())
	assert.Equal(t, "20", h.Shares().BalanceOf("alice").String())
	assert.Equal(t, "2040", h.Shares().TotalSupply().String())
}
