package fund

import (
	"math/big"
	"time"
)

// FeeKind identifies a fee schedule.
type FeeKind int

const (
	FeeManagement FeeKind = iota
	FeePerformance
)

func (k FeeKind) String() string {
	switch k {
	case FeeManagement:
		return "management"
	case FeePerformance:
		return "performance"
	default:
		return "unknown"
	}
}

// priceScale fixes the precision at which share prices are tracked for the
// performance high-water mark.
var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FeeInfo is the accrual state of one fee schedule. It is mutated only by
// the fee manager's own settlement routine.
type FeeInfo struct {
	Kind     FeeKind
	RateBps  uint64
	Period   time.Duration // 0 = continuous accrual
	LastPaid time.Time

	// HighWaterMark is the share price (scaled by priceScale) above which
	// the performance fee accrues. Nil until first armed.
	HighWaterMark *big.Int
}

// FeeManager accrues fees for one fund and converts accrued value into
// newly minted shares. Minting dilutes the supply the fee was computed
// against, so settlement uses the dilution-corrected share count
//
//	feeShares = supply * preDilutionShares / (supply - preDilutionShares)
//
// which leaves the fee recipient owning exactly the accrued fraction of the
// post-mint supply. Settlement moves ownership of value, never assets: GAV
// is unchanged by it.
type FeeManager struct {
	hub  *Hub
	fees map[FeeKind]*FeeInfo
}

func newFeeManager(h *Hub, cfg FundConfig, now time.Time) *FeeManager {
	f := &FeeManager{hub: h, fees: make(map[FeeKind]*FeeInfo)}
	f.fees[FeeManagement] = &FeeInfo{
		Kind:     FeeManagement,
		RateBps:  cfg.ManagementFeeBps,
		Period:   cfg.FeePeriod,
		LastPaid: now,
	}
	if cfg.PerformanceFeeBps > 0 {
		f.fees[FeePerformance] = &FeeInfo{
			Kind:     FeePerformance,
			RateBps:  cfg.PerformanceFeeBps,
			Period:   cfg.FeePeriod,
			LastPaid: now,
		}
	}
	return f
}

// Infos returns a snapshot of every fee schedule.
func (f *FeeManager) Infos() []FeeInfo {
	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	out := make([]FeeInfo, 0, len(f.fees))
	for _, fi := range f.fees {
		cp := *fi
		if fi.HighWaterMark != nil {
			cp.HighWaterMark = new(big.Int).Set(fi.HighWaterMark)
		}
		out = append(out, cp)
	}
	return out
}

// RewardManagementFee settles the management fee only. No-op when nothing
// has accrued.
func (f *FeeManager) RewardManagementFee() (*big.Int, error) {
	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	minted := f.settleManagement()
	if minted.Sign() > 0 {
		f.hub.fm.persistFund(f.hub)
		f.hub.fm.emit(Event{
			Type:      EventFeesSettled,
			Fund:      f.hub.ID,
			Owner:     f.hub.Manager,
			Shares:    minted.String(),
			Timestamp: f.hub.fm.now().UnixNano(),
		})
	}
	return minted, nil
}

// RewardAllFees settles every configured fee schedule.
func (f *FeeManager) RewardAllFees() (*big.Int, error) {
	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	before := new(big.Int).Set(f.hub.shares.totalSupply)
	if err := f.settleAll(); err != nil {
		return nil, err
	}
	minted := new(big.Int).Sub(f.hub.shares.totalSupply, before)
	if minted.Sign() > 0 {
		f.hub.fm.persistFund(f.hub)
	}
	return minted, nil
}

// settleAll runs every settlement as one step. The GAV needed by the
// performance fee is computed up front so that a stale price aborts before
// any state is mutated. Assumes the hub lock is held.
func (f *FeeManager) settleAll() error {
	var gav *big.Int
	perf := f.fees[FeePerformance]
	if perf != nil && f.hub.shares.totalSupply.Sign() > 0 {
		g, err := f.hub.shares.calcGAV()
		if err != nil {
			return err
		}
		gav = g
	}

	minted := f.settleManagement()
	// GAV is unchanged by management settlement, so the same valuation
	// prices the performance fee against the post-dilution supply.
	if perf != nil && gav != nil {
		minted.Add(minted, f.settlePerformance(perf, gav))
	}

	if minted.Sign() > 0 {
		f.hub.fm.emit(Event{
			Type:      EventFeesSettled,
			Fund:      f.hub.ID,
			Owner:     f.hub.Manager,
			Shares:    minted.String(),
			Timestamp: f.hub.fm.now().UnixNano(),
		})
	}
	return nil
}

// settleManagement accrues rate * supply * elapsed / secondsPerYear and
// mints the dilution-corrected share count to the manager. Assumes the hub
// lock is held.
func (f *FeeManager) settleManagement() *big.Int {
	fi := f.fees[FeeManagement]
	if fi == nil || fi.RateBps == 0 {
		return big.NewInt(0)
	}
	now := f.hub.fm.now()
	elapsed := int64(now.Sub(fi.LastPaid) / time.Second)
	if elapsed <= 0 {
		return big.NewInt(0)
	}

	charge := elapsed
	if fi.Period > 0 {
		period := int64(fi.Period / time.Second)
		charge = (elapsed / period) * period
		if charge == 0 {
			return big.NewInt(0)
		}
	}

	supply := f.hub.shares.totalSupply
	if supply.Sign() == 0 {
		// Nothing accrues on an empty fund.
		fi.LastPaid = now
		return big.NewInt(0)
	}

	// preDilution = supply * rateBps * charge / (secondsPerYear * 10000),
	// in this order, truncating once at the end.
	pre := new(big.Int).Set(supply)
	pre.Mul(pre, new(big.Int).SetUint64(fi.RateBps))
	pre.Mul(pre, big.NewInt(charge))
	pre.Quo(pre, big.NewInt(SecondsPerYear*BpsDenominator))
	if pre.Sign() == 0 {
		// Accrual truncated to nothing; leave LastPaid so it keeps
		// accumulating instead of being lost.
		return big.NewInt(0)
	}
	if pre.Cmp(supply) >= 0 {
		pre = new(big.Int).Sub(supply, big.NewInt(1))
	}

	feeShares := new(big.Int).Mul(supply, pre)
	feeShares.Quo(feeShares, new(big.Int).Sub(supply, pre))

	f.hub.shares.credit(f.hub.Manager, feeShares)
	if fi.Period > 0 {
		fi.LastPaid = fi.LastPaid.Add(time.Duration(charge) * time.Second)
	} else {
		fi.LastPaid = now
	}
	return feeShares
}

// settlePerformance charges the configured rate on share-price gain above
// the high-water mark. The first settlement with live supply arms the mark
// without charging. Assumes the hub lock is held; gav must be current.
func (f *FeeManager) settlePerformance(fi *FeeInfo, gav *big.Int) *big.Int {
	supply := f.hub.shares.totalSupply
	if supply.Sign() == 0 {
		return big.NewInt(0)
	}

	cur := new(big.Int).Mul(gav, priceScale)
	cur.Quo(cur, supply)

	if fi.HighWaterMark == nil {
		fi.HighWaterMark = cur
		return big.NewInt(0)
	}
	if cur.Cmp(fi.HighWaterMark) <= 0 {
		return big.NewInt(0)
	}

	gain := new(big.Int).Sub(cur, fi.HighWaterMark)
	feeValue := new(big.Int).Mul(gain, supply)
	feeValue.Mul(feeValue, new(big.Int).SetUint64(fi.RateBps))
	feeValue.Quo(feeValue, new(big.Int).SetUint64(BpsDenominator))
	feeValue.Quo(feeValue, priceScale)
	if feeValue.Sign() == 0 {
		return big.NewInt(0)
	}
	if feeValue.Cmp(gav) >= 0 {
		feeValue = new(big.Int).Sub(gav, big.NewInt(1))
	}

	// Value form of the dilution identity: the minted shares are worth
	// exactly feeValue at the post-mint share price.
	feeShares := new(big.Int).Mul(supply, feeValue)
	feeShares.Quo(feeShares, new(big.Int).Sub(gav, feeValue))
	if feeShares.Sign() == 0 {
		return big.NewInt(0)
	}

	f.hub.shares.credit(f.hub.Manager, feeShares)
	fi.HighWaterMark = cur
	fi.LastPaid = f.hub.fm.now()
	return feeShares
}
