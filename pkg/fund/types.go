// Package fund implements the pooled-fund accounting and settlement core:
// per-fund hub/spoke registries, share issuance and redemption, continuous
// fee accrual with dilution-corrected minting, policy gating, and the
// adapter contract for external trading venues.
package fund

import (
	"errors"
	"math/big"
	"time"
)

// Lifecycle, validation and state errors surfaced by the core.
var (
	ErrFundNotActive           = errors.New("fund not active")
	ErrNotManager              = errors.New("caller is not the fund manager")
	ErrAlreadyShutDown         = errors.New("fund already shut down")
	ErrZeroAmount              = errors.New("amount must be greater than zero")
	ErrAllowanceTooLow         = errors.New("insufficient allowance")
	ErrRequestExists           = errors.New("pending request already exists")
	ErrNoRequest               = errors.New("no pending request")
	ErrStalePriceSinceRequest  = errors.New("price source has not updated since request")
	ErrNoCancellationCondition = errors.New("no cancellation condition met")
	ErrStalePrice              = errors.New("price is stale")
	ErrBelowMinimum            = errors.New("below caller minimum")
	ErrNoShares                = errors.New("no shares to redeem")
	ErrPolicyRejected          = errors.New("policy rejected")
	ErrBalanceMismatch         = errors.New("balance reconciliation failed")
	ErrFillExceedsOrder        = errors.New("fill amount exceeds order maximum")
	ErrUnknownAdapter          = errors.New("adapter not registered")
	ErrUnknownFund             = errors.New("fund not found")
)

// FundState is the lifecycle of a fund. The transition Active -> ShutDown
// is one-way.
type FundState int

const (
	FundActive FundState = iota
	FundShutDown
)

func (s FundState) String() string {
	switch s {
	case FundActive:
		return "active"
	case FundShutDown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// SecondsPerYear is the accrual basis for annualized fee rates.
const SecondsPerYear = 31536000

// BpsDenominator converts basis-point rates into fractions.
const BpsDenominator = 10000

// AssetAmount pairs an asset identifier with an integer amount.
type AssetAmount struct {
	Asset  string
	Amount *big.Int
}

// FundConfig describes a fund at creation time.
type FundConfig struct {
	ID                string
	Name              string
	Manager           string
	DenominationAsset string

	ManagementFeeBps  uint64
	PerformanceFeeBps uint64
	FeePeriod         time.Duration // 0 = continuous accrual

	PriceStaleness time.Duration // max quote age for valuation
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
