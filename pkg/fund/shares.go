package fund

import (
	"fmt"
	"math/big"
	"time"
)

// Shares is a fund's ownership ledger. Share counts are integers; the share
// price is the fund's gross asset value over total supply, denominated in
// the fund's denomination asset.
type Shares struct {
	hub       *Hub
	denom     string
	staleness time.Duration

	balances    map[string]*big.Int
	totalSupply *big.Int
}

func newShares(h *Hub, denom string, staleness time.Duration) *Shares {
	return &Shares{
		hub:         h,
		denom:       denom,
		staleness:   staleness,
		balances:    make(map[string]*big.Int),
		totalSupply: big.NewInt(0),
	}
}

// DenominationAsset returns the asset GAV and share prices are quoted in.
func (s *Shares) DenominationAsset() string { return s.denom }

// TotalSupply returns the current share supply.
func (s *Shares) TotalSupply() *big.Int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return new(big.Int).Set(s.totalSupply)
}

// BalanceOf returns an owner's share balance.
func (s *Shares) BalanceOf(owner string) *big.Int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if bal, ok := s.balances[owner]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// CalcGAV values every vault holding in the denomination asset.
func (s *Shares) CalcGAV() (*big.Int, error) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.calcGAV()
}

// SharePrice returns the value of one share in denomination-asset units,
// truncating. With zero supply it is the bootstrap price of one unit.
func (s *Shares) SharePrice() (*big.Int, error) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.totalSupply.Sign() == 0 {
		return big.NewInt(1), nil
	}
	gav, err := s.calcGAV()
	if err != nil {
		return nil, err
	}
	return gav.Quo(gav, s.totalSupply), nil
}

// calcGAV assumes the hub lock is held.
func (s *Shares) calcGAV() (*big.Int, error) {
	now := s.hub.fm.now()
	gav := big.NewInt(0)
	for _, asset := range s.hub.vault.heldAssets() {
		bal := s.hub.vault.holdings[asset]
		if bal.Sign() == 0 {
			continue
		}
		if asset == s.denom {
			gav.Add(gav, bal)
			continue
		}
		q, err := s.hub.fm.prices.Quote(asset, s.denom)
		if err != nil {
			return nil, fmt.Errorf("valuing %s: %w", asset, err)
		}
		if now.Sub(q.UpdatedAt) > s.staleness {
			return nil, fmt.Errorf("%w: %s/%s updated %s", ErrStalePrice, asset, s.denom, q.UpdatedAt.Format(time.RFC3339))
		}
		gav.Add(gav, valueAtRate(bal, q.Rate))
	}
	return gav, nil
}

// mint settles pending fees, prices the investment at the post-settlement
// share price and issues shares to owner, pulling the investment out of the
// from account into the vault. Assumes the hub lock is held.
func (s *Shares) mint(owner, from string, amount, minShares *big.Int) (*big.Int, error) {
	if err := s.hub.requireActive(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	// Dilution from accrued-but-unpaid fees must be reflected before the
	// investor's share count is computed.
	if err := s.hub.fees.settleAll(); err != nil {
		return nil, err
	}

	var shares *big.Int
	if s.totalSupply.Sign() == 0 {
		// Bootstrap: one share per denomination-asset unit.
		shares = new(big.Int).Set(amount)
	} else {
		gav, err := s.calcGAV()
		if err != nil {
			return nil, err
		}
		if gav.Sign() == 0 {
			return nil, fmt.Errorf("fund %s has share supply but zero value", s.hub.ID)
		}
		shares = new(big.Int).Mul(amount, s.totalSupply)
		shares.Quo(shares, gav)
	}
	if shares.Sign() == 0 || (minShares != nil && shares.Cmp(minShares) < 0) {
		return nil, fmt.Errorf("%w: %s shares for minimum %s", ErrBelowMinimum, shares, minShares)
	}

	if err := s.hub.vault.receive(s.denom, from, amount); err != nil {
		return nil, err
	}
	s.credit(owner, shares)
	return shares, nil
}

// RedeemShares pays owner their pro-rata slice of every vault asset and
// burns their entire share balance. Redemption stays available after the
// fund is shut down.
func (s *Shares) RedeemShares(owner string) (*big.Int, []AssetAmount, error) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	// Settle first so redemption is priced against post-fee supply rather
	// than an approximation of it.
	if err := s.hub.fees.settleAll(); err != nil {
		return nil, nil, err
	}

	bal, ok := s.balances[owner]
	if !ok || bal.Sign() == 0 {
		return nil, nil, ErrNoShares
	}
	shares := new(big.Int).Set(bal)
	supply := new(big.Int).Set(s.totalSupply)

	payouts := make([]AssetAmount, 0)
	for _, asset := range s.hub.vault.heldAssets() {
		held := s.hub.vault.holdings[asset]
		if held.Sign() == 0 {
			continue
		}
		slice := new(big.Int).Mul(shares, held)
		slice.Quo(slice, supply)
		if slice.Sign() == 0 {
			continue
		}
		if err := s.hub.vault.pay(asset, owner, slice); err != nil {
			return nil, nil, err
		}
		payouts = append(payouts, AssetAmount{Asset: asset, Amount: slice})
	}

	delete(s.balances, owner)
	s.totalSupply.Sub(s.totalSupply, shares)

	s.hub.fm.persistFund(s.hub)
	s.hub.fm.emit(Event{
		Type:      EventSharesRedeemed,
		Fund:      s.hub.ID,
		Owner:     owner,
		Shares:    shares.String(),
		Timestamp: s.hub.fm.now().UnixNano(),
	})
	return shares, payouts, nil
}

// credit assumes the hub lock is held.
func (s *Shares) credit(owner string, shares *big.Int) {
	bal, ok := s.balances[owner]
	if !ok {
		bal = big.NewInt(0)
		s.balances[owner] = bal
	}
	bal.Add(bal, shares)
	s.totalSupply.Add(s.totalSupply, shares)
}
