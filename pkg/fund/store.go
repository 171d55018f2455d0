package fund

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
)

const (
	fundKeyPrefix    = "fund:"
	requestKeyPrefix = "request:"
)

// Store persists fund and request state as JSON records in a key-value
// database, one record per fund and per pending request.
type Store struct {
	db     database.Database
	logger log.Logger
}

// NewStore creates a store over a database.
func NewStore(db database.Database) *Store {
	return &Store{db: db, logger: log.Root().New("module", "store")}
}

type feeRecord struct {
	Kind          int    `json:"kind"`
	RateBps       uint64 `json:"rateBps"`
	PeriodSeconds int64  `json:"periodSeconds"`
	LastPaid      int64  `json:"lastPaid"`
	HighWaterMark string `json:"highWaterMark,omitempty"`
}

type fundRecord struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Manager     string            `json:"manager"`
	Denom       string            `json:"denom"`
	State       int               `json:"state"`
	CreatedAt   int64             `json:"createdAt"`
	StalenessMS int64             `json:"stalenessMs"`
	TotalSupply string            `json:"totalSupply"`
	Balances    map[string]string `json:"balances"`
	Holdings    map[string]string `json:"holdings"`
	Fees        []feeRecord       `json:"fees"`
}

type requestRecord struct {
	Owner     string `json:"owner"`
	Fund      string `json:"fund"`
	Amount    string `json:"amount"`
	MinShares string `json:"minShares"`
	Incentive string `json:"incentive"`
	CreatedAt int64  `json:"createdAt"`
}

// SaveFund writes a fund snapshot. Callers inside the package invoke it
// with the hub lock held; the snapshot is consistent under it.
func (s *Store) SaveFund(h *Hub) error {
	rec := fundRecord{
		ID:          h.ID,
		Name:        h.Name,
		Manager:     h.Manager,
		Denom:       h.shares.denom,
		State:       int(h.state),
		CreatedAt:   h.createdAt.UnixNano(),
		StalenessMS: h.shares.staleness.Milliseconds(),
		TotalSupply: h.shares.totalSupply.String(),
		Balances:    bigMapToStrings(h.shares.balances),
		Holdings:    bigMapToStrings(h.vault.holdings),
	}
	for _, fi := range h.fees.fees {
		fr := feeRecord{
			Kind:          int(fi.Kind),
			RateBps:       fi.RateBps,
			PeriodSeconds: int64(fi.Period / time.Second),
			LastPaid:      fi.LastPaid.UnixNano(),
		}
		if fi.HighWaterMark != nil {
			fr.HighWaterMark = fi.HighWaterMark.String()
		}
		rec.Fees = append(rec.Fees, fr)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal fund %s: %w", h.ID, err)
	}
	return s.db.Put([]byte(fundKeyPrefix+h.ID), data)
}

// SaveRequest writes a pending request record.
func (s *Store) SaveRequest(req *Request) error {
	rec := requestRecord{
		Owner:     req.Owner,
		Fund:      req.Fund,
		Amount:    req.Amount.String(),
		MinShares: req.MinShares.String(),
		Incentive: req.Incentive.String(),
		CreatedAt: req.CreatedAt.UnixNano(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return s.db.Put(requestDBKey(req.Fund, req.Owner), data)
}

// DeleteRequest removes a request record.
func (s *Store) DeleteRequest(fundID, owner string) error {
	return s.db.Delete(requestDBKey(fundID, owner))
}

// LoadFunds restores every persisted fund into the manager. Restored funds
// keep their lifecycle state, share balances, holdings and fee accrual
// positions; ledger balances live in the external ledger and are not
// restored here.
func (s *Store) LoadFunds(fm *FundManager) error {
	iter := s.db.NewIteratorWithPrefix([]byte(fundKeyPrefix))
	defer iter.Release()

	count := 0
	for iter.Next() {
		var rec fundRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			s.logger.Error("skipping corrupt fund record", "key", string(iter.Key()), "error", err)
			continue
		}
		if err := fm.restoreFund(rec); err != nil {
			return err
		}
		count++
	}
	if count > 0 {
		s.logger.Info("funds restored", "count", count)
	}
	return iter.Error()
}

// LoadRequests restores pending requests into the requestor.
func (s *Store) LoadRequests(r *Requestor) error {
	iter := s.db.NewIteratorWithPrefix([]byte(requestKeyPrefix))
	defer iter.Release()

	for iter.Next() {
		var rec requestRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			s.logger.Error("skipping corrupt request record", "key", string(iter.Key()), "error", err)
			continue
		}
		req := &Request{
			Owner:     rec.Owner,
			Fund:      rec.Fund,
			Amount:    mustBig(rec.Amount),
			MinShares: mustBig(rec.MinShares),
			Incentive: mustBig(rec.Incentive),
			CreatedAt: time.Unix(0, rec.CreatedAt),
		}
		r.mu.Lock()
		r.requests[requestKey{owner: rec.Owner, fund: rec.Fund}] = req
		r.mu.Unlock()
	}
	return iter.Error()
}

// restoreFund rebuilds a hub and its spokes from a persisted record.
func (fm *FundManager) restoreFund(rec fundRecord) error {
	cfg := FundConfig{
		ID:                rec.ID,
		Name:              rec.Name,
		Manager:           rec.Manager,
		DenominationAsset: rec.Denom,
		PriceStaleness:    time.Duration(rec.StalenessMS) * time.Millisecond,
	}
	if cfg.PriceStaleness == 0 {
		cfg.PriceStaleness = DefaultPriceStaleness
	}
	for _, fr := range rec.Fees {
		switch FeeKind(fr.Kind) {
		case FeeManagement:
			cfg.ManagementFeeBps = fr.RateBps
			cfg.FeePeriod = time.Duration(fr.PeriodSeconds) * time.Second
		case FeePerformance:
			cfg.PerformanceFeeBps = fr.RateBps
		}
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()
	if _, exists := fm.funds[rec.ID]; exists {
		return fmt.Errorf("fund %s already loaded", rec.ID)
	}

	h := &Hub{
		ID:        rec.ID,
		Name:      rec.Name,
		Manager:   rec.Manager,
		Config:    cfg,
		state:     FundState(rec.State),
		createdAt: time.Unix(0, rec.CreatedAt),
		fm:        fm,
	}
	h.shares = newShares(h, rec.Denom, cfg.PriceStaleness)
	h.shares.totalSupply = mustBig(rec.TotalSupply)
	h.shares.balances = stringMapToBigs(rec.Balances)
	h.vault = newVault(h)
	h.vault.holdings = stringMapToBigs(rec.Holdings)
	h.fees = &FeeManager{hub: h, fees: make(map[FeeKind]*FeeInfo)}
	for _, fr := range rec.Fees {
		fi := &FeeInfo{
			Kind:     FeeKind(fr.Kind),
			RateBps:  fr.RateBps,
			Period:   time.Duration(fr.PeriodSeconds) * time.Second,
			LastPaid: time.Unix(0, fr.LastPaid),
		}
		if fr.HighWaterMark != "" {
			fi.HighWaterMark = mustBig(fr.HighWaterMark)
		}
		h.fees.fees[fi.Kind] = fi
	}
	h.policies = newPolicyManager(h)

	fm.funds[rec.ID] = h
	return nil
}

func requestDBKey(fundID, owner string) []byte {
	return []byte(requestKeyPrefix + fundID + ":" + owner)
}

func bigMapToStrings(in map[string]*big.Int) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v.String()
	}
	return out
}

func stringMapToBigs(in map[string]string) map[string]*big.Int {
	out := make(map[string]*big.Int, len(in))
	for k, v := range in {
		out[k] = mustBig(v)
	}
	return out
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
