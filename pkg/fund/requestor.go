package fund

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// DefaultMaxRequestWait is how long a request may sit unexecuted before its
// owner can cancel it, absent an explicit configuration.
const DefaultMaxRequestWait = 24 * time.Hour

// Request is one pending share-purchase intent. At most one exists per
// (owner, fund) pair at any time.
type Request struct {
	Owner     string
	Fund      string
	Amount    *big.Int
	MinShares *big.Int
	Incentive *big.Int
	CreatedAt time.Time
}

type requestKey struct {
	owner string
	fund  string
}

// RequestorConfig configures the shares requestor.
type RequestorConfig struct {
	// EscrowAccount holds investment assets and incentives between request
	// and execution.
	EscrowAccount string
	// NativeAsset denominates the incentive fee.
	NativeAsset string
	// IncentiveFee is escrowed with every request and paid to whoever
	// executes it.
	IncentiveFee *big.Int
	// MaxWait is the age past which an unexecuted request may be canceled.
	MaxWait time.Duration
}

// Requestor decouples capital deposit from share issuance so that shares
// are always minted at a price observed strictly after the request. Third
// parties are incentivized to execute others' requests once a fresh price
// is available.
type Requestor struct {
	funds    *FundManager
	cfg      RequestorConfig
	requests map[requestKey]*Request
	logger   log.Logger
	mu       sync.Mutex
}

// NewRequestor creates a requestor over the fund manager's ledger and
// price source.
func NewRequestor(funds *FundManager, cfg RequestorConfig) *Requestor {
	if cfg.EscrowAccount == "" {
		cfg.EscrowAccount = "shares-requestor"
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = DefaultMaxRequestWait
	}
	if cfg.IncentiveFee == nil {
		cfg.IncentiveFee = big.NewInt(0)
	}
	return &Requestor{
		funds:    funds,
		cfg:      cfg,
		requests: make(map[requestKey]*Request),
		logger:   log.Root().New("module", "requestor"),
	}
}

// Config returns the requestor configuration.
func (r *Requestor) Config() RequestorConfig { return r.cfg }

// GetRequest returns the pending request for (owner, fund), if any.
func (r *Requestor) GetRequest(owner, fundID string) (*Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestKey{owner: owner, fund: fundID}]
	return req, ok
}

// RequestShares escrows amount of the fund's denomination asset plus the
// incentive fee and records a pending request. Requests for different funds
// by the same owner are independent.
func (r *Requestor) RequestShares(owner, fundID string, amount, minShares *big.Int) (*Request, error) {
	hub, err := r.funds.GetFund(fundID)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := requestKey{owner: owner, fund: fundID}
	if _, exists := r.requests[key]; exists {
		return nil, ErrRequestExists
	}

	hub.mu.Lock()
	if err := hub.requireActive(); err != nil {
		hub.mu.Unlock()
		return nil, err
	}
	pctx := &PolicyContext{
		Fund:     fundID,
		Caller:   owner,
		Selector: SelectorRequestShares,
	}
	err = hub.policies.runPre(pctx)
	hub.mu.Unlock()
	if err != nil {
		r.funds.emit(Event{
			Type:      EventPolicyRejected,
			Fund:      fundID,
			Caller:    owner,
			Policy:    pctx.Rejected,
			Timestamp: r.funds.now().UnixNano(),
		})
		return nil, err
	}

	ledger := r.funds.ledger
	denom := hub.shares.denom
	if ledger.Allowance(denom, owner, r.cfg.EscrowAccount).Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: %s for %s", ErrAllowanceTooLow, denom, fundID)
	}
	incentive := new(big.Int).Set(r.cfg.IncentiveFee)
	if incentive.Sign() > 0 {
		if ledger.Allowance(r.cfg.NativeAsset, owner, r.cfg.EscrowAccount).Cmp(incentive) < 0 {
			return nil, fmt.Errorf("%w: incentive fee requires %s %s", ErrAllowanceTooLow, incentive, r.cfg.NativeAsset)
		}
	}

	if err := ledger.TransferFrom(denom, r.cfg.EscrowAccount, owner, r.cfg.EscrowAccount, amount); err != nil {
		return nil, err
	}
	if incentive.Sign() > 0 {
		if err := ledger.TransferFrom(r.cfg.NativeAsset, r.cfg.EscrowAccount, owner, r.cfg.EscrowAccount, incentive); err != nil {
			// Undo the investment escrow; the request must be all or nothing.
			if rerr := ledger.Transfer(denom, r.cfg.EscrowAccount, owner, amount); rerr != nil {
				r.logger.Error("failed to unwind escrow", "owner", owner, "fund", fundID, "error", rerr)
			}
			return nil, err
		}
	}

	req := &Request{
		Owner:     owner,
		Fund:      fundID,
		Amount:    new(big.Int).Set(amount),
		MinShares: copyBig(minShares),
		Incentive: incentive,
		CreatedAt: r.funds.now(),
	}
	r.requests[key] = req
	r.funds.persistRequest(req)
	r.funds.emit(Event{
		Type:      EventRequestCreated,
		Fund:      fundID,
		Owner:     owner,
		Asset:     denom,
		Amount:    req.Amount.String(),
		Incentive: incentive.String(),
		Timestamp: req.CreatedAt.UnixNano(),
	})
	r.logger.Info("request created", "owner", owner, "fund", fundID, "amount", req.Amount.String())
	return req, nil
}

// ExecuteRequestFor mints shares for a pending request at a price observed
// strictly after the request was created, and pays the escrowed incentive
// to the caller. Any account may execute any owner's request.
func (r *Requestor) ExecuteRequestFor(caller, owner, fundID string) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := requestKey{owner: owner, fund: fundID}
	req, ok := r.requests[key]
	if !ok {
		return nil, ErrNoRequest
	}
	hub, err := r.funds.GetFund(fundID)
	if err != nil {
		return nil, err
	}

	// The anti-front-running guarantee: the execution price must postdate
	// the request.
	if !r.funds.prices.LastUpdate().After(req.CreatedAt) {
		return nil, ErrStalePriceSinceRequest
	}

	hub.mu.Lock()
	shares, err := hub.shares.mint(owner, r.cfg.EscrowAccount, req.Amount, req.MinShares)
	if err == nil {
		hub.fm.persistFund(hub)
	}
	hub.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if req.Incentive.Sign() > 0 {
		if err := r.funds.ledger.Transfer(r.cfg.NativeAsset, r.cfg.EscrowAccount, caller, req.Incentive); err != nil {
			r.logger.Error("failed to pay incentive", "caller", caller, "error", err)
		}
	}

	delete(r.requests, key)
	r.funds.removeRequest(req)
	r.funds.emit(Event{
		Type:      EventRequestExecuted,
		Fund:      fundID,
		Owner:     owner,
		Caller:    caller,
		Amount:    req.Amount.String(),
		Shares:    shares.String(),
		Incentive: req.Incentive.String(),
		Timestamp: r.funds.now().UnixNano(),
	})
	r.logger.Info("request executed", "owner", owner, "fund", fundID, "shares", shares.String(), "by", caller)
	return shares, nil
}

// CancelRequest refunds a pending request's escrow to its owner. Permitted
// only once a cancellation condition holds: the fund was shut down, or the
// request aged past the maximum wait without execution.
func (r *Requestor) CancelRequest(owner, fundID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := requestKey{owner: owner, fund: fundID}
	req, ok := r.requests[key]
	if !ok {
		return ErrNoRequest
	}
	hub, err := r.funds.GetFund(fundID)
	if err != nil {
		return err
	}

	expired := r.funds.now().Sub(req.CreatedAt) > r.cfg.MaxWait
	if hub.State() != FundShutDown && !expired {
		return ErrNoCancellationCondition
	}

	ledger := r.funds.ledger
	if err := ledger.Transfer(hub.shares.denom, r.cfg.EscrowAccount, owner, req.Amount); err != nil {
		return err
	}
	if req.Incentive.Sign() > 0 {
		if err := ledger.Transfer(r.cfg.NativeAsset, r.cfg.EscrowAccount, owner, req.Incentive); err != nil {
			// Refund is all or nothing; put the investment back in escrow.
			if rerr := ledger.Transfer(hub.shares.denom, owner, r.cfg.EscrowAccount, req.Amount); rerr != nil {
				r.logger.Error("failed to unwind refund", "owner", owner, "fund", fundID, "error", rerr)
			}
			return err
		}
	}

	delete(r.requests, key)
	r.funds.removeRequest(req)
	r.funds.emit(Event{
		Type:      EventRequestCanceled,
		Fund:      fundID,
		Owner:     owner,
		Amount:    req.Amount.String(),
		Incentive: req.Incentive.String(),
		Timestamp: r.funds.now().UnixNano(),
	})
	return nil
}
