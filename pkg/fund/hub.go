package fund

import (
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// DefaultPriceStaleness bounds quote age for valuation when a fund's config
// does not set one.
const DefaultPriceStaleness = 5 * time.Minute

// FundManager owns every fund in the system and the collaborators they
// share: the external asset ledger, the price source, the event publisher
// and the optional persistent store.
type FundManager struct {
	funds  map[string]*Hub
	ledger AssetLedger
	prices PriceSource
	events Publisher
	store  *Store
	logger log.Logger
	clock  func() time.Time
	mu     sync.RWMutex
}

// NewFundManager creates a fund manager over an asset ledger and a price
// source.
func NewFundManager(ledger AssetLedger, prices PriceSource) *FundManager {
	return &FundManager{
		funds:  make(map[string]*Hub),
		ledger: ledger,
		prices: prices,
		logger: log.Root().New("module", "fund"),
		clock:  time.Now,
	}
}

// SetPublisher attaches an event publisher. Events are dropped when none is
// configured. Call during setup, before the manager serves traffic.
func (fm *FundManager) SetPublisher(p Publisher) {
	fm.events = p
}

// SetStore attaches a persistent store. Funds, requests and fee state are
// saved on every state transition once set. Call during setup.
func (fm *FundManager) SetStore(s *Store) {
	fm.store = s
}

// CreateFund sets up a fund and its four spokes. The spoke set is fixed at
// setup and immutable afterwards.
func (fm *FundManager) CreateFund(cfg FundConfig) (*Hub, error) {
	if cfg.ID == "" || cfg.Manager == "" || cfg.DenominationAsset == "" {
		return nil, fmt.Errorf("fund config requires id, manager and denomination asset")
	}
	if cfg.PriceStaleness == 0 {
		cfg.PriceStaleness = DefaultPriceStaleness
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	if _, exists := fm.funds[cfg.ID]; exists {
		return nil, fmt.Errorf("fund %s already exists", cfg.ID)
	}

	now := fm.clock()
	h := &Hub{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Manager:   cfg.Manager,
		Config:    cfg,
		state:     FundActive,
		createdAt: now,
		fm:        fm,
	}
	h.shares = newShares(h, cfg.DenominationAsset, cfg.PriceStaleness)
	h.vault = newVault(h)
	h.fees = newFeeManager(h, cfg, now)
	h.policies = newPolicyManager(h)

	fm.funds[cfg.ID] = h
	fm.logger.Info("fund created", "fund", cfg.ID, "manager", cfg.Manager, "denom", cfg.DenominationAsset)

	fm.persistFund(h)
	fm.emit(Event{Type: EventFundCreated, Fund: cfg.ID, Owner: cfg.Manager, Asset: cfg.DenominationAsset, Timestamp: now.UnixNano()})
	return h, nil
}

// GetFund returns the fund with the given id.
func (fm *FundManager) GetFund(id string) (*Hub, error) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	h, ok := fm.funds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFund, id)
	}
	return h, nil
}

// ListFunds returns every fund. Order is not guaranteed.
func (fm *FundManager) ListFunds() []*Hub {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	out := make([]*Hub, 0, len(fm.funds))
	for _, h := range fm.funds {
		out = append(out, h)
	}
	return out
}

// Ledger exposes the asset ledger the funds settle against.
func (fm *FundManager) Ledger() AssetLedger { return fm.ledger }

// Prices exposes the price source.
func (fm *FundManager) Prices() PriceSource { return fm.prices }

func (fm *FundManager) now() time.Time { return fm.clock() }

func (fm *FundManager) emit(e Event) {
	if fm.events != nil {
		fm.events.Publish(e)
	}
}

func (fm *FundManager) persistFund(h *Hub) {
	if fm.store == nil {
		return
	}
	if err := fm.store.SaveFund(h); err != nil {
		fm.logger.Error("failed to persist fund", "fund", h.ID, "error", err)
	}
}

func (fm *FundManager) persistRequest(req *Request) {
	if fm.store == nil {
		return
	}
	if err := fm.store.SaveRequest(req); err != nil {
		fm.logger.Error("failed to persist request", "fund", req.Fund, "owner", req.Owner, "error", err)
	}
}

func (fm *FundManager) removeRequest(req *Request) {
	if fm.store == nil {
		return
	}
	if err := fm.store.DeleteRequest(req.Fund, req.Owner); err != nil {
		fm.logger.Error("failed to delete request", "fund", req.Fund, "owner", req.Owner, "error", err)
	}
}

// Hub is a fund's identity and authority anchor. It owns the four spokes;
// spokes hold a back-reference here for authorization and lifecycle checks,
// never an ownership edge.
type Hub struct {
	ID      string
	Name    string
	Manager string
	Config  FundConfig

	state     FundState
	createdAt time.Time

	shares   *Shares
	vault    *Vault
	fees     *FeeManager
	policies *PolicyManager

	fm *FundManager

	// Guards all per-fund state across the spokes. Each externally
	// triggered operation runs to completion under it, which is what makes
	// fee settlement a synchronous prefix of every supply change.
	mu sync.Mutex
}

// Shares returns the fund's share ledger spoke.
func (h *Hub) Shares() *Shares { return h.shares }

// Vault returns the fund's custody spoke.
func (h *Hub) Vault() *Vault { return h.vault }

// Fees returns the fund's fee manager spoke.
func (h *Hub) Fees() *FeeManager { return h.fees }

// Policies returns the fund's policy manager spoke.
func (h *Hub) Policies() *PolicyManager { return h.policies }

// State returns the fund lifecycle state.
func (h *Hub) State() FundState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsActive reports whether the fund accepts issuance and trading.
func (h *Hub) IsActive() bool { return h.State() == FundActive }

// CreatedAt returns the fund setup time.
func (h *Hub) CreatedAt() time.Time { return h.createdAt }

// ShutDown transitions the fund to ShutDown. Manager only, Active only,
// never reversed. Redemption and cancellation remain callable afterwards.
func (h *Hub) ShutDown(caller string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireManager(caller); err != nil {
		return err
	}
	if h.state == FundShutDown {
		return ErrAlreadyShutDown
	}
	h.state = FundShutDown

	h.fm.logger.Info("fund shut down", "fund", h.ID, "manager", caller)
	h.fm.persistFund(h)
	h.fm.emit(Event{Type: EventFundShutDown, Fund: h.ID, Caller: caller, Timestamp: h.fm.now().UnixNano()})
	return nil
}

func (h *Hub) requireManager(caller string) error {
	if caller != h.Manager {
		return fmt.Errorf("%w: %s", ErrNotManager, caller)
	}
	return nil
}

func (h *Hub) requireActive() error {
	if h.state != FundActive {
		return ErrFundNotActive
	}
	return nil
}
