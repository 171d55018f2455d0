package fund

import (
	"fmt"
	"math/big"
	"sort"
)

// Vault custodies a fund's assets. It is the only component that moves
// them: investments arrive through receive, redemptions leave through pay,
// and trades route through CallOnIntegration, which wraps every adapter in
// a before/after balance reconciliation.
type Vault struct {
	hub      *Hub
	account  string
	holdings map[string]*big.Int
	adapters map[string]Adapter
}

func newVault(h *Hub) *Vault {
	return &Vault{
		hub:      h,
		account:  "vault:" + h.ID,
		holdings: make(map[string]*big.Int),
		adapters: make(map[string]Adapter),
	}
}

// Account returns the vault's ledger account.
func (v *Vault) Account() string { return v.account }

// RegisterAdapter makes a venue adapter available to the fund. Manager
// only, Active only.
func (v *Vault) RegisterAdapter(caller string, a Adapter) error {
	v.hub.mu.Lock()
	defer v.hub.mu.Unlock()
	if err := v.hub.requireManager(caller); err != nil {
		return err
	}
	if err := v.hub.requireActive(); err != nil {
		return err
	}
	id := a.Identifier()
	if _, exists := v.adapters[id]; exists {
		return fmt.Errorf("adapter %s already registered", id)
	}
	v.adapters[id] = a
	return nil
}

// Holdings returns the vault's internal balance of every asset it holds.
func (v *Vault) Holdings() []AssetAmount {
	v.hub.mu.Lock()
	defer v.hub.mu.Unlock()
	out := make([]AssetAmount, 0, len(v.holdings))
	for _, asset := range v.heldAssets() {
		out = append(out, AssetAmount{Asset: asset, Amount: new(big.Int).Set(v.holdings[asset])})
	}
	return out
}

// Balance returns the vault's internal balance of one asset.
func (v *Vault) Balance(asset string) *big.Int {
	v.hub.mu.Lock()
	defer v.hub.mu.Unlock()
	if bal, ok := v.holdings[asset]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// heldAssets assumes the hub lock is held.
func (v *Vault) heldAssets() []string {
	assets := make([]string, 0, len(v.holdings))
	for asset := range v.holdings {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// receive pulls amount of asset from a ledger account into custody.
// Assumes the hub lock is held.
func (v *Vault) receive(asset, from string, amount *big.Int) error {
	if err := v.hub.fm.ledger.Transfer(asset, from, v.account, amount); err != nil {
		return err
	}
	v.creditHolding(asset, amount)
	return nil
}

// pay sends amount of asset out of custody. Assumes the hub lock is held.
func (v *Vault) pay(asset, to string, amount *big.Int) error {
	held, ok := v.holdings[asset]
	if !ok || held.Cmp(amount) < 0 {
		return fmt.Errorf("vault %s holds %s %s, cannot pay %s", v.hub.ID, held, asset, amount)
	}
	if err := v.hub.fm.ledger.Transfer(asset, v.account, to, amount); err != nil {
		return err
	}
	held.Sub(held, amount)
	if held.Sign() == 0 {
		delete(v.holdings, asset)
	}
	return nil
}

// creditHolding assumes the hub lock is held.
func (v *Vault) creditHolding(asset string, amount *big.Int) {
	bal, ok := v.holdings[asset]
	if !ok {
		bal = big.NewInt(0)
		v.holdings[asset] = bal
	}
	bal.Add(bal, amount)
}

// CallOnIntegration dispatches a trading call to a registered adapter.
// Manager only, fund Active. The call is transactional: pre-policies run
// first, the ledger is snapshotted, the adapter executes, and then
// post-policies and balance reconciliation must all pass or every effect is
// reverted. Reconciliation asserts the adapter's own balances returned to
// baseline and the vault's balances moved by exactly the reported amounts.
func (v *Vault) CallOnIntegration(caller, adapterID, selector string, args []byte) (*FillResult, error) {
	v.hub.mu.Lock()
	defer v.hub.mu.Unlock()

	if err := v.hub.requireManager(caller); err != nil {
		return nil, err
	}
	if err := v.hub.requireActive(); err != nil {
		return nil, err
	}
	adapter, ok := v.adapters[adapterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, adapterID)
	}

	fill, err := adapter.ParseFill(selector, args)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", adapterID, err)
	}
	if err := fill.validate(); err != nil {
		return nil, fmt.Errorf("adapter %s: %w", adapterID, err)
	}
	// Every outgoing asset must be in tracked custody up to the order
	// maximum. Assets donated to the vault's ledger account out of band are
	// not spendable until they pass through receive.
	for i, asset := range fill.OutgoingAssets {
		held, ok := v.holdings[asset]
		if !ok || held.Cmp(fill.MaxOutgoing[i]) < 0 {
			return nil, fmt.Errorf("vault %s holds %s %s, cannot spend up to %s", v.hub.ID, heldOrZero(held), asset, fill.MaxOutgoing[i])
		}
	}

	incoming, err := adapter.ParseIncomingAssets(selector, args)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", adapterID, err)
	}
	ctx := &PolicyContext{
		Fund:     v.hub.ID,
		Caller:   caller,
		Selector: selector,
		Args:     args,
		Adapter:  adapterID,
		Incoming: incoming,
		Outgoing: zipAmounts(fill.OutgoingAssets, fill.MaxOutgoing),
	}
	if err := v.hub.policies.runPre(ctx); err != nil {
		v.emitPolicyRejected(caller, adapterID, ctx.Rejected)
		return nil, err
	}

	ledger := v.hub.fm.ledger
	assets := fill.assets()
	snap := ledger.Snapshot()

	preVault := make(map[string]*big.Int, len(assets))
	preAdapter := make(map[string]*big.Int, len(assets))
	for _, asset := range assets {
		preVault[asset] = ledger.BalanceOf(asset, v.account)
		preAdapter[asset] = ledger.BalanceOf(asset, adapterID)
	}

	for i, asset := range fill.OutgoingAssets {
		ledger.Approve(asset, v.account, fill.Targets[i], fill.MaxOutgoing[i])
	}

	result, err := adapter.TakeOrder(selector, args, v.account, ledger)
	if err != nil {
		ledger.RevertToSnapshot(snap)
		return nil, fmt.Errorf("adapter %s: %w", adapterID, err)
	}

	if err := v.checkReportedAmounts(fill, result); err != nil {
		ledger.RevertToSnapshot(snap)
		return nil, fmt.Errorf("adapter %s: %w", adapterID, err)
	}
	if err := v.reconcile(ledger, adapterID, assets, preVault, preAdapter, result); err != nil {
		ledger.RevertToSnapshot(snap)
		return nil, fmt.Errorf("adapter %s: %w", adapterID, err)
	}

	ctx.Incoming = assetsOf(result.Incoming)
	ctx.Outgoing = result.Outgoing
	if err := v.hub.policies.runPost(ctx); err != nil {
		ledger.RevertToSnapshot(snap)
		v.emitPolicyRejected(caller, adapterID, ctx.Rejected)
		return nil, err
	}

	// Committed: release the snapshot, clear leftover approvals and fold
	// the deltas into the internal holdings ledger.
	ledger.DiscardSnapshot(snap)
	for i, asset := range fill.OutgoingAssets {
		ledger.Approve(asset, v.account, fill.Targets[i], big.NewInt(0))
	}
	for _, in := range result.Incoming {
		v.creditHolding(in.Asset, in.Amount)
	}
	for _, out := range result.Outgoing {
		held := v.holdings[out.Asset]
		held.Sub(held, out.Amount)
		if held.Sign() == 0 {
			delete(v.holdings, out.Asset)
		}
	}

	v.hub.fm.persistFund(v.hub)
	event := Event{
		Type:      EventTradeExecuted,
		Fund:      v.hub.ID,
		Caller:    caller,
		Adapter:   adapterID,
		Timestamp: v.hub.fm.now().UnixNano(),
	}
	if len(result.Incoming) > 0 {
		event.Asset = result.Incoming[0].Asset
		event.Amount = result.Incoming[0].Amount.String()
	}
	v.hub.fm.emit(event)
	return result, nil
}

// checkReportedAmounts validates the adapter's fill report against the
// descriptor extents.
func (v *Vault) checkReportedAmounts(fill *OrderFill, result *FillResult) error {
	maxOut := make(map[string]*big.Int, len(fill.OutgoingAssets))
	for i, asset := range fill.OutgoingAssets {
		maxOut[asset] = fill.MaxOutgoing[i]
	}
	for _, out := range result.Outgoing {
		maxAmt, ok := maxOut[out.Asset]
		if !ok {
			return fmt.Errorf("%w: spent undeclared asset %s", ErrBalanceMismatch, out.Asset)
		}
		if out.Amount.Cmp(maxAmt) > 0 {
			return fmt.Errorf("%w: %s spend %s over maximum %s", ErrFillExceedsOrder, out.Asset, out.Amount, maxAmt)
		}
	}

	minIn := make(map[string]*big.Int, len(fill.IncomingAssets))
	for i, asset := range fill.IncomingAssets {
		minIn[asset] = fill.MinIncoming[i]
	}
	for _, in := range result.Incoming {
		minAmt, ok := minIn[in.Asset]
		if !ok {
			return fmt.Errorf("%w: received undeclared asset %s", ErrBalanceMismatch, in.Asset)
		}
		if in.Amount.Cmp(minAmt) < 0 {
			return fmt.Errorf("%w: %s received %s under minimum %s", ErrBelowMinimum, in.Asset, in.Amount, minAmt)
		}
	}
	return nil
}

// reconcile asserts the adapter retained no custody and the vault's actual
// balance movement matches the reported fill exactly.
func (v *Vault) reconcile(ledger AssetLedger, adapterID string, assets []string, preVault, preAdapter map[string]*big.Int, result *FillResult) error {
	expected := make(map[string]*big.Int, len(assets))
	for _, asset := range assets {
		expected[asset] = big.NewInt(0)
	}
	for _, in := range result.Incoming {
		if _, ok := expected[in.Asset]; !ok {
			expected[in.Asset] = big.NewInt(0)
		}
		expected[in.Asset].Add(expected[in.Asset], in.Amount)
	}
	for _, out := range result.Outgoing {
		if _, ok := expected[out.Asset]; !ok {
			expected[out.Asset] = big.NewInt(0)
		}
		expected[out.Asset].Sub(expected[out.Asset], out.Amount)
	}

	for asset, delta := range expected {
		post := ledger.BalanceOf(asset, v.account)
		pre, ok := preVault[asset]
		if !ok {
			pre = big.NewInt(0)
		}
		actual := new(big.Int).Sub(post, pre)
		if actual.Cmp(delta) != 0 {
			return fmt.Errorf("%w: vault %s moved %s, adapter reported %s", ErrBalanceMismatch, asset, actual, delta)
		}

		adapterPost := ledger.BalanceOf(asset, adapterID)
		adapterPre, ok := preAdapter[asset]
		if !ok {
			adapterPre = big.NewInt(0)
		}
		if adapterPost.Cmp(adapterPre) != 0 {
			return fmt.Errorf("%w: adapter retained %s custody (%s -> %s)", ErrBalanceMismatch, asset, adapterPre, adapterPost)
		}
	}
	return nil
}

// emitPolicyRejected assumes the hub lock is held.
func (v *Vault) emitPolicyRejected(caller, adapterID, policy string) {
	v.hub.fm.emit(Event{
		Type:      EventPolicyRejected,
		Fund:      v.hub.ID,
		Caller:    caller,
		Adapter:   adapterID,
		Policy:    policy,
		Timestamp: v.hub.fm.now().UnixNano(),
	})
}

func heldOrZero(held *big.Int) *big.Int {
	if held == nil {
		return big.NewInt(0)
	}
	return held
}

func zipAmounts(assets []string, amounts []*big.Int) []AssetAmount {
	out := make([]AssetAmount, len(assets))
	for i, asset := range assets {
		out[i] = AssetAmount{Asset: asset, Amount: amounts[i]}
	}
	return out
}

func assetsOf(amounts []AssetAmount) []string {
	out := make([]string, len(amounts))
	for i, a := range amounts {
		out[i] = a.Asset
	}
	return out
}
