package fund

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// SelectorTakeOrder is the canonical order-taking selector.
const SelectorTakeOrder = "takeOrder"

// OrderFill is the canonical asset-flow descriptor every venue call is
// normalized into. It is constructed, validated and consumed within a
// single trading call and never persisted.
type OrderFill struct {
	IncomingAssets []string   // assets the vault expects to receive
	MinIncoming    []*big.Int // minimum acceptable amount per incoming asset
	OutgoingAssets []string   // assets the vault will spend
	MaxOutgoing    []*big.Int // maximum spend per outgoing asset
	Targets        []string   // account approved to pull each outgoing asset
}

func (f *OrderFill) validate() error {
	if len(f.IncomingAssets) != len(f.MinIncoming) {
		return fmt.Errorf("fill descriptor: %d incoming assets, %d minimums", len(f.IncomingAssets), len(f.MinIncoming))
	}
	if len(f.OutgoingAssets) != len(f.MaxOutgoing) || len(f.OutgoingAssets) != len(f.Targets) {
		return fmt.Errorf("fill descriptor: outgoing assets, maximums and targets must align")
	}
	for i, asset := range f.IncomingAssets {
		if asset == "" || f.MinIncoming[i] == nil || f.MinIncoming[i].Sign() < 0 {
			return fmt.Errorf("fill descriptor: invalid incoming leg %d", i)
		}
	}
	for i, asset := range f.OutgoingAssets {
		if asset == "" || f.MaxOutgoing[i] == nil || f.MaxOutgoing[i].Sign() <= 0 || f.Targets[i] == "" {
			return fmt.Errorf("fill descriptor: invalid outgoing leg %d", i)
		}
	}
	return nil
}

// assets returns every asset named by the descriptor, deduplicated.
func (f *OrderFill) assets() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(f.IncomingAssets)+len(f.OutgoingAssets))
	for _, lists := range [][]string{f.IncomingAssets, f.OutgoingAssets} {
		for _, asset := range lists {
			if !seen[asset] {
				seen[asset] = true
				out = append(out, asset)
			}
		}
	}
	return out
}

// FillResult is what an adapter reports back after executing a venue call.
type FillResult struct {
	Incoming []AssetAmount
	Outgoing []AssetAmount
}

// Adapter normalizes one external trading venue into the canonical fill
// contract. Encoded args come from outside the trust boundary. An
// adapter's Identifier doubles as its ledger account; the vault asserts
// that account holds no fund value after a call.
type Adapter interface {
	Identifier() string

	// ParseIncomingAssets reports which assets the call would receive,
	// without executing it. Used for pre-trade policy checks.
	ParseIncomingAssets(selector string, args []byte) ([]string, error)

	// ParseFill decodes venue-specific args into the canonical descriptor.
	ParseFill(selector string, args []byte) (*OrderFill, error)

	// TakeOrder executes the venue call against the ledger, spending at
	// most the descriptor maximums out of vaultAccount, and reports the
	// actual amounts moved.
	TakeOrder(selector string, args []byte, vaultAccount string, ledger AssetLedger) (*FillResult, error)
}

// otcOrderArgs is the wire form of an OTC order. Amounts are decimal
// strings.
type otcOrderArgs struct {
	SpendAsset   string `json:"spendAsset"`
	SpendAmount  string `json:"spendAmount"`
	ReceiveAsset string `json:"receiveAsset"`
	MinReceive   string `json:"minReceive"`
}

// OTCAdapter is a reference venue: a fixed-quote over-the-counter desk.
// The adapter account (its Identifier) is a pass-through the vault audits
// back to baseline; the desk's inventory sits in a separate account that
// acts as the counterparty.
type OTCAdapter struct {
	id        string
	inventory string
	rates     map[string]decimal.Decimal // spend|receive -> receive per spend unit
	mu        sync.RWMutex
}

// NewOTCAdapter creates an OTC desk. id is the adapter's ledger account,
// inventory the counterparty account its quotes settle against.
func NewOTCAdapter(id, inventory string) *OTCAdapter {
	return &OTCAdapter{id: id, inventory: inventory, rates: make(map[string]decimal.Decimal)}
}

// SetRate quotes how many units of receive one unit of spend buys.
func (o *OTCAdapter) SetRate(spend, receive string, rate decimal.Decimal) {
	o.mu.Lock()
	o.rates[rateKey(spend, receive)] = rate
	o.mu.Unlock()
}

// Identifier implements Adapter.
func (o *OTCAdapter) Identifier() string { return o.id }

// ParseIncomingAssets implements Adapter.
func (o *OTCAdapter) ParseIncomingAssets(selector string, args []byte) ([]string, error) {
	order, err := o.decode(selector, args)
	if err != nil {
		return nil, err
	}
	return []string{order.ReceiveAsset}, nil
}

// ParseFill implements Adapter.
func (o *OTCAdapter) ParseFill(selector string, args []byte) (*OrderFill, error) {
	order, err := o.decode(selector, args)
	if err != nil {
		return nil, err
	}
	spend, err := parseAmount(order.SpendAmount)
	if err != nil {
		return nil, fmt.Errorf("spendAmount: %w", err)
	}
	minReceive, err := parseAmount(order.MinReceive)
	if err != nil {
		return nil, fmt.Errorf("minReceive: %w", err)
	}
	return &OrderFill{
		IncomingAssets: []string{order.ReceiveAsset},
		MinIncoming:    []*big.Int{minReceive},
		OutgoingAssets: []string{order.SpendAsset},
		MaxOutgoing:    []*big.Int{spend},
		Targets:        []string{o.id},
	}, nil
}

// TakeOrder implements Adapter. The desk pulls the spend leg through its
// approval, quotes the receive leg at its configured rate and delivers it
// out of inventory in the same call.
func (o *OTCAdapter) TakeOrder(selector string, args []byte, vaultAccount string, ledger AssetLedger) (*FillResult, error) {
	fill, err := o.ParseFill(selector, args)
	if err != nil {
		return nil, err
	}
	spendAsset := fill.OutgoingAssets[0]
	receiveAsset := fill.IncomingAssets[0]
	spend := fill.MaxOutgoing[0]

	o.mu.RLock()
	rate, ok := o.rates[rateKey(spendAsset, receiveAsset)]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("otc %s: no quote for %s/%s", o.id, spendAsset, receiveAsset)
	}

	receive := valueAtRate(spend, rate)
	if receive.Cmp(fill.MinIncoming[0]) < 0 {
		return nil, fmt.Errorf("otc %s: quote yields %s %s, below minimum %s", o.id, receive, receiveAsset, fill.MinIncoming[0])
	}

	if err := ledger.TransferFrom(spendAsset, o.id, vaultAccount, o.inventory, spend); err != nil {
		return nil, fmt.Errorf("otc %s: pulling spend leg: %w", o.id, err)
	}
	if err := ledger.Transfer(receiveAsset, o.inventory, vaultAccount, receive); err != nil {
		return nil, fmt.Errorf("otc %s: delivering receive leg: %w", o.id, err)
	}

	return &FillResult{
		Incoming: []AssetAmount{{Asset: receiveAsset, Amount: receive}},
		Outgoing: []AssetAmount{{Asset: spendAsset, Amount: spend}},
	}, nil
}

func (o *OTCAdapter) decode(selector string, args []byte) (*otcOrderArgs, error) {
	if selector != SelectorTakeOrder {
		return nil, fmt.Errorf("otc %s: unsupported selector %q", o.id, selector)
	}
	var order otcOrderArgs
	if err := json.Unmarshal(args, &order); err != nil {
		return nil, fmt.Errorf("otc %s: malformed args: %w", o.id, err)
	}
	if order.SpendAsset == "" || order.ReceiveAsset == "" {
		return nil, fmt.Errorf("otc %s: order names empty assets", o.id)
	}
	return &order, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer: %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", s)
	}
	return v, nil
}
