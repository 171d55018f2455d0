package fund

import (
	"fmt"
	"math/big"
)

// Gated selectors with fund-level policy hooks.
const (
	SelectorRequestShares = "requestShares"
)

// PolicyHook selects when a policy runs relative to the gated call.
type PolicyHook int

const (
	HookPre PolicyHook = iota
	HookPost
)

// PolicyContext is what a policy sees about the gated call. Pre-call
// policies observe requested extents (max spend, expected incoming); post
// hooks observe actual fill amounts.
type PolicyContext struct {
	Fund     string
	Caller   string
	Selector string
	Args     []byte
	Adapter  string
	Incoming []string
	Outgoing []AssetAmount
	Post     bool

	// Rejected is set by the policy run to the name of the first failing
	// policy, for the rejection event.
	Rejected string
}

// Policy is a named read-only predicate over a gated call. Policies never
// mutate fund state.
type Policy interface {
	Name() string
	Validate(ctx *PolicyContext) bool
}

// PolicyManager holds the ordered pre- and post-call policy sets per gated
// selector. A single failing policy aborts the enclosing call.
type PolicyManager struct {
	hub  *Hub
	pre  map[string][]Policy
	post map[string][]Policy
}

func newPolicyManager(h *Hub) *PolicyManager {
	return &PolicyManager{
		hub:  h,
		pre:  make(map[string][]Policy),
		post: make(map[string][]Policy),
	}
}

// UpdatePolicySettings replaces the policy set for a selector and hook.
// Manager only.
func (p *PolicyManager) UpdatePolicySettings(caller, selector string, hook PolicyHook, policies []Policy) error {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if err := p.hub.requireManager(caller); err != nil {
		return err
	}
	set := append([]Policy(nil), policies...)
	if hook == HookPost {
		p.post[selector] = set
	} else {
		p.pre[selector] = set
	}
	return nil
}

// PoliciesFor returns the registered policy set for a selector and hook.
func (p *PolicyManager) PoliciesFor(selector string, hook PolicyHook) []Policy {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if hook == HookPost {
		return append([]Policy(nil), p.post[selector]...)
	}
	return append([]Policy(nil), p.pre[selector]...)
}

// runPre assumes the hub lock is held.
func (p *PolicyManager) runPre(ctx *PolicyContext) error {
	ctx.Post = false
	return runPolicies(p.pre[ctx.Selector], ctx)
}

// runPost assumes the hub lock is held.
func (p *PolicyManager) runPost(ctx *PolicyContext) error {
	ctx.Post = true
	return runPolicies(p.post[ctx.Selector], ctx)
}

func runPolicies(set []Policy, ctx *PolicyContext) error {
	for _, pol := range set {
		if !pol.Validate(ctx) {
			ctx.Rejected = pol.Name()
			return fmt.Errorf("%w: %s", ErrPolicyRejected, pol.Name())
		}
	}
	return nil
}

// AdapterAllowList permits trading only through named adapters.
type AdapterAllowList struct {
	Allowed map[string]bool
}

func (a *AdapterAllowList) Name() string { return "adapter-allowlist" }

func (a *AdapterAllowList) Validate(ctx *PolicyContext) bool {
	return a.Allowed[ctx.Adapter]
}

// AssetAllowList permits trades whose incoming assets are all on the list.
type AssetAllowList struct {
	Allowed map[string]bool
}

func (a *AssetAllowList) Name() string { return "asset-allowlist" }

func (a *AssetAllowList) Validate(ctx *PolicyContext) bool {
	for _, asset := range ctx.Incoming {
		if !a.Allowed[asset] {
			return false
		}
	}
	return true
}

// MaxTradeSpend caps the per-asset spend of a single trade. Pre-call it
// bounds the order maximum, post-call the actual spend.
type MaxTradeSpend struct {
	Max *big.Int
}

func (m *MaxTradeSpend) Name() string { return "max-trade-spend" }

func (m *MaxTradeSpend) Validate(ctx *PolicyContext) bool {
	for _, out := range ctx.Outgoing {
		if out.Amount != nil && out.Amount.Cmp(m.Max) > 0 {
			return false
		}
	}
	return true
}

// InvestorAllowList restricts who may request shares in the fund.
type InvestorAllowList struct {
	Allowed map[string]bool
}

func (i *InvestorAllowList) Name() string { return "investor-allowlist" }

func (i *InvestorAllowList) Validate(ctx *PolicyContext) bool {
	return i.Allowed[ctx.Caller]
}
