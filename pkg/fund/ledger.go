package fund

import (
	"fmt"
	"math/big"
	"sync"
)

// AssetLedger is the external token ledger the core settles against.
// Concrete token implementations live outside the core; the snapshot and
// revert pair is what gives trading calls their all-or-nothing semantics.
type AssetLedger interface {
	BalanceOf(asset, account string) *big.Int
	Transfer(asset, from, to string, amount *big.Int) error
	TransferFrom(asset, spender, from, to string, amount *big.Int) error
	Approve(asset, owner, spender string, amount *big.Int)
	Allowance(asset, owner, spender string) *big.Int

	// Snapshot returns a revision that RevertToSnapshot restores. Reverting
	// discards every balance and allowance change made after the snapshot.
	// A snapshot that commits instead must be released with DiscardSnapshot
	// so the ledger does not retain it.
	Snapshot() int
	RevertToSnapshot(rev int)
	DiscardSnapshot(rev int)
}

type ledgerState struct {
	balances   map[string]map[string]*big.Int            // asset -> account -> balance
	allowances map[string]map[string]map[string]*big.Int // asset -> owner -> spender
}

// MemoryLedger is an in-memory AssetLedger used by tests and the demo node.
type MemoryLedger struct {
	state     ledgerState
	snapshots []ledgerState
	mu        sync.RWMutex
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{state: newLedgerState()}
}

func newLedgerState() ledgerState {
	return ledgerState{
		balances:   make(map[string]map[string]*big.Int),
		allowances: make(map[string]map[string]map[string]*big.Int),
	}
}

func (s ledgerState) clone() ledgerState {
	c := newLedgerState()
	for asset, accounts := range s.balances {
		c.balances[asset] = make(map[string]*big.Int, len(accounts))
		for acct, bal := range accounts {
			c.balances[asset][acct] = new(big.Int).Set(bal)
		}
	}
	for asset, owners := range s.allowances {
		c.allowances[asset] = make(map[string]map[string]*big.Int, len(owners))
		for owner, spenders := range owners {
			c.allowances[asset][owner] = make(map[string]*big.Int, len(spenders))
			for spender, amt := range spenders {
				c.allowances[asset][owner][spender] = new(big.Int).Set(amt)
			}
		}
	}
	return c
}

// Mint credits new units of an asset to an account.
func (l *MemoryLedger) Mint(asset, account string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, account, amount)
}

// BalanceOf returns the account's balance of an asset.
func (l *MemoryLedger) BalanceOf(asset, account string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if accounts, ok := l.state.balances[asset]; ok {
		if bal, ok := accounts[account]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return big.NewInt(0)
}

// Transfer moves amount of asset from one account to another.
func (l *MemoryLedger) Transfer(asset, from, to string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(asset, from, to, amount)
}

// TransferFrom moves amount on behalf of spender, consuming allowance.
func (l *MemoryLedger) TransferFrom(asset, spender, from, to string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowance(asset, from, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowance %s < %s", ErrAllowanceTooLow, asset, allowed, amount)
	}
	if err := l.transfer(asset, from, to, amount); err != nil {
		return err
	}
	l.setAllowance(asset, from, spender, new(big.Int).Sub(allowed, amount))
	return nil
}

// Approve sets spender's allowance over owner's balance of asset.
func (l *MemoryLedger) Approve(asset, owner, spender string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(asset, owner, spender, copyBig(amount))
}

// Allowance returns spender's remaining allowance over owner's asset.
func (l *MemoryLedger) Allowance(asset, owner, spender string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.allowance(asset, owner, spender))
}

// Snapshot records the current ledger state and returns its revision.
func (l *MemoryLedger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = append(l.snapshots, l.state.clone())
	return len(l.snapshots) - 1
}

// RevertToSnapshot restores the state captured at rev and drops later
// snapshots. Unknown revisions are ignored.
func (l *MemoryLedger) RevertToSnapshot(rev int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rev < 0 || rev >= len(l.snapshots) {
		return
	}
	l.state = l.snapshots[rev]
	l.snapshots = l.snapshots[:rev]
}

// DiscardSnapshot releases the snapshot at rev and any taken after it,
// keeping the current state. Unknown revisions are ignored.
func (l *MemoryLedger) DiscardSnapshot(rev int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rev < 0 || rev >= len(l.snapshots) {
		return
	}
	l.snapshots = l.snapshots[:rev]
}

func (l *MemoryLedger) transfer(asset, from, to string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer of %s", asset)
	}
	bal := l.balance(asset, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s balance: %s < %s", asset, bal, amount)
	}
	bal.Sub(bal, amount)
	l.credit(asset, to, amount)
	return nil
}

func (l *MemoryLedger) balance(asset, account string) *big.Int {
	accounts, ok := l.state.balances[asset]
	if !ok {
		accounts = make(map[string]*big.Int)
		l.state.balances[asset] = accounts
	}
	bal, ok := accounts[account]
	if !ok {
		bal = big.NewInt(0)
		accounts[account] = bal
	}
	return bal
}

func (l *MemoryLedger) credit(asset, account string, amount *big.Int) {
	bal := l.balance(asset, account)
	bal.Add(bal, amount)
}

func (l *MemoryLedger) allowance(asset, owner, spender string) *big.Int {
	if owners, ok := l.state.allowances[asset]; ok {
		if spenders, ok := owners[owner]; ok {
			if amt, ok := spenders[spender]; ok {
				return amt
			}
		}
	}
	return big.NewInt(0)
}

func (l *MemoryLedger) setAllowance(asset, owner, spender string, amount *big.Int) {
	owners, ok := l.state.allowances[asset]
	if !ok {
		owners = make(map[string]map[string]*big.Int)
		l.state.allowances[asset] = owners
	}
	spenders, ok := owners[owner]
	if !ok {
		spenders = make(map[string]*big.Int)
		owners[owner] = spenders
	}
	spenders[spender] = amount
}
