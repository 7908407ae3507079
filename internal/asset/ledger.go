package asset

import (
	"sync"

	"github.com/shopspring/decimal"
)

// LedgerToken implements Asset with in-memory maps guarded by a mutex.
// Tokens are minted 1:ratio against a collateral reserve; the reserve is
// tracked so redeems cannot release more collateral than was deposited.
type LedgerToken struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	allowances map[string]map[string]decimal.Decimal // owner → spender → amount
	reserve    decimal.Decimal
	supply     decimal.Decimal
	ratioBps   int64
	minMint    decimal.Decimal
}

// NewLedgerToken creates an empty token ledger. ratioBps is the collateral
// ratio in basis points (10000 = fully collateralized); minMint is the
// smallest accepted mint.
func NewLedgerToken(ratioBps int64, minMint decimal.Decimal) *LedgerToken {
	if ratioBps <= 0 {
		ratioBps = 10000
	}
	return &LedgerToken{
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
		ratioBps:   ratioBps,
		minMint:    minMint,
	}
}

func (t *LedgerToken) Transfer(from, to string, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *LedgerToken) TransferFrom(spender, from, to string, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	allowed := t.allowances[from][spender]
	if allowed.LessThan(amount) {
		return ErrInsufficientAllowance
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][spender] = allowed.Sub(amount)
	return nil
}

func (t *LedgerToken) Approve(owner, spender string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[string]decimal.Decimal)
	}
	t.allowances[owner][spender] = amount
	return nil
}

func (t *LedgerToken) Allowance(owner, spender string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner][spender]
}

func (t *LedgerToken) BalanceOf(account string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account]
}

// Mint issues collateral*10000/ratioBps tokens to the recipient.
func (t *LedgerToken) Mint(to string, collateral decimal.Decimal) (decimal.Decimal, error) {
	if !collateral.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	minted := collateral.Mul(decimal.NewFromInt(10000)).Div(decimal.NewFromInt(t.ratioBps)).Floor()
	if minted.LessThan(t.minMint) {
		return decimal.Zero, ErrBelowMinimumMint
	}
	t.reserve = t.reserve.Add(collateral)
	t.supply = t.supply.Add(minted)
	t.balances[to] = t.balances[to].Add(minted)
	return minted, nil
}

// Redeem burns tokens and releases the proportional collateral.
func (t *LedgerToken) Redeem(from string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.balances[from].LessThan(amount) {
		return decimal.Zero, ErrInsufficientBalance
	}
	released := amount.Mul(decimal.NewFromInt(t.ratioBps)).Div(decimal.NewFromInt(10000)).Floor()
	if released.GreaterThan(t.reserve) {
		return decimal.Zero, ErrInsufficientCollateral
	}
	t.balances[from] = t.balances[from].Sub(amount)
	t.supply = t.supply.Sub(amount)
	t.reserve = t.reserve.Sub(released)
	return released, nil
}

func (t *LedgerToken) CollateralRatioBps() int64 {
	return t.ratioBps
}

func (t *LedgerToken) MinMintAmount() decimal.Decimal {
	return t.minMint
}

// SetBalance seeds an account directly. Test and bootstrap helper; bypasses
// the collateral reserve.
func (t *LedgerToken) SetBalance(account string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] = amount
}

// move transfers balance between accounts. Caller holds the lock.
func (t *LedgerToken) move(from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if t.balances[from].LessThan(amount) {
		return ErrInsufficientBalance
	}
	t.balances[from] = t.balances[from].Sub(amount)
	t.balances[to] = t.balances[to].Add(amount)
	return nil
}
