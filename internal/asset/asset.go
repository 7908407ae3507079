// Package asset defines the collateral token capability the engine settles
// in, plus an in-memory ledger implementation for tests and single-node
// deployments. Any transfer failure is fatal to the enclosing operation.
package asset

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the
	// sender's balance.
	ErrInsufficientBalance = errors.New("asset: insufficient balance")

	// ErrInsufficientAllowance is returned when a TransferFrom exceeds the
	// spender's approved allowance.
	ErrInsufficientAllowance = errors.New("asset: insufficient allowance")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("asset: amount must be positive")

	// ErrBelowMinimumMint is returned when a mint is smaller than the
	// configured minimum.
	ErrBelowMinimumMint = errors.New("asset: mint below minimum amount")

	// ErrInsufficientCollateral is returned when a redeem would break the
	// collateral ratio.
	ErrInsufficientCollateral = errors.New("asset: insufficient collateral reserve")
)

// Asset is the fungible collateral capability consumed by the engine.
// Amounts are whole base units carried as decimals.
type Asset interface {
	Transfer(from, to string, amount decimal.Decimal) error
	TransferFrom(spender, from, to string, amount decimal.Decimal) error
	Approve(owner, spender string, amount decimal.Decimal) error
	Allowance(owner, spender string) decimal.Decimal
	BalanceOf(account string) decimal.Decimal

	// Mint issues tokens against deposited collateral; Redeem burns them
	// and releases collateral per the ratio.
	Mint(to string, collateral decimal.Decimal) (minted decimal.Decimal, err error)
	Redeem(from string, amount decimal.Decimal) (released decimal.Decimal, err error)

	// CollateralRatioBps and MinMintAmount expose the mint/redeem policy.
	CollateralRatioBps() int64
	MinMintAmount() decimal.Decimal
}
