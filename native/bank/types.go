package bank

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BankStatus is the process-wide bitmask gating the four lending primitives.
// Flags compose independently; value 15 is fully operational, 0 fully frozen.
type BankStatus uint8

const (
	StatusBorrowAllowed BankStatus = 1 << iota
	StatusRepayAllowed
	StatusLendAllowed
	StatusWithdrawLendAllowed

	StatusFullyOperational = StatusBorrowAllowed | StatusRepayAllowed |
		StatusLendAllowed | StatusWithdrawLendAllowed
)

func (s BankStatus) BorrowAllowed() bool       { return s&StatusBorrowAllowed != 0 }
func (s BankStatus) RepayAllowed() bool        { return s&StatusRepayAllowed != 0 }
func (s BankStatus) LendAllowed() bool         { return s&StatusLendAllowed != 0 }
func (s BankStatus) WithdrawLendAllowed() bool { return s&StatusWithdrawLendAllowed != 0 }

// Bank captures the per-debt-asset configuration and the cumulative
// share/debt accounting pair used for interest accrual. Amounts are wei
// denominated big integers to match on-chain precision.
type Bank struct {
	DebtToken common.Address
	IsListed  bool
	// SoftVault and HardVault name registered vault handles holding idle
	// lending liquidity. Listed banks always reference both.
	SoftVault string
	HardVault string
	// LiquidationThreshold is expressed in basis points within
	// (minThreshold, 10000].
	LiquidationThreshold uint64
	// TotalShare and TotalDebt convert a position's debt share into an
	// amount at read time via the share/debt ratio.
	TotalShare *big.Int
	TotalDebt  *big.Int
	// LastAccrueTime is the unix second when the debt pool last accrued.
	LastAccrueTime uint64
}

// Position is a ledger entry pairing isolated collateral, wrapped collateral
// receipts and a debt share against one debt asset. Ids are allocated
// monotonically starting at 1; records are never physically deleted.
type Position struct {
	ID    uint64
	Owner common.Address
	// CollateralToken is the wrapped collateral receipt type and
	// CollateralID the sub-identifier distinguishing variants within it.
	// Both are locked in once CollateralAmount is non-zero.
	CollateralToken  common.Address
	CollateralID     *big.Int
	CollateralAmount *big.Int
	// DebtToken is locked in once DebtShare is non-zero.
	DebtToken common.Address
	DebtShare *big.Int
	// Isolated collateral acts as a first-loss buffer and is only released
	// in full when a liquidation repays the entire debt.
	IsolatedToken  common.Address
	IsolatedAmount *big.Int
}

func (p *Position) normalize() {
	if p.CollateralID == nil {
		p.CollateralID = big.NewInt(0)
	}
	if p.CollateralAmount == nil {
		p.CollateralAmount = big.NewInt(0)
	}
	if p.DebtShare == nil {
		p.DebtShare = big.NewInt(0)
	}
	if p.IsolatedAmount == nil {
		p.IsolatedAmount = big.NewInt(0)
	}
}

func (b *Bank) normalize() {
	if b.TotalShare == nil {
		b.TotalShare = big.NewInt(0)
	}
	if b.TotalDebt == nil {
		b.TotalDebt = big.NewInt(0)
	}
}

// Vault is the external soft/hard vault boundary holding idle lending
// liquidity. Implementations must reject zero-amount calls.
type Vault interface {
	Deposit(amount *big.Int) (*big.Int, error)
	Withdraw(shares *big.Int) (*big.Int, error)
	BalanceOfUnderlying(holder common.Address) (*big.Int, error)
	// BorrowRateBps reports the annualized interest rate applied to the
	// outstanding debt pool, in basis points.
	BorrowRateBps() uint64
}

// Spell is a strategy module invoked only through Execute. It calls back into
// the bank primitives through the supplied execution context.
type Spell interface {
	Execute(ctx *ExecContext, payload []byte) error
}

// OracleSource is the valuation boundary the bank depends on for every
// solvency decision.
type OracleSource interface {
	GetPrice(token common.Address) (*big.Int, error)
	GetValue(token common.Address, amount *big.Int) (*big.Int, error)
	IsTokenSupported(token common.Address) bool
	// LiquidationThreshold returns the router's stored per-token threshold
	// default, 0 when unset.
	LiquidationThreshold(token common.Address) uint64
}
