package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Emitter receives domain events produced by the bank and oracle engines.
// Implementations must not retain the big.Int pointers beyond the call.
type Emitter interface {
	Emit(event any)
}

// EmitterFunc adapts ordinary functions to Emitter.
type EmitterFunc func(event any)

func (f EmitterFunc) Emit(event any) {
	if f != nil {
		f(event)
	}
}

// BankRegistered is emitted when a debt asset is listed with its vaults.
type BankRegistered struct {
	DebtToken            common.Address
	SoftVault            string
	HardVault            string
	LiquidationThreshold uint64
}

// BankStatusUpdated records a change of the global bank-status bitmask.
type BankStatusUpdated struct {
	Caller common.Address
	Status uint8
}

// TokenWhitelisted records an underlying token whitelist change.
type TokenWhitelisted struct {
	Token   common.Address
	Allowed bool
}

// WrappedTokenWhitelisted records a wrapped collateral type whitelist change.
type WrappedTokenWhitelisted struct {
	WrappedToken common.Address
	Underlying   common.Address
	Allowed      bool
}

// SpellWhitelisted records a strategy whitelist change.
type SpellWhitelisted struct {
	Spell   string
	Allowed bool
}

// ContractWhitelisted records a calling-contract whitelist change.
type ContractWhitelisted struct {
	Contract common.Address
	Allowed  bool
}

// Executed is emitted after a successful Execute call.
type Executed struct {
	PositionID uint64
	Owner      common.Address
	Spell      string
}

// Lend is emitted when isolated collateral is deposited.
type Lend struct {
	PositionID uint64
	Token      common.Address
	Amount     *big.Int
}

// WithdrawLend is emitted when isolated collateral is withdrawn.
type WithdrawLend struct {
	PositionID uint64
	Token      common.Address
	Amount     *big.Int
}

// Borrow is emitted when debt is drawn against a position.
type Borrow struct {
	PositionID uint64
	Token      common.Address
	Amount     *big.Int
	Share      *big.Int
}

// Repay is emitted when debt is repaid inside an execution.
type Repay struct {
	PositionID uint64
	Token      common.Address
	Amount     *big.Int
	Share      *big.Int
}

// PutCollateral is emitted when wrapped collateral is posted.
type PutCollateral struct {
	PositionID   uint64
	WrappedToken common.Address
	CollateralID *big.Int
	Amount       *big.Int
}

// TakeCollateral is emitted when wrapped collateral is removed.
type TakeCollateral struct {
	PositionID   uint64
	WrappedToken common.Address
	CollateralID *big.Int
	Amount       *big.Int
}

// Accrue is emitted when a bank's debt accounting is advanced.
type Accrue struct {
	DebtToken common.Address
	Interest  *big.Int
	TotalDebt *big.Int
}

// Liquidate is emitted when a liquidator repays an unhealthy position.
type Liquidate struct {
	PositionID     uint64
	Liquidator     common.Address
	DebtToken      common.Address
	Repaid         *big.Int
	SeizedWrapped  *big.Int
	SeizedIsolated *big.Int
	RemainingShare *big.Int
}

// OracleRoutesUpdated records a change of the core oracle route table.
type OracleRoutesUpdated struct {
	Tokens []common.Address
}

// OraclePaused records the router pause flag flipping.
type OraclePaused struct {
	Paused bool
}

// PrimarySourcesSet records an aggregator source-list update for a token.
type PrimarySourcesSet struct {
	Token           common.Address
	MaxDeviationBps uint64
	Sources         int
}

// LiquidationThresholdsSet records per-token threshold defaults on the router.
type LiquidationThresholdsSet struct {
	Tokens []common.Address
}
