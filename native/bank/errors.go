package bank

import "errors"

var (
	errNilState         = errors.New("bank engine: state not configured")
	errNilOracle        = errors.New("bank engine: oracle not configured")
	errNotOwner         = errors.New("bank engine: caller is not the owner")
	errReentrant        = errors.New("bank engine: reentrant execution")
	errNotInExec        = errors.New("bank engine: no active execution context")
	errBadPosition      = errors.New("bank engine: position does not exist")
	errNotPositionOwner = errors.New("bank engine: caller does not own position")

	errSpellNotRegistered   = errors.New("bank engine: spell not registered")
	errSpellNotWhitelisted  = errors.New("bank engine: spell not whitelisted")
	errCallerNotWhitelisted = errors.New("bank engine: caller not whitelisted")
	errTokenNotWhitelisted  = errors.New("bank engine: token not whitelisted")
	errColNotWhitelisted    = errors.New("bank engine: collateral type not whitelisted")
	errOracleNoSupport      = errors.New("bank engine: oracle does not support token")

	errBankAlreadyListed  = errors.New("bank engine: bank already listed")
	errBankNotListed      = errors.New("bank engine: bank not listed")
	errVaultNotRegistered = errors.New("bank engine: vault not registered")
	errInvalidThreshold   = errors.New("bank engine: liquidation threshold out of range")

	errZeroAddress    = errors.New("bank engine: zero address")
	errZeroAmount     = errors.New("bank engine: amount must be positive")
	errLengthMismatch = errors.New("bank engine: array length mismatch")

	errBorrowNotAllowed       = errors.New("bank engine: borrow not allowed")
	errRepayNotAllowed        = errors.New("bank engine: repay not allowed")
	errLendNotAllowed         = errors.New("bank engine: lend not allowed")
	errWithdrawLendNotAllowed = errors.New("bank engine: withdraw lend not allowed")

	errIncorrectDebt       = errors.New("bank engine: debt token mismatch")
	errIncorrectUnderlying = errors.New("bank engine: underlying token mismatch")
	errDiffColExist        = errors.New("bank engine: different collateral already exists")

	errInsufficientBalance    = errors.New("bank engine: insufficient balance")
	errInsufficientLiquidity  = errors.New("bank engine: insufficient liquidity")
	errInsufficientCollateral = errors.New("bank engine: insufficient collateral after execution")
	errNoDebtToRepay          = errors.New("bank engine: no outstanding debt to repay")
	errNotLiquidatable        = errors.New("bank engine: position not eligible for liquidation")
	errDebtUnderflow          = errors.New("bank engine: repayment exceeds bank debt")
)

// Exported aliases for callers that need to branch on failure reasons.
var (
	ErrReentrant              = errReentrant
	ErrNotInExec              = errNotInExec
	ErrBadPosition            = errBadPosition
	ErrNotPositionOwner       = errNotPositionOwner
	ErrSpellNotWhitelisted    = errSpellNotWhitelisted
	ErrCallerNotWhitelisted   = errCallerNotWhitelisted
	ErrTokenNotWhitelisted    = errTokenNotWhitelisted
	ErrBankNotListed          = errBankNotListed
	ErrBankAlreadyListed      = errBankAlreadyListed
	ErrZeroAmount             = errZeroAmount
	ErrIncorrectDebt          = errIncorrectDebt
	ErrIncorrectUnderlying    = errIncorrectUnderlying
	ErrDiffColExist           = errDiffColExist
	ErrInsufficientCollateral = errInsufficientCollateral
	ErrNotLiquidatable        = errNotLiquidatable
	ErrRepayNotAllowed        = errRepayNotAllowed
	ErrBorrowNotAllowed       = errBorrowNotAllowed
	ErrLendNotAllowed         = errLendNotAllowed
	ErrWithdrawLendNotAllowed = errWithdrawLendNotAllowed
	ErrInvalidThreshold       = errInvalidThreshold
	ErrOracleNoSupport        = errOracleNoSupport
	ErrNotOwner               = errNotOwner
)
