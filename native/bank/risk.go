package bank

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var zeroAddress common.Address

// RiskUnbounded is reported for a position carrying debt with no collateral
// value left to divide by.
var RiskUnbounded = new(big.Int).Mul(basisPoints, basisPoints)

// PositionValue prices the wrapped collateral (via its underlying token)
// plus the isolated collateral through the oracle.
func (e *Engine) PositionValue(id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, err := e.getPosition(id)
	if err != nil {
		return nil, err
	}
	return e.positionValue(e.state, pos)
}

// DebtValue converts the position's debt share into an amount at the bank's
// current ratio and prices it.
func (e *Engine) DebtValue(id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, err := e.getPosition(id)
	if err != nil {
		return nil, err
	}
	return e.debtValue(e.state, pos)
}

// IsolatedCollateralValue prices the isolated collateral alone.
func (e *Engine) IsolatedCollateralValue(id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, err := e.getPosition(id)
	if err != nil {
		return nil, err
	}
	if pos.IsolatedAmount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return e.oracle.GetValue(pos.IsolatedToken, pos.IsolatedAmount)
}

// PositionRisk reports debtValue / (positionValue * threshold / 10000) as a
// basis-point number. An empty position carries zero risk.
func (e *Engine) PositionRisk(id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, err := e.getPosition(id)
	if err != nil {
		return nil, err
	}
	debtVal, err := e.debtValue(e.state, pos)
	if err != nil {
		return nil, err
	}
	if debtVal.Sign() == 0 {
		return big.NewInt(0), nil
	}
	posVal, err := e.positionValue(e.state, pos)
	if err != nil {
		return nil, err
	}
	if posVal.Sign() == 0 {
		return new(big.Int).Set(RiskUnbounded), nil
	}
	b, err := e.listedBank(e.state, pos.DebtToken)
	if err != nil {
		return nil, err
	}
	num := new(big.Int).Mul(debtVal, basisPoints)
	num.Mul(num, basisPoints)
	den := new(big.Int).Mul(posVal, new(big.Int).SetUint64(b.LiquidationThreshold))
	return num.Quo(num, den), nil
}

// IsLiquidatable reports whether the position's debt value exceeds its
// collateral value scaled by the bank's liquidation threshold.
func (e *Engine) IsLiquidatable(id uint64) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, err := e.getPosition(id)
	if err != nil {
		return false, err
	}
	return e.liquidatable(e.state, pos)
}

func (e *Engine) positionValue(s State, pos *Position) (*big.Int, error) {
	total := big.NewInt(0)
	if pos.CollateralAmount.Sign() > 0 {
		underlying, _, err := s.WrappedUnderlying(pos.CollateralToken)
		if err != nil {
			return nil, err
		}
		if underlying == zeroAddress {
			return nil, errColNotWhitelisted
		}
		value, err := e.oracle.GetValue(underlying, pos.CollateralAmount)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	if pos.IsolatedAmount.Sign() > 0 {
		value, err := e.oracle.GetValue(pos.IsolatedToken, pos.IsolatedAmount)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

func (e *Engine) debtValue(s State, pos *Position) (*big.Int, error) {
	if pos.DebtShare.Sign() == 0 {
		return big.NewInt(0), nil
	}
	b, err := e.listedBank(s, pos.DebtToken)
	if err != nil {
		return nil, err
	}
	amount := shareToAmount(b, pos.DebtShare)
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return e.oracle.GetValue(pos.DebtToken, amount)
}

func (e *Engine) liquidatable(s State, pos *Position) (bool, error) {
	debtVal, err := e.debtValue(s, pos)
	if err != nil {
		return false, err
	}
	if debtVal.Sign() == 0 {
		return false, nil
	}
	posVal, err := e.positionValue(s, pos)
	if err != nil {
		return false, err
	}
	b, err := e.listedBank(s, pos.DebtToken)
	if err != nil {
		return false, err
	}
	lhs := new(big.Int).Mul(debtVal, basisPoints)
	rhs := new(big.Int).Mul(posVal, new(big.Int).SetUint64(b.LiquidationThreshold))
	return lhs.Cmp(rhs) > 0, nil
}
