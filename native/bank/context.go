package bank

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"leverbank/core/events"
)

// ExecContext is the transient execution state alive only during one Execute
// call. Spells receive it by parameter and call the lending primitives
// through it; every primitive re-validates whitelist, status and type locks
// on entry instead of assuming earlier checks still hold.
type ExecContext struct {
	engine   *Engine
	state    *Overlay
	caller   common.Address
	position *Position
	spell    string
	open     bool
}

// PositionID reports the position under execution.
func (c *ExecContext) PositionID() uint64 { return c.position.ID }

// Caller reports the principal that opened the execution.
func (c *ExecContext) Caller() common.Address { return c.caller }

func (c *ExecContext) require() error {
	if c == nil || !c.open {
		return errNotInExec
	}
	return nil
}

func (c *ExecContext) status() (BankStatus, error) {
	return c.state.BankStatus()
}

// Lend deposits isolated collateral into the bank's soft vault. The token
// locks in as the position's isolated collateral type on first use.
func (c *ExecContext) Lend(token common.Address, amount *big.Int) error {
	if err := c.require(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	status, err := c.status()
	if err != nil {
		return err
	}
	if !status.LendAllowed() {
		return errLendNotAllowed
	}
	listed, err := c.state.TokenListed(token)
	if err != nil {
		return err
	}
	if !listed {
		return errTokenNotWhitelisted
	}
	b, err := c.engine.listedBank(c.state, token)
	if err != nil {
		return err
	}
	pos := c.position
	if pos.IsolatedAmount.Sign() > 0 && pos.IsolatedToken != token {
		return errIncorrectUnderlying
	}
	vault, ok := c.engine.vaults[b.SoftVault]
	if !ok {
		return errVaultNotRegistered
	}
	if err := c.engine.transfer(c.state, token, c.caller, c.engine.treasury, amount); err != nil {
		return err
	}
	if _, err := vault.Deposit(amount); err != nil {
		return err
	}
	pos.IsolatedToken = token
	pos.IsolatedAmount = new(big.Int).Add(pos.IsolatedAmount, amount)
	if err := c.state.PutPosition(pos); err != nil {
		return err
	}
	c.state.QueueEvent(events.Lend{PositionID: pos.ID, Token: token, Amount: amount})
	return nil
}

// WithdrawLend releases isolated collateral back to the caller. MaxAmount
// withdraws everything.
func (c *ExecContext) WithdrawLend(token common.Address, amount *big.Int) error {
	if err := c.require(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	status, err := c.status()
	if err != nil {
		return err
	}
	if !status.WithdrawLendAllowed() {
		return errWithdrawLendNotAllowed
	}
	pos := c.position
	if pos.IsolatedAmount.Sign() == 0 || pos.IsolatedToken != token {
		return errIncorrectUnderlying
	}
	take := new(big.Int).Set(amount)
	if take.Cmp(pos.IsolatedAmount) > 0 {
		take = new(big.Int).Set(pos.IsolatedAmount)
	}
	b, err := c.engine.listedBank(c.state, token)
	if err != nil {
		return err
	}
	vault, ok := c.engine.vaults[b.SoftVault]
	if !ok {
		return errVaultNotRegistered
	}
	if _, err := vault.Withdraw(take); err != nil {
		return err
	}
	if err := c.engine.transfer(c.state, token, c.engine.treasury, c.caller, take); err != nil {
		return err
	}
	pos.IsolatedAmount = new(big.Int).Sub(pos.IsolatedAmount, take)
	if err := c.state.PutPosition(pos); err != nil {
		return err
	}
	c.state.QueueEvent(events.WithdrawLend{PositionID: pos.ID, Token: token, Amount: take})
	return nil
}

// Borrow draws debt from the token's bank against the position. The debt
// token locks in on first borrow.
func (c *ExecContext) Borrow(token common.Address, amount *big.Int) error {
	if err := c.require(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	status, err := c.status()
	if err != nil {
		return err
	}
	if !status.BorrowAllowed() {
		return errBorrowNotAllowed
	}
	listed, err := c.state.TokenListed(token)
	if err != nil {
		return err
	}
	if !listed {
		return errTokenNotWhitelisted
	}
	b, err := c.engine.listedBank(c.state, token)
	if err != nil {
		return err
	}
	if err := c.engine.accrueBank(c.state, b); err != nil {
		return err
	}
	pos := c.position
	if pos.DebtShare.Sign() > 0 && pos.DebtToken != token {
		return errIncorrectDebt
	}
	share := amountToShare(b, amount)
	if err := c.engine.transfer(c.state, token, c.engine.treasury, c.caller, amount); err != nil {
		return err
	}
	pos.DebtToken = token
	pos.DebtShare = new(big.Int).Add(pos.DebtShare, share)
	b.TotalShare = new(big.Int).Add(b.TotalShare, share)
	b.TotalDebt = new(big.Int).Add(b.TotalDebt, amount)
	if err := c.state.PutPosition(pos); err != nil {
		return err
	}
	if err := c.state.PutBank(b); err != nil {
		return err
	}
	c.state.QueueEvent(events.Borrow{PositionID: pos.ID, Token: token, Amount: amount, Share: share})
	return nil
}

// Repay pays down the position's debt. Amounts saturate at the outstanding
// debt; MaxAmount repays all.
func (c *ExecContext) Repay(token common.Address, amount *big.Int) error {
	if err := c.require(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	status, err := c.status()
	if err != nil {
		return err
	}
	if !status.RepayAllowed() {
		return errRepayNotAllowed
	}
	pos := c.position
	if pos.DebtShare.Sign() == 0 || pos.DebtToken != token {
		return errIncorrectDebt
	}
	b, err := c.engine.listedBank(c.state, token)
	if err != nil {
		return err
	}
	if err := c.engine.accrueBank(c.state, b); err != nil {
		return err
	}
	oldDebt := shareToAmount(b, pos.DebtShare)
	if oldDebt.Sign() == 0 {
		return errNoDebtToRepay
	}
	pay := new(big.Int).Set(amount)
	if pay.Cmp(oldDebt) > 0 {
		pay = new(big.Int).Set(oldDebt)
	}
	var burned *big.Int
	if pay.Cmp(oldDebt) == 0 {
		burned = new(big.Int).Set(pos.DebtShare)
	} else {
		burned = new(big.Int).Mul(pos.DebtShare, pay)
		burned.Quo(burned, oldDebt)
	}
	if err := c.engine.transfer(c.state, token, c.caller, c.engine.treasury, pay); err != nil {
		return err
	}
	pos.DebtShare = new(big.Int).Sub(pos.DebtShare, burned)
	b.TotalShare = new(big.Int).Sub(b.TotalShare, burned)
	b.TotalDebt = new(big.Int).Sub(b.TotalDebt, pay)
	if b.TotalDebt.Sign() < 0 {
		return errDebtUnderflow
	}
	if err := c.state.PutPosition(pos); err != nil {
		return err
	}
	if err := c.state.PutBank(b); err != nil {
		return err
	}
	c.state.QueueEvent(events.Repay{PositionID: pos.ID, Token: token, Amount: pay, Share: burned})
	return nil
}

// PutCollateral posts wrapped collateral receipts. The wrapped type and
// collateral id lock in once the position holds any.
func (c *ExecContext) PutCollateral(wrapped common.Address, collateralID, amount *big.Int) error {
	if err := c.require(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	if collateralID == nil {
		collateralID = big.NewInt(0)
	}
	_, allowed, err := c.state.WrappedUnderlying(wrapped)
	if err != nil {
		return err
	}
	if !allowed {
		return errColNotWhitelisted
	}
	pos := c.position
	if pos.CollateralAmount.Sign() > 0 &&
		(pos.CollateralToken != wrapped || pos.CollateralID.Cmp(collateralID) != 0) {
		return errDiffColExist
	}
	if err := c.engine.transfer(c.state, wrapped, c.caller, c.engine.treasury, amount); err != nil {
		return err
	}
	pos.CollateralToken = wrapped
	pos.CollateralID = new(big.Int).Set(collateralID)
	pos.CollateralAmount = new(big.Int).Add(pos.CollateralAmount, amount)
	if err := c.state.PutPosition(pos); err != nil {
		return err
	}
	c.state.QueueEvent(events.PutCollateral{
		PositionID:   pos.ID,
		WrappedToken: wrapped,
		CollateralID: collateralID,
		Amount:       amount,
	})
	return nil
}

// TakeCollateral removes wrapped collateral receipts back to the caller.
// MaxAmount takes everything.
func (c *ExecContext) TakeCollateral(amount *big.Int) error {
	if err := c.require(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	pos := c.position
	if pos.CollateralAmount.Sign() == 0 {
		return errInsufficientBalance
	}
	take := new(big.Int).Set(amount)
	if take.Cmp(pos.CollateralAmount) > 0 {
		take = new(big.Int).Set(pos.CollateralAmount)
	}
	if err := c.engine.transfer(c.state, pos.CollateralToken, c.engine.treasury, c.caller, take); err != nil {
		return err
	}
	pos.CollateralAmount = new(big.Int).Sub(pos.CollateralAmount, take)
	if err := c.state.PutPosition(pos); err != nil {
		return err
	}
	c.state.QueueEvent(events.TakeCollateral{
		PositionID:   pos.ID,
		WrappedToken: pos.CollateralToken,
		CollateralID: pos.CollateralID,
		Amount:       take,
	})
	return nil
}
