package bank

import (
	"errors"
	"math/big"
	"testing"
)

// underwater drops the wrapped collateral's underlying price so the standard
// test position (50 DAI isolated, 100 wICHI, 80 USDC debt) breaches its 85%
// threshold: 0.2 * 100 + 50 = 70, and 70 * 0.85 = 59.5 < 80.
func underwater(env *testEnv) {
	env.oracle.setPrice(testICHI, new(big.Int).Quo(ether(1), big.NewInt(5)))
}

func TestLiquidateRejectsHealthyPosition(t *testing.T) {
	env := newTestEnv(t)
	id := openPosition(t, env)

	err := env.engine.Liquidate(testLiquidator, id, testUSDC, ether(10))
	if !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("err = %v, want %v", err, ErrNotLiquidatable)
	}
}

func TestLiquidateRejectsZeroAmount(t *testing.T) {
	env := newTestEnv(t)
	id := openPosition(t, env)
	underwater(env)

	if err := env.engine.Liquidate(testLiquidator, id, testUSDC, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero err = %v, want %v", err, ErrZeroAmount)
	}
	if err := env.engine.Liquidate(testLiquidator, id, testUSDC, nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("nil err = %v, want %v", err, ErrZeroAmount)
	}
}

func TestLiquidateRejectsDebtTokenMismatch(t *testing.T) {
	env := newTestEnv(t)
	id := openPosition(t, env)
	underwater(env)

	err := env.engine.Liquidate(testLiquidator, id, testDAI, ether(10))
	if !errors.Is(err, ErrIncorrectDebt) {
		t.Fatalf("err = %v, want %v", err, ErrIncorrectDebt)
	}
}

func TestLiquidateRespectsRepayStatusBit(t *testing.T) {
	env := newTestEnv(t)
	id := openPosition(t, env)
	underwater(env)
	mustNoErr(t, env.engine.SetBankStatus(testOwner, StatusFullyOperational&^StatusRepayAllowed))

	err := env.engine.Liquidate(testLiquidator, id, testUSDC, ether(10))
	if !errors.Is(err, ErrRepayNotAllowed) {
		t.Fatalf("err = %v, want %v", err, ErrRepayNotAllowed)
	}
}

func TestPartialLiquidationSeizesProportionally(t *testing.T) {
	env := newTestEnv(t)
	id := openPosition(t, env)
	underwater(env)

	// Repay half of the 80 USDC debt: half the wrapped collateral is seized,
	// the isolated collateral stays untouched.
	mustNoErr(t, env.engine.Liquidate(testLiquidator, id, testUSDC, ether(40)))

	pos, err := env.engine.GetPosition(id)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.DebtShare.Cmp(ether(40)) != 0 {
		t.Fatalf("debt share = %s, want 40e18", pos.DebtShare)
	}
	if pos.CollateralAmount.Cmp(ether(50)) != 0 {
		t.Fatalf("wrapped collateral = %s, want 50e18", pos.CollateralAmount)
	}
	if pos.IsolatedAmount.Cmp(ether(50)) != 0 {
		t.Fatalf("isolated collateral = %s, want untouched 50e18", pos.IsolatedAmount)
	}

	wrapped, _ := env.engine.BalanceOf(testLiquidator, testWICHI)
	if wrapped.Cmp(ether(50)) != 0 {
		t.Fatalf("liquidator wrapped = %s, want 50e18", wrapped)
	}
	isolated, _ := env.engine.BalanceOf(testLiquidator, testDAI)
	if isolated.Sign() != 0 {
		t.Fatalf("liquidator isolated = %s, want 0", isolated)
	}

	b, err := env.engine.GetBank(testUSDC)
	if err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if b.TotalDebt.Cmp(ether(40)) != 0 || b.TotalShare.Cmp(ether(40)) != 0 {
		t.Fatalf("bank totals: debt=%s share=%s, want 40e18 each", b.TotalDebt, b.TotalShare)
	}

	// The isolated collateral stayed put, so the vault keeps its deposit.
	if env.vault.withdrawn.Sign() != 0 {
		t.Fatalf("vault withdrawn = %s, want 0", env.vault.withdrawn)
	}
}

func TestFullLiquidationReleasesIsolatedCollateral(t *testing.T) {
	env := newTestEnv(t)
	id := openPosition(t, env)
	underwater(env)

	mustNoErr(t, env.engine.Liquidate(testLiquidator, id, testUSDC, ether(80)))

	pos, err := env.engine.GetPosition(id)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.DebtShare.Sign() != 0 {
		t.Fatalf("debt share = %s, want 0", pos.DebtShare)
	}
	if pos.CollateralAmount.Sign() != 0 || pos.IsolatedAmount.Sign() != 0 {
		t.Fatalf("collateral remains: wrapped=%s isolated=%s", pos.CollateralAmount, pos.IsolatedAmount)
	}

	wrapped, _ := env.engine.BalanceOf(testLiquidator, testWICHI)
	if wrapped.Cmp(ether(100)) != 0 {
		t.Fatalf("liquidator wrapped = %s, want 100e18", wrapped)
	}
	isolated, _ := env.engine.BalanceOf(testLiquidator, testDAI)
	if isolated.Cmp(ether(50)) != 0 {
		t.Fatalf("liquidator isolated = %s, want 50e18", isolated)
	}

	// Releasing the isolated collateral pulls the lend deposit back out of
	// the soft vault; the vault must not keep carrying it.
	if env.vault.withdrawn.Cmp(ether(50)) != 0 {
		t.Fatalf("vault withdrawn = %s, want the released 50e18", env.vault.withdrawn)
	}
}

func TestLiquidateSurfacesBankDebtUnderflow(t *testing.T) {
	env := newTestEnv(t)
	id := openPosition(t, env)
	underwater(env)

	// Shrink the share pool below the position's share. The rounded-up
	// repayment then exceeds the pooled debt, which must fail loudly instead
	// of silently zeroing other positions' debt.
	b, err := env.engine.state.GetBank(testUSDC)
	mustNoErr(t, err)
	b.TotalShare = ether(40)
	mustNoErr(t, env.engine.state.PutBank(b))

	err = env.engine.Liquidate(testLiquidator, id, testUSDC, MaxAmount)
	if !errors.Is(err, errDebtUnderflow) {
		t.Fatalf("err = %v, want %v", err, errDebtUnderflow)
	}

	after, err := env.engine.GetBank(testUSDC)
	mustNoErr(t, err)
	if after.TotalDebt.Cmp(ether(80)) != 0 {
		t.Fatalf("bank debt = %s, want untouched 80e18", after.TotalDebt)
	}
}

func TestLiquidateSaturatesRepayAtOutstandingDebt(t *testing.T) {
	env := newTestEnv(t)
	id := openPosition(t, env)
	underwater(env)

	before, _ := env.engine.BalanceOf(testLiquidator, testUSDC)
	mustNoErr(t, env.engine.Liquidate(testLiquidator, id, testUSDC, ether(5_000)))
	after, _ := env.engine.BalanceOf(testLiquidator, testUSDC)

	paid := new(big.Int).Sub(before, after)
	if paid.Cmp(ether(80)) != 0 {
		t.Fatalf("paid %s, want the outstanding 80e18", paid)
	}
	// Saturated repay is a full repay: isolated collateral is released too.
	isolated, _ := env.engine.BalanceOf(testLiquidator, testDAI)
	if isolated.Cmp(ether(50)) != 0 {
		t.Fatalf("liquidator isolated = %s, want 50e18", isolated)
	}
}

func TestLiquidateRejectsUnknownPosition(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.Liquidate(testLiquidator, 42, testUSDC, ether(10))
	if !errors.Is(err, ErrBadPosition) {
		t.Fatalf("err = %v, want %v", err, ErrBadPosition)
	}
}
