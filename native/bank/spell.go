package bank

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BasicSpellID is the handle the built-in strategy registers under.
const BasicSpellID = "basic"

var errBadSpellPayload = errors.New("basic spell: malformed payload")

// BasicSpellPayload drives the built-in open/adjust/close strategy. Amounts
// are decimal strings; absent or zero amounts skip the corresponding step.
type BasicSpellPayload struct {
	Token        common.Address `json:"token"`
	WrappedToken common.Address `json:"wrappedToken"`
	CollateralID string         `json:"collateralId"`

	LendAmount       string `json:"lendAmount"`
	CollateralAmount string `json:"collateralAmount"`
	BorrowAmount     string `json:"borrowAmount"`

	RepayAmount    string `json:"repayAmount"`
	TakeAmount     string `json:"takeAmount"`
	WithdrawAmount string `json:"withdrawAmount"`
}

// BasicSpell is a minimal strategy exercising every bank primitive: deposit
// isolated collateral, post wrapped collateral, draw debt, and the reverse.
// Real yield strategies live outside the engine behind the same interface.
type BasicSpell struct{}

func (BasicSpell) Execute(ctx *ExecContext, payload []byte) error {
	var p BasicSpellPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errBadSpellPayload
	}
	collateralID, err := parseAmount(p.CollateralID)
	if err != nil {
		return err
	}

	if amount, err := parseAmount(p.LendAmount); err != nil {
		return err
	} else if amount.Sign() > 0 {
		if err := ctx.Lend(p.Token, amount); err != nil {
			return err
		}
	}
	if amount, err := parseAmount(p.CollateralAmount); err != nil {
		return err
	} else if amount.Sign() > 0 {
		if err := ctx.PutCollateral(p.WrappedToken, collateralID, amount); err != nil {
			return err
		}
	}
	if amount, err := parseAmount(p.BorrowAmount); err != nil {
		return err
	} else if amount.Sign() > 0 {
		if err := ctx.Borrow(p.Token, amount); err != nil {
			return err
		}
	}
	if amount, err := parseAmount(p.RepayAmount); err != nil {
		return err
	} else if amount.Sign() > 0 {
		if err := ctx.Repay(p.Token, amount); err != nil {
			return err
		}
	}
	if amount, err := parseAmount(p.TakeAmount); err != nil {
		return err
	} else if amount.Sign() > 0 {
		if err := ctx.TakeCollateral(amount); err != nil {
			return err
		}
	}
	if amount, err := parseAmount(p.WithdrawAmount); err != nil {
		return err
	} else if amount.Sign() > 0 {
		if err := ctx.WithdrawLend(p.Token, amount); err != nil {
			return err
		}
	}
	return nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	if s == "max" {
		return new(big.Int).Set(MaxAmount), nil
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errBadSpellPayload
	}
	return amount, nil
}
