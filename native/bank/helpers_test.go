package bank

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"leverbank/storage"
)

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[19] = b
	return addr
}

var (
	testOwner      = makeAddress(0x01)
	testTreasury   = makeAddress(0x02)
	testAlice      = makeAddress(0x10)
	testLiquidator = makeAddress(0x11)

	testUSDC  = makeAddress(0xA0)
	testDAI   = makeAddress(0xA1)
	testICHI  = makeAddress(0xA2)
	testWICHI = makeAddress(0xB0)
)

var testStart = time.Unix(1_700_000_000, 0)

type mockOracle struct {
	prices     map[common.Address]*big.Int
	thresholds map[common.Address]uint64
}

func newMockOracle() *mockOracle {
	return &mockOracle{
		prices:     make(map[common.Address]*big.Int),
		thresholds: make(map[common.Address]uint64),
	}
}

func (o *mockOracle) setPrice(token common.Address, price *big.Int) {
	o.prices[token] = price
}

func (o *mockOracle) GetPrice(token common.Address) (*big.Int, error) {
	price, ok := o.prices[token]
	if !ok || price.Sign() <= 0 {
		return nil, errNilOracle
	}
	return new(big.Int).Set(price), nil
}

func (o *mockOracle) GetValue(token common.Address, amount *big.Int) (*big.Int, error) {
	price, err := o.GetPrice(token)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(price, amount)
	return value.Quo(value, priceScale), nil
}

func (o *mockOracle) IsTokenSupported(token common.Address) bool {
	_, err := o.GetPrice(token)
	return err == nil
}

func (o *mockOracle) LiquidationThreshold(token common.Address) uint64 {
	return o.thresholds[token]
}

type mockVault struct {
	rateBps   uint64
	deposits  *big.Int
	withdrawn *big.Int
}

func newMockVault(rateBps uint64) *mockVault {
	return &mockVault{rateBps: rateBps, deposits: big.NewInt(0), withdrawn: big.NewInt(0)}
}

func (v *mockVault) Deposit(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errZeroAmount
	}
	v.deposits.Add(v.deposits, amount)
	return new(big.Int).Set(amount), nil
}

func (v *mockVault) Withdraw(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, errZeroAmount
	}
	v.withdrawn.Add(v.withdrawn, shares)
	return new(big.Int).Set(shares), nil
}

func (v *mockVault) BalanceOfUnderlying(common.Address) (*big.Int, error) {
	return new(big.Int).Set(v.deposits), nil
}

func (v *mockVault) BorrowRateBps() uint64 { return v.rateBps }

type testEnv struct {
	engine *Engine
	oracle *mockOracle
	vault  *mockVault
	now    *time.Time
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// newTestEnv wires an engine over a MemDB-backed store with two listed
// banks (USDC and DAI), a whitelisted wrapped collateral type and the basic
// spell enabled for testAlice.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	engine := NewEngine(testOwner, testTreasury, 5000)
	engine.SetState(NewStore(storage.NewMemDB()))

	oracle := newMockOracle()
	oracle.setPrice(testUSDC, ether(1))
	oracle.setPrice(testDAI, ether(1))
	oracle.setPrice(testICHI, ether(1))
	engine.SetOracle(oracle)

	now := testStart
	env := &testEnv{engine: engine, oracle: oracle, now: &now}
	engine.SetNowFunc(func() time.Time { return *env.now })

	vault := newMockVault(0)
	env.vault = vault
	engine.RegisterVault("soft", vault)
	engine.RegisterVault("hard", vault)
	engine.RegisterSpell(BasicSpellID, BasicSpell{})

	mustNoErr(t, engine.WhitelistTokens(testOwner,
		[]common.Address{testUSDC, testDAI, testICHI}, []bool{true, true, true}))
	mustNoErr(t, engine.WhitelistWrappedTokens(testOwner,
		[]common.Address{testWICHI}, []common.Address{testICHI}, []bool{true}))
	mustNoErr(t, engine.WhitelistSpells(testOwner, []string{BasicSpellID}, []bool{true}))
	mustNoErr(t, engine.WhitelistContracts(testOwner,
		[]common.Address{testAlice, testLiquidator}, []bool{true, true}))
	mustNoErr(t, engine.SetBankStatus(testOwner, StatusFullyOperational))
	mustNoErr(t, engine.Register(testOwner, testUSDC, "soft", "hard", 8500))
	mustNoErr(t, engine.Register(testOwner, testDAI, "soft", "hard", 8500))

	// Fund participants and the treasury's lending liquidity.
	mustNoErr(t, engine.Mint(testOwner, testAlice, testUSDC, ether(10_000)))
	mustNoErr(t, engine.Mint(testOwner, testAlice, testDAI, ether(10_000)))
	mustNoErr(t, engine.Mint(testOwner, testAlice, testWICHI, ether(10_000)))
	mustNoErr(t, engine.Mint(testOwner, testLiquidator, testUSDC, ether(10_000)))
	mustNoErr(t, engine.Mint(testOwner, testTreasury, testUSDC, ether(100_000)))
	mustNoErr(t, engine.Mint(testOwner, testTreasury, testDAI, ether(100_000)))

	return env
}

func (env *testEnv) advance(d time.Duration) {
	*env.now = env.now.Add(d)
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func spellPayload(t *testing.T, p BasicSpellPayload) []byte {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

// openPosition creates a position with 50 DAI isolated collateral, 100 wICHI
// wrapped collateral and 80 USDC debt.
func openPosition(t *testing.T, env *testEnv) uint64 {
	t.Helper()
	id, err := env.engine.Execute(testAlice, 0, BasicSpellID, spellPayload(t, BasicSpellPayload{
		Token:            testDAI,
		WrappedToken:     testWICHI,
		LendAmount:       ether(50).String(),
		CollateralAmount: ether(100).String(),
	}))
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	if _, err := env.engine.Execute(testAlice, id, BasicSpellID, spellPayload(t, BasicSpellPayload{
		Token:        testUSDC,
		BorrowAmount: ether(80).String(),
	})); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return id
}
