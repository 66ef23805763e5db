package oracle

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[19] = b
	return addr
}

var (
	oracleOwner = makeAddress(0x01)
	tokenA      = makeAddress(0xA0)
	tokenB      = makeAddress(0xA1)
)

// usd expresses a dollar price with two-decimal cents at PriceScale.
func usd(cents int64) *big.Int {
	price := new(big.Int).Mul(big.NewInt(cents), PriceScale)
	return price.Quo(price, big.NewInt(100))
}

type staticAdapter struct {
	price *big.Int
	err   error
}

func (a staticAdapter) GetPrice(common.Address) (*big.Int, error) {
	if a.err != nil {
		return nil, a.err
	}
	return new(big.Int).Set(a.price), nil
}

func adapters(prices ...*big.Int) []Adapter {
	out := make([]Adapter, len(prices))
	for i, price := range prices {
		out[i] = staticAdapter{price: price}
	}
	return out
}

func TestAggregatorMeanWithinDeviation(t *testing.T) {
	agg := NewAggregator(oracleOwner, 1000)
	if err := agg.SetPrimarySources(oracleOwner, tokenA, 500,
		adapters(usd(98), usd(100), usd(96))); err != nil {
		t.Fatalf("set sources: %v", err)
	}

	price, err := agg.GetPrice(tokenA)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	// spread 4.00% of the max 1.00 stays inside the 5% bound; mean is 0.98.
	if price.Cmp(usd(98)) != 0 {
		t.Fatalf("price = %s, want %s", price, usd(98))
	}
}

func TestAggregatorRejectsExcessiveSpread(t *testing.T) {
	agg := NewAggregator(oracleOwner, 1000)
	if err := agg.SetPrimarySources(oracleOwner, tokenA, 500,
		adapters(usd(70), usd(96), usd(100))); err != nil {
		t.Fatalf("set sources: %v", err)
	}

	// spread (1.00 - 0.70) is 30% of the max, far over the 5% bound.
	_, err := agg.GetPrice(tokenA)
	if !errors.Is(err, ErrExceedDeviation) {
		t.Fatalf("err = %v, want %v", err, ErrExceedDeviation)
	}
}

func TestAggregatorSingleSourcePassthrough(t *testing.T) {
	agg := NewAggregator(oracleOwner, 1000)
	if err := agg.SetPrimarySources(oracleOwner, tokenA, 500, adapters(usd(123))); err != nil {
		t.Fatalf("set sources: %v", err)
	}
	price, err := agg.GetPrice(tokenA)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(usd(123)) != 0 {
		t.Fatalf("price = %s, want %s", price, usd(123))
	}
}

func TestAggregatorSkipsFailingSources(t *testing.T) {
	agg := NewAggregator(oracleOwner, 1000)
	sources := []Adapter{
		staticAdapter{err: ErrFeedNotFound},
		staticAdapter{price: big.NewInt(0)},
		staticAdapter{price: usd(100)},
	}
	if err := agg.SetPrimarySources(oracleOwner, tokenA, 500, sources); err != nil {
		t.Fatalf("set sources: %v", err)
	}
	price, err := agg.GetPrice(tokenA)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(usd(100)) != 0 {
		t.Fatalf("price = %s, want %s", price, usd(100))
	}
}

func TestAggregatorAllSourcesInvalid(t *testing.T) {
	agg := NewAggregator(oracleOwner, 1000)
	sources := []Adapter{
		staticAdapter{err: ErrFeedNotFound},
		staticAdapter{price: big.NewInt(-1)},
	}
	if err := agg.SetPrimarySources(oracleOwner, tokenA, 500, sources); err != nil {
		t.Fatalf("set sources: %v", err)
	}
	if _, err := agg.GetPrice(tokenA); !errors.Is(err, ErrNoValidSource) {
		t.Fatalf("err = %v, want %v", err, ErrNoValidSource)
	}
}

func TestAggregatorUnconfiguredToken(t *testing.T) {
	agg := NewAggregator(oracleOwner, 1000)
	if _, err := agg.GetPrice(tokenB); !errors.Is(err, ErrNoPrimarySource) {
		t.Fatalf("err = %v, want %v", err, ErrNoPrimarySource)
	}
}

func TestSetPrimarySourcesValidation(t *testing.T) {
	agg := NewAggregator(oracleOwner, 1000)

	if err := agg.SetPrimarySources(tokenA, tokenA, 500, adapters(usd(100))); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner err = %v, want %v", err, ErrNotOwner)
	}
	five := adapters(usd(1), usd(2), usd(3), usd(4), usd(5))
	if err := agg.SetPrimarySources(oracleOwner, tokenA, 500, five); !errors.Is(err, ErrExceedSourceLen) {
		t.Fatalf("too many sources err = %v, want %v", err, ErrExceedSourceLen)
	}
	if err := agg.SetPrimarySources(oracleOwner, tokenA, 0, adapters(usd(100))); !errors.Is(err, ErrOutOfDeviationCap) {
		t.Fatalf("zero deviation err = %v, want %v", err, ErrOutOfDeviationCap)
	}
	if err := agg.SetPrimarySources(oracleOwner, tokenA, 1001, adapters(usd(100))); !errors.Is(err, ErrOutOfDeviationCap) {
		t.Fatalf("over-cap deviation err = %v, want %v", err, ErrOutOfDeviationCap)
	}
	if err := agg.SetPrimarySources(oracleOwner, common.Address{}, 500, adapters(usd(100))); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero token err = %v, want %v", err, ErrZeroAddress)
	}
}

func TestSetMultiPrimarySources(t *testing.T) {
	agg := NewAggregator(oracleOwner, 1000)
	err := agg.SetMultiPrimarySources(oracleOwner,
		[]common.Address{tokenA, tokenB},
		[]uint64{500, 300},
		[][]Adapter{adapters(usd(100)), adapters(usd(200), usd(202))})
	if err != nil {
		t.Fatalf("set multi: %v", err)
	}
	if n := agg.PrimarySourceCount(tokenA); n != 1 {
		t.Fatalf("tokenA sources = %d, want 1", n)
	}
	if n := agg.PrimarySourceCount(tokenB); n != 2 {
		t.Fatalf("tokenB sources = %d, want 2", n)
	}

	err = agg.SetMultiPrimarySources(oracleOwner,
		[]common.Address{tokenA}, []uint64{500, 300}, nil)
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("mismatch err = %v, want %v", err, ErrLengthMismatch)
	}
}
