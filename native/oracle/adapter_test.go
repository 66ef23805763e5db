package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var adapterNow = time.Unix(1_700_000_000, 0)

type fakeRoundFeed struct {
	answer    *big.Int
	decimals  uint8
	updatedAt time.Time
	err       error
}

func (f *fakeRoundFeed) LatestRound(token common.Address) (*big.Int, uint8, time.Time, error) {
	if f.err != nil {
		return nil, 0, time.Time{}, f.err
	}
	return f.answer, f.decimals, f.updatedAt, nil
}

func newRoundAdapter(t *testing.T, feed *fakeRoundFeed) *RoundAdapter {
	t.Helper()
	adapter := NewRoundAdapter(oracleOwner, feed)
	adapter.SetNowFunc(func() time.Time { return adapterNow })
	if err := adapter.SetMaxDelays(oracleOwner,
		[]common.Address{tokenA}, []time.Duration{time.Hour}); err != nil {
		t.Fatalf("set max delays: %v", err)
	}
	return adapter
}

func TestRoundAdapterNormalizesDecimals(t *testing.T) {
	// An 8-decimal feed answering 123456789 is $1.23456789.
	adapter := newRoundAdapter(t, &fakeRoundFeed{
		answer:    big.NewInt(123_456_789),
		decimals:  8,
		updatedAt: adapterNow,
	})
	price, err := adapter.GetPrice(tokenA)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	want := big.NewInt(1_234_567_890_000_000_000)
	if price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", price, want)
	}
}

func TestRoundAdapterRequiresMaxDelay(t *testing.T) {
	adapter := NewRoundAdapter(oracleOwner, &fakeRoundFeed{
		answer:    big.NewInt(1),
		decimals:  0,
		updatedAt: adapterNow,
	})
	if _, err := adapter.GetPrice(tokenA); !errors.Is(err, ErrNoMaxDelay) {
		t.Fatalf("err = %v, want %v", err, ErrNoMaxDelay)
	}
}

func TestRoundAdapterRejectsStaleRound(t *testing.T) {
	adapter := newRoundAdapter(t, &fakeRoundFeed{
		answer:    big.NewInt(100),
		decimals:  2,
		updatedAt: adapterNow.Add(-2 * time.Hour),
	})
	if _, err := adapter.GetPrice(tokenA); !errors.Is(err, ErrPriceOutdated) {
		t.Fatalf("err = %v, want %v", err, ErrPriceOutdated)
	}
}

func TestRoundAdapterRejectsNonPositiveAnswer(t *testing.T) {
	adapter := newRoundAdapter(t, &fakeRoundFeed{
		answer:    big.NewInt(-5),
		decimals:  2,
		updatedAt: adapterNow,
	})
	if _, err := adapter.GetPrice(tokenA); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidPrice)
	}
}

func TestRoundAdapterWrapsFeedFailure(t *testing.T) {
	adapter := newRoundAdapter(t, &fakeRoundFeed{err: errors.New("rpc down")})
	if _, err := adapter.GetPrice(tokenA); !errors.Is(err, ErrFeedNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrFeedNotFound)
	}
}

type fakeReferenceSource struct {
	rates map[string]*big.Int
	at    int64
}

func (f *fakeReferenceSource) GetReferenceData(symbol string) (*big.Int, int64, error) {
	rate, ok := f.rates[symbol]
	if !ok {
		return nil, 0, errors.New("unknown symbol")
	}
	return rate, f.at, nil
}

func TestReferenceAdapterResolvesSymbol(t *testing.T) {
	source := &fakeReferenceSource{
		rates: map[string]*big.Int{"ICHI": usd(425)},
		at:    adapterNow.Unix(),
	}
	adapter := NewReferenceAdapter(oracleOwner, source)
	adapter.SetNowFunc(func() time.Time { return adapterNow })
	if err := adapter.SetMaxDelays(oracleOwner,
		[]common.Address{tokenA}, []time.Duration{time.Hour}); err != nil {
		t.Fatalf("set max delays: %v", err)
	}
	if err := adapter.SetSymbols(oracleOwner,
		[]common.Address{tokenA}, []string{"ICHI"}); err != nil {
		t.Fatalf("set symbols: %v", err)
	}

	price, err := adapter.GetPrice(tokenA)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(usd(425)) != 0 {
		t.Fatalf("price = %s, want %s", price, usd(425))
	}

	// tokenB has a delay but no symbol binding.
	if err := adapter.SetMaxDelays(oracleOwner,
		[]common.Address{tokenB}, []time.Duration{time.Hour}); err != nil {
		t.Fatalf("set max delays: %v", err)
	}
	if _, err := adapter.GetPrice(tokenB); !errors.Is(err, ErrNoSymbolMapping) {
		t.Fatalf("err = %v, want %v", err, ErrNoSymbolMapping)
	}
}

func TestReferenceAdapterRejectsStaleRate(t *testing.T) {
	source := &fakeReferenceSource{
		rates: map[string]*big.Int{"ICHI": usd(425)},
		at:    adapterNow.Add(-3 * time.Hour).Unix(),
	}
	adapter := NewReferenceAdapter(oracleOwner, source)
	adapter.SetNowFunc(func() time.Time { return adapterNow })
	if err := adapter.SetMaxDelays(oracleOwner,
		[]common.Address{tokenA}, []time.Duration{time.Hour}); err != nil {
		t.Fatalf("set max delays: %v", err)
	}
	if err := adapter.SetSymbols(oracleOwner,
		[]common.Address{tokenA}, []string{"ICHI"}); err != nil {
		t.Fatalf("set symbols: %v", err)
	}
	if _, err := adapter.GetPrice(tokenA); !errors.Is(err, ErrPriceOutdated) {
		t.Fatalf("err = %v, want %v", err, ErrPriceOutdated)
	}
}

func TestSetMaxDelaysRequiresOwner(t *testing.T) {
	adapter := NewRoundAdapter(oracleOwner, &fakeRoundFeed{})
	err := adapter.SetMaxDelays(tokenA, []common.Address{tokenA}, []time.Duration{time.Hour})
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want %v", err, ErrNotOwner)
	}
}
