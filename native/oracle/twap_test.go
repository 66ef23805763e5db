package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func newTWAP(t *testing.T, now *time.Time, window time.Duration) *TWAPAdapter {
	t.Helper()
	adapter := NewTWAPAdapter(oracleOwner, window, 16)
	adapter.SetNowFunc(func() time.Time { return *now })
	if err := adapter.SetMaxDelays(oracleOwner,
		[]common.Address{tokenA}, []time.Duration{10 * time.Minute}); err != nil {
		t.Fatalf("set max delays: %v", err)
	}
	return adapter
}

func TestTWAPWeightsByHoldingInterval(t *testing.T) {
	now := adapterNow
	adapter := newTWAP(t, &now, time.Hour)

	// 1.00 held for 60s, then 2.00 held for 180s up to now:
	// (100*60 + 200*180) / 240 = 1.75.
	adapter.Observe(tokenA, usd(100), adapterNow.Add(-4*time.Minute))
	adapter.Observe(tokenA, usd(200), adapterNow.Add(-3*time.Minute))

	price, err := adapter.GetPrice(tokenA)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(usd(175)) != 0 {
		t.Fatalf("price = %s, want %s", price, usd(175))
	}
}

func TestTWAPSingleObservationPassthrough(t *testing.T) {
	now := adapterNow
	adapter := newTWAP(t, &now, time.Hour)
	adapter.Observe(tokenA, usd(150), adapterNow.Add(-time.Minute))

	price, err := adapter.GetPrice(tokenA)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(usd(150)) != 0 {
		t.Fatalf("price = %s, want %s", price, usd(150))
	}
}

func TestTWAPIgnoresNonPositiveSamples(t *testing.T) {
	now := adapterNow
	adapter := newTWAP(t, &now, time.Hour)
	adapter.Observe(tokenA, big.NewInt(0), adapterNow.Add(-2*time.Minute))
	adapter.Observe(tokenA, usd(150), adapterNow.Add(-time.Minute))

	price, err := adapter.GetPrice(tokenA)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(usd(150)) != 0 {
		t.Fatalf("price = %s, want %s", price, usd(150))
	}
}

func TestTWAPRejectsStaleHistory(t *testing.T) {
	now := adapterNow
	adapter := newTWAP(t, &now, 2*time.Hour)
	adapter.Observe(tokenA, usd(100), adapterNow.Add(-30*time.Minute))

	// The only sample is older than the 10 minute staleness bound.
	if _, err := adapter.GetPrice(tokenA); !errors.Is(err, ErrPriceOutdated) {
		t.Fatalf("err = %v, want %v", err, ErrPriceOutdated)
	}
}

func TestTWAPEmptyHistory(t *testing.T) {
	now := adapterNow
	adapter := newTWAP(t, &now, time.Hour)
	if _, err := adapter.GetPrice(tokenA); !errors.Is(err, ErrFeedNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrFeedNotFound)
	}
}

func TestTWAPWindowPrunesOldObservations(t *testing.T) {
	now := adapterNow
	adapter := newTWAP(t, &now, 5*time.Minute)

	// The first sample falls out of the 5 minute window once the second
	// arrives, so it must not drag the average down.
	adapter.Observe(tokenA, usd(1), adapterNow.Add(-time.Hour))
	adapter.Observe(tokenA, usd(200), adapterNow.Add(-time.Minute))

	price, err := adapter.GetPrice(tokenA)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(usd(200)) != 0 {
		t.Fatalf("price = %s, want %s", price, usd(200))
	}
}
