package oracle

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func unixTime(seconds int64) time.Time { return time.Unix(seconds, 0) }

type observation struct {
	price *big.Int
	at    time.Time
}

// TWAPAdapter computes a time-weighted average over retained observations.
// A poller (or test) pushes observations in with Observe; GetPrice weights
// each sample by the interval it was in force.
type TWAPAdapter struct {
	delayGuard

	window time.Duration
	cap    int

	obsMu sync.RWMutex
	obs   map[common.Address][]observation
}

// NewTWAPAdapter constructs a TWAP adapter retaining observations inside the
// window, bounded by cap samples per token.
func NewTWAPAdapter(owner common.Address, window time.Duration, cap int) *TWAPAdapter {
	if window <= 0 {
		window = 30 * time.Minute
	}
	if cap <= 0 {
		cap = 120
	}
	return &TWAPAdapter{
		delayGuard: newDelayGuard(owner),
		window:     window,
		cap:        cap,
		obs:        make(map[common.Address][]observation),
	}
}

// Observe records a sample. Zero or negative prices are dropped at read
// time, not here, so a flapping feed remains visible in the history.
func (a *TWAPAdapter) Observe(token common.Address, price *big.Int, at time.Time) {
	if price == nil {
		return
	}
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	history := append(a.obs[token], observation{price: new(big.Int).Set(price), at: at})
	cutoff := a.nowFn().Add(-a.window)
	trimmed := history[:0]
	for _, o := range history {
		if !o.at.Before(cutoff) {
			trimmed = append(trimmed, o)
		}
	}
	if len(trimmed) > a.cap {
		trimmed = trimmed[len(trimmed)-a.cap:]
	}
	a.obs[token] = append([]observation(nil), trimmed...)
}

func (a *TWAPAdapter) GetPrice(token common.Address) (*big.Int, error) {
	maxDelay, err := a.maxDelay(token)
	if err != nil {
		return nil, err
	}
	a.obsMu.RLock()
	history := a.obs[token]
	a.obsMu.RUnlock()

	valid := make([]observation, 0, len(history))
	for _, o := range history {
		if o.price.Sign() > 0 {
			valid = append(valid, o)
		}
	}
	if len(valid) == 0 {
		return nil, ErrFeedNotFound
	}
	last := valid[len(valid)-1]
	if err := a.checkAge(maxDelay, last.at); err != nil {
		return nil, err
	}
	if len(valid) == 1 {
		return new(big.Int).Set(last.price), nil
	}

	// Weight each sample by the interval until the next one; the final
	// sample is weighted up to now.
	now := a.nowFn()
	weighted := new(big.Int)
	totalSeconds := new(big.Int)
	for i, o := range valid {
		var until time.Time
		if i+1 < len(valid) {
			until = valid[i+1].at
		} else {
			until = now
		}
		seconds := int64(until.Sub(o.at) / time.Second)
		if seconds <= 0 {
			seconds = 1
		}
		weight := big.NewInt(seconds)
		weighted.Add(weighted, new(big.Int).Mul(o.price, weight))
		totalSeconds.Add(totalSeconds, weight)
	}
	return weighted.Quo(weighted, totalSeconds), nil
}
