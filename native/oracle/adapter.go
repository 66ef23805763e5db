package oracle

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceScale is the fixed-point reference unit: 1e18 represents $1.
var PriceScale = big.NewInt(1_000_000_000_000_000_000)

// Adapter wraps one external price feed and normalizes it to a PriceScale
// fixed-point value with a per-token staleness bound.
type Adapter interface {
	GetPrice(token common.Address) (*big.Int, error)
}

// delayGuard carries the per-token maximum allowed feed age shared by all
// adapter implementations.
type delayGuard struct {
	owner common.Address

	mu     sync.RWMutex
	delays map[common.Address]time.Duration
	nowFn  func() time.Time
}

func newDelayGuard(owner common.Address) delayGuard {
	return delayGuard{
		owner:  owner,
		delays: make(map[common.Address]time.Duration),
		nowFn:  time.Now,
	}
}

// SetMaxDelays configures the maximum feed age per token. Owner-only.
func (g *delayGuard) SetMaxDelays(caller common.Address, tokens []common.Address, delays []time.Duration) error {
	if caller != g.owner {
		return ErrNotOwner
	}
	if len(tokens) != len(delays) {
		return ErrLengthMismatch
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, token := range tokens {
		if token == (common.Address{}) {
			return ErrZeroAddress
		}
		g.delays[token] = delays[i]
	}
	return nil
}

// SetNowFunc overrides the staleness clock.
func (g *delayGuard) SetNowFunc(now func() time.Time) {
	if now != nil {
		g.nowFn = now
	}
}

// maxDelay returns the configured age bound, failing when unset.
func (g *delayGuard) maxDelay(token common.Address) (time.Duration, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	maxDelay, ok := g.delays[token]
	if !ok || maxDelay <= 0 {
		return 0, ErrNoMaxDelay
	}
	return maxDelay, nil
}

// checkAge fails when the feed timestamp is older than the bound.
func (g *delayGuard) checkAge(maxDelay time.Duration, updatedAt time.Time) error {
	if updatedAt.Before(g.nowFn().Add(-maxDelay)) {
		return ErrPriceOutdated
	}
	return nil
}

// RoundFeed is a round-based upstream source (latest answer with decimals
// and an update timestamp).
type RoundFeed interface {
	LatestRound(token common.Address) (answer *big.Int, decimals uint8, updatedAt time.Time, err error)
}

// RoundAdapter normalizes a round-based feed to PriceScale.
type RoundAdapter struct {
	delayGuard
	feed RoundFeed
}

// NewRoundAdapter constructs an adapter over a round-based feed.
func NewRoundAdapter(owner common.Address, feed RoundFeed) *RoundAdapter {
	return &RoundAdapter{delayGuard: newDelayGuard(owner), feed: feed}
}

func (a *RoundAdapter) GetPrice(token common.Address) (*big.Int, error) {
	maxDelay, err := a.maxDelay(token)
	if err != nil {
		return nil, err
	}
	answer, decimals, updatedAt, err := a.feed.LatestRound(token)
	if err != nil {
		return nil, ErrFeedNotFound
	}
	if err := a.checkAge(maxDelay, updatedAt); err != nil {
		return nil, err
	}
	if answer == nil || answer.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return normalize(answer, decimals), nil
}

func normalize(answer *big.Int, decimals uint8) *big.Int {
	price := new(big.Int).Mul(answer, PriceScale)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return price.Quo(price, divisor)
}
