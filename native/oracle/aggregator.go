package oracle

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"leverbank/core/events"
)

// MaxPrimarySources is the hard cap on adapters per token.
const MaxPrimarySources = 4

// Aggregator combines 1..MaxPrimarySources adapter prices for a token,
// validates their mutual deviation and returns the arithmetic mean. A
// failing or non-positive source is invalid for the call, not fatal to it.
type Aggregator struct {
	owner           common.Address
	maxDeviationCap uint64
	emitter         events.Emitter

	mu           sync.RWMutex
	sources      map[common.Address][]Adapter
	maxDeviation map[common.Address]uint64
}

// NewAggregator constructs an aggregator whose per-token deviation settings
// are bounded by maxDeviationCapBps.
func NewAggregator(owner common.Address, maxDeviationCapBps uint64) *Aggregator {
	return &Aggregator{
		owner:           owner,
		maxDeviationCap: maxDeviationCapBps,
		sources:         make(map[common.Address][]Adapter),
		maxDeviation:    make(map[common.Address]uint64),
	}
}

// SetEmitter installs the domain event sink.
func (a *Aggregator) SetEmitter(emitter events.Emitter) { a.emitter = emitter }

// SetPrimarySources configures the ordered adapter list and deviation bound
// for one token. Owner-only.
func (a *Aggregator) SetPrimarySources(caller, token common.Address, maxDeviationBps uint64, adapters []Adapter) error {
	if caller != a.owner {
		return ErrNotOwner
	}
	if token == (common.Address{}) {
		return ErrZeroAddress
	}
	if len(adapters) > MaxPrimarySources {
		return ErrExceedSourceLen
	}
	if maxDeviationBps == 0 || maxDeviationBps > a.maxDeviationCap {
		return ErrOutOfDeviationCap
	}
	for _, adapter := range adapters {
		if adapter == nil {
			return ErrZeroAddress
		}
	}
	a.mu.Lock()
	a.sources[token] = append([]Adapter(nil), adapters...)
	a.maxDeviation[token] = maxDeviationBps
	a.mu.Unlock()
	if a.emitter != nil {
		a.emitter.Emit(events.PrimarySourcesSet{
			Token:           token,
			MaxDeviationBps: maxDeviationBps,
			Sources:         len(adapters),
		})
	}
	return nil
}

// SetMultiPrimarySources applies SetPrimarySources across parallel arrays.
func (a *Aggregator) SetMultiPrimarySources(caller common.Address, tokens []common.Address, maxDeviationBps []uint64, adapters [][]Adapter) error {
	if len(tokens) != len(maxDeviationBps) || len(tokens) != len(adapters) {
		return ErrLengthMismatch
	}
	for i, token := range tokens {
		if err := a.SetPrimarySources(caller, token, maxDeviationBps[i], adapters[i]); err != nil {
			return err
		}
	}
	return nil
}

// PrimarySourceCount reports the number of configured adapters for a token.
func (a *Aggregator) PrimarySourceCount(token common.Address) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sources[token])
}

// GetPrice queries every configured adapter, drops invalid answers, checks
// the min/max spread against the token's deviation bound and returns the
// integer mean of the valid prices.
func (a *Aggregator) GetPrice(token common.Address) (*big.Int, error) {
	a.mu.RLock()
	adapters := a.sources[token]
	deviation := a.maxDeviation[token]
	a.mu.RUnlock()

	if len(adapters) == 0 {
		return nil, ErrNoPrimarySource
	}

	valid := make([]*big.Int, 0, len(adapters))
	for _, adapter := range adapters {
		price, err := adapter.GetPrice(token)
		if err != nil || price == nil || price.Sign() <= 0 {
			continue
		}
		valid = append(valid, price)
	}
	if len(valid) == 0 {
		return nil, ErrNoValidSource
	}
	if len(valid) == 1 {
		return valid[0], nil
	}

	minPrice := valid[0]
	maxPrice := valid[0]
	sum := new(big.Int)
	for _, price := range valid {
		if price.Cmp(minPrice) < 0 {
			minPrice = price
		}
		if price.Cmp(maxPrice) > 0 {
			maxPrice = price
		}
		sum.Add(sum, price)
	}

	spread := new(big.Int).Sub(maxPrice, minPrice)
	spread.Mul(spread, big.NewInt(10_000))
	bound := new(big.Int).Mul(maxPrice, new(big.Int).SetUint64(deviation))
	if spread.Cmp(bound) > 0 {
		return nil, ErrExceedDeviation
	}

	return sum.Quo(sum, big.NewInt(int64(len(valid)))), nil
}
