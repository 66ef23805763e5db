package oracle

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ReferenceSource is a reference-rate upstream addressed by symbol, already
// quoted at PriceScale.
type ReferenceSource interface {
	GetReferenceData(symbol string) (rate *big.Int, updatedAt int64, err error)
}

// ReferenceAdapter maps tokens to upstream symbols and normalizes the
// reference rate.
type ReferenceAdapter struct {
	delayGuard
	source ReferenceSource

	symMu   sync.RWMutex
	symbols map[common.Address]string
}

// NewReferenceAdapter constructs an adapter over a reference-rate source.
func NewReferenceAdapter(owner common.Address, source ReferenceSource) *ReferenceAdapter {
	return &ReferenceAdapter{
		delayGuard: newDelayGuard(owner),
		source:     source,
		symbols:    make(map[common.Address]string),
	}
}

// SetSymbols binds tokens to upstream symbols. Owner-only.
func (a *ReferenceAdapter) SetSymbols(caller common.Address, tokens []common.Address, symbols []string) error {
	if caller != a.owner {
		return ErrNotOwner
	}
	if len(tokens) != len(symbols) {
		return ErrLengthMismatch
	}
	a.symMu.Lock()
	defer a.symMu.Unlock()
	for i, token := range tokens {
		if token == (common.Address{}) {
			return ErrZeroAddress
		}
		a.symbols[token] = symbols[i]
	}
	return nil
}

func (a *ReferenceAdapter) GetPrice(token common.Address) (*big.Int, error) {
	maxDelay, err := a.maxDelay(token)
	if err != nil {
		return nil, err
	}
	a.symMu.RLock()
	symbol, ok := a.symbols[token]
	a.symMu.RUnlock()
	if !ok || symbol == "" {
		return nil, ErrNoSymbolMapping
	}
	rate, updatedAt, err := a.source.GetReferenceData(symbol)
	if err != nil {
		return nil, ErrFeedNotFound
	}
	if err := a.checkAge(maxDelay, unixTime(updatedAt)); err != nil {
		return nil, err
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return new(big.Int).Set(rate), nil
}
