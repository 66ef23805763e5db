package oracle

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"leverbank/core/events"
	nativecommon "leverbank/native/common"
)

const moduleName = "oracle"

// PriceSource is the routing target of the core oracle: either an adapter
// or the aggregator.
type PriceSource interface {
	GetPrice(token common.Address) (*big.Int, error)
}

// CoreOracle maps each token to exactly one price source and is the single
// valuation surface the bank consumes. It also stores per-token liquidation
// threshold defaults and supports a global pause of all price reads.
type CoreOracle struct {
	owner   common.Address
	emitter events.Emitter
	pauses  nativecommon.PauseView

	mu         sync.RWMutex
	routes     map[common.Address]PriceSource
	thresholds map[common.Address]uint64
	paused     bool
}

// NewCoreOracle constructs the router.
func NewCoreOracle(owner common.Address) *CoreOracle {
	return &CoreOracle{
		owner:      owner,
		routes:     make(map[common.Address]PriceSource),
		thresholds: make(map[common.Address]uint64),
	}
}

// SetEmitter installs the domain event sink.
func (o *CoreOracle) SetEmitter(emitter events.Emitter) { o.emitter = emitter }

// SetPauses wires an external pause view consulted on every read.
func (o *CoreOracle) SetPauses(p nativecommon.PauseView) { o.pauses = p }

func (o *CoreOracle) emit(event any) {
	if o.emitter != nil {
		o.emitter.Emit(event)
	}
}

// SetRoutes binds tokens to price sources 1:1. Owner-only.
func (o *CoreOracle) SetRoutes(caller common.Address, tokens []common.Address, sources []PriceSource) error {
	if caller != o.owner {
		return ErrNotOwner
	}
	if len(tokens) != len(sources) {
		return ErrLengthMismatch
	}
	for i, token := range tokens {
		if token == (common.Address{}) || sources[i] == nil {
			return ErrZeroAddress
		}
	}
	o.mu.Lock()
	for i, token := range tokens {
		o.routes[token] = sources[i]
	}
	o.mu.Unlock()
	o.emit(events.OracleRoutesUpdated{Tokens: append([]common.Address(nil), tokens...)})
	return nil
}

// SetLiquidationThresholds stores per-token threshold defaults in basis
// points. Owner-only.
func (o *CoreOracle) SetLiquidationThresholds(caller common.Address, tokens []common.Address, thresholds []uint64) error {
	if caller != o.owner {
		return ErrNotOwner
	}
	if len(tokens) != len(thresholds) {
		return ErrLengthMismatch
	}
	for i, token := range tokens {
		if token == (common.Address{}) {
			return ErrZeroAddress
		}
		if thresholds[i] == 0 || thresholds[i] > 10_000 {
			return ErrInvalidThreshold
		}
	}
	o.mu.Lock()
	for i, token := range tokens {
		o.thresholds[token] = thresholds[i]
	}
	o.mu.Unlock()
	o.emit(events.LiquidationThresholdsSet{Tokens: append([]common.Address(nil), tokens...)})
	return nil
}

// LiquidationThreshold returns the stored default for a token, 0 when unset.
func (o *CoreOracle) LiquidationThreshold(token common.Address) uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.thresholds[token]
}

// Pause halts all price reads. Owner-only.
func (o *CoreOracle) Pause(caller common.Address) error {
	return o.setPaused(caller, true)
}

// Unpause resumes price reads. Owner-only.
func (o *CoreOracle) Unpause(caller common.Address) error {
	return o.setPaused(caller, false)
}

func (o *CoreOracle) setPaused(caller common.Address, paused bool) error {
	if caller != o.owner {
		return ErrNotOwner
	}
	o.mu.Lock()
	o.paused = paused
	o.mu.Unlock()
	o.emit(events.OraclePaused{Paused: paused})
	return nil
}

// GetPrice forwards to the routed source. All reads fail while paused.
func (o *CoreOracle) GetPrice(token common.Address) (*big.Int, error) {
	if err := nativecommon.Guard(o.pauses, moduleName); err != nil {
		return nil, err
	}
	o.mu.RLock()
	paused := o.paused
	source := o.routes[token]
	o.mu.RUnlock()
	if paused {
		return nil, ErrPaused
	}
	if source == nil {
		return nil, ErrNoRoute
	}
	price, err := source.GetPrice(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceFailed, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrPriceFailed
	}
	return price, nil
}

// GetValue prices an amount of a token at PriceScale precision.
func (o *CoreOracle) GetValue(token common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	price, err := o.GetPrice(token)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(price, amount)
	return value.Quo(value, PriceScale), nil
}

// IsTokenSupported is a non-throwing probe used before whitelisting a token.
func (o *CoreOracle) IsTokenSupported(token common.Address) bool {
	price, err := o.GetPrice(token)
	return err == nil && price.Sign() > 0
}
