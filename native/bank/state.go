package bank

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// State is the durable ledger the engine operates against: bank registry,
// position ledger, whitelist sets, status bitmask and the internal balance
// ledger. Get methods return nil (or the zero value) without error when a
// record is absent.
type State interface {
	GetBank(token common.Address) (*Bank, error)
	PutBank(b *Bank) error

	GetPosition(id uint64) (*Position, error)
	PutPosition(p *Position) error
	// NextPositionID allocates the next position id, starting at 1.
	NextPositionID() (uint64, error)
	// PositionCount returns the next unallocated id without allocating.
	PositionCount() (uint64, error)

	BankStatus() (BankStatus, error)
	SetBankStatus(status BankStatus) error

	TokenListed(token common.Address) (bool, error)
	SetTokenListed(token common.Address, allowed bool) error

	WrappedUnderlying(wrapped common.Address) (common.Address, bool, error)
	SetWrapped(wrapped, underlying common.Address, allowed bool) error

	SpellAllowed(spell string) (bool, error)
	SetSpellAllowed(spell string, allowed bool) error

	ContractAllowed(addr common.Address) (bool, error)
	SetContractAllowed(addr common.Address, allowed bool) error

	Balance(holder, token common.Address) (*big.Int, error)
	SetBalance(holder, token common.Address, amount *big.Int) error
}

type balanceKey struct {
	holder common.Address
	token  common.Address
}

type wrappedEntry struct {
	underlying common.Address
	allowed    bool
}

// Overlay buffers every write against a base State and flushes them on
// Commit. Execute and Liquidate run against an overlay so that any failure
// aborts without a partial state change persisting.
type Overlay struct {
	base State

	banks     map[common.Address]*Bank
	positions map[uint64]*Position
	nextID    *uint64
	status    *BankStatus
	tokens    map[common.Address]bool
	wrapped   map[common.Address]wrappedEntry
	spells    map[string]bool
	contracts map[common.Address]bool
	balances  map[balanceKey]*big.Int

	events []any
}

// NewOverlay wraps base in a fresh write buffer.
func NewOverlay(base State) *Overlay {
	return &Overlay{
		base:      base,
		banks:     make(map[common.Address]*Bank),
		positions: make(map[uint64]*Position),
		tokens:    make(map[common.Address]bool),
		wrapped:   make(map[common.Address]wrappedEntry),
		spells:    make(map[string]bool),
		contracts: make(map[common.Address]bool),
		balances:  make(map[balanceKey]*big.Int),
	}
}

func (o *Overlay) GetBank(token common.Address) (*Bank, error) {
	if b, ok := o.banks[token]; ok {
		return b, nil
	}
	return o.base.GetBank(token)
}

func (o *Overlay) PutBank(b *Bank) error {
	b.normalize()
	o.banks[b.DebtToken] = b
	return nil
}

func (o *Overlay) GetPosition(id uint64) (*Position, error) {
	if p, ok := o.positions[id]; ok {
		return p, nil
	}
	return o.base.GetPosition(id)
}

func (o *Overlay) PutPosition(p *Position) error {
	p.normalize()
	o.positions[p.ID] = p
	return nil
}

func (o *Overlay) NextPositionID() (uint64, error) {
	next, err := o.PositionCount()
	if err != nil {
		return 0, err
	}
	allocated := next + 1
	o.nextID = &allocated
	return next, nil
}

func (o *Overlay) PositionCount() (uint64, error) {
	if o.nextID != nil {
		return *o.nextID, nil
	}
	return o.base.PositionCount()
}

func (o *Overlay) BankStatus() (BankStatus, error) {
	if o.status != nil {
		return *o.status, nil
	}
	return o.base.BankStatus()
}

func (o *Overlay) SetBankStatus(status BankStatus) error {
	o.status = &status
	return nil
}

func (o *Overlay) TokenListed(token common.Address) (bool, error) {
	if allowed, ok := o.tokens[token]; ok {
		return allowed, nil
	}
	return o.base.TokenListed(token)
}

func (o *Overlay) SetTokenListed(token common.Address, allowed bool) error {
	o.tokens[token] = allowed
	return nil
}

func (o *Overlay) WrappedUnderlying(wrapped common.Address) (common.Address, bool, error) {
	if entry, ok := o.wrapped[wrapped]; ok {
		return entry.underlying, entry.allowed, nil
	}
	return o.base.WrappedUnderlying(wrapped)
}

func (o *Overlay) SetWrapped(wrapped, underlying common.Address, allowed bool) error {
	o.wrapped[wrapped] = wrappedEntry{underlying: underlying, allowed: allowed}
	return nil
}

func (o *Overlay) SpellAllowed(spell string) (bool, error) {
	if allowed, ok := o.spells[spell]; ok {
		return allowed, nil
	}
	return o.base.SpellAllowed(spell)
}

func (o *Overlay) SetSpellAllowed(spell string, allowed bool) error {
	o.spells[spell] = allowed
	return nil
}

func (o *Overlay) ContractAllowed(addr common.Address) (bool, error) {
	if allowed, ok := o.contracts[addr]; ok {
		return allowed, nil
	}
	return o.base.ContractAllowed(addr)
}

func (o *Overlay) SetContractAllowed(addr common.Address, allowed bool) error {
	o.contracts[addr] = allowed
	return nil
}

func (o *Overlay) Balance(holder, token common.Address) (*big.Int, error) {
	if bal, ok := o.balances[balanceKey{holder, token}]; ok {
		return new(big.Int).Set(bal), nil
	}
	return o.base.Balance(holder, token)
}

func (o *Overlay) SetBalance(holder, token common.Address, amount *big.Int) error {
	o.balances[balanceKey{holder, token}] = new(big.Int).Set(amount)
	return nil
}

// QueueEvent defers a domain event until the overlay commits. Events queued
// by an aborted execution are discarded with the overlay.
func (o *Overlay) QueueEvent(event any) {
	o.events = append(o.events, event)
}

// Commit flushes the buffered writes to the base state. The overlay must not
// be reused afterwards.
func (o *Overlay) Commit() error {
	for _, b := range o.banks {
		if err := o.base.PutBank(b); err != nil {
			return err
		}
	}
	for _, p := range o.positions {
		if err := o.base.PutPosition(p); err != nil {
			return err
		}
	}
	if o.nextID != nil {
		// Advance the base counter to match the overlay's allocations.
		for {
			current, err := o.base.PositionCount()
			if err != nil {
				return err
			}
			if current >= *o.nextID {
				break
			}
			if _, err := o.base.NextPositionID(); err != nil {
				return err
			}
		}
	}
	if o.status != nil {
		if err := o.base.SetBankStatus(*o.status); err != nil {
			return err
		}
	}
	for token, allowed := range o.tokens {
		if err := o.base.SetTokenListed(token, allowed); err != nil {
			return err
		}
	}
	for wrapped, entry := range o.wrapped {
		if err := o.base.SetWrapped(wrapped, entry.underlying, entry.allowed); err != nil {
			return err
		}
	}
	for spell, allowed := range o.spells {
		if err := o.base.SetSpellAllowed(spell, allowed); err != nil {
			return err
		}
	}
	for addr, allowed := range o.contracts {
		if err := o.base.SetContractAllowed(addr, allowed); err != nil {
			return err
		}
	}
	for key, bal := range o.balances {
		if err := o.base.SetBalance(key.holder, key.token, bal); err != nil {
			return err
		}
	}
	return nil
}
