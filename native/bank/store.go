package bank

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"leverbank/storage"
)

var (
	bankPrefix      = []byte("bank/banks/")
	positionPrefix  = []byte("bank/positions/")
	positionNextKey = []byte("bank/positions-next")
	statusKey       = []byte("bank/status")
	tokenPrefix     = []byte("bank/whitelist/token/")
	wrappedPrefix   = []byte("bank/whitelist/wrapped/")
	spellPrefix     = []byte("bank/whitelist/spell/")
	contractPrefix  = []byte("bank/whitelist/contract/")
	balancePrefix   = []byte("bank/balances/")
)

// Store persists the ledger through a storage.Database using RLP encoded
// records.
type Store struct {
	db storage.Database
}

// NewStore wraps the database in a bank ledger store.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

type storedBank struct {
	DebtToken            common.Address
	IsListed             bool
	SoftVault            string
	HardVault            string
	LiquidationThreshold uint64
	TotalShare           *big.Int
	TotalDebt            *big.Int
	LastAccrueTime       uint64
}

type storedPosition struct {
	ID               uint64
	Owner            common.Address
	CollateralToken  common.Address
	CollateralID     *big.Int
	CollateralAmount *big.Int
	DebtToken        common.Address
	DebtShare        *big.Int
	IsolatedToken    common.Address
	IsolatedAmount   *big.Int
}

type storedWrapped struct {
	Underlying common.Address
	Allowed    bool
}

func appendAddr(prefix []byte, addr common.Address) []byte {
	return append(append([]byte(nil), prefix...), addr.Bytes()...)
}

func positionKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(append([]byte(nil), positionPrefix...), buf[:]...)
}

func balanceStoreKey(holder, token common.Address) []byte {
	key := append(append([]byte(nil), balancePrefix...), holder.Bytes()...)
	key = append(key, '/')
	return append(key, token.Bytes()...)
}

func (s *Store) GetBank(token common.Address) (*Bank, error) {
	raw, err := s.db.Get(appendAddr(bankPrefix, token))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedBank)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, fmt.Errorf("bank store: decode bank: %w", err)
	}
	return &Bank{
		DebtToken:            stored.DebtToken,
		IsListed:             stored.IsListed,
		SoftVault:            stored.SoftVault,
		HardVault:            stored.HardVault,
		LiquidationThreshold: stored.LiquidationThreshold,
		TotalShare:           stored.TotalShare,
		TotalDebt:            stored.TotalDebt,
		LastAccrueTime:       stored.LastAccrueTime,
	}, nil
}

func (s *Store) PutBank(b *Bank) error {
	b.normalize()
	encoded, err := rlp.EncodeToBytes(&storedBank{
		DebtToken:            b.DebtToken,
		IsListed:             b.IsListed,
		SoftVault:            b.SoftVault,
		HardVault:            b.HardVault,
		LiquidationThreshold: b.LiquidationThreshold,
		TotalShare:           b.TotalShare,
		TotalDebt:            b.TotalDebt,
		LastAccrueTime:       b.LastAccrueTime,
	})
	if err != nil {
		return fmt.Errorf("bank store: encode bank: %w", err)
	}
	return s.db.Put(appendAddr(bankPrefix, b.DebtToken), encoded)
}

func (s *Store) GetPosition(id uint64) (*Position, error) {
	raw, err := s.db.Get(positionKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedPosition)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, fmt.Errorf("bank store: decode position: %w", err)
	}
	return &Position{
		ID:               stored.ID,
		Owner:            stored.Owner,
		CollateralToken:  stored.CollateralToken,
		CollateralID:     stored.CollateralID,
		CollateralAmount: stored.CollateralAmount,
		DebtToken:        stored.DebtToken,
		DebtShare:        stored.DebtShare,
		IsolatedToken:    stored.IsolatedToken,
		IsolatedAmount:   stored.IsolatedAmount,
	}, nil
}

func (s *Store) PutPosition(p *Position) error {
	p.normalize()
	encoded, err := rlp.EncodeToBytes(&storedPosition{
		ID:               p.ID,
		Owner:            p.Owner,
		CollateralToken:  p.CollateralToken,
		CollateralID:     p.CollateralID,
		CollateralAmount: p.CollateralAmount,
		DebtToken:        p.DebtToken,
		DebtShare:        p.DebtShare,
		IsolatedToken:    p.IsolatedToken,
		IsolatedAmount:   p.IsolatedAmount,
	})
	if err != nil {
		return fmt.Errorf("bank store: encode position: %w", err)
	}
	return s.db.Put(positionKey(p.ID), encoded)
}

func (s *Store) PositionCount() (uint64, error) {
	raw, err := s.db.Get(positionNextKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("bank store: malformed position counter")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *Store) NextPositionID() (uint64, error) {
	next, err := s.PositionCount()
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next+1)
	if err := s.db.Put(positionNextKey, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) BankStatus() (BankStatus, error) {
	raw, err := s.db.Get(statusKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 1 {
		return 0, fmt.Errorf("bank store: malformed status")
	}
	return BankStatus(raw[0]), nil
}

func (s *Store) SetBankStatus(status BankStatus) error {
	return s.db.Put(statusKey, []byte{byte(status)})
}

func (s *Store) getFlag(key []byte) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

func (s *Store) setFlag(key []byte, allowed bool) error {
	value := []byte{0}
	if allowed {
		value[0] = 1
	}
	return s.db.Put(key, value)
}

func (s *Store) TokenListed(token common.Address) (bool, error) {
	return s.getFlag(appendAddr(tokenPrefix, token))
}

func (s *Store) SetTokenListed(token common.Address, allowed bool) error {
	return s.setFlag(appendAddr(tokenPrefix, token), allowed)
}

func (s *Store) WrappedUnderlying(wrapped common.Address) (common.Address, bool, error) {
	raw, err := s.db.Get(appendAddr(wrappedPrefix, wrapped))
	if errors.Is(err, storage.ErrNotFound) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, err
	}
	stored := new(storedWrapped)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return common.Address{}, false, fmt.Errorf("bank store: decode wrapped entry: %w", err)
	}
	return stored.Underlying, stored.Allowed, nil
}

func (s *Store) SetWrapped(wrapped, underlying common.Address, allowed bool) error {
	encoded, err := rlp.EncodeToBytes(&storedWrapped{Underlying: underlying, Allowed: allowed})
	if err != nil {
		return fmt.Errorf("bank store: encode wrapped entry: %w", err)
	}
	return s.db.Put(appendAddr(wrappedPrefix, wrapped), encoded)
}

func (s *Store) SpellAllowed(spell string) (bool, error) {
	return s.getFlag(append(append([]byte(nil), spellPrefix...), spell...))
}

func (s *Store) SetSpellAllowed(spell string, allowed bool) error {
	return s.setFlag(append(append([]byte(nil), spellPrefix...), spell...), allowed)
}

func (s *Store) ContractAllowed(addr common.Address) (bool, error) {
	return s.getFlag(appendAddr(contractPrefix, addr))
}

func (s *Store) SetContractAllowed(addr common.Address, allowed bool) error {
	return s.setFlag(appendAddr(contractPrefix, addr), allowed)
}

func (s *Store) Balance(holder, token common.Address) (*big.Int, error) {
	raw, err := s.db.Get(balanceStoreKey(holder, token))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func (s *Store) SetBalance(holder, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank store: negative balance write")
	}
	return s.db.Put(balanceStoreKey(holder, token), amount.Bytes())
}
