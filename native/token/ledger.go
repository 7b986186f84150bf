package token

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"kylan/crypto"
)

var (
	ErrAssetExists         = errors.New("token: asset already exists")
	ErrAssetNotFound       = errors.New("token: asset not found")
	ErrUnauthorized        = errors.New("token: authority mismatch")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrOverflow            = errors.New("token: amount overflow")
	ErrInvalidAddress      = errors.New("token: address required")
)

// Storage is the persistence surface required by the ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Authority authorises movements out of an account or mints of an asset.
type Authority interface {
	Address() crypto.Address
}

// Caller is the authority of an authenticated account acting for itself.
type Caller crypto.Address

// Address implements Authority.
func (c Caller) Address() crypto.Address { return crypto.Address(c) }

// Asset describes a fungible token. Decimals are fixed at creation and opaque
// to the ledger; amounts are always base units.
type Asset struct {
	Address       crypto.Address
	Decimals      uint8
	MintAuthority crypto.Address
	Supply        uint64
}

type storedAsset struct {
	Address       [20]byte
	Decimals      uint8
	MintAuthority [20]byte
	Supply        uint64
}

var (
	assetPrefix   = []byte("token/asset/")
	balancePrefix = []byte("token/balance/")
)

func assetKey(asset crypto.Address) []byte {
	return append(append([]byte{}, assetPrefix...), asset.Hex()...)
}

func balanceKey(asset, owner crypto.Address) []byte {
	key := append([]byte{}, balancePrefix...)
	key = append(key, asset.Hex()...)
	key = append(key, '/')
	return append(key, owner.Hex()...)
}

// Ledger keeps balances for every asset. Each call either applies fully or
// returns an error before writing.
type Ledger struct {
	store Storage
}

// NewLedger binds the ledger to storage.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

// CreateAsset registers a new asset whose supply can only be expanded by
// mintAuthority.
func (l *Ledger) CreateAsset(asset crypto.Address, decimals uint8, mintAuthority crypto.Address) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("token: ledger not configured")
	}
	if asset.IsZero() {
		return ErrInvalidAddress
	}
	ok, err := l.store.KVGet(assetKey(asset), nil)
	if err != nil {
		return err
	}
	if ok {
		return ErrAssetExists
	}
	return l.putAsset(&Asset{Address: asset, Decimals: decimals, MintAuthority: mintAuthority})
}

// Asset loads asset metadata.
func (l *Ledger) Asset(asset crypto.Address) (*Asset, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("token: ledger not configured")
	}
	var stored storedAsset
	ok, err := l.store.KVGet(assetKey(asset), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAssetNotFound
	}
	return &Asset{
		Address:       crypto.BytesToAddress(stored.Address),
		Decimals:      stored.Decimals,
		MintAuthority: crypto.BytesToAddress(stored.MintAuthority),
		Supply:        stored.Supply,
	}, nil
}

// BalanceOf returns the owner's balance of asset.
func (l *Ledger) BalanceOf(asset, owner crypto.Address) (uint64, error) {
	if l == nil || l.store == nil {
		return 0, fmt.Errorf("token: ledger not configured")
	}
	var balance uint64
	if _, err := l.store.KVGet(balanceKey(asset, owner), &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// Transfer moves amount of asset from one account to another. Only the owner
// of from may authorise it.
func (l *Ledger) Transfer(asset, from, to crypto.Address, amount uint64, authority Authority) error {
	if _, err := l.Asset(asset); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrInvalidAddress
	}
	if authority == nil || !authority.Address().Equal(from) {
		return ErrUnauthorized
	}
	if amount == 0 || from.Equal(to) {
		return nil
	}
	fromBalance, err := l.BalanceOf(asset, from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return ErrInsufficientBalance
	}
	toBalance, err := l.BalanceOf(asset, to)
	if err != nil {
		return err
	}
	credited, err := addAmounts(toBalance, amount)
	if err != nil {
		return err
	}
	if err := l.store.KVPut(balanceKey(asset, from), fromBalance-amount); err != nil {
		return err
	}
	return l.store.KVPut(balanceKey(asset, to), credited)
}

// Mint creates amount of asset in the to account.
func (l *Ledger) Mint(asset, to crypto.Address, amount uint64, authority Authority) error {
	meta, err := l.Asset(asset)
	if err != nil {
		return err
	}
	if authority == nil || meta.MintAuthority.IsZero() || !authority.Address().Equal(meta.MintAuthority) {
		return ErrUnauthorized
	}
	return l.credit(meta, to, amount)
}

// Burn destroys amount of asset held by from.
func (l *Ledger) Burn(asset, from crypto.Address, amount uint64, authority Authority) error {
	meta, err := l.Asset(asset)
	if err != nil {
		return err
	}
	if authority == nil || !authority.Address().Equal(from) {
		return ErrUnauthorized
	}
	if amount == 0 {
		return nil
	}
	balance, err := l.BalanceOf(asset, from)
	if err != nil {
		return err
	}
	if balance < amount {
		return ErrInsufficientBalance
	}
	if meta.Supply < amount {
		return ErrOverflow
	}
	meta.Supply -= amount
	if err := l.store.KVPut(balanceKey(asset, from), balance-amount); err != nil {
		return err
	}
	return l.putAsset(meta)
}

// Seed credits genesis balances without a mint authority. It exists for
// bootstrapping development ledgers from configuration.
func (l *Ledger) Seed(asset, to crypto.Address, amount uint64) error {
	meta, err := l.Asset(asset)
	if err != nil {
		return err
	}
	return l.credit(meta, to, amount)
}

func (l *Ledger) credit(meta *Asset, to crypto.Address, amount uint64) error {
	if to.IsZero() {
		return ErrInvalidAddress
	}
	if amount == 0 {
		return nil
	}
	supply, err := addAmounts(meta.Supply, amount)
	if err != nil {
		return err
	}
	balance, err := l.BalanceOf(meta.Address, to)
	if err != nil {
		return err
	}
	// Balance never exceeds supply, so this addition cannot carry.
	meta.Supply = supply
	if err := l.store.KVPut(balanceKey(meta.Address, to), balance+amount); err != nil {
		return err
	}
	return l.putAsset(meta)
}

func (l *Ledger) putAsset(asset *Asset) error {
	return l.store.KVPut(assetKey(asset.Address), storedAsset{
		Address:       asset.Address.Raw(),
		Decimals:      asset.Decimals,
		MintAuthority: asset.MintAuthority.Raw(),
		Supply:        asset.Supply,
	})
}

func addAmounts(a, b uint64) (uint64, error) {
	sum := new(uint256.Int).Add(uint256.NewInt(a), uint256.NewInt(b))
	if !sum.IsUint64() {
		return 0, ErrOverflow
	}
	return sum.Uint64(), nil
}
