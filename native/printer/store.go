package printer

import (
	"fmt"

	"kylan/crypto"
)

// Storage is the persistence surface required by the printer store.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type storedPrinter struct {
	Address     [20]byte
	StableAsset [20]byte
	Authority   [20]byte
	Treasurer   [20]byte
}

type storedCert struct {
	Address         [20]byte
	Printer         [20]byte
	CollateralAsset [20]byte
	Model           uint8
	Price           uint64
	Fee             uint64
	NumeratorRate   uint64
	DenominatorRate uint64
	Taxman          [20]byte
	State           uint8
}

type storedCheque struct {
	Address         [20]byte
	Printer         [20]byte
	CollateralAsset [20]byte
	Owner           [20]byte
	Amount          uint64
}

// Store persists printers, certificates and cheques keyed by their derived
// addresses.
type Store struct {
	store Storage
}

// NewStore binds the record store to storage.
func NewStore(store Storage) *Store {
	return &Store{store: store}
}

// Printer loads a printer record.
func (s *Store) Printer(addr crypto.Address) (*Printer, error) {
	if s == nil || s.store == nil {
		return nil, errNilState
	}
	var stored storedPrinter
	ok, err := s.store.KVGet(printerKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPrinterNotFound
	}
	return &Printer{
		Address:     crypto.BytesToAddress(stored.Address),
		StableAsset: crypto.BytesToAddress(stored.StableAsset),
		Authority:   crypto.BytesToAddress(stored.Authority),
		Treasurer:   crypto.BytesToAddress(stored.Treasurer),
	}, nil
}

// PutPrinter writes a printer record.
func (s *Store) PutPrinter(p *Printer) error {
	if s == nil || s.store == nil {
		return errNilState
	}
	if p == nil {
		return fmt.Errorf("printer: nil printer")
	}
	return s.store.KVPut(printerKey(p.Address), storedPrinter{
		Address:     p.Address.Raw(),
		StableAsset: p.StableAsset.Raw(),
		Authority:   p.Authority.Raw(),
		Treasurer:   p.Treasurer.Raw(),
	})
}

// Cert loads a certificate record.
func (s *Store) Cert(addr crypto.Address) (*Cert, error) {
	if s == nil || s.store == nil {
		return nil, errNilState
	}
	var stored storedCert
	ok, err := s.store.KVGet(certKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCertNotFound
	}
	return &Cert{
		Address:         crypto.BytesToAddress(stored.Address),
		Printer:         crypto.BytesToAddress(stored.Printer),
		CollateralAsset: crypto.BytesToAddress(stored.CollateralAsset),
		Model:           CertModel(stored.Model),
		Price:           stored.Price,
		Fee:             stored.Fee,
		NumeratorRate:   stored.NumeratorRate,
		DenominatorRate: stored.DenominatorRate,
		Taxman:          crypto.BytesToAddress(stored.Taxman),
		State:           CertState(stored.State),
	}, nil
}

// PutCert writes a certificate record.
func (s *Store) PutCert(c *Cert) error {
	if s == nil || s.store == nil {
		return errNilState
	}
	if c == nil {
		return fmt.Errorf("printer: nil cert")
	}
	return s.store.KVPut(certKey(c.Address), storedCert{
		Address:         c.Address.Raw(),
		Printer:         c.Printer.Raw(),
		CollateralAsset: c.CollateralAsset.Raw(),
		Model:           uint8(c.Model),
		Price:           c.Price,
		Fee:             c.Fee,
		NumeratorRate:   c.NumeratorRate,
		DenominatorRate: c.DenominatorRate,
		Taxman:          c.Taxman.Raw(),
		State:           uint8(c.State),
	})
}

// Cheque loads a cheque record.
func (s *Store) Cheque(addr crypto.Address) (*Cheque, error) {
	if s == nil || s.store == nil {
		return nil, errNilState
	}
	var stored storedCheque
	ok, err := s.store.KVGet(chequeKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChequeNotFound
	}
	return &Cheque{
		Address:         crypto.BytesToAddress(stored.Address),
		Printer:         crypto.BytesToAddress(stored.Printer),
		CollateralAsset: crypto.BytesToAddress(stored.CollateralAsset),
		Owner:           crypto.BytesToAddress(stored.Owner),
		Amount:          stored.Amount,
	}, nil
}

// PutCheque writes a cheque record.
func (s *Store) PutCheque(c *Cheque) error {
	if s == nil || s.store == nil {
		return errNilState
	}
	if c == nil {
		return fmt.Errorf("printer: nil cheque")
	}
	return s.store.KVPut(chequeKey(c.Address), storedCheque{
		Address:         c.Address.Raw(),
		Printer:         c.Printer.Raw(),
		CollateralAsset: c.CollateralAsset.Raw(),
		Owner:           c.Owner.Raw(),
		Amount:          c.Amount,
	})
}

func (s *Store) exists(key []byte) (bool, error) {
	if s == nil || s.store == nil {
		return false, errNilState
	}
	return s.store.KVGet(key, nil)
}
