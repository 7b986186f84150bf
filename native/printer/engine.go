package printer

import (
	"errors"
	"fmt"

	"kylan/core/events"
	"kylan/crypto"
	nativecommon "kylan/native/common"
	"kylan/native/token"
)

const moduleName = "printer"

// ModuleName identifies the printer module for pause toggles and metrics.
const ModuleName = moduleName

// TokenLedger is the external token ledger. Every call must either apply
// fully or fail without effect.
type TokenLedger interface {
	CreateAsset(asset crypto.Address, decimals uint8, mintAuthority crypto.Address) error
	Asset(asset crypto.Address) (*token.Asset, error)
	Transfer(asset, from, to crypto.Address, amount uint64, authority token.Authority) error
	Mint(asset, to crypto.Address, amount uint64, authority token.Authority) error
	Burn(asset, from crypto.Address, amount uint64, authority token.Authority) error
}

// Engine executes printer operations against a record store and the token
// ledger. It performs no buffering of its own: callers run each operation
// inside a storage transaction and discard it when an error is returned.
type Engine struct {
	state   *Store
	tokens  TokenLedger
	model   CertModel
	pauses  nativecommon.PauseView
	emitter events.Emitter
}

// NewEngine constructs an engine for the canonical price/fee model.
func NewEngine(state *Store, tokens TokenLedger) *Engine {
	return &Engine{state: state, tokens: tokens, model: ModelPriceFee, emitter: events.NoopEmitter{}}
}

// SetModel selects which certificate model new certificates must use.
func (e *Engine) SetModel(model CertModel) {
	if e == nil {
		return
	}
	e.model = model
}

// Model reports the certificate model enforced for new certificates.
func (e *Engine) Model() CertModel {
	if e == nil {
		return ModelPriceFee
	}
	return e.model
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter routes engine events to emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.tokens == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// InitializePrinter creates the stable asset with the printer's treasurer as
// its only mint authority and records caller as the printer authority.
func (e *Engine) InitializePrinter(caller, stableAsset crypto.Address, decimals uint8) (*Printer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller.IsZero() || stableAsset.IsZero() {
		return nil, ErrInvalidAddress
	}
	addr := PrinterAddress(stableAsset)
	exists, err := e.state.exists(printerKey(addr))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyExists
	}
	printer := &Printer{
		Address:     addr,
		StableAsset: stableAsset,
		Authority:   caller,
		Treasurer:   TreasurerAddress(stableAsset),
	}
	if err := e.tokens.CreateAsset(stableAsset, decimals, printer.Treasurer); err != nil {
		if errors.Is(err, token.ErrAssetExists) {
			return nil, fmt.Errorf("%w: stable asset %s", ErrAlreadyExists, stableAsset)
		}
		return nil, err
	}
	if err := e.state.PutPrinter(printer); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.PrinterInitialized{
		Printer:     printer.Address,
		StableAsset: stableAsset,
		Authority:   caller,
		Decimals:    decimals,
	})
	return printer, nil
}

// InitializeCert registers collateral under a price/fee certificate.
func (e *Engine) InitializeCert(caller, printerAddr, collateral crypto.Address, price, fee uint64) (*Cert, error) {
	return e.createCert(caller, printerAddr, collateral, func(cert *Cert) error {
		if e.model != ModelPriceFee {
			return ErrModelMismatch
		}
		if fee > Precision {
			return ErrInvalidFee
		}
		cert.Model = ModelPriceFee
		cert.Price = price
		cert.Fee = fee
		return nil
	})
}

// InitializeLegacyCert registers collateral under a rate-pair certificate.
func (e *Engine) InitializeLegacyCert(caller, printerAddr, collateral crypto.Address, numerator, denominator uint64) (*Cert, error) {
	return e.createCert(caller, printerAddr, collateral, func(cert *Cert) error {
		if e.model != ModelRatePair {
			return ErrModelMismatch
		}
		cert.Model = ModelRatePair
		cert.NumeratorRate = numerator
		cert.DenominatorRate = denominator
		return nil
	})
}

// createCert authorizes caller before configure validates the model-specific
// terms.
func (e *Engine) createCert(caller, printerAddr, collateral crypto.Address, configure func(*Cert) error) (*Cert, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	printer, err := e.authorize(caller, printerAddr)
	if err != nil {
		return nil, err
	}
	if collateral.IsZero() || collateral.Equal(printer.StableAsset) {
		return nil, ErrInvalidAddress
	}
	if _, err := e.tokens.Asset(collateral); err != nil {
		return nil, err
	}
	addr := CertAddress(printer.Address, collateral)
	exists, err := e.state.exists(certKey(addr))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyExists
	}
	cert := &Cert{
		Address:         addr,
		Printer:         printer.Address,
		CollateralAsset: collateral,
		Taxman:          printer.Authority,
		State:           CertStateActive,
	}
	if err := configure(cert); err != nil {
		return nil, err
	}
	if err := e.state.PutCert(cert); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.CertInitialized{
		Printer:     printer.Address,
		Cert:        cert.Address,
		Collateral:  collateral,
		Model:       cert.Model.String(),
		Price:       cert.Price,
		Fee:         cert.Fee,
		Numerator:   cert.NumeratorRate,
		Denominator: cert.DenominatorRate,
	})
	return cert, nil
}

// InitializeCheque opens the caller's own cheque under an existing certificate.
func (e *Engine) InitializeCheque(caller, printerAddr, collateral crypto.Address) (*Cheque, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller.IsZero() {
		return nil, ErrInvalidAddress
	}
	if _, err := e.state.Printer(printerAddr); err != nil {
		return nil, err
	}
	if _, err := e.state.Cert(CertAddress(printerAddr, collateral)); err != nil {
		return nil, err
	}
	addr := ChequeAddress(printerAddr, collateral, caller)
	exists, err := e.state.exists(chequeKey(addr))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyExists
	}
	cheque := newCheque(printerAddr, collateral, caller)
	if err := e.state.PutCheque(cheque); err != nil {
		return nil, err
	}
	e.emitChequeInitialized(cheque)
	return cheque, nil
}

// Print stakes amount of collateral from caller into the printer's pool and
// mints the printable stable amount to caller, crediting the caller's cheque
// with the minted amount. The cheque is opened when missing.
func (e *Engine) Print(caller, printerAddr, collateral crypto.Address, amount uint64) (*PrintResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if caller.IsZero() {
		return nil, ErrInvalidAddress
	}
	printer, cert, err := e.loadCert(printerAddr, collateral)
	if err != nil {
		return nil, err
	}
	if !cert.IsPrintable() {
		return nil, ErrNotPrintable
	}
	printable, err := cert.PrintableAmount(amount)
	if err != nil {
		return nil, err
	}
	// Collateral that mints nothing could never be redeemed.
	if printable == 0 {
		return nil, fmt.Errorf("%w: %d collateral units print nothing", ErrInvalidAmount, amount)
	}
	cheque, created, err := e.ensureCheque(printerAddr, collateral, caller)
	if err != nil {
		return nil, err
	}
	total, err := cheque.Add(printable)
	if err != nil {
		return nil, err
	}
	treasurer, err := NewTreasurer(printer)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.Transfer(collateral, caller, treasurer.Address(), amount, token.Caller(caller)); err != nil {
		return nil, fmt.Errorf("printer: stake collateral: %w", err)
	}
	if err := e.tokens.Mint(printer.StableAsset, caller, printable, treasurer); err != nil {
		return nil, fmt.Errorf("printer: mint stable: %w", err)
	}
	if err := e.state.PutCheque(cheque); err != nil {
		return nil, err
	}
	if created {
		e.emitChequeInitialized(cheque)
	}
	e.emitter.Emit(events.Printed{
		Printer:    printer.Address,
		Collateral: collateral,
		Owner:      caller,
		Staked:     amount,
		Printed:    printable,
		Cheque:     total,
	})
	return &PrintResult{Staked: amount, Printed: printable, Cheque: total}, nil
}

// Burn destroys amount of stable units held by caller and releases the
// corresponding collateral, routing the fee to the certificate's taxman.
//
// Every check (state gate, conversion, cheque balance, capability) runs before
// the first token movement, so a rejected burn never touches the token ledger.
// Failures of the token ledger itself are rolled back by the enclosing
// storage transaction.
func (e *Engine) Burn(caller, printerAddr, collateral crypto.Address, amount uint64) (*BurnResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	printer, cert, err := e.loadCert(printerAddr, collateral)
	if err != nil {
		return nil, err
	}
	if !cert.IsBurnable() {
		return nil, ErrNotBurnable
	}
	cheque, err := e.state.Cheque(ChequeAddress(printerAddr, collateral, caller))
	if err != nil {
		return nil, err
	}
	unstaked, fee, err := cert.BurnableAmount(amount)
	if err != nil {
		return nil, err
	}
	remaining, err := cheque.Sub(amount)
	if err != nil {
		return nil, err
	}
	treasurer, err := NewTreasurer(printer)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.Burn(printer.StableAsset, caller, amount, token.Caller(caller)); err != nil {
		return nil, fmt.Errorf("printer: burn stable: %w", err)
	}
	if err := e.tokens.Transfer(collateral, treasurer.Address(), cert.Taxman, fee, treasurer); err != nil {
		return nil, fmt.Errorf("printer: pay fee: %w", err)
	}
	if err := e.tokens.Transfer(collateral, treasurer.Address(), caller, unstaked, treasurer); err != nil {
		return nil, fmt.Errorf("printer: unstake collateral: %w", err)
	}
	if err := e.state.PutCheque(cheque); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.Burned{
		Printer:    printer.Address,
		Collateral: collateral,
		Owner:      caller,
		Taxman:     cert.Taxman,
		Burned:     amount,
		Unstaked:   unstaked,
		Fee:        fee,
		Cheque:     remaining,
	})
	return &BurnResult{Burned: amount, Unstaked: unstaked, Fee: fee, Cheque: remaining}, nil
}

// SetCertState moves a certificate to a new gating state.
func (e *Engine) SetCertState(caller, printerAddr, collateral crypto.Address, state CertState) (*Cert, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cert, err := e.authorizeCert(caller, printerAddr, collateral)
	if err != nil {
		return nil, err
	}
	previous := cert.State
	if err := cert.SetState(state); err != nil {
		return nil, err
	}
	if err := e.state.PutCert(cert); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.CertStateUpdated{Cert: cert.Address, Previous: previous.String(), Current: state.String()})
	return cert, nil
}

// SetCertFee replaces the redemption fee of a price/fee certificate.
func (e *Engine) SetCertFee(caller, printerAddr, collateral crypto.Address, fee uint64) (*Cert, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cert, err := e.authorizeCert(caller, printerAddr, collateral)
	if err != nil {
		return nil, err
	}
	previous := cert.Fee
	if err := cert.SetFee(fee); err != nil {
		return nil, err
	}
	if err := e.state.PutCert(cert); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.CertFeeUpdated{Cert: cert.Address, Previous: previous, Current: fee})
	return cert, nil
}

// SetCertTaxman routes future redemption fees to taxman.
func (e *Engine) SetCertTaxman(caller, printerAddr, collateral, taxman crypto.Address) (*Cert, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cert, err := e.authorizeCert(caller, printerAddr, collateral)
	if err != nil {
		return nil, err
	}
	if taxman.IsZero() {
		return nil, ErrInvalidAddress
	}
	cert.Taxman = taxman
	if err := e.state.PutCert(cert); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.CertTaxmanUpdated{Cert: cert.Address, Taxman: taxman})
	return cert, nil
}

// TransferAuthority hands the printer to a new authority.
func (e *Engine) TransferAuthority(caller, printerAddr, newAuthority crypto.Address) (*Printer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	printer, err := e.authorize(caller, printerAddr)
	if err != nil {
		return nil, err
	}
	if newAuthority.IsZero() {
		return nil, ErrInvalidAddress
	}
	previous := printer.Authority
	printer.Authority = newAuthority
	if err := e.state.PutPrinter(printer); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.PrinterAuthorityTransferred{Printer: printer.Address, Previous: previous, Current: newAuthority})
	return printer, nil
}

// Printer returns the printer record.
func (e *Engine) Printer(addr crypto.Address) (*Printer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.Printer(addr)
}

// Cert returns the certificate of printerAddr for collateral.
func (e *Engine) Cert(printerAddr, collateral crypto.Address) (*Cert, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.Cert(CertAddress(printerAddr, collateral))
}

// Cheque returns owner's cheque under the certificate.
func (e *Engine) Cheque(printerAddr, collateral, owner crypto.Address) (*Cheque, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.Cheque(ChequeAddress(printerAddr, collateral, owner))
}

func (e *Engine) authorize(caller, printerAddr crypto.Address) (*Printer, error) {
	printer, err := e.state.Printer(printerAddr)
	if err != nil {
		return nil, err
	}
	if caller.IsZero() || !caller.Equal(printer.Authority) {
		return nil, ErrUnauthorized
	}
	return printer, nil
}

func (e *Engine) authorizeCert(caller, printerAddr, collateral crypto.Address) (*Cert, error) {
	if _, err := e.authorize(caller, printerAddr); err != nil {
		return nil, err
	}
	return e.state.Cert(CertAddress(printerAddr, collateral))
}

func (e *Engine) loadCert(printerAddr, collateral crypto.Address) (*Printer, *Cert, error) {
	printer, err := e.state.Printer(printerAddr)
	if err != nil {
		return nil, nil, err
	}
	cert, err := e.state.Cert(CertAddress(printerAddr, collateral))
	if err != nil {
		return nil, nil, err
	}
	return printer, cert, nil
}

func (e *Engine) ensureCheque(printerAddr, collateral, owner crypto.Address) (*Cheque, bool, error) {
	cheque, err := e.state.Cheque(ChequeAddress(printerAddr, collateral, owner))
	if err == nil {
		return cheque, false, nil
	}
	if !errors.Is(err, ErrChequeNotFound) {
		return nil, false, err
	}
	return newCheque(printerAddr, collateral, owner), true, nil
}

func (e *Engine) emitChequeInitialized(cheque *Cheque) {
	e.emitter.Emit(events.ChequeInitialized{
		Cheque:     cheque.Address,
		Printer:    cheque.Printer,
		Collateral: cheque.CollateralAsset,
		Owner:      cheque.Owner,
	})
}

func newCheque(printerAddr, collateral, owner crypto.Address) *Cheque {
	return &Cheque{
		Address:         ChequeAddress(printerAddr, collateral, owner),
		Printer:         printerAddr,
		CollateralAsset: collateral,
		Owner:           owner,
	}
}
