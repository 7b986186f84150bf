package events

import (
	"strconv"

	"kylan/core/types"
	"kylan/crypto"
)

const (
	TypePrinterInitialized = "printer.initialized"
	TypePrinterAuthority   = "printer.authority_transferred"
	TypeCertInitialized    = "printer.cert_initialized"
	TypeCertStateUpdated   = "printer.cert_state_updated"
	TypeCertFeeUpdated     = "printer.cert_fee_updated"
	TypeCertTaxmanUpdated  = "printer.cert_taxman_updated"
	TypeChequeInitialized  = "printer.cheque_initialized"
	TypePrinterPrinted     = "printer.printed"
	TypePrinterBurned      = "printer.burned"
)

type PrinterInitialized struct {
	Printer     crypto.Address
	StableAsset crypto.Address
	Authority   crypto.Address
	Decimals    uint8
}

func (PrinterInitialized) EventType() string { return TypePrinterInitialized }

func (e PrinterInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypePrinterInitialized,
		Attributes: map[string]string{
			"printer":     e.Printer.String(),
			"stableAsset": e.StableAsset.String(),
			"authority":   e.Authority.String(),
			"decimals":    strconv.FormatUint(uint64(e.Decimals), 10),
		},
	}
}

type PrinterAuthorityTransferred struct {
	Printer  crypto.Address
	Previous crypto.Address
	Current  crypto.Address
}

func (PrinterAuthorityTransferred) EventType() string { return TypePrinterAuthority }

func (e PrinterAuthorityTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypePrinterAuthority,
		Attributes: map[string]string{
			"printer":  e.Printer.String(),
			"previous": e.Previous.String(),
			"current":  e.Current.String(),
		},
	}
}

type CertInitialized struct {
	Printer     crypto.Address
	Cert        crypto.Address
	Collateral  crypto.Address
	Model       string
	Price       uint64
	Fee         uint64
	Numerator   uint64
	Denominator uint64
}

func (CertInitialized) EventType() string { return TypeCertInitialized }

func (e CertInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeCertInitialized,
		Attributes: map[string]string{
			"printer":     e.Printer.String(),
			"cert":        e.Cert.String(),
			"collateral":  e.Collateral.String(),
			"model":       e.Model,
			"price":       uintToString(e.Price),
			"fee":         uintToString(e.Fee),
			"numerator":   uintToString(e.Numerator),
			"denominator": uintToString(e.Denominator),
		},
	}
}

type CertStateUpdated struct {
	Cert     crypto.Address
	Previous string
	Current  string
}

func (CertStateUpdated) EventType() string { return TypeCertStateUpdated }

func (e CertStateUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeCertStateUpdated,
		Attributes: map[string]string{
			"cert":     e.Cert.String(),
			"previous": e.Previous,
			"current":  e.Current,
		},
	}
}

type CertFeeUpdated struct {
	Cert     crypto.Address
	Previous uint64
	Current  uint64
}

func (CertFeeUpdated) EventType() string { return TypeCertFeeUpdated }

func (e CertFeeUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeCertFeeUpdated,
		Attributes: map[string]string{
			"cert":     e.Cert.String(),
			"previous": uintToString(e.Previous),
			"current":  uintToString(e.Current),
		},
	}
}

type CertTaxmanUpdated struct {
	Cert   crypto.Address
	Taxman crypto.Address
}

func (CertTaxmanUpdated) EventType() string { return TypeCertTaxmanUpdated }

func (e CertTaxmanUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeCertTaxmanUpdated,
		Attributes: map[string]string{
			"cert":   e.Cert.String(),
			"taxman": e.Taxman.String(),
		},
	}
}

type ChequeInitialized struct {
	Cheque     crypto.Address
	Printer    crypto.Address
	Collateral crypto.Address
	Owner      crypto.Address
}

func (ChequeInitialized) EventType() string { return TypeChequeInitialized }

func (e ChequeInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeChequeInitialized,
		Attributes: map[string]string{
			"cheque":     e.Cheque.String(),
			"printer":    e.Printer.String(),
			"collateral": e.Collateral.String(),
			"owner":      e.Owner.String(),
		},
	}
}

type Printed struct {
	Printer    crypto.Address
	Collateral crypto.Address
	Owner      crypto.Address
	Staked     uint64
	Printed    uint64
	Cheque     uint64
}

func (Printed) EventType() string { return TypePrinterPrinted }

func (e Printed) Event() *types.Event {
	return &types.Event{
		Type: TypePrinterPrinted,
		Attributes: map[string]string{
			"printer":    e.Printer.String(),
			"collateral": e.Collateral.String(),
			"owner":      e.Owner.String(),
			"staked":     uintToString(e.Staked),
			"printed":    uintToString(e.Printed),
			"cheque":     uintToString(e.Cheque),
		},
	}
}

type Burned struct {
	Printer    crypto.Address
	Collateral crypto.Address
	Owner      crypto.Address
	Taxman     crypto.Address
	Burned     uint64
	Unstaked   uint64
	Fee        uint64
	Cheque     uint64
}

func (Burned) EventType() string { return TypePrinterBurned }

func (e Burned) Event() *types.Event {
	return &types.Event{
		Type: TypePrinterBurned,
		Attributes: map[string]string{
			"printer":    e.Printer.String(),
			"collateral": e.Collateral.String(),
			"owner":      e.Owner.String(),
			"taxman":     e.Taxman.String(),
			"burned":     uintToString(e.Burned),
			"unstaked":   uintToString(e.Unstaked),
			"fee":        uintToString(e.Fee),
			"cheque":     uintToString(e.Cheque),
		},
	}
}
