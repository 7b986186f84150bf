package printer

import "kylan/crypto"

var (
	printerSeed = []byte("printer")
	certSeed    = []byte("cert")
	chequeSeed  = []byte("cheque")

	printerRecordPrefix = []byte("printer/printer/")
	certRecordPrefix    = []byte("printer/cert/")
	chequeRecordPrefix  = []byte("printer/cheque/")
)

// PrinterAddress derives the printer record address for a stable asset.
func PrinterAddress(stableAsset crypto.Address) crypto.Address {
	return crypto.DeriveAddress(printerSeed, stableAsset.Bytes())
}

// CertAddress derives the certificate address for a printer and collateral asset.
func CertAddress(printer, collateral crypto.Address) crypto.Address {
	return crypto.DeriveAddress(certSeed, printer.Bytes(), collateral.Bytes())
}

// ChequeAddress derives the cheque address for an owner under a certificate.
func ChequeAddress(printer, collateral, owner crypto.Address) crypto.Address {
	return crypto.DeriveAddress(chequeSeed, printer.Bytes(), collateral.Bytes(), owner.Bytes())
}

func recordKey(prefix []byte, addr crypto.Address) []byte {
	hex := addr.Hex()
	buf := make([]byte, len(prefix)+len(hex))
	copy(buf, prefix)
	copy(buf[len(prefix):], hex)
	return buf
}

func printerKey(addr crypto.Address) []byte { return recordKey(printerRecordPrefix, addr) }

func certKey(addr crypto.Address) []byte { return recordKey(certRecordPrefix, addr) }

func chequeKey(addr crypto.Address) []byte { return recordKey(chequeRecordPrefix, addr) }
