package printer

import "errors"

var (
	// ErrOverflow reports arithmetic overflow, underflow or division by a zero
	// price or rate.
	ErrOverflow = errors.New("printer: operation overflowed")
	// ErrUninitializedCert rejects moving a certificate back to the sentinel state.
	ErrUninitializedCert = errors.New("printer: cannot set the cert to uninitialized")
	// ErrNotPrintable is returned when the certificate state forbids issuance.
	ErrNotPrintable = errors.New("printer: the token isn't available to print")
	// ErrNotBurnable is returned when the certificate state forbids redemption.
	ErrNotBurnable = errors.New("printer: the token isn't available to burn")
	// ErrInsufficientLedger is returned when a redemption exceeds the staked balance.
	ErrInsufficientLedger = errors.New("printer: cheque balance insufficient")
	// ErrUnauthorized is returned when the caller is not the printer authority.
	ErrUnauthorized = errors.New("printer: caller is not the printer authority")

	ErrPrinterNotFound  = errors.New("printer: printer not found")
	ErrCertNotFound     = errors.New("printer: cert not found")
	ErrChequeNotFound   = errors.New("printer: cheque not found")
	ErrAlreadyExists    = errors.New("printer: record already exists")
	ErrInvalidAmount    = errors.New("printer: amount must be positive")
	ErrInvalidAddress   = errors.New("printer: address required")
	ErrInvalidFee       = errors.New("printer: fee exceeds precision")
	ErrInvalidState     = errors.New("printer: unknown cert state")
	ErrModelMismatch    = errors.New("printer: cert model not enabled for this deployment")
	ErrFeeUnsupported   = errors.New("printer: rate-pair certs carry no fee")
	ErrInvalidTreasurer = errors.New("printer: treasurer derivation mismatch")

	errNilState = errors.New("printer engine: state not configured")
)
