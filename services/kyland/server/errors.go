package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	nativecommon "kylan/native/common"
	"kylan/native/printer"
	"kylan/native/token"
	"kylan/services/kyland/auth"
	"kylan/services/kyland/receipts"
)

// Stable error codes returned in the "code" field of error bodies.
const (
	codeOverflow            = "overflow"
	codeUninitializedCert   = "uninitialized_cert"
	codeNotPrintable        = "not_printable"
	codeNotBurnable         = "not_burnable"
	codeInsufficientLedger  = "insufficient_ledger"
	codeInvalidTreasurer    = "invalid_treasurer"
	codeInsufficientBalance = "insufficient_balance"
	codeUnauthorized        = "unauthorized"
	codeUnauthenticated     = "unauthenticated"
	codeNotFound            = "not_found"
	codeAlreadyExists       = "already_exists"
	codeInvalidArgument     = "invalid_argument"
	codeModulePaused        = "module_paused"
	codeUnavailable         = "unavailable"
	codeInternal            = "internal"
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{printer.ErrOverflow, http.StatusUnprocessableEntity, codeOverflow},
	{token.ErrOverflow, http.StatusUnprocessableEntity, codeOverflow},
	{printer.ErrUninitializedCert, http.StatusBadRequest, codeUninitializedCert},
	{printer.ErrNotPrintable, http.StatusConflict, codeNotPrintable},
	{printer.ErrNotBurnable, http.StatusConflict, codeNotBurnable},
	{printer.ErrInsufficientLedger, http.StatusConflict, codeInsufficientLedger},
	{printer.ErrInvalidTreasurer, http.StatusConflict, codeInvalidTreasurer},
	{token.ErrInsufficientBalance, http.StatusConflict, codeInsufficientBalance},
	{printer.ErrUnauthorized, http.StatusForbidden, codeUnauthorized},
	{token.ErrUnauthorized, http.StatusForbidden, codeUnauthorized},
	{printer.ErrPrinterNotFound, http.StatusNotFound, codeNotFound},
	{printer.ErrCertNotFound, http.StatusNotFound, codeNotFound},
	{printer.ErrChequeNotFound, http.StatusNotFound, codeNotFound},
	{token.ErrAssetNotFound, http.StatusNotFound, codeNotFound},
	{receipts.ErrNotFound, http.StatusNotFound, codeNotFound},
	{printer.ErrAlreadyExists, http.StatusConflict, codeAlreadyExists},
	{token.ErrAssetExists, http.StatusConflict, codeAlreadyExists},
	{printer.ErrInvalidAmount, http.StatusBadRequest, codeInvalidArgument},
	{printer.ErrInvalidAddress, http.StatusBadRequest, codeInvalidArgument},
	{printer.ErrInvalidFee, http.StatusBadRequest, codeInvalidArgument},
	{printer.ErrInvalidState, http.StatusBadRequest, codeInvalidArgument},
	{printer.ErrModelMismatch, http.StatusBadRequest, codeInvalidArgument},
	{printer.ErrFeeUnsupported, http.StatusBadRequest, codeInvalidArgument},
	{token.ErrInvalidAddress, http.StatusBadRequest, codeInvalidArgument},
	{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, codeModulePaused},
	{auth.ErrBodyTooLarge, http.StatusRequestEntityTooLarge, codeInvalidArgument},
	{auth.ErrMissingHeaders, http.StatusUnauthorized, codeUnauthenticated},
	{auth.ErrStaleTimestamp, http.StatusUnauthorized, codeUnauthenticated},
	{auth.ErrBadSignature, http.StatusUnauthorized, codeUnauthenticated},
	{auth.ErrReplayed, http.StatusUnauthorized, codeUnauthenticated},
}

// classify maps an error to its HTTP status and stable code. Unknown errors
// are internal.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, codeInternal
}

// badRequest marks malformed input that never reached the engine.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func invalidArgument(err error) error { return badRequest{err: err} }

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	var br badRequest
	if errors.As(err, &br) {
		status, code = http.StatusBadRequest, codeInvalidArgument
	}
	message := strings.TrimSpace(err.Error())
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Code: code, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
