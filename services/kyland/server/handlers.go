package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kylan/crypto"
	"kylan/native/printer"
	"kylan/native/token"
	"kylan/services/kyland/middleware"
	"kylan/services/kyland/receipts"
)

const maxRequestBody = 1 << 20

// Amount is a base-unit quantity accepted as a JSON number or decimal string.
type Amount uint64

func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return errors.New("amount required")
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", raw)
	}
	*a = Amount(value)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(a), 10))), nil
}

type initializePrinterRequest struct {
	StableAsset crypto.Address `json:"stableAsset"`
	Decimals    uint8          `json:"decimals"`
}

type transferAuthorityRequest struct {
	Printer      crypto.Address `json:"printer"`
	NewAuthority crypto.Address `json:"newAuthority"`
}

// initializeCertRequest carries either a price and fee or, for legacy
// deployments, a numerator and denominator rate.
type initializeCertRequest struct {
	Printer         crypto.Address `json:"printer"`
	Collateral      crypto.Address `json:"collateral"`
	Price           Amount         `json:"price"`
	Fee             Amount         `json:"fee"`
	NumeratorRate   Amount         `json:"numeratorRate"`
	DenominatorRate Amount         `json:"denominatorRate"`
}

type certRequest struct {
	Printer    crypto.Address `json:"printer"`
	Collateral crypto.Address `json:"collateral"`
}

type setCertStateRequest struct {
	certRequest
	State printer.CertState `json:"state"`
}

type setCertFeeRequest struct {
	certRequest
	Fee Amount `json:"fee"`
}

type setCertTaxmanRequest struct {
	certRequest
	Taxman crypto.Address `json:"taxman"`
}

type amountRequest struct {
	certRequest
	Amount Amount `json:"amount"`
}

type operationResponse struct {
	Receipt *uuid.UUID `json:"receipt,omitempty"`
	Result  any        `json:"result"`
}

type balanceResponse struct {
	Asset   crypto.Address `json:"asset"`
	Owner   crypto.Address `json:"owner"`
	Balance Amount         `json:"balance"`
}

type pauseResponse struct {
	Paused bool `json:"paused"`
}

func (s *Server) handleInitializePrinter(w http.ResponseWriter, r *http.Request) {
	var req initializePrinterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := mustCaller(r)
	var result *printer.Printer
	err := s.proc.Execute(r.Context(), "initialize_printer", func(e *printer.Engine) error {
		var err error
		result, err = e.InitializePrinter(caller, req.StableAsset, req.Decimals)
		return err
	})
	s.respond(w, r, "initialize_printer", caller, printerOf(result), crypto.Address{}, result, err)
}

func (s *Server) handleTransferAuthority(w http.ResponseWriter, r *http.Request) {
	var req transferAuthorityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := mustCaller(r)
	var result *printer.Printer
	err := s.proc.Execute(r.Context(), "transfer_authority", func(e *printer.Engine) error {
		var err error
		result, err = e.TransferAuthority(caller, req.Printer, req.NewAuthority)
		return err
	})
	s.respond(w, r, "transfer_authority", caller, req.Printer, crypto.Address{}, result, err)
}

func (s *Server) handleInitializeCert(w http.ResponseWriter, r *http.Request) {
	var req initializeCertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := mustCaller(r)
	legacy := req.NumeratorRate != 0 || req.DenominatorRate != 0
	var result *printer.Cert
	err := s.proc.Execute(r.Context(), "initialize_cert", func(e *printer.Engine) error {
		var err error
		if legacy {
			result, err = e.InitializeLegacyCert(caller, req.Printer, req.Collateral, uint64(req.NumeratorRate), uint64(req.DenominatorRate))
			return err
		}
		result, err = e.InitializeCert(caller, req.Printer, req.Collateral, uint64(req.Price), uint64(req.Fee))
		return err
	})
	s.respond(w, r, "initialize_cert", caller, req.Printer, req.Collateral, result, err)
}

func (s *Server) handleSetCertState(w http.ResponseWriter, r *http.Request) {
	var req setCertStateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := mustCaller(r)
	var result *printer.Cert
	err := s.proc.Execute(r.Context(), "set_cert_state", func(e *printer.Engine) error {
		var err error
		result, err = e.SetCertState(caller, req.Printer, req.Collateral, req.State)
		return err
	})
	s.respond(w, r, "set_cert_state", caller, req.Printer, req.Collateral, result, err)
}

func (s *Server) handleSetCertFee(w http.ResponseWriter, r *http.Request) {
	var req setCertFeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := mustCaller(r)
	var result *printer.Cert
	err := s.proc.Execute(r.Context(), "set_cert_fee", func(e *printer.Engine) error {
		var err error
		result, err = e.SetCertFee(caller, req.Printer, req.Collateral, uint64(req.Fee))
		return err
	})
	s.respond(w, r, "set_cert_fee", caller, req.Printer, req.Collateral, result, err)
}

func (s *Server) handleSetCertTaxman(w http.ResponseWriter, r *http.Request) {
	var req setCertTaxmanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := mustCaller(r)
	var result *printer.Cert
	err := s.proc.Execute(r.Context(), "set_cert_taxman", func(e *printer.Engine) error {
		var err error
		result, err = e.SetCertTaxman(caller, req.Printer, req.Collateral, req.Taxman)
		return err
	})
	s.respond(w, r, "set_cert_taxman", caller, req.Printer, req.Collateral, result, err)
}

func (s *Server) handleInitializeCheque(w http.ResponseWriter, r *http.Request) {
	var req certRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := mustCaller(r)
	var result *printer.Cheque
	err := s.proc.Execute(r.Context(), "initialize_cheque", func(e *printer.Engine) error {
		var err error
		result, err = e.InitializeCheque(caller, req.Printer, req.Collateral)
		return err
	})
	s.respond(w, r, "initialize_cheque", caller, req.Printer, req.Collateral, result, err)
}

func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := mustCaller(r)
	var result *printer.PrintResult
	err := s.proc.Execute(r.Context(), "print", func(e *printer.Engine) error {
		var err error
		result, err = e.Print(caller, req.Printer, req.Collateral, uint64(req.Amount))
		return err
	})
	s.respond(w, r, "print", caller, req.Printer, req.Collateral, result, err)
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := mustCaller(r)
	var result *printer.BurnResult
	err := s.proc.Execute(r.Context(), "burn", func(e *printer.Engine) error {
		var err error
		result, err = e.Burn(caller, req.Printer, req.Collateral, uint64(req.Amount))
		return err
	})
	s.respond(w, r, "burn", caller, req.Printer, req.Collateral, result, err)
}

func (s *Server) handleGetPrinter(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "printer")
	if !ok {
		return
	}
	var result *printer.Printer
	err := s.proc.View(r.Context(), func(e *printer.Engine, _ *token.Ledger) error {
		var err error
		result, err = e.Printer(addr)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetCert(w http.ResponseWriter, r *http.Request) {
	printerAddr, ok := pathAddress(w, r, "printer")
	if !ok {
		return
	}
	collateral, ok := pathAddress(w, r, "collateral")
	if !ok {
		return
	}
	var result *printer.Cert
	err := s.proc.View(r.Context(), func(e *printer.Engine, _ *token.Ledger) error {
		var err error
		result, err = e.Cert(printerAddr, collateral)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetCheque(w http.ResponseWriter, r *http.Request) {
	printerAddr, ok := pathAddress(w, r, "printer")
	if !ok {
		return
	}
	collateral, ok := pathAddress(w, r, "collateral")
	if !ok {
		return
	}
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	var result *printer.Cheque
	err := s.proc.View(r.Context(), func(e *printer.Engine, _ *token.Ledger) error {
		var err error
		result, err = e.Cheque(printerAddr, collateral, owner)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	asset, ok := pathAddress(w, r, "asset")
	if !ok {
		return
	}
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	var balance uint64
	err := s.proc.View(r.Context(), func(_ *printer.Engine, ledger *token.Ledger) error {
		var err error
		balance, err = ledger.BalanceOf(asset, owner)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Asset: asset, Owner: owner, Balance: Amount(balance)})
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: codeUnavailable, Error: "receipt index disabled"})
		return
	}
	query := r.URL.Query()
	filter := receipts.Filter{
		Operation: strings.TrimSpace(query.Get("operation")),
		Caller:    strings.TrimSpace(query.Get("caller")),
		Printer:   strings.TrimSpace(query.Get("printer")),
	}
	if raw := query.Get("before"); raw != "" {
		before, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, invalidArgument(fmt.Errorf("invalid before: %w", err)))
			return
		}
		filter.Before = before
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, invalidArgument(fmt.Errorf("invalid limit %q", raw)))
			return
		}
		filter.Limit = limit
	}
	list, err := s.receipts.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": list})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: codeUnavailable, Error: "receipt index disabled"})
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, invalidArgument(fmt.Errorf("invalid receipt id: %w", err)))
		return
	}
	receipt, err := s.receipts.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	operation := "resume"
	if paused {
		operation = "pause"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		operator := middleware.OperatorFromContext(r.Context())
		s.proc.SetPaused(paused)
		s.logger.Info("operator toggled printer pause",
			slog.String("operator", operator),
			slog.Bool("paused", paused))
		result := pauseResponse{Paused: paused}
		writeJSON(w, http.StatusOK, operationResponse{
			Receipt: s.record(r, operation, operator, crypto.Address{}, crypto.Address{}, result),
			Result:  result,
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pauseResponse{Paused: s.proc.Paused()})
}

// respond writes the outcome of a mutation and indexes it when it committed.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, operation string, caller, printerAddr, collateral crypto.Address, result any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{
		Receipt: s.record(r, operation, caller.String(), printerAddr, collateral, result),
		Result:  result,
	})
}

// record indexes a committed operation. Index failures are logged and never
// reported to the caller because state has already been committed.
func (s *Server) record(r *http.Request, operation, caller string, printerAddr, collateral crypto.Address, result any) *uuid.UUID {
	if s.receipts == nil {
		return nil
	}
	receipt, err := s.receipts.Record(r.Context(), operation, caller, addressString(printerAddr), addressString(collateral), result)
	if err != nil {
		s.logger.Error("receipt index write failed",
			slog.String("operation", operation),
			slog.Any("error", err))
		return nil
	}
	return &receipt.ID
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, invalidArgument(fmt.Errorf("decode request: %w", err)))
		return false
	}
	if dec.More() {
		writeError(w, invalidArgument(errors.New("decode request: trailing data")))
		return false
	}
	return true
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (crypto.Address, bool) {
	raw := chi.URLParam(r, name)
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		writeError(w, invalidArgument(fmt.Errorf("invalid %s address: %w", name, err)))
		return crypto.Address{}, false
	}
	return addr, true
}

func mustCaller(r *http.Request) crypto.Address {
	caller, _ := CallerFromContext(r.Context())
	return caller
}

func printerOf(p *printer.Printer) crypto.Address {
	if p == nil {
		return crypto.Address{}
	}
	return p.Address
}

func addressString(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}
