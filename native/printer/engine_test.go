package printer

import (
	"errors"
	"testing"

	"kylan/core/events"
	"kylan/crypto"
	nativecommon "kylan/native/common"
	"kylan/native/token"
	"kylan/storage"
)

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	return s.modules[module]
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) { r.events = append(r.events, e) }

func (r *recordingEmitter) types() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

// failingLedger wraps the real ledger and fails the nth token movement.
type failingLedger struct {
	*token.Ledger
	failAt int
	calls  int
}

var errInjected = errors.New("injected ledger failure")

func (f *failingLedger) step() error {
	f.calls++
	if f.calls == f.failAt {
		return errInjected
	}
	return nil
}

func (f *failingLedger) Transfer(asset, from, to crypto.Address, amount uint64, authority token.Authority) error {
	if err := f.step(); err != nil {
		return err
	}
	return f.Ledger.Transfer(asset, from, to, amount, authority)
}

func (f *failingLedger) Mint(asset, to crypto.Address, amount uint64, authority token.Authority) error {
	if err := f.step(); err != nil {
		return err
	}
	return f.Ledger.Mint(asset, to, amount, authority)
}

func (f *failingLedger) Burn(asset, from crypto.Address, amount uint64, authority token.Authority) error {
	if err := f.step(); err != nil {
		return err
	}
	return f.Ledger.Burn(asset, from, amount, authority)
}

func testAddr(seed string) crypto.Address {
	return crypto.DeriveAddress([]byte("printer-test"), []byte(seed))
}

type fixture struct {
	db         *storage.MemDB
	engine     *Engine
	ledger     *token.Ledger
	emitter    *recordingEmitter
	authority  crypto.Address
	user       crypto.Address
	stable     crypto.Address
	collateral crypto.Address
	printer    *Printer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	kv := storage.NewKV(db)
	f := &fixture{
		db:         db,
		ledger:     token.NewLedger(kv),
		emitter:    &recordingEmitter{},
		authority:  testAddr("authority"),
		user:       testAddr("user"),
		stable:     testAddr("stable"),
		collateral: testAddr("collateral"),
	}
	f.engine = NewEngine(NewStore(kv), f.ledger)
	f.engine.SetEmitter(f.emitter)

	if err := f.ledger.CreateAsset(f.collateral, 6, crypto.Address{}); err != nil {
		t.Fatalf("create collateral: %v", err)
	}
	if err := f.ledger.Seed(f.collateral, f.user, 1_000); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}
	printer, err := f.engine.InitializePrinter(f.authority, f.stable, 6)
	if err != nil {
		t.Fatalf("initialize printer: %v", err)
	}
	f.printer = printer
	return f
}

func (f *fixture) withCert(t *testing.T, price, fee uint64) *Cert {
	t.Helper()
	cert, err := f.engine.InitializeCert(f.authority, f.printer.Address, f.collateral, price, fee)
	if err != nil {
		t.Fatalf("initialize cert: %v", err)
	}
	return cert
}

func (f *fixture) balance(t *testing.T, asset, owner crypto.Address) uint64 {
	t.Helper()
	balance, err := f.ledger.BalanceOf(asset, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func TestInitializePrinter(t *testing.T) {
	f := newFixture(t)
	if !f.printer.Address.Equal(PrinterAddress(f.stable)) {
		t.Fatalf("unexpected printer address %s", f.printer.Address)
	}
	if !f.printer.Treasurer.Equal(TreasurerAddress(f.stable)) {
		t.Fatalf("treasurer not derived from stable asset")
	}
	asset, err := f.ledger.Asset(f.stable)
	if err != nil {
		t.Fatalf("stable asset: %v", err)
	}
	if !asset.MintAuthority.Equal(f.printer.Treasurer) || asset.Decimals != 6 {
		t.Fatalf("unexpected stable asset %+v", asset)
	}
	if _, err := f.engine.InitializePrinter(f.authority, f.stable, 6); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if got := f.emitter.types(); len(got) != 1 || got[0] != events.TypePrinterInitialized {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestPrintAndBurnRoundTrip(t *testing.T) {
	f := newFixture(t)
	cert := f.withCert(t, 2_000_000, 50_000)
	if cert.State != CertStateActive || !cert.Taxman.Equal(f.authority) {
		t.Fatalf("unexpected cert %+v", cert)
	}

	printed, err := f.engine.Print(f.user, f.printer.Address, f.collateral, 100)
	if err != nil {
		t.Fatalf("print: %v", err)
	}
	if printed.Printed != 200 || printed.Cheque != 200 {
		t.Fatalf("unexpected print result %+v", printed)
	}
	if got := f.balance(t, f.stable, f.user); got != 200 {
		t.Fatalf("expected 200 stable, got %d", got)
	}
	if got := f.balance(t, f.collateral, f.printer.Treasurer); got != 100 {
		t.Fatalf("expected 100 collateral in pool, got %d", got)
	}

	burned, err := f.engine.Burn(f.user, f.printer.Address, f.collateral, 200)
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if burned.Unstaked != 95 || burned.Fee != 5 || burned.Cheque != 0 {
		t.Fatalf("unexpected burn result %+v", burned)
	}
	if got := f.balance(t, f.collateral, f.user); got != 995 {
		t.Fatalf("expected 995 collateral, got %d", got)
	}
	if got := f.balance(t, f.collateral, f.authority); got != 5 {
		t.Fatalf("expected taxman fee 5, got %d", got)
	}
	if got := f.balance(t, f.stable, f.user); got != 0 {
		t.Fatalf("expected stable burned, got %d", got)
	}
	cheque, err := f.engine.Cheque(f.printer.Address, f.collateral, f.user)
	if err != nil || cheque.Amount != 0 {
		t.Fatalf("cheque: %+v (%v)", cheque, err)
	}

	want := []string{
		events.TypePrinterInitialized,
		events.TypeCertInitialized,
		events.TypeChequeInitialized,
		events.TypePrinterPrinted,
		events.TypePrinterBurned,
	}
	got := f.emitter.types()
	if len(got) != len(want) {
		t.Fatalf("unexpected events %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestBurnRejectsBeforeTouchingLedger(t *testing.T) {
	f := newFixture(t)
	f.withCert(t, Precision, 0)
	if _, err := f.engine.Burn(f.user, f.printer.Address, f.collateral, 10); !errors.Is(err, ErrChequeNotFound) {
		t.Fatalf("expected ErrChequeNotFound, got %v", err)
	}
	if _, err := f.engine.Print(f.user, f.printer.Address, f.collateral, 50); err != nil {
		t.Fatalf("print: %v", err)
	}
	// Move stable units in from elsewhere so the cheque is the binding limit.
	if err := f.ledger.Mint(f.stable, f.user, 50, f.mustTreasurer(t)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := f.engine.Burn(f.user, f.printer.Address, f.collateral, 60); !errors.Is(err, ErrInsufficientLedger) {
		t.Fatalf("expected ErrInsufficientLedger, got %v", err)
	}
	if got := f.balance(t, f.stable, f.user); got != 100 {
		t.Fatalf("stable balance changed on rejected burn: %d", got)
	}
}

func (f *fixture) mustTreasurer(t *testing.T) Treasurer {
	t.Helper()
	treasurer, err := NewTreasurer(f.printer)
	if err != nil {
		t.Fatalf("treasurer: %v", err)
	}
	return treasurer
}

func TestStateGates(t *testing.T) {
	f := newFixture(t)
	f.withCert(t, Precision, 0)
	if _, err := f.engine.Print(f.user, f.printer.Address, f.collateral, 10); err != nil {
		t.Fatalf("print: %v", err)
	}

	if _, err := f.engine.SetCertState(f.authority, f.printer.Address, f.collateral, CertStateBurnOnly); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if _, err := f.engine.Print(f.user, f.printer.Address, f.collateral, 10); !errors.Is(err, ErrNotPrintable) {
		t.Fatalf("expected ErrNotPrintable, got %v", err)
	}
	if _, err := f.engine.Burn(f.user, f.printer.Address, f.collateral, 5); err != nil {
		t.Fatalf("burn in burn_only: %v", err)
	}

	if _, err := f.engine.SetCertState(f.authority, f.printer.Address, f.collateral, CertStatePaused); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if _, err := f.engine.Burn(f.user, f.printer.Address, f.collateral, 5); !errors.Is(err, ErrNotBurnable) {
		t.Fatalf("expected ErrNotBurnable, got %v", err)
	}
	if _, err := f.engine.SetCertState(f.authority, f.printer.Address, f.collateral, CertStateUninitialized); !errors.Is(err, ErrUninitializedCert) {
		t.Fatalf("expected ErrUninitializedCert, got %v", err)
	}
	cert, err := f.engine.Cert(f.printer.Address, f.collateral)
	if err != nil || cert.State != CertStatePaused {
		t.Fatalf("cert state %v (%v)", cert, err)
	}
}

func TestAdminRequiresAuthority(t *testing.T) {
	f := newFixture(t)
	f.withCert(t, Precision, 0)
	stranger := testAddr("stranger")

	if _, err := f.engine.InitializeCert(stranger, f.printer.Address, testAddr("other"), Precision, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("init cert: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.engine.InitializeCert(stranger, f.printer.Address, testAddr("other"), Precision, Precision+1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("init cert with bad fee: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.engine.InitializeLegacyCert(stranger, f.printer.Address, testAddr("other"), 1, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("init legacy cert under price/fee: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.engine.SetCertState(stranger, f.printer.Address, f.collateral, CertStatePaused); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("set state: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.engine.SetCertFee(stranger, f.printer.Address, f.collateral, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("set fee: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.engine.SetCertTaxman(stranger, f.printer.Address, f.collateral, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("set taxman: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.engine.TransferAuthority(stranger, f.printer.Address, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("transfer authority: expected ErrUnauthorized, got %v", err)
	}

	next := testAddr("next")
	if _, err := f.engine.TransferAuthority(f.authority, f.printer.Address, crypto.Address{}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := f.engine.TransferAuthority(f.authority, f.printer.Address, next); err != nil {
		t.Fatalf("transfer authority: %v", err)
	}
	if _, err := f.engine.SetCertFee(f.authority, f.printer.Address, f.collateral, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous authority kept access: %v", err)
	}
	cert, err := f.engine.SetCertTaxman(next, f.printer.Address, f.collateral, stranger)
	if err != nil || !cert.Taxman.Equal(stranger) {
		t.Fatalf("set taxman: %+v (%v)", cert, err)
	}
	cert, err = f.engine.SetCertFee(next, f.printer.Address, f.collateral, 10_000)
	if err != nil || cert.Fee != 10_000 {
		t.Fatalf("set fee: %+v (%v)", cert, err)
	}
}

func TestInitializeChequeAndCertValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.InitializeCheque(f.user, f.printer.Address, f.collateral); !errors.Is(err, ErrCertNotFound) {
		t.Fatalf("expected ErrCertNotFound, got %v", err)
	}
	if _, err := f.engine.InitializeCert(f.authority, f.printer.Address, f.collateral, Precision, Precision+1); !errors.Is(err, ErrInvalidFee) {
		t.Fatalf("expected ErrInvalidFee, got %v", err)
	}
	if _, err := f.engine.InitializeCert(f.authority, f.printer.Address, f.stable, Precision, 0); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("stable as collateral: expected ErrInvalidAddress, got %v", err)
	}
	if _, err := f.engine.InitializeLegacyCert(f.authority, f.printer.Address, f.collateral, 1, 1); !errors.Is(err, ErrModelMismatch) {
		t.Fatalf("expected ErrModelMismatch, got %v", err)
	}
	f.withCert(t, Precision, 0)
	if _, err := f.engine.InitializeCert(f.authority, f.printer.Address, f.collateral, Precision, 0); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	cheque, err := f.engine.InitializeCheque(f.user, f.printer.Address, f.collateral)
	if err != nil || cheque.Amount != 0 || !cheque.Owner.Equal(f.user) {
		t.Fatalf("initialize cheque: %+v (%v)", cheque, err)
	}
	if _, err := f.engine.InitializeCheque(f.user, f.printer.Address, f.collateral); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestZeroPriceFailsConversion(t *testing.T) {
	f := newFixture(t)
	f.withCert(t, 0, 0)
	if _, err := f.engine.Print(f.user, f.printer.Address, f.collateral, 10); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if _, err := f.engine.Print(f.user, f.printer.Address, f.collateral, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDustPrintRejected(t *testing.T) {
	f := newFixture(t)
	f.withCert(t, Precision/2, 0)
	if _, err := f.engine.Print(f.user, f.printer.Address, f.collateral, 1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if got := f.balance(t, f.collateral, f.user); got != 1_000 {
		t.Fatalf("dust print moved collateral: %d", got)
	}
	if got := f.balance(t, f.collateral, f.printer.Treasurer); got != 0 {
		t.Fatalf("pool received dust: %d", got)
	}
	if _, err := f.engine.Cheque(f.printer.Address, f.collateral, f.user); !errors.Is(err, ErrChequeNotFound) {
		t.Fatalf("dust print opened a cheque: %v", err)
	}
	res, err := f.engine.Print(f.user, f.printer.Address, f.collateral, 2)
	if err != nil || res.Printed != 1 {
		t.Fatalf("print: %+v (%v)", res, err)
	}
}

func TestLegacyRatePairModel(t *testing.T) {
	f := newFixture(t)
	f.engine.SetModel(ModelRatePair)
	if _, err := f.engine.InitializeCert(f.authority, f.printer.Address, f.collateral, Precision, 0); !errors.Is(err, ErrModelMismatch) {
		t.Fatalf("expected ErrModelMismatch, got %v", err)
	}
	cert, err := f.engine.InitializeLegacyCert(f.authority, f.printer.Address, f.collateral, 3, 2)
	if err != nil || cert.Model != ModelRatePair {
		t.Fatalf("legacy cert: %+v (%v)", cert, err)
	}
	if _, err := f.engine.SetCertFee(f.authority, f.printer.Address, f.collateral, 1); !errors.Is(err, ErrFeeUnsupported) {
		t.Fatalf("expected ErrFeeUnsupported, got %v", err)
	}
	res, err := f.engine.Print(f.user, f.printer.Address, f.collateral, 100)
	if err != nil || res.Printed != 150 {
		t.Fatalf("print: %+v (%v)", res, err)
	}
	burned, err := f.engine.Burn(f.user, f.printer.Address, f.collateral, 150)
	if err != nil || burned.Unstaked != 100 || burned.Fee != 0 {
		t.Fatalf("burn: %+v (%v)", burned, err)
	}
}

func TestPauseGuard(t *testing.T) {
	f := newFixture(t)
	f.withCert(t, Precision, 0)
	f.engine.SetPauses(stubPauseView{modules: map[string]bool{ModuleName: true}})
	if _, err := f.engine.Print(f.user, f.printer.Address, f.collateral, 10); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if got := f.balance(t, f.collateral, f.user); got != 1_000 {
		t.Fatalf("collateral moved while paused: %d", got)
	}
	if _, err := f.engine.Cert(f.printer.Address, f.collateral); err != nil {
		t.Fatalf("reads must not be paused: %v", err)
	}
}

func TestLedgerFailureRollsBackWithOverlay(t *testing.T) {
	for failAt := 1; failAt <= 3; failAt++ {
		f := newFixture(t)
		f.withCert(t, 2_000_000, 50_000)
		if _, err := f.engine.Print(f.user, f.printer.Address, f.collateral, 100); err != nil {
			t.Fatalf("print: %v", err)
		}

		overlay := storage.NewOverlay(f.db)
		kv := storage.NewKV(overlay)
		ledger := &failingLedger{Ledger: token.NewLedger(kv), failAt: failAt}
		engine := NewEngine(NewStore(kv), ledger)
		if _, err := engine.Burn(f.user, f.printer.Address, f.collateral, 200); !errors.Is(err, errInjected) {
			t.Fatalf("fail at %d: expected injected error, got %v", failAt, err)
		}
		overlay.Discard()

		if got := f.balance(t, f.stable, f.user); got != 200 {
			t.Fatalf("fail at %d: stable balance %d", failAt, got)
		}
		if got := f.balance(t, f.collateral, f.printer.Treasurer); got != 100 {
			t.Fatalf("fail at %d: pool balance %d", failAt, got)
		}
		cheque, err := f.engine.Cheque(f.printer.Address, f.collateral, f.user)
		if err != nil || cheque.Amount != 200 {
			t.Fatalf("fail at %d: cheque %+v (%v)", failAt, cheque, err)
		}
	}
}

func TestTreasurerRejectsForeignRecord(t *testing.T) {
	forged := &Printer{StableAsset: testAddr("stable"), Treasurer: testAddr("attacker")}
	if _, err := NewTreasurer(forged); !errors.Is(err, ErrInvalidTreasurer) {
		t.Fatalf("expected ErrInvalidTreasurer, got %v", err)
	}
}
