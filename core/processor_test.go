package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"kylan/core/events"
	"kylan/crypto"
	nativecommon "kylan/native/common"
	"kylan/native/printer"
	"kylan/native/token"
	"kylan/storage"
)

type collector struct {
	types []string
}

func (c *collector) Emit(e events.Event) { c.types = append(c.types, e.EventType()) }

func addr(seed string) crypto.Address {
	return crypto.DeriveAddress([]byte("processor-test"), []byte(seed))
}

type setup struct {
	proc       *Processor
	sink       *collector
	authority  crypto.Address
	user       crypto.Address
	stable     crypto.Address
	collateral crypto.Address
	printer    crypto.Address
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	s := &setup{
		proc:       NewProcessor(storage.NewMemDB()),
		sink:       &collector{},
		authority:  addr("authority"),
		user:       addr("user"),
		stable:     addr("stable"),
		collateral: addr("collateral"),
	}
	s.proc.SetEmitter(s.sink)
	ctx := context.Background()
	require.NoError(t, s.proc.Seed(ctx, []GenesisAsset{{
		Address:  s.collateral,
		Decimals: 6,
		Balances: []GenesisBalance{{Owner: s.user, Amount: 1_000}},
	}}))
	require.NoError(t, s.proc.Execute(ctx, "initialize_printer", func(e *printer.Engine) error {
		p, err := e.InitializePrinter(s.authority, s.stable, 6)
		if err != nil {
			return err
		}
		s.printer = p.Address
		_, err = e.InitializeCert(s.authority, p.Address, s.collateral, 2_000_000, 50_000)
		return err
	}))
	return s
}

func (s *setup) balance(t *testing.T, asset, owner crypto.Address) uint64 {
	t.Helper()
	var out uint64
	require.NoError(t, s.proc.View(context.Background(), func(_ *printer.Engine, ledger *token.Ledger) error {
		var err error
		out, err = ledger.BalanceOf(asset, owner)
		return err
	}))
	return out
}

func TestExecuteCommitsAndFlushesEvents(t *testing.T) {
	s := newSetup(t)
	require.Equal(t, []string{events.TypePrinterInitialized, events.TypeCertInitialized}, s.sink.types)

	require.NoError(t, s.proc.Execute(context.Background(), "print", func(e *printer.Engine) error {
		_, err := e.Print(s.user, s.printer, s.collateral, 100)
		return err
	}))
	require.Equal(t, uint64(200), s.balance(t, s.stable, s.user))
	require.Equal(t, uint64(900), s.balance(t, s.collateral, s.user))
	require.Equal(t, events.TypePrinterPrinted, s.sink.types[len(s.sink.types)-1])
}

func TestExecuteDiscardsOnFailure(t *testing.T) {
	s := newSetup(t)
	before := len(s.sink.types)
	boom := errors.New("abort after print")

	err := s.proc.Execute(context.Background(), "print", func(e *printer.Engine) error {
		if _, err := e.Print(s.user, s.printer, s.collateral, 100); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, s.balance(t, s.stable, s.user))
	require.Equal(t, uint64(1_000), s.balance(t, s.collateral, s.user))
	require.Len(t, s.sink.types, before)

	require.NoError(t, s.proc.View(context.Background(), func(e *printer.Engine, _ *token.Ledger) error {
		_, err := e.Cheque(s.printer, s.collateral, s.user)
		require.ErrorIs(t, err, printer.ErrChequeNotFound)
		return nil
	}))
}

func TestPauseBlocksMutations(t *testing.T) {
	s := newSetup(t)
	s.proc.SetPaused(true)
	require.True(t, s.proc.Paused())

	err := s.proc.Execute(context.Background(), "print", func(e *printer.Engine) error {
		_, err := e.Print(s.user, s.printer, s.collateral, 10)
		return err
	})
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	s.proc.SetPaused(false)
	require.NoError(t, s.proc.Execute(context.Background(), "print", func(e *printer.Engine) error {
		_, err := e.Print(s.user, s.printer, s.collateral, 10)
		return err
	}))
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newSetup(t)
	require.NoError(t, s.proc.Seed(context.Background(), []GenesisAsset{{
		Address:  s.collateral,
		Balances: []GenesisBalance{{Owner: s.user, Amount: 5_000}},
	}}))
	require.Equal(t, uint64(1_000), s.balance(t, s.collateral, s.user))
}

func TestViewDoesNotPersistWrites(t *testing.T) {
	s := newSetup(t)
	require.NoError(t, s.proc.View(context.Background(), func(_ *printer.Engine, ledger *token.Ledger) error {
		return ledger.Seed(s.collateral, s.user, 1)
	}))
	require.Equal(t, uint64(1_000), s.balance(t, s.collateral, s.user))
}

type chequeTape struct {
	mu      sync.Mutex
	cheques []uint64
}

func (c *chequeTape) Emit(e events.Event) {
	if printed, ok := e.(events.Printed); ok {
		c.mu.Lock()
		c.cheques = append(c.cheques, printed.Cheque)
		c.mu.Unlock()
	}
}

func TestConcurrentEventsLeaveInCommitOrder(t *testing.T) {
	s := newSetup(t)
	tape := &chequeTape{}
	s.proc.SetEmitter(tape)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.proc.Execute(context.Background(), "print", func(e *printer.Engine) error {
				_, err := e.Print(s.user, s.printer, s.collateral, 10)
				return err
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, tape.cheques, workers)
	for i, cheque := range tape.cheques {
		require.Equal(t, uint64(20*(i+1)), cheque, "event %d out of commit order", i)
	}
}
