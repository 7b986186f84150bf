package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kylan/core/events"
	"kylan/crypto"
	nativecommon "kylan/native/common"
	"kylan/native/printer"
	"kylan/native/token"
	"kylan/observability"
	"kylan/storage"
)

var errNilDatabase = errors.New("processor: database not configured")

// GenesisBalance is an initial holding credited when an asset is seeded.
type GenesisBalance struct {
	Owner  crypto.Address
	Amount uint64
}

// GenesisAsset registers a collateral asset and its initial holders.
type GenesisAsset struct {
	Address  crypto.Address
	Decimals uint8
	Balances []GenesisBalance
}

// Processor serialises printer operations over a database. Each operation
// runs against a private overlay that is committed in a single batch when the
// operation succeeds and dropped otherwise, so a failure at any step leaves
// committed state untouched. Events reach subscribers only after commit.
type Processor struct {
	mu      sync.Mutex
	db      storage.Database
	model   printer.CertModel
	pauses  *nativecommon.Pauses
	emitter events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.PrinterMetrics
}

// NewProcessor constructs a processor over db using the price/fee model.
func NewProcessor(db storage.Database) *Processor {
	return &Processor{
		db:      db,
		model:   printer.ModelPriceFee,
		pauses:  nativecommon.NewPauses(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("kylan/core"),
		metrics: observability.Printer(),
	}
}

// SetModel selects the certificate model enforced on new certificates.
func (p *Processor) SetModel(model printer.CertModel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

// SetEmitter routes committed events to emitter. The emitter is invoked with
// the processor lock held and must not call back into the processor.
func (p *Processor) SetEmitter(emitter events.Emitter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	p.emitter = emitter
}

// SetLogger replaces the operation logger.
func (p *Processor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// SetPaused pauses or resumes the printer module.
func (p *Processor) SetPaused(paused bool) {
	p.pauses.Set(printer.ModuleName, paused)
	p.metrics.SetPaused(paused)
	p.logger.Info("printer pause toggled", slog.Bool("paused", paused))
}

// Paused reports whether the printer module is paused.
func (p *Processor) Paused() bool {
	return p.pauses.IsPaused(printer.ModuleName)
}

// Execute runs fn atomically against a fresh engine. name labels logs,
// spans and metrics.
func (p *Processor) Execute(ctx context.Context, name string, fn func(*printer.Engine) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := p.tracer.Start(ctx, "printer."+name, trace.WithAttributes(attribute.String("printer.operation", name)))
	defer span.End()

	started := time.Now()
	buffer := &events.Buffer{}
	var committed []events.Event
	err := p.transact(func(engine *printer.Engine, _ *token.Ledger) error {
		engine.SetEmitter(buffer)
		return fn(engine)
	}, func() {
		committed = buffer.Events()
		for _, evt := range committed {
			recordVolume(p.metrics, evt)
			observability.Events().RecordEvent(evt.EventType())
		}
		buffer.Flush(p.emitter)
	})
	p.metrics.Observe(name, time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("printer operation rejected",
			slog.String("operation", name),
			slog.Any("error", err))
		return err
	}

	span.SetAttributes(attribute.Int("printer.events", len(committed)))
	p.logger.Info("printer operation committed",
		slog.String("operation", name),
		slog.Int("events", len(committed)),
		slog.Duration("elapsed", time.Since(started)))
	return nil
}

// View runs fn against committed state. Writes made by fn are discarded.
func (p *Processor) View(ctx context.Context, fn func(*printer.Engine, *token.Ledger) error) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if p.db == nil {
		return errNilDatabase
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	overlay := storage.NewOverlay(p.db)
	defer overlay.Discard()
	engine, ledger := p.wire(overlay)
	return fn(engine, ledger)
}

// Seed registers collateral assets and credits their initial balances.
// Assets that already exist are left untouched so restarts are idempotent.
func (p *Processor) Seed(ctx context.Context, assets []GenesisAsset) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return p.transact(func(_ *printer.Engine, ledger *token.Ledger) error {
		for _, asset := range assets {
			err := ledger.CreateAsset(asset.Address, asset.Decimals, crypto.Address{})
			if errors.Is(err, token.ErrAssetExists) {
				continue
			}
			if err != nil {
				return fmt.Errorf("seed asset %s: %w", asset.Address, err)
			}
			for _, balance := range asset.Balances {
				if err := ledger.Seed(asset.Address, balance.Owner, balance.Amount); err != nil {
					return fmt.Errorf("seed %s balance for %s: %w", asset.Address, balance.Owner, err)
				}
			}
			p.logger.Info("collateral asset seeded",
				slog.String("asset", asset.Address.String()),
				slog.Int("holders", len(asset.Balances)))
		}
		return nil
	}, nil)
}

// transact runs fn against a fresh overlay and commits it. committed runs
// after a successful commit while the lock is still held, so events leave in
// commit order.
func (p *Processor) transact(fn func(*printer.Engine, *token.Ledger) error, committed func()) error {
	if p.db == nil {
		return errNilDatabase
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	overlay := storage.NewOverlay(p.db)
	engine, ledger := p.wire(overlay)
	if err := fn(engine, ledger); err != nil {
		overlay.Discard()
		return err
	}
	if err := overlay.Commit(); err != nil {
		return fmt.Errorf("processor: commit: %w", err)
	}
	if committed != nil {
		committed()
	}
	return nil
}

func (p *Processor) wire(db storage.Database) (*printer.Engine, *token.Ledger) {
	kv := storage.NewKV(db)
	ledger := token.NewLedger(kv)
	engine := printer.NewEngine(printer.NewStore(kv), ledger)
	engine.SetModel(p.model)
	engine.SetPauses(p.pauses)
	return engine, ledger
}

func recordVolume(m *observability.PrinterMetrics, evt events.Event) {
	switch e := evt.(type) {
	case events.Printed:
		m.AddVolume("staked", e.Staked)
		m.AddVolume("printed", e.Printed)
	case events.Burned:
		m.AddVolume("burned", e.Burned)
		m.AddVolume("unstaked", e.Unstaked)
		m.AddVolume("fee", e.Fee)
	}
}
