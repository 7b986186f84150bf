package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned by Get for unknown receipt ids.
var ErrNotFound = errors.New("receipts: not found")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Receipt indexes one committed printer operation.
type Receipt struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Operation  string    `gorm:"size:32;index" json:"operation"`
	Caller     string    `gorm:"size:96;index" json:"caller"`
	Printer    string    `gorm:"size:96;index" json:"printer,omitempty"`
	Collateral string    `gorm:"size:96" json:"collateral,omitempty"`
	Result     string    `gorm:"type:text" json:"result"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Operation string
	Caller    string
	Printer   string
	Before    time.Time
	Limit     int
}

// Store persists receipts through gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn. postgres:// and postgresql:// URLs use the Postgres
// driver; anything else is treated as a SQLite DSN.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("receipts: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("receipts: open: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("receipts: nil db")
	}
	if err := db.AutoMigrate(&Receipt{}); err != nil {
		return nil, fmt.Errorf("receipts: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Record stores a receipt for a committed operation. result is encoded as JSON.
func (s *Store) Record(ctx context.Context, operation, caller, printer, collateral string, result any) (*Receipt, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("receipts: encode result: %w", err)
	}
	receipt := &Receipt{
		ID:         uuid.New(),
		Operation:  operation,
		Caller:     caller,
		Printer:    printer,
		Collateral: collateral,
		Result:     string(encoded),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(receipt).Error; err != nil {
		return nil, fmt.Errorf("receipts: insert: %w", err)
	}
	return receipt, nil
}

// Get loads a receipt by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	var receipt Receipt
	err := s.db.WithContext(ctx).First(&receipt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("receipts: get: %w", err)
	}
	return &receipt, nil
}

// List returns the newest receipts matching filter.
func (s *Store) List(ctx context.Context, filter Filter) ([]Receipt, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := s.db.WithContext(ctx).Model(&Receipt{})
	if filter.Operation != "" {
		query = query.Where("operation = ?", filter.Operation)
	}
	if filter.Caller != "" {
		query = query.Where("caller = ?", filter.Caller)
	}
	if filter.Printer != "" {
		query = query.Where("printer = ?", filter.Printer)
	}
	if !filter.Before.IsZero() {
		query = query.Where("created_at < ?", filter.Before.UTC())
	}
	var out []Receipt
	if err := query.Order("created_at desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("receipts: list: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
