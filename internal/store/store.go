package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/polybot/internal/domain"
	"github.com/web3guy0/polybot/internal/domainerr"
	"github.com/web3guy0/polybot/internal/matching"
)

// ErrNotFound means the query ran cleanly and simply found no row — the
// only condition under which a caller may treat "no portfolio yet" as
// normal. Any other error is a genuine persistence failure.
var ErrNotFound = errors.New("store: not found")

// Store is a gorm-backed implementation of matching.Store.
type Store struct {
	db *gorm.DB
}

// New opens a connection: a "postgres://" or "postgresql://" prefixed
// dsn selects gorm's postgres driver, anything else is treated as a
// sqlite file path (creating parent directories as needed), matching
// internal/database/database.go.New()'s dispatch.
func New(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		log.Info().Msg("paper trading store connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dsn)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		log.Info().Str("path", dsn).Msg("paper trading store initialized (SQLite)")
	}

	if err := db.AutoMigrate(&portfolioModel{}, &positionModel{}, &orderModel{}, &tradeModel{}, &marginBlockModel{}); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}

	return &Store{db: db}, nil
}

// SavePortfolio upserts a portfolio row.
func (s *Store) SavePortfolio(p *domain.Portfolio) error {
	return s.db.Save(toPortfolioModel(p)).Error
}

// LoadPortfolio loads a portfolio by ID. Returns ErrNotFound when no such
// portfolio exists; any other error is a genuine persistence failure.
func (s *Store) LoadPortfolio(id string) (*domain.Portfolio, error) {
	var m portfolioModel
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, domainerr.PersistenceFailure{Op: "load portfolio", Cause: err}
	}
	return fromPortfolioModel(&m), nil
}

// SavePosition upserts a position row.
func (s *Store) SavePosition(p *domain.Position) error {
	return s.db.Save(toPositionModel(p)).Error
}

// LoadPositions loads all positions for a portfolio.
func (s *Store) LoadPositions(portfolioID string) ([]*domain.Position, error) {
	var rows []positionModel
	if err := s.db.Where("portfolio_id = ?", portfolioID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Position, len(rows))
	for i := range rows {
		out[i] = fromPositionModel(&rows[i])
	}
	return out, nil
}

// SaveOrder upserts an order row.
func (s *Store) SaveOrder(o *domain.Order) error {
	return s.db.Save(toOrderModel(o)).Error
}

// LoadOrders loads all orders for a portfolio.
func (s *Store) LoadOrders(portfolioID string) ([]*domain.Order, error) {
	var rows []orderModel
	if err := s.db.Where("portfolio_id = ?", portfolioID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Order, len(rows))
	for i := range rows {
		out[i] = fromOrderModel(&rows[i])
	}
	return out, nil
}

// SaveTrade inserts a trade row. Trades are append-only (spec.md §3):
// callers must never call this twice for the same ID.
func (s *Store) SaveTrade(t *domain.Trade) error {
	return s.db.Create(toTradeModel(t)).Error
}

// LoadTrades loads the most recent trades for a portfolio, newest first.
func (s *Store) LoadTrades(portfolioID string, limit int) ([]*domain.Trade, error) {
	q := s.db.Where("portfolio_id = ?", portfolioID).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []tradeModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Trade, len(rows))
	for i := range rows {
		out[i] = fromTradeModel(&rows[i])
	}
	return out, nil
}

// WithTransaction runs fn against a Store scoped to a single gorm
// transaction (spec.md §6 atomicity requirement).
func (s *Store) WithTransaction(fn func(tx matching.Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		scoped := &Store{db: tx}
		return fn(scoped)
	})
}

// Reset deletes all persisted rows for a portfolio (spec.md §6 reset_account).
func (s *Store) Reset(portfolioID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("portfolio_id = ?", portfolioID).Delete(&tradeModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("portfolio_id = ?", portfolioID).Delete(&orderModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("portfolio_id = ?", portfolioID).Delete(&positionModel{}).Error; err != nil {
			return err
		}
		return tx.Where("portfolio_id = ?", portfolioID).Delete(&marginBlockModel{}).Error
	})
}
