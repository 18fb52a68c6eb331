package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"marketpipe/internal/domain"
)

// Storage is the SQLite archive tier behind domain.ArchiveRepository.
// The pipeline writes large trades here and the reconciliation engine
// writes audit rows; the hot path never reads from it.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the archive database at path.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		path = filepath.Join("data", "marketpipe.db")
	}

	// Ensure directory exists
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.ArchivedTrade{}, &domain.AuditEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// SaveLargeTrade persists one large trade.
func (s *Storage) SaveLargeTrade(t *domain.NormalizedTrade) error {
	row := domain.ArchivedTrade{
		Symbol:     t.Symbol,
		TradeID:    t.ID,
		Side:       t.Side,
		Price:      t.Price.String(),
		Quantity:   t.Quantity.String(),
		AmountUSDT: t.AmountUSDT.String(),
		Timestamp:  t.Timestamp,
	}
	return s.db.Create(&row).Error
}

// SaveAuditCheck persists the outcome of one reconciliation check.
func (s *Storage) SaveAuditCheck(rec *domain.ReconciliationRecord) error {
	row := domain.AuditEntry{
		Symbol:        rec.Symbol,
		PushPrice:     rec.LastPushPrice.String(),
		PullPrice:     rec.LastPullPrice.String(),
		Diff:          rec.LastDiff.String(),
		Mismatch:      rec.ConsecutiveMismatch > 0,
		TotalChecks:   rec.TotalChecks,
		MismatchCount: rec.MismatchCount,
		CheckedAt:     rec.LastCheckedAt,
	}
	return s.db.Create(&row).Error
}

// LargeTradesSince returns archived large trades with timestamp >= since.
func (s *Storage) LargeTradesSince(symbol string, since int64) ([]domain.ArchivedTrade, error) {
	var rows []domain.ArchivedTrade
	err := s.db.Where("symbol = ? AND timestamp >= ?", symbol, since).
		Order("timestamp asc").Find(&rows).Error
	return rows, err
}

// AuditEntriesSince returns archived audit rows with checked_at >= since.
func (s *Storage) AuditEntriesSince(symbol string, since int64) ([]domain.AuditEntry, error) {
	var rows []domain.AuditEntry
	err := s.db.Where("symbol = ? AND checked_at >= ?", symbol, since).
		Order("checked_at asc").Find(&rows).Error
	return rows, err
}

// Cleanup deletes rows older than the retention window.
func (s *Storage) Cleanup(retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UnixMilli()
	if err := s.db.Where("timestamp < ?", cutoff).Delete(&domain.ArchivedTrade{}).Error; err != nil {
		return err
	}
	return s.db.Where("checked_at < ?", cutoff).Delete(&domain.AuditEntry{}).Error
}

// Close closes the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
