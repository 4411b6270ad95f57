package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"arbitrage_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists audit records in SQLite. The audit log is append-only:
// records are inserted in logical-clock order and never updated.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the audit database at path.
// Use ":memory:" for tests.
func NewStorage(path string) (*Storage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Pure-Go SQLite, no cgo
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.AuditRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// AppendRecords writes a batch of audit records in one transaction.
func (s *Storage) AppendRecords(records []domain.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.Create(&records).Error; err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuditWrite, err)
	}
	return nil
}

// RecordsByRef returns all audit records for an opportunity or intent ID,
// ordered by logical clock.
func (s *Storage) RecordsByRef(ref string) ([]domain.AuditRecord, error) {
	var records []domain.AuditRecord
	err := s.db.Where("ref = ?", ref).Order("clock asc").Find(&records).Error
	return records, err
}

// RecordsSince returns records with clock strictly greater than after,
// ordered by logical clock. Supports ordered replay for reconciliation.
func (s *Storage) RecordsSince(after uint64, limit int) ([]domain.AuditRecord, error) {
	var records []domain.AuditRecord
	q := s.db.Where("clock > ?", after).Order("clock asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&records).Error
	return records, err
}

// LastClock returns the highest logical clock in the store, 0 when empty.
func (s *Storage) LastClock() (uint64, error) {
	var record domain.AuditRecord
	err := s.db.Order("clock desc").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return record.Clock, err
}
