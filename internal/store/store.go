// Package store persists conversion job history in a SQLite database.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrJobNotFound is returned when a job id has no matching record.
var ErrJobNotFound = errors.New("job not found")

// Store wraps the job history database.
type Store struct {
	db *gorm.DB
}

// New opens (or creates) the SQLite database at dbPath and migrates the
// schema.
func New(dbPath string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing connection and migrates the schema. Used by
// tests with an in-memory database.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(ModelsToMigrate()...); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save inserts a new job record. The id is assigned on insert when unset.
func (s *Store) Save(ctx context.Context, job *ConversionJob) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// Update persists changes to an existing job record.
func (s *Store) Update(ctx context.Context, job *ConversionJob) error {
	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// Get fetches a single job by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*ConversionJob, error) {
	var job ConversionJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// Recent returns up to limit jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]ConversionJob, error) {
	if limit <= 0 {
		limit = 20
	}
	var jobs []ConversionJob
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Count returns the total number of job records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ConversionJob{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
