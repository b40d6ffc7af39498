package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// GormStore implements Store over a gorm connection
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store backed by db
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying connection
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Uploads() UploadRepository   { return &uploadRepository{db: s.db} }
func (s *GormStore) Staging() StagingRepository  { return &stagingRepository{db: s.db} }
func (s *GormStore) Artists() ArtistRepository   { return &artistRepository{db: s.db} }
func (s *GormStore) Mappings() MappingRepository { return &mappingRepository{db: s.db} }
func (s *GormStore) Charts() ChartRepository     { return &chartRepository{db: s.db} }

// WithinTx runs fn inside a database transaction
func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// translate maps gorm errors to the repository sentinels
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrDuplicate
	default:
		return err
	}
}

// isUniqueViolation recognizes unique violations whether or not the dialect
// translated them into gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
