package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	todo "github.com/chimerakang/todo-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is the row holding one slot value.
type Entry struct {
	Key       string `gorm:"column:slot_key;primaryKey;size:128"`
	Value     []byte
	UpdatedAt time.Time
}

// TableName implements gorm's Tabler.
func (Entry) TableName() string { return "session_entries" }

// SQLite keeps values in a gorm-managed table.
type SQLite struct {
	db    *gorm.DB
	owned bool
}

// NewSQLite migrates the slot table on db.
func NewSQLite(db *gorm.DB) (*SQLite, error) {
	if db == nil {
		return nil, fmt.Errorf("todo/store: sqlite store requires database handle")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("todo/store: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get implements todo.Store.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var e Entry
	err := s.db.WithContext(ctx).Where("slot_key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, todo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("todo/store: sqlite get: %w", err)
	}
	return e.Value, nil
}

// Set implements todo.Store.
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	e := Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("todo/store: sqlite set: %w", err)
	}
	return nil
}

// Delete implements todo.Store.
func (s *SQLite) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("slot_key IN ?", keys).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("todo/store: sqlite delete: %w", err)
	}
	return nil
}

// Close releases the database when the store opened it itself.
func (s *SQLite) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
