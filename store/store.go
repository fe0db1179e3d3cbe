// Package store provides the durable key/value slot that lets a signed-in
// session survive process restarts.
//
// Drivers: memory (tests, ephemeral sessions), file (a JSON document on disk),
// redis and sqlite. Pick one through Config.Driver and New.
package store

import (
	"fmt"
	"time"

	todo "github.com/chimerakang/todo-go"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Driver identifiers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config selects and tunes a driver.
type Config struct {
	Driver string

	// Path is the file driver's document path.
	Path string

	// TTL bounds how long redis keeps a value. Zero keeps it until deleted.
	TTL time.Duration

	Redis  *RedisConfig
	SQLite *SQLiteConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// SQLiteConfig names the database used when no handle is injected.
type SQLiteConfig struct {
	DSN string
}

// Dependencies carries external handles required by certain drivers.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New creates a store for cfg.Driver (default: memory).
func New(cfg Config, deps Dependencies) (todo.Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		return NewFile(cfg.Path)
	case DriverRedis:
		return NewRedis(cfg)
	case DriverSQLite:
		if deps.SQLiteDB != nil {
			return NewSQLite(deps.SQLiteDB)
		}
		if cfg.SQLite == nil || cfg.SQLite.DSN == "" {
			return nil, fmt.Errorf("todo/store: sqlite driver requires a database handle or DSN")
		}
		db, err := gorm.Open(sqlite.Open(cfg.SQLite.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("todo/store: open sqlite: %w", err)
		}
		s, err := NewSQLite(db)
		if err != nil {
			return nil, err
		}
		s.owned = true
		return s, nil
	default:
		return nil, fmt.Errorf("todo/store: unsupported driver %q", driver)
	}
}
