// Package config loads process configuration for the todo binaries.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML file named by TODO_CONFIG, and environment variables. A .env file in
// the working directory is loaded first when present.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	todo "github.com/chimerakang/todo-go"
	"github.com/chimerakang/todo-go/federation"
	"github.com/chimerakang/todo-go/store"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is read once at startup and treated as immutable.
type Config struct {
	APIURL      string `yaml:"api_url"`
	AfterLogin  string `yaml:"after_login"`
	AfterLogout string `yaml:"after_logout"`

	Store  Store  `yaml:"store"`
	Google Google `yaml:"google"`
	Server Server `yaml:"server"`
	Log    Log    `yaml:"log"`

	Metrics bool `yaml:"metrics"`
}

// Store selects the durable session slot.
type Store struct {
	Driver        string        `yaml:"driver"`
	Path          string        `yaml:"path"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	SQLiteDSN     string        `yaml:"sqlite_dsn"`
}

// Google holds the OAuth client registration.
type Google struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// Server tunes the auth server.
type Server struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"cors_origin"`
	// RateLimit is credential and signup requests per minute per client.
	RateLimit int `yaml:"rate_limit"`
}

// Log tunes process logging.
type Log struct {
	Level string `yaml:"level"`
	Dev   bool   `yaml:"dev"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		AfterLogin:  todo.DefaultAfterLogin,
		AfterLogout: todo.DefaultAfterLogout,
		Store: Store{
			Driver: store.DriverFile,
			Path:   defaultStorePath(),
		},
		Server: Server{
			Addr:       ":3000",
			CORSOrigin: "http://localhost:3000",
			RateLimit:  20,
		},
		Log: Log{Level: "info"},
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".todo-session.json"
	}
	return filepath.Join(dir, "todo", "session.json")
}

// Load reads .env files (default: ./.env, ignored when missing) into the
// environment and then builds the Config from it.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)
	return FromEnv(os.Getenv)
}

// FromEnv builds the Config from getenv. It fails when the API URL is
// missing or not an absolute http(s) URL.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path := getenv("TODO_CONFIG"); path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	setString(&cfg.APIURL, getenv("TODO_API_URL"), getenv("NEXT_PUBLIC_API_URL"))
	setString(&cfg.AfterLogin, getenv("TODO_AFTER_LOGIN"))
	setString(&cfg.AfterLogout, getenv("TODO_AFTER_LOGOUT"))

	setString(&cfg.Store.Driver, getenv("TODO_STORE_DRIVER"))
	setString(&cfg.Store.Path, getenv("TODO_STORE_PATH"))
	setString(&cfg.Store.RedisAddr, getenv("TODO_REDIS_ADDR"))
	setString(&cfg.Store.RedisPassword, getenv("TODO_REDIS_PASSWORD"))
	setString(&cfg.Store.RedisPrefix, getenv("TODO_REDIS_PREFIX"))
	setString(&cfg.Store.SQLiteDSN, getenv("TODO_SQLITE_DSN"))

	setString(&cfg.Google.ClientID, getenv("GOOGLE_CLIENT_ID"))
	setString(&cfg.Google.ClientSecret, getenv("GOOGLE_CLIENT_SECRET"))
	setString(&cfg.Google.RedirectURL, getenv("GOOGLE_REDIRECT_URL"))

	setString(&cfg.Server.Addr, getenv("TODO_SERVER_ADDR"))
	setString(&cfg.Server.CORSOrigin, getenv("TODO_CORS_ORIGIN"))
	setString(&cfg.Log.Level, getenv("LOG_LEVEL"))

	var errs []string
	if err := setInt(&cfg.Store.RedisDB, "TODO_REDIS_DB", getenv); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setInt(&cfg.Server.RateLimit, "TODO_RATE_LIMIT", getenv); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setDuration(&cfg.Store.TTL, "TODO_STORE_TTL", getenv); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setBool(&cfg.Log.Dev, "LOG_DEV", getenv); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setBool(&cfg.Metrics, "TODO_METRICS", getenv); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("todo/config: %s", strings.Join(errs, "; "))
	}

	if cfg.APIURL == "" {
		return nil, fmt.Errorf("todo/config: required environment variables are not set: [TODO_API_URL]")
	}
	if err := todo.ValidateAPIURL(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("todo/config: %w", err)
	}
	switch cfg.Store.Driver {
	case store.DriverMemory, store.DriverFile, store.DriverRedis, store.DriverSQLite:
	default:
		return nil, fmt.Errorf("todo/config: unknown store driver %q", cfg.Store.Driver)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("todo/config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("todo/config: parse %s: %w", path, err)
	}
	return nil
}

// GoogleEnabled reports whether social sign-in is fully configured.
func (c *Config) GoogleEnabled() bool {
	g := c.Google
	return g.ClientID != "" && g.ClientSecret != "" && g.RedirectURL != ""
}

// GoogleProvider returns the federation config for Google.
func (c *Config) GoogleProvider() federation.GoogleConfig {
	return federation.GoogleConfig{
		ClientID:     c.Google.ClientID,
		ClientSecret: c.Google.ClientSecret,
		RedirectURL:  c.Google.RedirectURL,
	}
}

// StoreConfig returns the store factory config.
func (c *Config) StoreConfig() store.Config {
	sc := store.Config{
		Driver: c.Store.Driver,
		Path:   c.Store.Path,
		TTL:    c.Store.TTL,
	}
	switch c.Store.Driver {
	case store.DriverRedis:
		sc.Redis = &store.RedisConfig{
			Addr:     c.Store.RedisAddr,
			Password: c.Store.RedisPassword,
			DB:       c.Store.RedisDB,
			Prefix:   c.Store.RedisPrefix,
		}
	case store.DriverSQLite:
		sc.SQLite = &store.SQLiteConfig{DSN: c.Store.SQLiteDSN}
	}
	return sc
}

// ClientConfig returns the root client config.
func (c *Config) ClientConfig() todo.Config {
	return todo.Config{APIURL: c.APIURL, AfterLogin: c.AfterLogin, AfterLogout: c.AfterLogout}
}

// setString assigns the first non-empty value.
func setString(dst *string, vals ...string) {
	for _, v := range vals {
		if v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, key string, getenv func(string) string) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string, getenv func(string) string) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string, getenv func(string) string) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}
