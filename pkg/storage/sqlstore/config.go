package sqlstore

import (
	"fmt"
	"net/url"
	"time"
)

// Supported driver names.
const (
	DriverSQLite3  = "sqlite3"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains configuration for the SQL store.
type Config struct {
	// Driver is one of sqlite3, sqlite or postgres.
	Driver string

	// Path is the database file for the SQLite drivers.
	Path string

	// DSN is the connection string for postgres. For SQLite it overrides Path.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables write-ahead logging on SQLite.
	// Default: true
	WALMode bool

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() *Config {
	return &Config{
		Driver:       DriverSQLite,
		Path:         "data/warden.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Driver == "" {
		c.Driver = def.Driver
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = def.MaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = def.MaxIdleConns
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = def.BusyTimeout
	}
}

// dataSource builds the driver-specific connection string. SQLite pragmas
// go in the DSN so every pooled connection gets them.
func (c *Config) dataSource() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		if c.DSN == "" {
			return "", fmt.Errorf("postgres requires a dsn")
		}
		return c.DSN, nil

	case DriverSQLite3:
		if c.DSN != "" {
			return c.DSN, nil
		}
		if c.Path == "" {
			return "", fmt.Errorf("sqlite3 requires a path")
		}
		q := url.Values{}
		q.Set("_busy_timeout", fmt.Sprint(c.BusyTimeout.Milliseconds()))
		q.Set("_foreign_keys", "on")
		q.Set("_txlock", "immediate")
		if c.WALMode {
			q.Set("_journal_mode", "WAL")
		}
		return "file:" + c.Path + "?" + q.Encode(), nil

	case DriverSQLite:
		if c.DSN != "" {
			return c.DSN, nil
		}
		if c.Path == "" {
			return "", fmt.Errorf("sqlite requires a path")
		}
		q := url.Values{}
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
		q.Add("_pragma", "foreign_keys(1)")
		if c.WALMode {
			q.Add("_pragma", "journal_mode(WAL)")
		}
		q.Set("_txlock", "immediate")
		return "file:" + c.Path + "?" + q.Encode(), nil

	default:
		return "", fmt.Errorf("unsupported driver %q", c.Driver)
	}
}
