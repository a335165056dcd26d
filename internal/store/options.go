// ABOUTME: Functional options shared by backend constructors
// ABOUTME: Logger, SQLite driver selection, busy timeout and history retention

package store

import (
	"log/slog"
	"time"
)

const (
	// DriverModernc is the pure-Go SQLite driver (modernc.org/sqlite).
	DriverModernc = "sqlite"
	// DriverCGO is the cgo SQLite driver (github.com/mattn/go-sqlite3).
	DriverCGO = "sqlite3"

	// DefaultMaxHistory is the retention cap of the history ledger.
	DefaultMaxHistory = 1000

	// DefaultBusyTimeout is how long SQLite waits on another writer's lock.
	DefaultBusyTimeout = 5 * time.Second
)

type options struct {
	logger      *slog.Logger
	driver      string
	busyTimeout time.Duration
	maxHistory  int
}

// Option configures a backend.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSQLiteDriver selects the database/sql driver name for SQLite backends.
func WithSQLiteDriver(driver string) Option {
	return func(o *options) { o.driver = driver }
}

// WithBusyTimeout sets how long SQLite backends wait for a competing writer.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithMaxHistory caps the number of history entries kept by HistoryStorage.
func WithMaxHistory(n int) Option {
	return func(o *options) { o.maxHistory = n }
}

func buildOptions(opts []Option) options {
	o := options{
		logger:      slog.Default(),
		driver:      DriverModernc,
		busyTimeout: DefaultBusyTimeout,
		maxHistory:  DefaultMaxHistory,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
