package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"githubtriage/config"
	"githubtriage/logger"
)

// DB represents a database connection
type DB struct {
	conn   *sqlx.DB
	driver string
	// Prepared statements cache
	stmtCache struct {
		sync.RWMutex
		statements map[string]*sqlx.Stmt
	}
}

// Options configures the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New creates a new database connection from the application configuration
func New(cfg *config.Config) (*DB, error) {
	return Open(cfg.DBDriver, cfg.DatabaseURL, Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
}

// Open connects to the database with the given driver ("postgres" or "sqlite").
func Open(driver, dsn string, opts Options) (*DB, error) {
	if driver == "" || dsn == "" {
		return nil, fmt.Errorf("%w: driver and dsn are required", ErrInvalidInput)
	}

	logger.Info("Connecting to database", zap.String("driver", driver))
	conn, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	if driver == config.DriverSQLite {
		// sqlite has a single writer, and an in-memory database lives only as long as its
		// one connection.
		opts = Options{MaxOpenConns: 1, MaxIdleConns: 1}
	}
	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(opts.MaxIdleConns)
	}
	conn.SetConnMaxLifetime(opts.ConnMaxLifetime)

	database := newDB(conn, driver)

	logger.Info("Database connection established",
		zap.String("driver", driver),
		zap.Int("max_open_conns", opts.MaxOpenConns),
		zap.Int("max_idle_conns", opts.MaxIdleConns),
		zap.Duration("conn_max_lifetime", opts.ConnMaxLifetime))
	return database, nil
}

func newDB(conn *sqlx.DB, driver string) *DB {
	database := &DB{conn: conn, driver: driver}
	database.stmtCache.statements = make(map[string]*sqlx.Stmt)
	return database
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}
	return nil
}

// getStmt returns a prepared statement from cache or creates a new one.
// The query is written with ? placeholders and rebound for the driver.
func (db *DB) getStmt(ctx context.Context, query string) (*sqlx.Stmt, error) {
	db.stmtCache.RLock()
	stmt, exists := db.stmtCache.statements[query]
	db.stmtCache.RUnlock()

	if exists {
		return stmt, nil
	}

	db.stmtCache.Lock()
	defer db.stmtCache.Unlock()

	// Double-check after acquiring write lock
	if stmt, exists = db.stmtCache.statements[query]; exists {
		return stmt, nil
	}

	stmt, err := db.conn.PreparexContext(ctx, db.conn.Rebind(query))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	db.stmtCache.statements[query] = stmt
	return stmt, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	// Close all prepared statements
	db.stmtCache.Lock()
	for _, stmt := range db.stmtCache.statements {
		stmt.Close()
	}
	db.stmtCache.statements = make(map[string]*sqlx.Stmt)
	db.stmtCache.Unlock()

	// Close the database connection
	return db.conn.Close()
}

// utcNow is replaced in tests.
var utcNow = func() time.Time { return time.Now().UTC() }
