package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sonata-music/sonata/internal/config"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("database is closed")

// Database is the local sqlite cache of catalog data, play history and the
// last play queue.
type Database struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func NewDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("storage")

	dbPath := cfg.Storage.DatabasePath
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := openDatabase(dbPath, cfg.Storage.EnableWAL, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	storage := &Database{
		db:     db,
		logger: logger,
	}

	if err := storage.runMigrations(ctx); err != nil {
		if closeErr := storage.Close(); closeErr != nil {
			logger.Warn("failed to close database after migration error", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return storage, nil
}

func openDatabase(dbPath string, enableWAL bool, logger *zap.Logger) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		logger.Info("creating new database", zap.String("path", dbPath))
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=memory",
		"PRAGMA cache_size=-16000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=10000",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				logger.Warn("failed to close database after pragma error", zap.Error(closeErr))
			}
			return nil, fmt.Errorf("execute pragma %s: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("failed to close database after ping error", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

func (d *Database) logFailure(operation string, start time.Time, err error) {
	if err == nil {
		return
	}
	d.logger.Debug("query failed",
		zap.String("op", operation),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
}

func (d *Database) checkClosed() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	return nil
}

func (d *Database) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		d.logger.Debug("failed to close rows", zap.Error(err))
	}
}

func (d *Database) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		d.logger.Warn("failed to rollback transaction", zap.Error(err))
	}
}

// withTx runs fn in a transaction committed only when fn succeeds.
func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := d.checkClosed(); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer d.rollback(tx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if _, err := d.db.Exec("PRAGMA optimize"); err != nil {
		d.logger.Warn("failed to optimize database", zap.Error(err))
	}
	return d.db.Close()
}

// stamp drops the monotonic reading so stored timestamps parse back.
func stamp(t time.Time) time.Time {
	return t.UTC().Round(0)
}

// likePattern escapes LIKE wildcards in a user query.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(query)) + "%"
}
