package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"deskchat/apperr"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps the SQLite database connection
type DB struct {
	conn   *sqlx.DB
	sql    sq.StatementBuilderType
	logger zerolog.Logger
}

// New opens (creating if needed) the database at dbPath and applies pending migrations.
func New(dbPath string, logger zerolog.Logger) (*DB, error) {
	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", dbPath)
	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{
		conn:   conn,
		sql:    sq.StatementBuilder.PlaceholderFormat(sq.Question),
		logger: logger.With().Str("component", "db").Logger(),
	}

	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{db.logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db.conn.DB, "migrations")
}

type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatal().Msgf(format, v...)
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

// withTx runs fn in one transaction. Any error rolls everything back.
func (db *DB) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Storage(err, "failed to %s: begin transaction", op)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Str("op", op).Msg("rollback failed")
		}
		return classify(op, err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Storage(err, "failed to %s: commit", op)
	}
	return nil
}

// classify keeps already classified errors and turns driver errors into storage errors.
func classify(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Storage(err, "failed to %s", op)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func get(ctx context.Context, q sqlx.QueryerContext, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

func selectAll(ctx context.Context, q sqlx.QueryerContext, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

func exec(ctx context.Context, e sqlx.ExecerContext, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func insert(ctx context.Context, e sqlx.ExecerContext, b sq.InsertBuilder) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func now() time.Time {
	return time.Now().UTC()
}

// DBStats represents database statistics
type DBStats struct {
	ChatCount    int64
	MessageCount int64
	PresetCount  int64
	DBSizeBytes  int64
}

// GetStats returns database statistics
func (db *DB) GetStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}

	counts := []struct {
		table string
		dest  *int64
	}{
		{"chats", &stats.ChatCount},
		{"messages", &stats.MessageCount},
		{"presets", &stats.PresetCount},
	}
	for _, c := range counts {
		if err := get(ctx, db.conn, c.dest, db.sql.Select("COUNT(*)").From(c.table)); err != nil {
			return nil, apperr.Storage(err, "failed to count %s", c.table)
		}
	}

	// Database size is page_count * page_size
	var pageCount, pageSize int64
	if err := db.conn.GetContext(ctx, &pageCount, "PRAGMA page_count"); err != nil {
		return nil, apperr.Storage(err, "failed to get page count")
	}
	if err := db.conn.GetContext(ctx, &pageSize, "PRAGMA page_size"); err != nil {
		return nil, apperr.Storage(err, "failed to get page size")
	}
	stats.DBSizeBytes = pageCount * pageSize

	return stats, nil
}

// Vacuum optimizes the database file
func (db *DB) Vacuum(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return apperr.Storage(err, "failed to vacuum database")
	}
	return nil
}
