package ledger

import (
	"context"
	"crypto/tls"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

// The schema mirrors what the ingestion pipeline writes. The oracle only
// applies it for local development and tests.

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/clickhouse/*.sql
var clickhouseMigrations embed.FS

// slogGooseLogger adapts slog.Logger to goose.Logger interface
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// MigratePostgres applies the reward index schema to the database at connStr.
func MigratePostgres(ctx context.Context, log *slog.Logger, connStr string) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()
	return up(ctx, log, db, "postgres", postgresMigrations, "migrations/postgres")
}

// MigrateClickHouse applies the reward index schema to a ClickHouse database.
func MigrateClickHouse(ctx context.Context, log *slog.Logger, cfg ClickHouseConfig) error {
	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	}
	if cfg.Secure {
		options.TLS = &tls.Config{}
	}
	db := clickhouse.OpenDB(options)
	defer db.Close()
	return up(ctx, log, db, "clickhouse", clickhouseMigrations, "migrations/clickhouse")
}

func up(ctx context.Context, log *slog.Logger, db *sql.DB, dialect string, fsys embed.FS, dir string) error {
	log.Info("ledger: running migrations", "dialect", dialect)

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(fsys)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("ledger: migrations completed", "dialect", dialect)
	return nil
}
