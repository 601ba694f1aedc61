// Command eventfold-migrate applies the event-log schema migrations to a
// SQLite or PostgreSQL database.
//
// Usage:
//
//	eventfold-migrate -dialect sqlite -dsn /var/lib/app/events.db
//	eventfold-migrate -dialect postgres -dsn "postgres://app@db/eventfold"
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/quantive/eventfold/pkg/store/postgres"
	"github.com/quantive/eventfold/pkg/store/sqlite"
)

func main() {
	var (
		dialect = flag.String("dialect", "sqlite", "database dialect: sqlite or postgres")
		dsn     = flag.String("dsn", "", "data source name")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *dsn == "" {
		logger.Error("missing required -dsn flag")
		os.Exit(2)
	}

	if err := run(context.Background(), *dialect, *dsn); err != nil {
		logger.Error("migration failed", "dialect", *dialect, "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "dialect", *dialect)
}

func run(ctx context.Context, dialect, dsn string) error {
	switch dialect {
	case "sqlite":
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		return sqlite.Migrate(ctx, db)

	case "postgres":
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()
		return postgres.Migrate(ctx, pool)

	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}
}
