package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/altiplay/altiplay/internal/dbconfig"
)

// databases holds the write pool, the read-side connection and a
// database/sql handle on the primary for the event journal. All are nil in
// memory mode.
type databases struct {
	primary *pgxpool.Pool
	replica *sql.DB
	journal *sql.DB
}

func connectDatabases(ctx context.Context) (*databases, error) {
	cfg := dbconfig.NewConfigFromEnv()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	replica, err := sql.Open("postgres", cfg.ReplicaDSN())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open replica connection: %w", err)
	}
	if err := replica.PingContext(ctx); err != nil {
		replica.Close()
		pool.Close()
		return nil, fmt.Errorf("failed to ping replica: %w", err)
	}

	journal, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		replica.Close()
		pool.Close()
		return nil, fmt.Errorf("failed to open journal connection: %w", err)
	}

	return &databases{primary: pool, replica: replica, journal: journal}, nil
}

func (d *databases) close() {
	if d == nil {
		return
	}
	if d.journal != nil {
		d.journal.Close()
	}
	if d.replica != nil {
		d.replica.Close()
	}
	if d.primary != nil {
		d.primary.Close()
	}
}
