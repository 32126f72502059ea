// Package audit bootstraps and queries the Postgres bookkeeping this
// system owns: subscribed DIDs and bots discovered from the gateway's
// event log, the chain-scan cursor, and a record of which DID-update
// operations have already been reported on-chain. It follows the
// teacher's pgxpool bootstrap pattern (internal/database/database.go)
// — parsed config, pool limits, ping, then an idempotent schema exec —
// narrowed to this system's single-tenant, single-pool shape.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the connection pool backing this system's bookkeeping.
type DB struct {
	Pool *pgxpool.Pool
}

// Open connects to connString, verifies the connection, and
// bootstraps the schema.
func Open(ctx context.Context, connString string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("audit: parse config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: bootstrap schema: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Subscription is a row of subscribed_dids.
type Subscription struct {
	DID         string
	Bot         string
	BlockNumber uint64
	TxHash      string
}

// AddSubscription records a newly-discovered subscription, idempotent
// on DID.
func (db *DB) AddSubscription(ctx context.Context, sub Subscription) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO subscribed_dids (did, bot, block_number, tx_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (did) DO UPDATE SET bot = EXCLUDED.bot, block_number = EXCLUDED.block_number, tx_hash = EXCLUDED.tx_hash`,
		sub.DID, sub.Bot, sub.BlockNumber, sub.TxHash)
	if err != nil {
		return fmt.Errorf("audit: insert subscription for %s: %w", sub.DID, err)
	}
	return nil
}

// ListSubscriptions returns every subscribed DID, ordered by DID. The
// admin server's subscriptions endpoint serves it.
func (db *DB) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := db.Pool.Query(ctx, `SELECT did, bot, block_number, tx_hash FROM subscribed_dids ORDER BY did`)
	if err != nil {
		return nil, fmt.Errorf("audit: list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.DID, &s.Bot, &s.BlockNumber, &s.TxHash); err != nil {
			return nil, fmt.Errorf("audit: scan subscription row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Cursor returns the last block this system scanned for subscription
// events, or 0 if scanning has never run.
func (db *DB) Cursor(ctx context.Context) (uint64, error) {
	var last uint64
	err := db.Pool.QueryRow(ctx, `SELECT last_block FROM chain_cursor WHERE id = 1`).Scan(&last)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("audit: read cursor: %w", err)
	}
	return last, nil
}

// AdvanceCursor records the last block scanned.
func (db *DB) AdvanceCursor(ctx context.Context, block uint64) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO chain_cursor (id, last_block) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET last_block = EXCLUDED.last_block`,
		block)
	if err != nil {
		return fmt.Errorf("audit: advance cursor: %w", err)
	}
	return nil
}

// RecordShadowUpdate marks (did, opIndex) as reported on-chain, so a
// restarted DID-update sweep skips operations already submitted.
func (db *DB) RecordShadowUpdate(ctx context.Context, did string, opIndex int, signedCID, txHash string) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO shadow_updates (did, op_index, signed_cid, tx_hash) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (did, op_index) DO NOTHING`,
		did, opIndex, signedCID, txHash)
	if err != nil {
		return fmt.Errorf("audit: record shadow update for %s[%d]: %w", did, opIndex, err)
	}
	return nil
}

// ShadowUpdateReported reports whether (did, opIndex) has already been
// reported on-chain.
func (db *DB) ShadowUpdateReported(ctx context.Context, did string, opIndex int) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM shadow_updates WHERE did = $1 AND op_index = $2)`,
		did, opIndex,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("audit: check shadow update for %s[%d]: %w", did, opIndex, err)
	}
	return exists, nil
}
