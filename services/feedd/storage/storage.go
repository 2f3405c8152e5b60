// Package storage persists an audit trail of feed observations and failures
// so operators can reconstruct what the daemon forwarded and why assets were
// skipped.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// Storage wraps the feedd persistence layer.
type Storage struct {
	db *sql.DB
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("feedd storage path must be configured")

const schema = `
CREATE TABLE IF NOT EXISTS feed_observations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id    TEXT NOT NULL,
    asset       TEXT NOT NULL,
    feed        TEXT NOT NULL,
    price       TEXT NOT NULL,
    confidence  INTEGER NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feed_observations_asset ON feed_observations(asset, id);

CREATE TABLE IF NOT EXISTS feed_failures (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id    TEXT NOT NULL,
    asset       TEXT NOT NULL,
    reason      TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feed_failures_asset ON feed_failures(asset, id);
`

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Observation captures one forwarded data point.
type Observation struct {
	CycleID    string
	Asset      string
	Feed       string
	Price      string
	Confidence uint64
	ObservedAt time.Time
	RecordedAt time.Time
}

// Failure captures one per-asset refresh failure.
type Failure struct {
	CycleID    string
	Asset      string
	Reason     string
	RecordedAt time.Time
}

// RecordObservation persists a forwarded data point.
func (s *Storage) RecordObservation(ctx context.Context, obs Observation) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO feed_observations(cycle_id, asset, feed, price, confidence, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, obs.CycleID, obs.Asset, obs.Feed, obs.Price, obs.Confidence, obs.ObservedAt.UTC().Unix(), obs.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// RecordFailure persists a per-asset refresh failure.
func (s *Storage) RecordFailure(ctx context.Context, failure Failure) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO feed_failures(cycle_id, asset, reason, recorded_at)
        VALUES(?, ?, ?, ?)
    `, failure.CycleID, failure.Asset, failure.Reason, failure.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

// RecentObservations returns the most recent forwarded observations for the
// asset, newest first.
func (s *Storage) RecentObservations(ctx context.Context, asset string, limit int) ([]Observation, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT cycle_id, asset, feed, price, confidence, observed_at, recorded_at
        FROM feed_observations
        WHERE asset = ?
        ORDER BY id DESC
        LIMIT ?
    `, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()
	out := make([]Observation, 0, limit)
	for rows.Next() {
		var obs Observation
		var observedAt int64
		if err := rows.Scan(&obs.CycleID, &obs.Asset, &obs.Feed, &obs.Price, &obs.Confidence, &observedAt, &obs.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		obs.ObservedAt = time.Unix(observedAt, 0).UTC()
		out = append(out, obs)
	}
	return out, rows.Err()
}

// RecentFailures returns the most recent refresh failures for the asset,
// newest first.
func (s *Storage) RecentFailures(ctx context.Context, asset string, limit int) ([]Failure, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT cycle_id, asset, reason, recorded_at
        FROM feed_failures
        WHERE asset = ?
        ORDER BY id DESC
        LIMIT ?
    `, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()
	out := make([]Failure, 0, limit)
	for rows.Next() {
		var failure Failure
		if err := rows.Scan(&failure.CycleID, &failure.Asset, &failure.Reason, &failure.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		out = append(out, failure)
	}
	return out, rows.Err()
}
