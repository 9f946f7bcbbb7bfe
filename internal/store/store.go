// Package store provides the realization and aggregate curve store backed
// by sqlite, plus resolution of remote (S3-held) datasets.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/GNS-Science/toshi-hazard-post/internal/aggregation"
	"github.com/GNS-Science/toshi-hazard-post/internal/hazard"
	"github.com/GNS-Science/toshi-hazard-post/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS realizations (
	location  TEXT NOT NULL,
	imt       TEXT NOT NULL,
	branch_id TEXT NOT NULL,
	curve     BLOB NOT NULL,
	PRIMARY KEY (location, imt, branch_id)
);

CREATE TABLE IF NOT EXISTS aggregates (
	location   TEXT NOT NULL,
	imt        TEXT NOT NULL,
	statistic  TEXT NOT NULL,
	curve      BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (location, imt, statistic)
);
`

// Store is the hazard curve store. One Store is shared by all workers; the
// underlying sql.DB pool is safe for concurrent use.
type Store struct {
	conn *sql.DB
	path string
	log  zerolog.Logger
}

// Config holds store configuration.
type Config struct {
	Path string // sqlite file path, or a file: URI for in-memory databases
	Log  zerolog.Logger
}

// Open opens (creating if necessary) the hazard store.
func Open(cfg Config) (*Store, error) {
	path := cfg.Path
	if !strings.HasPrefix(path, "file:") {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve store path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		path = "file:" + absPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hazard store: %w", err)
	}
	// sqlite serializes writers anyway; a small pool avoids lock churn.
	conn.SetMaxOpenConns(4)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping hazard store: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply hazard store schema: %w", err)
	}

	return &Store{conn: conn, path: cfg.Path, log: cfg.Log}, nil
}

// Close closes the store.
func (s *Store) Close() error { return s.conn.Close() }

// FetchRealizations performs one bulk fetch of all realization curves for a
// (location, IMT), returned in the exact order of branchIDs. A branch with
// no stored curve is a MissingRealizationError naming the branch; curves
// with mismatched intensity level axes are a fatal data error.
func (s *Store) FetchRealizations(ctx context.Context, location, imt string, branchIDs []string) ([]hazard.Curve, error) {
	defer utils.OperationTimer("fetch_realizations", s.log)()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT branch_id, curve FROM realizations WHERE location = ? AND imt = ?`,
		location, imt)
	if err != nil {
		return nil, classify("fetch realizations", err)
	}
	defer rows.Close()

	byBranch := make(map[string]hazard.Curve, len(branchIDs))
	for rows.Next() {
		var branchID string
		var blob []byte
		if err := rows.Scan(&branchID, &blob); err != nil {
			return nil, classify("scan realization", err)
		}
		var curve hazard.Curve
		if err := msgpack.Unmarshal(blob, &curve); err != nil {
			return nil, fmt.Errorf("failed to decode realization curve for branch %q: %w", branchID, err)
		}
		byBranch[branchID] = curve
	}
	if err := rows.Err(); err != nil {
		return nil, classify("fetch realizations", err)
	}

	curves := make([]hazard.Curve, len(branchIDs))
	for i, id := range branchIDs {
		curve, ok := byBranch[id]
		if !ok {
			return nil, &MissingRealizationError{Location: location, IMT: imt, BranchID: id}
		}
		if i > 0 && !curve.SameLevels(curves[0]) {
			return nil, fmt.Errorf("realization for branch %q has a different intensity level axis (location %s, imt %s)", id, location, imt)
		}
		curves[i] = curve
	}
	return curves, nil
}

// StoreAggregates persists the aggregate curves for one (location, IMT).
// The write is an upsert keyed on (location, imt, statistic), so repeating
// it for the same unit of work is safe under at-least-once delivery.
func (s *Store) StoreAggregates(ctx context.Context, location, imt string, curves map[aggregation.Statistic]hazard.Curve) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin aggregate write", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for statistic, curve := range curves {
		blob, err := msgpack.Marshal(curve)
		if err != nil {
			return fmt.Errorf("failed to encode aggregate curve %q: %w", statistic, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO aggregates (location, imt, statistic, curve, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (location, imt, statistic)
			 DO UPDATE SET curve = excluded.curve, updated_at = excluded.updated_at`,
			location, imt, string(statistic), blob, now)
		if err != nil {
			return classify("write aggregate", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("commit aggregate write", err)
	}
	return nil
}

// FetchAggregate reads one aggregate curve back, mainly for verification and
// the HTTP status surface.
func (s *Store) FetchAggregate(ctx context.Context, location, imt string, statistic aggregation.Statistic) (hazard.Curve, error) {
	var blob []byte
	err := s.conn.QueryRowContext(ctx,
		`SELECT curve FROM aggregates WHERE location = ? AND imt = ? AND statistic = ?`,
		location, imt, string(statistic)).Scan(&blob)
	if err != nil {
		return hazard.Curve{}, classify("fetch aggregate", err)
	}
	var curve hazard.Curve
	if err := msgpack.Unmarshal(blob, &curve); err != nil {
		return hazard.Curve{}, fmt.Errorf("failed to decode aggregate curve: %w", err)
	}
	return curve, nil
}

// StoreRealization writes one realization curve. Used by dataset ingestion
// and tests; the aggregation path itself never writes realizations.
func (s *Store) StoreRealization(ctx context.Context, location, imt, branchID string, curve hazard.Curve) error {
	blob, err := msgpack.Marshal(curve)
	if err != nil {
		return fmt.Errorf("failed to encode realization curve: %w", err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO realizations (location, imt, branch_id, curve)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (location, imt, branch_id) DO UPDATE SET curve = excluded.curve`,
		location, imt, branchID, blob)
	return classify("write realization", err)
}
