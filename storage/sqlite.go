package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite mirrors the observation log into a queryable table.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLite opens (or creates) the SQLite file at dbPath and runs the
// migration that creates the `observations` table if it does not exist.
// The caller must call Close() when the program shuts down.
func NewSQLite(dbPath string, log *zap.Logger) (*SQLite, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	// The modernc.org driver is pure-go and works without CGO.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Appends are sequential; one connection keeps writes ordered.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLite{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS observations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          TEXT    NOT NULL,
    cpu         REAL    NOT NULL,
    mem         REAL    NOT NULL,
    disk        REAL    NOT NULL,
    bytes_sent  INTEGER NOT NULL,
    bytes_recv  INTEGER NOT NULL,
    endpoint    TEXT    NOT NULL,
    available   INTEGER NOT NULL,
    latency     REAL
);
CREATE INDEX IF NOT EXISTS idx_observations_endpoint_id ON observations(endpoint, id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create observations table: %w", err)
	}
	s.log.Info("SQLite migration applied")
	return nil
}

// Append implements Store. Each row is its own implicit transaction.
func (s *SQLite) Append(ctx context.Context, o Observation) error {
	var latency sql.NullFloat64
	if o.Latency != nil {
		latency = sql.NullFloat64{Float64: *o.Latency, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (ts, cpu, mem, disk, bytes_sent, bytes_recv, endpoint, available, latency)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Timestamp.Format(time.RFC3339Nano),
		o.CPUPercent, o.MemPercent, o.DiskPercent,
		int64(o.NetBytesSent), int64(o.NetBytesRecv),
		o.Endpoint, o.Available, latency,
	)
	if err != nil {
		return fmt.Errorf("insert observation for %s: %w", o.Endpoint, err)
	}
	s.log.Debug("observation persisted", zap.String("endpoint", o.Endpoint), zap.Time("ts", o.Timestamp))
	return nil
}

// Query implements Querier.
func (s *SQLite) Query(ctx context.Context, endpoint string, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, cpu, mem, disk, bytes_sent, bytes_recv, endpoint, available, latency
		   FROM observations
		  WHERE (? = '' OR endpoint = ?)
		  ORDER BY id DESC
		  LIMIT ?`,
		endpoint, endpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var (
			o          Observation
			ts         string
			sent, recv int64
			latency    sql.NullFloat64
		)
		if err := rows.Scan(&ts, &o.CPUPercent, &o.MemPercent, &o.DiskPercent,
			&sent, &recv, &o.Endpoint, &o.Available, &latency); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if o.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse ts %q: %w", ts, err)
		}
		o.NetBytesSent, o.NetBytesRecv = uint64(sent), uint64(recv)
		if latency.Valid {
			v := latency.Float64
			o.Latency = &v
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}

// Close shuts down the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
