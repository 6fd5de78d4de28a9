package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"netmeter/pkg/model"
)

const schema = `CREATE TABLE IF NOT EXISTS results(
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	download_mbps REAL NOT NULL,
	upload_mbps REAL NOT NULL,
	latency_ms REAL,
	rpm INTEGER,
	location TEXT,
	failure TEXT,
	error TEXT,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_provider_ts ON results(provider, ts);`

// SQLiteStore persists results in a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(r model.ProviderResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var latency sql.NullFloat64
	if r.LatencyMs != nil {
		latency = sql.NullFloat64{Float64: *r.LatencyMs, Valid: true}
	}
	var rpm sql.NullInt64
	if r.RPM != nil {
		rpm = sql.NullInt64{Int64: int64(*r.RPM), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results(id, provider, download_mbps, upload_mbps, latency_ms, rpm, location, failure, error, ts)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Provider, r.DownloadMbps, r.UploadMbps, latency, rpm,
		r.Location, string(r.Failure), r.Error, r.Timestamp.Unix())
	return err
}

func (s *SQLiteStore) Recent(limit int) ([]model.ProviderResult, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, download_mbps, upload_mbps, latency_ms, rpm, location, failure, error, ts
		 FROM results ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ProviderResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Latest(provider string) (model.ProviderResult, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, download_mbps, upload_mbps, latency_ms, rpm, location, failure, error, ts
		 FROM results WHERE provider=? ORDER BY ts DESC LIMIT 1`, provider)
	if err != nil {
		return model.ProviderResult{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return model.ProviderResult{}, false, rows.Err()
	}
	r, err := scanResult(rows)
	if err != nil {
		return model.ProviderResult{}, false, err
	}
	return r, true, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func scanResult(rows *sql.Rows) (model.ProviderResult, error) {
	var r model.ProviderResult
	var latency sql.NullFloat64
	var rpm sql.NullInt64
	var failure string
	var ts int64
	if err := rows.Scan(&r.ID, &r.Provider, &r.DownloadMbps, &r.UploadMbps,
		&latency, &rpm, &r.Location, &failure, &r.Error, &ts); err != nil {
		return model.ProviderResult{}, err
	}
	if latency.Valid {
		v := latency.Float64
		r.LatencyMs = &v
	}
	if rpm.Valid {
		v := int(rpm.Int64)
		r.RPM = &v
	}
	r.Failure = model.FailureKind(failure)
	r.Timestamp = time.Unix(ts, 0)
	return r, nil
}
