// Package store caches match reports in Postgres.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/pkg/errors"
)

// Key identifies one cached report.
type Key struct {
	PageHash   string
	LegendHash string
	Settings   string
}

// ReportRepo reads and writes the reports_cache table.
type ReportRepo struct{ DB *sql.DB }

// NewReportRepo wraps an open database.
func NewReportRepo(db *sql.DB) *ReportRepo { return &ReportRepo{DB: db} }

// Open connects to Postgres through the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sql.Open")
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "db.Ping")
	}
	return db, nil
}

// EnsureSchema creates the cache table when it is missing.
func (r *ReportRepo) EnsureSchema(ctx context.Context) error {
	const q = `
create table if not exists reports_cache (
	page_hash   text not null,
	legend_hash text not null,
	settings    text not null,
	report_json jsonb not null,
	created_at  timestamptz not null default now(),
	primary key (page_hash, legend_hash, settings)
)`
	_, err := r.DB.ExecContext(ctx, q)
	return errors.Wrap(err, "creating reports_cache")
}

// Find decodes the cached report for k into dst. It returns sql.ErrNoRows
// when there is no entry, the entry is older than maxAge (if maxAge > 0), or
// the stored JSON cannot be decoded.
func (r *ReportRepo) Find(ctx context.Context, k Key, maxAge time.Duration, dst any) error {
	const q = `select report_json, created_at
	           from reports_cache
	           where page_hash=$1 and legend_hash=$2 and settings=$3`
	var (
		js []byte
		ts time.Time
	)
	if err := r.DB.QueryRowContext(ctx, q, k.PageHash, k.LegendHash, k.Settings).Scan(&js, &ts); err != nil {
		return err
	}
	if maxAge > 0 && time.Since(ts) > maxAge {
		return sql.ErrNoRows
	}
	if err := json.Unmarshal(js, dst); err != nil {
		return sql.ErrNoRows
	}
	return nil
}

// Upsert stores v as the report for k.
func (r *ReportRepo) Upsert(ctx context.Context, k Key, v any) error {
	js, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encoding report")
	}
	const q = `
insert into reports_cache(page_hash, legend_hash, settings, report_json)
values ($1,$2,$3,$4)
on conflict (page_hash, legend_hash, settings)
do update set report_json=excluded.report_json, created_at=now()`
	_, err = r.DB.ExecContext(ctx, q, k.PageHash, k.LegendHash, k.Settings, js)
	return err
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SettingsHash hashes the JSON form of v, so any change to matcher or
// detector settings misses the cache.
func SettingsHash(v any) (string, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encoding settings")
	}
	return Hash(js), nil
}
