package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "stockwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db    *sql.DB
	log   logx.Logger
	locks *keyLocks
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log, locks: newKeyLocks()}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `product_url, pincode, product_name, tracking_started, last_available, current_status, last_checked, active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc rowScanner, extra ...any) (Record, error) {
	var (
		rec              Record
		started, checked string
		lastAvail        sql.NullString
		status           string
		active           int
	)
	dest := append(append([]any{}, extra...), &rec.ProductURL, &rec.PostalCode, &rec.ProductName, &started, &lastAvail, &status, &checked, &active)
	if err := sc.Scan(dest...); err != nil {
		return Record{}, err
	}
	rec.CurrentStatus = Status(status)
	rec.Active = active != 0
	var err error
	if rec.TrackingStarted, err = parseTime(started); err != nil {
		return Record{}, err
	}
	if rec.LastChecked, err = parseTime(checked); err != nil {
		return Record{}, err
	}
	if lastAvail.Valid && lastAvail.String != "" {
		t, err := parseTime(lastAvail.String)
		if err != nil {
			return Record{}, err
		}
		rec.LastAvailable = &t
	}
	return rec, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM status_records WHERE key = ?`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, &Error{Op: "get", Key: key, Err: err}
	}
	return rec, true, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, key string, fn Mutator) (Record, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, &Error{Op: "upsert", Key: key, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM status_records WHERE key = ?`, key))
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists, rec = false, Record{}
	} else if err != nil {
		return Record{}, &Error{Op: "upsert", Key: key, Err: err}
	}

	if fn != nil {
		if err := fn(&rec, exists); err != nil {
			return Record{}, err
		}
	}

	var lastAvail any
	if rec.LastAvailable != nil {
		lastAvail = formatTime(*rec.LastAvailable)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO status_records(key, product_url, pincode, product_name, tracking_started, last_available, current_status, last_checked, active)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   product_url=excluded.product_url,
		   pincode=excluded.pincode,
		   product_name=excluded.product_name,
		   tracking_started=excluded.tracking_started,
		   last_available=excluded.last_available,
		   current_status=excluded.current_status,
		   last_checked=excluded.last_checked,
		   active=excluded.active`,
		key, rec.ProductURL, rec.PostalCode, rec.ProductName, formatTime(rec.TrackingStarted),
		lastAvail, string(rec.CurrentStatus), formatTime(rec.LastChecked), boolInt(rec.Active),
	)
	if err != nil {
		return Record{}, &Error{Op: "upsert", Key: key, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return Record{}, &Error{Op: "upsert", Key: key, Err: err}
	}
	return rec, nil
}

func (s *sqliteStore) List(ctx context.Context) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, `+selectColumns+` FROM status_records`)
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	defer rows.Close()

	out := map[string]Record{}
	for rows.Next() {
		var key string
		rec, err := scanRecord(rows, &key)
		if err != nil {
			return nil, &Error{Op: "list", Err: err}
		}
		out[key] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	return out, nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	unlock := s.locks.lock(key)
	defer unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM status_records WHERE key = ?`, key); err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
