package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"atg_broadcast/models"
)

// Dialect описывает различия SQL между поддерживаемыми базами.
type Dialect struct {
	Driver  string
	Migrate string
	Insert  string
	Select  string
}

var (
	PostgresDialect = Dialect{
		Driver: "postgres",
		Migrate: `CREATE TABLE IF NOT EXISTS broadcast_log (
			id BIGSERIAL PRIMARY KEY,
			sent_at TIMESTAMPTZ NOT NULL,
			text TEXT NOT NULL,
			format TEXT NOT NULL,
			results JSONB NOT NULL
		)`,
		Insert: `INSERT INTO broadcast_log (sent_at, text, format, results) VALUES ($1, $2, $3, $4)`,
		Select: `SELECT sent_at, text, format, results FROM broadcast_log ORDER BY id DESC LIMIT $1`,
	}
	SQLiteDialect = Dialect{
		Driver: "sqlite",
		Migrate: `CREATE TABLE IF NOT EXISTS broadcast_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sent_at TEXT NOT NULL,
			text TEXT NOT NULL,
			format TEXT NOT NULL,
			results TEXT NOT NULL
		)`,
		Insert: `INSERT INTO broadcast_log (sent_at, text, format, results) VALUES (?, ?, ?, ?)`,
		Select: `SELECT sent_at, text, format, results FROM broadcast_log ORDER BY id DESC LIMIT ?`,
	}
)

// DialectFor возвращает диалект по имени драйвера из конфигурации.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql":
		return PostgresDialect, nil
	case "sqlite", "sqlite3":
		return SQLiteDialect, nil
	}
	return Dialect{}, errors.Errorf("unsupported history driver %q", driver)
}

// SQLHistory - журнал рассылок в таблице broadcast_log.
type SQLHistory struct {
	Conn    *sql.DB
	dialect Dialect
}

// NewSQLHistory оборачивает открытое соединение, таблицу не создаёт.
func NewSQLHistory(conn *sql.DB, d Dialect) *SQLHistory {
	return &SQLHistory{Conn: conn, dialect: d}
}

// OpenSQLHistory открывает базу по имени драйвера и создаёт таблицу.
func OpenSQLHistory(ctx context.Context, driver, dsn string) (*SQLHistory, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("history dsn is empty")
	}
	conn, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open history db")
	}
	if d.Driver == SQLiteDialect.Driver {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	}
	h := NewSQLHistory(conn, d)
	if err := h.Migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return h, nil
}

// Migrate создаёт таблицу журнала, если её нет.
func (h *SQLHistory) Migrate(ctx context.Context) error {
	if _, err := h.Conn.ExecContext(ctx, h.dialect.Migrate); err != nil {
		return errors.Wrap(err, "migrate broadcast_log")
	}
	return nil
}

func (h *SQLHistory) AppendBroadcast(ctx context.Context, e models.BroadcastLogEntry) error {
	results, err := json.Marshal(e.Results)
	if err != nil {
		return errors.Wrap(err, "encode results")
	}
	var sentAt any = e.Time
	if h.dialect.Driver == SQLiteDialect.Driver {
		sentAt = e.Time.UTC().Format(time.RFC3339Nano)
	}
	if _, err := h.Conn.ExecContext(ctx, h.dialect.Insert, sentAt, e.Text, e.Format, string(results)); err != nil {
		return errors.Wrap(err, "insert broadcast_log")
	}
	return nil
}

func (h *SQLHistory) RecentBroadcasts(ctx context.Context, limit int) ([]models.BroadcastLogEntry, error) {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	rows, err := h.Conn.QueryContext(ctx, h.dialect.Select, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select broadcast_log")
	}
	defer rows.Close()

	var out []models.BroadcastLogEntry
	for rows.Next() {
		var (
			e       models.BroadcastLogEntry
			sentAt  any
			results string
		)
		if err := rows.Scan(&sentAt, &e.Text, &e.Format, &results); err != nil {
			return nil, errors.Wrap(err, "scan broadcast_log")
		}
		if e.Time, err = parseSentAt(sentAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(results), &e.Results); err != nil {
			return nil, errors.Wrap(err, "decode results")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// parseSentAt приводит время из разных драйверов к time.Time.
func parseSentAt(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(t))
	}
	return time.Time{}, errors.Errorf("unexpected sent_at type %T", v)
}

func (h *SQLHistory) Close() error { return h.Conn.Close() }
