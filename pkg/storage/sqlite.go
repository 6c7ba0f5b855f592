package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var uploadRecordColumns = []string{
	"RunID",
	"Channel",
	"Kind",
	"FileName",
	"ApplicationID",
	"VersionName",
	"VersionCode",
	"Size",
	"Digest",
	"Status",
	"Stage",
	"Error",
	"Progress",
	"Host",
	"StartedAt",
	"FinishedAt",
}

type sqliteWriter struct {
	db   *sql.DB
	stmt *sql.Stmt
	path string
}

func newSQLiteWriter(customPath string) (*sqliteWriter, error) {
	dbPath, err := resolveDatabasePath(customPath)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	stmt, err := db.Prepare(buildInsertStatement())
	if err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "storage: prepare sqlite insert failed")
	}
	return &sqliteWriter{db: db, stmt: stmt, path: dbPath}, nil
}

func buildInsertStatement() string {
	quoted := make([]string, len(uploadRecordColumns))
	placeholders := make([]string, len(uploadRecordColumns))
	for i, col := range uploadRecordColumns {
		quoted[i] = quoteIdent(col)
		placeholders[i] = "?"
	}
	// a rerun of the same channel within one run replaces its row
	updates := make([]string, 0, len(uploadRecordColumns))
	for _, col := range uploadRecordColumns {
		if col == "RunID" || col == "Channel" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s=excluded.%s", quoteIdent(col), quoteIdent(col)))
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(RunID, Channel) DO UPDATE SET %s`,
		quoteIdent(uploadRecordsTable),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "))
}

func (s *sqliteWriter) Write(ctx context.Context, record Record) error {
	if s == nil || s.db == nil || s.stmt == nil {
		return pkgerrors.New("storage: sqlite storage nil")
	}
	_, err := s.stmt.ExecContext(ctx,
		record.RunID,
		record.Channel,
		record.Kind,
		record.FileName,
		record.ApplicationID,
		record.VersionName,
		record.VersionCode,
		record.Size,
		record.Digest,
		record.Status,
		record.Stage,
		record.Error,
		record.Progress,
		record.Host,
		unixMilli(record.StartedAt),
		unixMilli(record.FinishedAt),
	)
	if err != nil {
		return pkgerrors.Wrap(err, "storage: sqlite insert failed")
	}
	return nil
}

func (s *sqliteWriter) recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY StartedAt DESC, id DESC LIMIT ?`,
		strings.Join(uploadRecordColumns, ", "), quoteIdent(uploadRecordsTable))
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: query upload records failed")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec               Record
			started, finished int64
		)
		if err := rows.Scan(
			&rec.RunID,
			&rec.Channel,
			&rec.Kind,
			&rec.FileName,
			&rec.ApplicationID,
			&rec.VersionName,
			&rec.VersionCode,
			&rec.Size,
			&rec.Digest,
			&rec.Status,
			&rec.Stage,
			&rec.Error,
			&rec.Progress,
			&rec.Host,
			&started,
			&finished,
		); err != nil {
			return nil, pkgerrors.Wrap(err, "storage: scan upload record failed")
		}
		rec.StartedAt = fromUnixMilli(started)
		rec.FinishedAt = fromUnixMilli(finished)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "storage: iterate upload records failed")
	}
	return out, nil
}

func (s *sqliteWriter) Close() error {
	if s == nil {
		return nil
	}
	if s.stmt != nil {
		s.stmt.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqliteWriter) Name() string {
	if s == nil || s.path == "" {
		return "sqlite"
	}
	return s.path
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		// 多个终端同时分发时等待锁，而不是立即返回 SQLITE_BUSY。
		"PRAGMA busy_timeout=60000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "storage: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			RunID TEXT NOT NULL,
			Channel TEXT NOT NULL,
			Kind TEXT,
			FileName TEXT,
			ApplicationID TEXT,
			VersionName TEXT,
			VersionCode INTEGER,
			Size INTEGER,
			Digest TEXT,
			Status TEXT NOT NULL,
			Stage TEXT,
			Error TEXT,
			Progress INTEGER,
			Host TEXT,
			StartedAt INTEGER,
			FinishedAt INTEGER
		);`, quoteIdent(uploadRecordsTable))
	if _, err := db.Exec(createTable); err != nil {
		return pkgerrors.Wrap(err, "storage: init sqlite schema failed")
	}
	indexes := []string{
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_run_channel ON %s(RunID, Channel);`, uploadRecordsTable, uploadRecordsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_app_started ON %s(ApplicationID, StartedAt DESC);`, uploadRecordsTable, uploadRecordsTable),
	}
	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "storage: init sqlite indexes failed")
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
