package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/httprunner/ApkDispatcher/internal/env"
	"github.com/httprunner/ApkDispatcher/internal/feishusdk"
)

const (
	envDBPath          = "APK_DISPATCHER_DB_PATH"
	envJSONLPath       = "APK_DISPATCHER_JSONL_PATH"
	envResultAppToken  = "FEISHU_RESULT_APP_TOKEN"
	envResultTableID   = "FEISHU_RESULT_TABLE_ID"
	defaultDBDirName   = ".apkdispatcher"
	defaultDBFileName  = "records.sqlite"
	uploadRecordsTable = "upload_records"
)

// Record outcomes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record is one channel outcome of a dispatch run.
type Record struct {
	RunID         string
	Channel       string
	Kind          string
	FileName      string
	ApplicationID string
	VersionName   string
	VersionCode   int64
	Size          int64
	Digest        string
	Status        string
	Stage         string
	Error         string
	Progress      int
	Host          string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration is the wall time the channel took.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Config controls enabled sinks. The sqlite sink is always enabled.
type Config struct {
	DBPath    string
	JSONLPath string

	// Bitable enables the Feishu result table sink when set.
	Bitable *BitableConfig
}

// BitableConfig addresses the Feishu result table.
type BitableConfig struct {
	Client RecordCreator
	Table  feishusdk.BitableTable
}

// ConfigFromEnv resolves sink settings from the environment. The Feishu sink
// is enabled only when both result table variables are set.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		DBPath:    env.String(envDBPath, ""),
		JSONLPath: env.String(envJSONLPath, ""),
	}
	appToken := env.String(envResultAppToken, "")
	tableID := env.String(envResultTableID, "")
	if appToken == "" || tableID == "" {
		return cfg, nil
	}
	client, err := feishusdk.NewClientFromEnv()
	if err != nil {
		return cfg, pkgerrors.Wrap(err, "storage: feishu result table configured")
	}
	cfg.Bitable = &BitableConfig{
		Client: client,
		Table:  feishusdk.BitableTable{AppToken: appToken, TableID: tableID},
	}
	return cfg, nil
}

// Sink defines the contract for each storage implementation.
type Sink interface {
	Write(ctx context.Context, record Record) error
	Close() error
	Name() string
}

// Manager fan-outs records to configured sinks.
type Manager struct {
	sinks  []Sink
	sqlite *sqliteWriter
	name   string
}

// NewManager builds a storage manager based on cfg.
func NewManager(cfg Config) (*Manager, error) {
	sqliteSink, err := newSQLiteWriter(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	sinks := []Sink{sqliteSink}
	if strings.TrimSpace(cfg.JSONLPath) != "" {
		jsonl, err := newJSONLWriter(cfg.JSONLPath)
		if err != nil {
			sqliteSink.Close()
			return nil, err
		}
		sinks = append(sinks, jsonl)
	}
	if cfg.Bitable != nil {
		sinks = append(sinks, newBitableSink(*cfg.Bitable))
	}
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	return &Manager{sinks: sinks, sqlite: sqliteSink, name: strings.Join(names, ",")}, nil
}

// Write stores record in every sink, stamping the host when empty. A failing
// sink does not stop the others.
func (m *Manager) Write(ctx context.Context, record Record) error {
	if record.Host == "" {
		record.Host = hostID()
	}
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, record); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s write failed", sink.Name())))
		}
	}
	return errors.Join(errs...)
}

// Recent returns the latest records, newest first.
func (m *Manager) Recent(ctx context.Context, limit int) ([]Record, error) {
	if m == nil || m.sqlite == nil {
		return nil, pkgerrors.New("storage: manager nil")
	}
	return m.sqlite.recent(ctx, limit)
}

func (m *Manager) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s close failed", sink.Name())))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Name() string {
	if m == nil || m.name == "" {
		return "storage"
	}
	return m.name
}

func resolveDatabasePath(custom string) (string, error) {
	if custom = strings.TrimSpace(custom); custom != "" {
		if err := ensureDir(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pkgerrors.Wrap(err, "storage: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDir(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

// ResolveDatabasePath returns the sqlite path in use for the given override,
// creating the parent directory if necessary.
func ResolveDatabasePath(custom string) (string, error) {
	return resolveDatabasePath(custom)
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "storage: create dir %s failed", dir)
	}
	return nil
}
