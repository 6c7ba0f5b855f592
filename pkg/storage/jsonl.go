package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

type jsonlWriter struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, pkgerrors.New("storage: jsonl path is empty")
	}
	if err := ensureDir(filepath.Dir(trimmed)); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: open jsonl file failed")
	}
	return &jsonlWriter{path: trimmed, file: file, writer: bufio.NewWriter(file)}, nil
}

func (j *jsonlWriter) Write(_ context.Context, record Record) error {
	if j == nil || j.writer == nil {
		return pkgerrors.New("storage: jsonl writer nil")
	}
	payload, err := json.Marshal(buildRow(record))
	if err != nil {
		return pkgerrors.Wrap(err, "storage: marshal json payload failed")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.writer.Write(payload); err != nil {
		return pkgerrors.Wrap(err, "storage: write json payload failed")
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return pkgerrors.Wrap(err, "storage: write newline failed")
	}
	if err := j.writer.Flush(); err != nil {
		return pkgerrors.Wrap(err, "storage: flush json writer failed")
	}
	return nil
}

func (j *jsonlWriter) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.writer != nil {
		if err := j.writer.Flush(); err != nil {
			return pkgerrors.Wrap(err, "storage: flush on close failed")
		}
	}
	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return pkgerrors.Wrap(err, "storage: close json file failed")
		}
	}
	return nil
}

func (j *jsonlWriter) Name() string {
	if j == nil || j.path == "" {
		return "jsonl"
	}
	return j.path
}

// buildRow is the column view shared by the jsonl and bitable sinks.
func buildRow(record Record) map[string]any {
	return map[string]any{
		"RunID":         record.RunID,
		"Channel":       record.Channel,
		"Kind":          record.Kind,
		"FileName":      record.FileName,
		"ApplicationID": record.ApplicationID,
		"VersionName":   record.VersionName,
		"VersionCode":   record.VersionCode,
		"Size":          record.Size,
		"Digest":        record.Digest,
		"Status":        record.Status,
		"Stage":         record.Stage,
		"Error":         record.Error,
		"Progress":      record.Progress,
		"Host":          record.Host,
		"StartedAt":     unixMilli(record.StartedAt),
		"FinishedAt":    unixMilli(record.FinishedAt),
		"DurationMs":    record.Duration().Milliseconds(),
	}
}
