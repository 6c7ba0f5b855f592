package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/ApkDispatcher/internal/feishusdk"
)

// RecordCreator appends rows to a Feishu bitable.
type RecordCreator interface {
	CreateRecord(ctx context.Context, table feishusdk.BitableTable, fields map[string]any) (string, error)
}

type bitableSink struct {
	client RecordCreator
	table  feishusdk.BitableTable
}

func newBitableSink(cfg BitableConfig) *bitableSink {
	return &bitableSink{client: cfg.Client, table: cfg.Table}
}

func (b *bitableSink) Write(ctx context.Context, record Record) error {
	fields := buildRow(record)
	// bitable number fields are float64
	fields["Size"] = float64(record.Size)
	fields["VersionCode"] = float64(record.VersionCode)
	recordID, err := b.client.CreateRecord(ctx, b.table, fields)
	if err != nil {
		return err
	}
	log.Debug().Str("record_id", recordID).Str("channel", record.Channel).Msg("storage: bitable record created")
	return nil
}

func (b *bitableSink) Close() error { return nil }

func (b *bitableSink) Name() string { return "feishu-bitable" }

// RecordLister reads the newest rows back from a Feishu bitable.
type RecordLister interface {
	LatestRecords(ctx context.Context, table feishusdk.BitableTable, sortField string, limit int) ([]map[string]any, error)
}

// RecentFromBitable reads the newest records from the Feishu result table,
// letting the server sort by StartedAt and stop at limit.
func RecentFromBitable(ctx context.Context, cfg BitableConfig, limit int) ([]Record, error) {
	lister, ok := cfg.Client.(RecordLister)
	if !ok {
		return nil, pkgerrors.New("storage: bitable client cannot list records")
	}
	rows, err := lister.LatestRecords(ctx, cfg.Table, "StartedAt", limit)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, parseRow(row))
	}
	return records, nil
}

func parseRow(row map[string]any) Record {
	return Record{
		RunID:         fieldText(row["RunID"]),
		Channel:       fieldText(row["Channel"]),
		Kind:          fieldText(row["Kind"]),
		FileName:      fieldText(row["FileName"]),
		ApplicationID: fieldText(row["ApplicationID"]),
		VersionName:   fieldText(row["VersionName"]),
		VersionCode:   fieldInt(row["VersionCode"]),
		Size:          fieldInt(row["Size"]),
		Digest:        fieldText(row["Digest"]),
		Status:        fieldText(row["Status"]),
		Stage:         fieldText(row["Stage"]),
		Error:         fieldText(row["Error"]),
		Progress:      int(fieldInt(row["Progress"])),
		Host:          fieldText(row["Host"]),
		StartedAt:     fromUnixMilli(fieldInt(row["StartedAt"])),
		FinishedAt:    fromUnixMilli(fieldInt(row["FinishedAt"])),
	}
}

// fieldText flattens plain and rich text cells.
func fieldText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		var b strings.Builder
		for _, seg := range val {
			if m, ok := seg.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					b.WriteString(text)
				}
			}
		}
		return b.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func fieldInt(v any) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case int64:
		return val
	case int:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n
	default:
		return 0
	}
}
