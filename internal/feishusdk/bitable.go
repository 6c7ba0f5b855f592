package feishusdk

import (
	"context"
	"strings"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	"github.com/pkg/errors"
)

// BitableTable addresses one table of a bitable app.
type BitableTable struct {
	AppToken string
	TableID  string
}

func (t BitableTable) validate() error {
	if strings.TrimSpace(t.AppToken) == "" || strings.TrimSpace(t.TableID) == "" {
		return errors.New("feishu: bitable app token and table id are required")
	}
	return nil
}

// CreateRecord appends a row and returns its record id.
func (c *Client) CreateRecord(ctx context.Context, table BitableTable, fields map[string]any) (string, error) {
	if err := table.validate(); err != nil {
		return "", err
	}
	if c.bitableAPI == nil {
		return "", errors.New("feishu: bitable sdk client is nil")
	}
	token, err := c.getTenantAccessToken(ctx)
	if err != nil {
		return "", err
	}
	req := larkbitable.NewCreateAppTableRecordReqBuilder().
		AppToken(table.AppToken).
		TableId(table.TableID).
		AppTableRecord(larkbitable.NewAppTableRecordBuilder().Fields(fields).Build()).
		Build()
	resp, err := c.bitableAPI.Create(ctx, req, c.tenantRequestOptions(token)...)
	if err != nil {
		return "", errors.Wrap(err, "feishu: create bitable record")
	}
	if !resp.Success() {
		return "", &APIError{Op: "create_record", Code: resp.Code, Msg: resp.Msg}
	}
	if resp.Data == nil || resp.Data.Record == nil || resp.Data.Record.RecordId == nil {
		return "", errors.New("feishu: create record response missing record id")
	}
	return *resp.Data.Record.RecordId, nil
}

// maxSearchPageSize is the page size cap of records/search.
const maxSearchPageSize = 500

// LatestRecords returns up to limit rows ordered by sortField descending,
// asking the server for exactly the rows it needs. limit <= 0 reads every row.
func (c *Client) LatestRecords(ctx context.Context, table BitableTable, sortField string, limit int) ([]map[string]any, error) {
	if err := table.validate(); err != nil {
		return nil, err
	}
	if c.bitableAPI == nil {
		return nil, errors.New("feishu: bitable sdk client is nil")
	}
	token, err := c.getTenantAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body := &larkbitable.SearchAppTableRecordReqBody{}
	if sortField = strings.TrimSpace(sortField); sortField != "" {
		body.Sort = []*larkbitable.Sort{{
			FieldName: larkcore.StringPtr(sortField),
			Desc:      larkcore.BoolPtr(true),
		}}
	}

	var (
		out       []map[string]any
		pageToken string
	)
	for {
		pageSize := maxSearchPageSize
		if limit > 0 && limit-len(out) < pageSize {
			pageSize = limit - len(out)
		}
		builder := larkbitable.NewSearchAppTableRecordReqBuilder().
			AppToken(table.AppToken).
			TableId(table.TableID).
			PageSize(pageSize).
			Body(body)
		if pageToken != "" {
			builder.PageToken(pageToken)
		}
		resp, err := c.bitableAPI.Search(ctx, builder.Build(), c.tenantRequestOptions(token)...)
		if err != nil {
			return nil, errors.Wrap(err, "feishu: search bitable records")
		}
		if !resp.Success() {
			return nil, &APIError{Op: "search_records", Code: resp.Code, Msg: resp.Msg}
		}
		if resp.Data == nil {
			return out, nil
		}
		for _, item := range resp.Data.Items {
			if item == nil {
				continue
			}
			out = append(out, item.Fields)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if resp.Data.HasMore == nil || !*resp.Data.HasMore || resp.Data.PageToken == nil {
			return out, nil
		}
		pageToken = *resp.Data.PageToken
	}
}
