package feishusdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkauth "github.com/larksuite/oapi-sdk-go/v3/service/auth/v3"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/httprunner/ApkDispatcher/internal/env"
)

const (
	defaultBaseURL      = "https://open.feishu.cn"
	defaultHTTPTimeout  = 60 * time.Second
	tokenExpiryFallback = 60 * time.Minute
	tokenRefreshSkew    = 30 * time.Second
)

// Config carries the app credentials of a self-built Feishu app.
type Config struct {
	AppID     string
	AppSecret string
	TenantKey string
	BaseURL   string

	HTTPClient *http.Client
}

type bitableRecordAPI interface {
	Create(ctx context.Context, req *larkbitable.CreateAppTableRecordReq, options ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error)
	Search(ctx context.Context, req *larkbitable.SearchAppTableRecordReq, options ...larkcore.RequestOptionFunc) (*larkbitable.SearchAppTableRecordResp, error)
}

type messageAPI interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

// Client wraps the Feishu open APIs used for drive uploads, bitable
// records and chat notifications.
type Client struct {
	appID     string
	appSecret string
	tenantKey string

	baseURL    string
	larkClient *lark.Client
	httpClient *http.Client

	bitableAPI bitableRecordAPI
	messageAPI messageAPI

	// used for mock test
	fetchTokenFunc func(ctx context.Context) (string, time.Duration, error)

	tokenMu       sync.Mutex
	tenantToken   string
	tokenExpireAt time.Time
	tokenGroup    singleflight.Group
}

// New constructs a Client from explicit credentials.
func New(cfg Config) (*Client, error) {
	appID := strings.TrimSpace(cfg.AppID)
	appSecret := strings.TrimSpace(cfg.AppSecret)
	if appID == "" || appSecret == "" {
		return nil, errors.New("feishu: app id and app secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: env.Duration("FEISHU_HTTP_TIMEOUT", defaultHTTPTimeout)}
	}

	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelError),
		lark.WithHttpClient(httpClient),
	}
	if baseURL != lark.FeishuBaseUrl {
		opts = append(opts, lark.WithOpenBaseUrl(baseURL))
	}
	larkClient := lark.NewClient(appID, appSecret, opts...)

	return &Client{
		appID:      appID,
		appSecret:  appSecret,
		tenantKey:  strings.TrimSpace(cfg.TenantKey),
		baseURL:    baseURL,
		larkClient: larkClient,
		httpClient: httpClient,
		bitableAPI: larkClient.Bitable.V1.AppTableRecord,
		messageAPI: larkClient.Im.V1.Message,
	}, nil
}

// NewClientFromEnv constructs a Client using environment variables.
//
// Required variables:
//   - FEISHU_APP_ID
//   - FEISHU_APP_SECRET
//
// Optional variables:
//   - FEISHU_TENANT_KEY
//   - FEISHU_BASE_URL (defaults to https://open.feishu.cn)
func NewClientFromEnv() (*Client, error) {
	appID := env.String("FEISHU_APP_ID", "")
	appSecret := env.String("FEISHU_APP_SECRET", "")
	if appID == "" || appSecret == "" {
		return nil, errors.New("feishu: FEISHU_APP_ID and FEISHU_APP_SECRET must be set in environment")
	}
	return New(Config{
		AppID:     appID,
		AppSecret: appSecret,
		TenantKey: env.String("FEISHU_TENANT_KEY", ""),
		BaseURL:   env.String("FEISHU_BASE_URL", ""),
	})
}

// getTenantAccessToken returns a cached tenant_access_token, refreshing it
// once for all concurrent callers when it is about to expire.
func (c *Client) getTenantAccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	if c.tenantToken != "" && time.Now().Before(c.tokenExpireAt.Add(-tokenRefreshSkew)) {
		token := c.tenantToken
		c.tokenMu.Unlock()
		return token, nil
	}
	c.tokenMu.Unlock()

	// the refresh outlives any single caller; each caller still stops on its own ctx
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.tokenGroup.DoChan("tenant_access_token", func() (any, error) {
		fetch := c.fetchTokenFunc
		if fetch == nil {
			fetch = c.fetchTenantAccessToken
		}
		token, ttl, err := fetch(fetchCtx)
		if err != nil {
			return "", err
		}
		if ttl <= 0 {
			ttl = tokenExpiryFallback
		}
		c.tokenMu.Lock()
		c.tenantToken = token
		c.tokenExpireAt = time.Now().Add(ttl)
		c.tokenMu.Unlock()
		return token, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) fetchTenantAccessToken(ctx context.Context) (string, time.Duration, error) {
	if c.larkClient == nil {
		return "", 0, errors.New("feishu: sdk client is nil")
	}
	body := larkauth.NewInternalTenantAccessTokenReqBodyBuilder().
		AppId(c.appID).
		AppSecret(c.appSecret).
		Build()
	req := larkauth.NewInternalTenantAccessTokenReqBuilder().
		Body(body).
		Build()

	resp, err := c.larkClient.Auth.V3.TenantAccessToken.Internal(ctx, req)
	if err != nil {
		return "", 0, errors.Wrap(err, "feishu: request tenant access token failed")
	}
	if resp == nil || resp.ApiResp == nil {
		return "", 0, errors.New("feishu: empty response when fetching tenant access token")
	}

	var parsed struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.Unmarshal(resp.ApiResp.RawBody, &parsed); err != nil {
		return "", 0, errors.Wrap(err, "feishu: decode tenant access token response")
	}
	if parsed.Code != 0 {
		return "", 0, &APIError{Op: "tenant_access_token", Code: parsed.Code, Msg: parsed.Msg}
	}
	if parsed.TenantAccessToken == "" {
		return "", 0, errors.New("feishu: tenant access token missing in response")
	}
	return parsed.TenantAccessToken, time.Duration(parsed.Expire) * time.Second, nil
}

func (c *Client) tenantRequestOptions(token string) []larkcore.RequestOptionFunc {
	opts := []larkcore.RequestOptionFunc{larkcore.WithTenantAccessToken(token)}
	if c.tenantKey != "" {
		opts = append(opts, larkcore.WithTenantKey(c.tenantKey))
	}
	return opts
}

func (c *Client) apiBase() string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return defaultBaseURL
}

// APIError is a non-zero code returned in a Feishu response body.
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feishu: %s failed code=%d msg=%s", e.Op, e.Code, e.Msg)
}

// doJSONRequest sends payload as JSON and decodes the `data` member of a
// code/msg envelope into out.
func (c *Client) doJSONRequest(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "feishu: marshal request payload")
		}
		body = bytes.NewReader(raw)
	}
	return c.doRequest(ctx, op, method, path, body, "application/json; charset=utf-8", out)
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	token, err := c.getTenantAccessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase()+path, body)
	if err != nil {
		return errors.Wrap(err, "feishu: build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "feishu: execute %s request", op)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "feishu: read %s response", op)
	}

	var envelope struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Op: op, Code: resp.StatusCode, Msg: strings.TrimSpace(string(raw))}
		}
		return errors.Wrapf(err, "feishu: decode %s response", op)
	}
	if envelope.Code != 0 {
		return &APIError{Op: op, Code: envelope.Code, Msg: envelope.Msg}
	}
	if resp.StatusCode >= 400 {
		return &APIError{Op: op, Code: resp.StatusCode, Msg: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return errors.Wrapf(err, "feishu: decode %s data", op)
	}
	return nil
}
