package huawei

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/ApkDispatcher/internal/env"
	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

const (
	// DefaultBaseURL is the AppGallery Connect publishing API endpoint.
	DefaultBaseURL = "https://connect-api.cloud.huawei.com"

	envHTTPTimeout     = "HUAWEI_HTTP_TIMEOUT"
	defaultHTTPTimeout = 60 * time.Second

	// fileTypeAPK is the app-file-info file type for APK/RPK packages.
	fileTypeAPK = 5
)

type retHolder struct {
	Ret *channel.ResultStatus `json:"ret"`
}

func (h *retHolder) status() *channel.ResultStatus {
	return h.Ret
}

type envelope interface {
	status() *channel.ResultStatus
}

// HTTPAPI implements API on top of the AppGallery Connect REST endpoints.
type HTTPAPI struct {
	baseURL      string
	httpClient   *http.Client
	uploadClient *http.Client
	logger       zerolog.Logger
}

// HTTPAPIConfig controls NewHTTPAPI.
type HTTPAPIConfig struct {
	BaseURL string
	// HTTPClient is used for JSON calls; defaults to a client with HUAWEI_HTTP_TIMEOUT.
	HTTPClient *http.Client
	// UploadClient is used for the binary transfer, bounded only by the context.
	UploadClient *http.Client
	Logger       *zerolog.Logger
}

// NewHTTPAPI builds the REST transport.
func NewHTTPAPI(cfg HTTPAPIConfig) *HTTPAPI {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: env.Duration(envHTTPTimeout, defaultHTTPTimeout)}
	}
	uploadClient := cfg.UploadClient
	if uploadClient == nil {
		uploadClient = &http.Client{}
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &HTTPAPI{
		baseURL:      baseURL,
		httpClient:   httpClient,
		uploadClient: uploadClient,
		logger:       logger,
	}
}

func (a *HTTPAPI) GetToken(ctx context.Context, clientID, clientSecret string) (channel.RemoteResult[AuthToken], error) {
	var resp struct {
		retHolder
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	payload := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     clientID,
		"client_secret": clientSecret,
	}
	status, err := a.call(ctx, http.MethodPost, "/api/oauth2/v1/token", nil, nil, payload, &resp)
	if err != nil {
		return channel.RemoteResult[AuthToken]{}, err
	}
	if !status.OK() {
		return channel.Failure[AuthToken](status.Code, status.Message), nil
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		return channel.RemoteResult[AuthToken]{}, nil
	}
	return channel.Success(AuthToken{
		AccessToken: strings.TrimSpace(resp.AccessToken),
		ExpiresIn:   time.Duration(resp.ExpiresIn) * time.Second,
	}), nil
}

func (a *HTTPAPI) ListAppIDs(ctx context.Context, auth Auth, packageName string) (channel.RemoteResult[[]AppInfo], error) {
	var resp struct {
		retHolder
		AppIDs []AppInfo `json:"appids"`
	}
	query := url.Values{"packageName": {packageName}}
	status, err := a.call(ctx, http.MethodGet, "/api/publish/v2/appid-list", query, &auth, nil, &resp)
	if err != nil {
		return channel.RemoteResult[[]AppInfo]{}, err
	}
	if !status.OK() {
		return channel.Failure[[]AppInfo](status.Code, status.Message), nil
	}
	return channel.Success(resp.AppIDs), nil
}

func (a *HTTPAPI) GetUploadURL(ctx context.Context, auth Auth, appID, fileName string, size int64) (channel.RemoteResult[UploadTarget], error) {
	var resp struct {
		retHolder
		URLInfo *UploadTarget `json:"urlInfo"`
	}
	query := url.Values{
		"appId":         {appID},
		"fileName":      {fileName},
		"contentLength": {strconv.FormatInt(size, 10)},
	}
	status, err := a.call(ctx, http.MethodGet, "/api/publish/v2/upload-url/for-obs", query, &auth, nil, &resp)
	if err != nil {
		return channel.RemoteResult[UploadTarget]{}, err
	}
	if !status.OK() {
		return channel.Failure[UploadTarget](status.Code, status.Message), nil
	}
	if resp.URLInfo == nil || strings.TrimSpace(resp.URLInfo.URL) == "" {
		return channel.RemoteResult[UploadTarget]{}, nil
	}
	return channel.Success(*resp.URLInfo), nil
}

func (a *HTTPAPI) UploadFile(ctx context.Context, target UploadTarget, body io.Reader, size int64) (channel.RemoteResult[Empty], error) {
	method := strings.ToUpper(strings.TrimSpace(target.Method))
	if method == "" {
		method = http.MethodPut
	}
	req, err := http.NewRequestWithContext(ctx, method, target.URL, body)
	if err != nil {
		return channel.RemoteResult[Empty]{}, errors.Wrap(err, "build upload request")
	}
	req.ContentLength = size
	for key, val := range target.Headers {
		req.Header.Set(key, val)
	}
	a.logger.Debug().
		Str("method", method).
		Str("object_id", target.ObjectID).
		Int64("size", size).
		Msg("huawei upload request")
	resp, err := a.uploadClient.Do(req)
	if err != nil {
		return channel.RemoteResult[Empty]{}, errors.Wrap(err, "call huawei upload")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return channel.Failure[Empty](resp.StatusCode, truncateString(strings.TrimSpace(string(raw)), 512)), nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return channel.Success(Empty{}), nil
}

func (a *HTTPAPI) BindFile(ctx context.Context, auth Auth, appID string, file BindFile) (channel.RemoteResult[BindResult], error) {
	type fileInfo struct {
		FileName    string `json:"fileName"`
		FileDestURL string `json:"fileDestUrl"`
	}
	payload := struct {
		FileType int        `json:"fileType"`
		Files    []fileInfo `json:"files"`
	}{
		FileType: fileTypeAPK,
		Files:    []fileInfo{{FileName: file.FileName, FileDestURL: file.ObjectID}},
	}
	var resp struct {
		retHolder
		PkgID string `json:"pkgId"`
	}
	query := url.Values{"appId": {appID}}
	status, err := a.call(ctx, http.MethodPut, "/api/publish/v2/app-file-info", query, &auth, payload, &resp)
	if err != nil {
		return channel.RemoteResult[BindResult]{}, err
	}
	if !status.OK() {
		return channel.Failure[BindResult](status.Code, status.Message), nil
	}
	if strings.TrimSpace(resp.PkgID) == "" {
		return channel.RemoteResult[BindResult]{}, nil
	}
	return channel.Success(BindResult{PkgID: strings.TrimSpace(resp.PkgID)}), nil
}

func (a *HTTPAPI) GetCompileState(ctx context.Context, auth Auth, appID, pkgID string) (channel.RemoteResult[[]PackageState], error) {
	var resp struct {
		retHolder
		PkgStateList []PackageState `json:"pkgStateList"`
	}
	query := url.Values{"appId": {appID}, "pkgIds": {pkgID}}
	status, err := a.call(ctx, http.MethodGet, "/api/publish/v2/package/compile/status", query, &auth, nil, &resp)
	if err != nil {
		return channel.RemoteResult[[]PackageState]{}, err
	}
	if !status.OK() {
		return channel.Failure[[]PackageState](status.Code, status.Message), nil
	}
	return channel.Success(resp.PkgStateList), nil
}

func (a *HTTPAPI) UpdateVersionDesc(ctx context.Context, auth Auth, appID string, desc VersionDesc) (channel.RemoteResult[Empty], error) {
	var resp retHolder
	query := url.Values{"appId": {appID}}
	status, err := a.call(ctx, http.MethodPut, "/api/publish/v2/app-language-info", query, &auth, desc, &resp)
	if err != nil {
		return channel.RemoteResult[Empty]{}, err
	}
	if !status.OK() {
		return channel.Failure[Empty](status.Code, status.Message), nil
	}
	return channel.Success(Empty{}), nil
}

func (a *HTTPAPI) Submit(ctx context.Context, auth Auth, appID string) (channel.RemoteResult[Empty], error) {
	var resp retHolder
	query := url.Values{"appId": {appID}}
	status, err := a.call(ctx, http.MethodPost, "/api/publish/v2/app-submit", query, &auth, nil, &resp)
	if err != nil {
		return channel.RemoteResult[Empty]{}, err
	}
	if !status.OK() {
		return channel.Failure[Empty](status.Code, status.Message), nil
	}
	return channel.Success(Empty{}), nil
}

// call performs one JSON round trip and folds the HTTP status and the `ret`
// block into a single ResultStatus.
func (a *HTTPAPI) call(ctx context.Context, method, path string, query url.Values, auth *Auth, payload any, out envelope) (channel.ResultStatus, error) {
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return channel.ResultStatus{}, errors.Wrapf(err, "encode %s payload", path)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return channel.ResultStatus{}, errors.Wrapf(err, "build %s request", path)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != nil {
		req.Header.Set("client_id", auth.ClientID)
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}
	a.logger.Debug().
		Str("method", method).
		Str("path", path).
		Msg("huawei request")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return channel.ResultStatus{}, errors.Wrapf(err, "call huawei %s", path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return channel.ResultStatus{}, errors.Wrapf(err, "read huawei %s response", path)
	}
	decodeErr := json.Unmarshal(raw, out)

	status := channel.ResultStatus{}
	if ret := out.status(); decodeErr == nil && ret != nil {
		status = *ret
	}
	if resp.StatusCode >= http.StatusBadRequest && status.OK() {
		status = channel.ResultStatus{
			Code:    resp.StatusCode,
			Message: truncateString(strings.TrimSpace(string(raw)), 512),
		}
	}
	a.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("http_status", resp.StatusCode).
		Int("code", status.Code).
		Str("msg", strings.TrimSpace(status.Message)).
		Msg("huawei response")

	if decodeErr != nil && resp.StatusCode < http.StatusBadRequest {
		return channel.ResultStatus{}, errors.Wrapf(decodeErr, "decode huawei %s response", path)
	}
	return status, nil
}

// truncateString cuts value to at most limit bytes on a rune boundary.
func truncateString(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return fmt.Sprintf("%s...(truncated)", value[:cut])
}
