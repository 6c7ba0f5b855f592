package huawei

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

// Workflow stages, in execution order.
const (
	StageAuthenticate  channel.Stage = "authenticate"
	StageResolveApp    channel.Stage = "resolve_app"
	StageRequestTarget channel.Stage = "request_upload_url"
	StageTransfer      channel.Stage = "upload_file"
	StageBind          channel.Stage = "bind_file"
	StageWaitReady     channel.Stage = "wait_compile"
	StageUpdateDesc    channel.Stage = "update_desc"
	StageSubmit        channel.Stage = "submit"
)

// Package compile states reported by the compile status endpoint.
const (
	PackageStateSuccess   = 0
	PackageStateFailed    = 1
	PackageStateCompiling = 2
)

// Auth carries the credentials every call after authentication needs.
type Auth struct {
	ClientID string
	Token    string
}

// AuthToken is the payload of the token endpoint.
type AuthToken struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// AppInfo is one entry of the app id list, keyed by package name.
type AppInfo struct {
	PackageName string `json:"key"`
	AppID       string `json:"value"`
}

// UploadTarget is a one-time upload destination.
type UploadTarget struct {
	URL      string            `json:"url"`
	ObjectID string            `json:"objectId"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
}

// BindFile associates an uploaded object with the app.
type BindFile struct {
	FileName string
	ObjectID string
}

// BindResult carries the package id used for compile polling.
type BindResult struct {
	PkgID string
}

// PackageState is one entry of the compile status list.
type PackageState struct {
	PkgID         string `json:"pkgId"`
	SuccessStatus int    `json:"successStatus"`
}

// Succeeded reports whether the package finished compiling.
func (s PackageState) Succeeded() bool {
	return s.SuccessStatus == PackageStateSuccess
}

// Failed reports whether the remote compile rejected the package.
func (s PackageState) Failed() bool {
	return s.SuccessStatus == PackageStateFailed
}

func (s PackageState) String() string {
	switch s.SuccessStatus {
	case PackageStateSuccess:
		return "success"
	case PackageStateFailed:
		return "failed"
	case PackageStateCompiling:
		return "compiling"
	default:
		return "status_" + strconv.Itoa(s.SuccessStatus)
	}
}

// VersionDesc is the localized update description of the new version.
type VersionDesc struct {
	Lang        string `json:"lang"`
	NewFeatures string `json:"newFeatures"`
}

// Empty is the payload of calls that only return a status.
type Empty struct{}

// API is the transport used by Client; one method per remote call. A non-nil
// error means the call did not produce an envelope (network, encoding).
type API interface {
	GetToken(ctx context.Context, clientID, clientSecret string) (channel.RemoteResult[AuthToken], error)
	ListAppIDs(ctx context.Context, auth Auth, packageName string) (channel.RemoteResult[[]AppInfo], error)
	GetUploadURL(ctx context.Context, auth Auth, appID, fileName string, size int64) (channel.RemoteResult[UploadTarget], error)
	UploadFile(ctx context.Context, target UploadTarget, body io.Reader, size int64) (channel.RemoteResult[Empty], error)
	BindFile(ctx context.Context, auth Auth, appID string, file BindFile) (channel.RemoteResult[BindResult], error)
	GetCompileState(ctx context.Context, auth Auth, appID, pkgID string) (channel.RemoteResult[[]PackageState], error)
	UpdateVersionDesc(ctx context.Context, auth Auth, appID string, desc VersionDesc) (channel.RemoteResult[Empty], error)
	Submit(ctx context.Context, auth Auth, appID string) (channel.RemoteResult[Empty], error)
}
