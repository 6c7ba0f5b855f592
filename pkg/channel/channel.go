package channel

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Param is a named configuration slot declared by a channel.
type Param struct {
	Name string
}

// NewParams builds an ordered param schema from names.
func NewParams(names ...string) []Param {
	out := make([]Param, 0, len(names))
	for _, name := range names {
		out = append(out, Param{Name: name})
	}
	return out
}

// Artifact describes the package being published. It is read-only for the
// duration of an upload.
type Artifact struct {
	Path          string
	Name          string
	Size          int64
	Digest        string
	ApplicationID string
	VersionName   string
	VersionCode   int64
}

// ProgressFunc receives upload completion in percent (0-100).
type ProgressFunc func(percent int)

// Task 表示一个渠道的上传任务：声明参数、初始化、执行上传。
//
// A Task is constructed once per channel per run. Init is called exactly once
// before PerformUpload, which is also called exactly once.
type Task interface {
	ChannelName() string
	FileNameIdentify() string
	ParamDefine() []Param
	Init(params map[Param]*string) error
	PerformUpload(ctx context.Context, artifact *Artifact, updateDesc string, progress ProgressFunc) error
}

// OutputFileName returns the per-channel artifact name
// `<applicationId>_<versionName>_<identify>.apk`.
func OutputFileName(artifact *Artifact, identify string) string {
	if artifact == nil {
		return ""
	}
	ext := filepath.Ext(artifact.Name)
	if ext == "" {
		ext = ".apk"
	}
	parts := make([]string, 0, 3)
	for _, part := range []string{artifact.ApplicationID, artifact.VersionName, identify} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return artifact.Name
	}
	return strings.Join(parts, "_") + ext
}

// Lookup returns the trimmed value supplied for p, or "" when absent.
func Lookup(params map[Param]*string, p Param) string {
	if params == nil {
		return ""
	}
	val, ok := params[p]
	if !ok || val == nil {
		return ""
	}
	return strings.TrimSpace(*val)
}

// Require returns the value for p or a ConfigurationError when it is missing.
func Require(channelName string, params map[Param]*string, p Param) (string, error) {
	val := Lookup(params, p)
	if val == "" {
		return "", &ConfigurationError{
			Channel: channelName,
			Param:   p.Name,
			Reason:  "value is required",
		}
	}
	return val, nil
}

// String implements fmt.Stringer.
func (p Param) String() string {
	return p.Name
}

// String implements fmt.Stringer.
func (a *Artifact) String() string {
	if a == nil {
		return "<nil artifact>"
	}
	return fmt.Sprintf("%s (%s %s)", a.Name, a.ApplicationID, a.VersionName)
}
