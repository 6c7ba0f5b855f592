package feishu

import (
	"context"
	"net/url"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/ApkDispatcher/internal/feishusdk"
	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

// Kind is the registry key of the Feishu drive channel.
const Kind = "feishu"

const (
	StageClient channel.Stage = "feishu_client"
	StageUpload channel.Stage = "drive_upload"
)

var (
	ParamAppID       = channel.Param{Name: "AppId"}
	ParamAppSecret   = channel.Param{Name: "AppSecret"}
	ParamFolderToken = channel.Param{Name: "FolderToken"}
	ParamBaseURL     = channel.Param{Name: "BaseURL"}
)

type driveUploader interface {
	UploadFile(ctx context.Context, f feishusdk.DriveFile, onSent func(sent int64)) (string, error)
}

// Task publishes the APK into a Feishu drive folder for internal testers.
type Task struct {
	channelName      string
	fileNameIdentify string
	logger           zerolog.Logger

	cfg         feishusdk.Config
	folderToken string
	uploader    driveUploader

	newUploader func(cfg feishusdk.Config) (driveUploader, error)
}

// NewTask builds a Feishu drive channel task.
func NewTask(channelName, fileNameIdentify string) *Task {
	return &Task{
		channelName:      channelName,
		fileNameIdentify: fileNameIdentify,
		logger:           log.Logger,
		newUploader: func(cfg feishusdk.Config) (driveUploader, error) {
			return feishusdk.New(cfg)
		},
	}
}

// WithLogger sets the logger used for stage events.
func (t *Task) WithLogger(logger zerolog.Logger) *Task {
	t.logger = logger
	return t
}

func (t *Task) ChannelName() string      { return t.channelName }
func (t *Task) FileNameIdentify() string { return t.fileNameIdentify }

func (t *Task) ParamDefine() []channel.Param {
	return []channel.Param{ParamAppID, ParamAppSecret, ParamFolderToken, ParamBaseURL}
}

func (t *Task) Init(params map[channel.Param]*string) error {
	var err error
	if t.cfg.AppID, err = channel.Require(t.channelName, params, ParamAppID); err != nil {
		return err
	}
	if t.cfg.AppSecret, err = channel.Require(t.channelName, params, ParamAppSecret); err != nil {
		return err
	}
	if t.folderToken, err = channel.Require(t.channelName, params, ParamFolderToken); err != nil {
		return err
	}
	t.cfg.BaseURL = channel.Lookup(params, ParamBaseURL)
	if t.cfg.BaseURL != "" {
		u, err := url.Parse(t.cfg.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &channel.ConfigurationError{Channel: t.channelName, Param: ParamBaseURL.Name, Reason: "expected an http(s) URL"}
		}
	}
	// building the client does no network I/O
	uploader, err := t.newUploader(t.cfg)
	if err != nil {
		return &channel.ConfigurationError{Channel: t.channelName, Param: ParamAppID.Name, Reason: err.Error()}
	}
	t.uploader = uploader
	return nil
}

func (t *Task) PerformUpload(ctx context.Context, artifact *channel.Artifact, updateDesc string, progress channel.ProgressFunc) error {
	logger := t.logger.With().Str("channel", t.channelName).Logger()
	if t.uploader == nil {
		return &channel.ConfigurationError{Channel: t.channelName, Param: ParamAppID.Name, Reason: "channel not initialized"}
	}

	file, err := os.Open(artifact.Path)
	if err != nil {
		return channel.WrapTransport(StageUpload, errors.Wrap(err, "open artifact"))
	}
	defer file.Close()
	size := artifact.Size
	if size <= 0 {
		info, err := file.Stat()
		if err != nil {
			return channel.WrapTransport(StageUpload, errors.Wrap(err, "stat artifact"))
		}
		size = info.Size()
	}

	name := channel.OutputFileName(artifact, t.fileNameIdentify)
	p := channel.NewProgress(progress)
	p.Report(0)
	logger.Info().Str("stage", string(StageUpload)).Str("file", name).
		Str("size", humanize.IBytes(uint64(size))).Msg("uploading apk to feishu drive")

	fileToken, err := t.uploader.UploadFile(ctx, feishusdk.DriveFile{
		FolderToken: t.folderToken,
		FileName:    name,
		Size:        size,
		Content:     file,
	}, func(sent int64) {
		p.ReportFraction(sent, size, 0, 99)
	})
	if err != nil {
		var apiErr *feishusdk.APIError
		if errors.As(err, &apiErr) {
			return &channel.RemoteStatusError{Stage: StageUpload, Code: apiErr.Code, Message: apiErr.Msg}
		}
		return channel.WrapTransport(StageUpload, err)
	}
	p.Done()
	logger.Info().Str("stage", string(StageUpload)).Str("file_token", fileToken).Msg("feishu drive upload finished")
	return nil
}
