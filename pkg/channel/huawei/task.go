package huawei

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

// Kind is the registry key of the AppGallery Connect channel.
const Kind = "huawei"

var (
	ParamClientID     = channel.Param{Name: "ClientId"}
	ParamClientSecret = channel.Param{Name: "ClientSecret"}
	ParamBaseURL      = channel.Param{Name: "BaseURL"}
)

var paramDefine = []channel.Param{ParamClientID, ParamClientSecret, ParamBaseURL}

// Task publishes an APK to Huawei AppGallery.
type Task struct {
	channelName      string
	fileNameIdentify string
	logger           zerolog.Logger

	clientID     string
	clientSecret string
	baseURL      string

	// newAPI is swapped in tests.
	newAPI func(baseURL string, logger *zerolog.Logger) API
	client ClientConfig
}

// NewTask builds an uninitialized Huawei channel task.
func NewTask(channelName, fileNameIdentify string) *Task {
	return &Task{
		channelName:      channelName,
		fileNameIdentify: fileNameIdentify,
		logger:           log.Logger,
		newAPI: func(baseURL string, logger *zerolog.Logger) API {
			return NewHTTPAPI(HTTPAPIConfig{BaseURL: baseURL, Logger: logger})
		},
	}
}

// WithLogger sets the logger passed to the protocol client.
func (t *Task) WithLogger(logger zerolog.Logger) *Task {
	t.logger = logger
	return t
}

func (t *Task) ChannelName() string      { return t.channelName }
func (t *Task) FileNameIdentify() string { return t.fileNameIdentify }

func (t *Task) ParamDefine() []channel.Param {
	out := make([]channel.Param, len(paramDefine))
	copy(out, paramDefine)
	return out
}

func (t *Task) Init(params map[channel.Param]*string) error {
	clientID, err := channel.Require(t.channelName, params, ParamClientID)
	if err != nil {
		return err
	}
	clientSecret, err := channel.Require(t.channelName, params, ParamClientSecret)
	if err != nil {
		return err
	}
	t.clientID = clientID
	t.clientSecret = clientSecret
	t.baseURL = channel.Lookup(params, ParamBaseURL)
	return nil
}

func (t *Task) PerformUpload(ctx context.Context, artifact *channel.Artifact, updateDesc string, progress channel.ProgressFunc) error {
	logger := t.logger.With().Str("channel", t.channelName).Logger()
	cfg := t.client
	cfg.API = t.newAPI(t.baseURL, &logger)
	cfg.Logger = &logger
	client, err := NewClient(cfg)
	if err != nil {
		return err
	}
	return client.Upload(ctx, UploadRequest{
		ClientID:     t.clientID,
		ClientSecret: t.clientSecret,
		Artifact:     artifact,
		UpdateDesc:   updateDesc,
	}, channel.NewProgress(progress))
}
