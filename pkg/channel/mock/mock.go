package mock

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

// Kind is the registry key of the simulated channel.
const Kind = "mock"

const (
	defaultTicks = 100
	defaultTick  = 100 * time.Millisecond
)

var (
	ParamAppID  = channel.Param{Name: "AppId"}
	ParamAppKey = channel.Param{Name: "AppKey"}
)

// Task simulates an upload without network access: it reports the raw tick
// counter 0..99 and then 100 on completion.
type Task struct {
	channelName      string
	fileNameIdentify string
	logger           zerolog.Logger

	ticks int
	tick  time.Duration

	appID string
}

// NewTask builds a simulated channel task.
func NewTask(channelName, fileNameIdentify string) *Task {
	return &Task{
		channelName:      channelName,
		fileNameIdentify: fileNameIdentify,
		logger:           log.Logger,
		ticks:            defaultTicks,
		tick:             defaultTick,
	}
}

// WithLogger sets the logger used for stage events.
func (t *Task) WithLogger(logger zerolog.Logger) *Task {
	t.logger = logger
	return t
}

// WithTick overrides the tick duration.
func (t *Task) WithTick(d time.Duration) *Task {
	if d > 0 {
		t.tick = d
	}
	return t
}

func (t *Task) ChannelName() string      { return t.channelName }
func (t *Task) FileNameIdentify() string { return t.fileNameIdentify }

func (t *Task) ParamDefine() []channel.Param {
	return []channel.Param{ParamAppID, ParamAppKey}
}

// Init accepts any values; the mock channel has no required params.
func (t *Task) Init(params map[channel.Param]*string) error {
	t.appID = channel.Lookup(params, ParamAppID)
	return nil
}

// AppID returns the configured AppId, or "".
func (t *Task) AppID() string { return t.appID }

func (t *Task) PerformUpload(ctx context.Context, artifact *channel.Artifact, updateDesc string, progress channel.ProgressFunc) error {
	logger := t.logger.With().Str("channel", t.channelName).Logger()
	logger.Info().Str("file", artifact.String()).Str("app_id", t.appID).Msg("mock upload started")

	p := channel.NewProgress(progress)
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for i := 0; i < t.ticks; i++ {
		select {
		case <-ctx.Done():
			return channel.WrapTransport("mock_upload", ctx.Err())
		case <-ticker.C:
		}
		p.Report(i)
	}
	p.Done()
	logger.Info().Msg("mock upload finished")
	return nil
}
