package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/ApkDispatcher/internal/config"
	"github.com/httprunner/ApkDispatcher/pkg/apkinfo"
	"github.com/httprunner/ApkDispatcher/pkg/channel"
	"github.com/httprunner/ApkDispatcher/pkg/notify"
	"github.com/httprunner/ApkDispatcher/pkg/storage"
)

// ErrDispatchFailed is returned when at least one channel failed.
var ErrDispatchFailed = errors.New("dispatch failed")

// StageInit marks errors raised before a channel's upload started.
const StageInit channel.Stage = "init"

// ParamSource resolves configuration values for a channel. A nil result
// means the param is absent.
type ParamSource interface {
	Lookup(channelName string, p channel.Param) *string
}

// ChannelSource additionally maps a channel name to its kind and identify.
type ChannelSource interface {
	ParamSource
	Channel(name string) config.ChannelConfig
}

// RecordWriter persists channel outcomes.
type RecordWriter interface {
	Write(ctx context.Context, record storage.Record) error
}

// Request is one dispatch of an artifact to a list of channels.
type Request struct {
	ArtifactPath string
	UpdateDesc   string
	Channels     []string
}

// Result is the outcome of one channel.
type Result struct {
	Channel    string
	Kind       string
	FileName   string
	Progress   int
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Options wires the dispatcher collaborators. Zero values select defaults.
type Options struct {
	Registry  *Registry
	Channels  ChannelSource
	Extractor apkinfo.Extractor
	Records   RecordWriter
	Notifier  notify.Notifier
	// Progress returns the sink for one channel; nil discards progress.
	Progress func(channelName string) channel.ProgressFunc
	LockPath string
	Logger   *zerolog.Logger
	Now      func() time.Time
}

// Dispatcher publishes one artifact to several channels in order.
type Dispatcher struct {
	registry  *Registry
	channels  ChannelSource
	extractor apkinfo.Extractor
	records   RecordWriter
	notifier  notify.Notifier
	progress  func(string) channel.ProgressFunc
	lockPath  string
	logger    zerolog.Logger
	now       func() time.Time
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		registry:  opts.Registry,
		channels:  opts.Channels,
		extractor: opts.Extractor,
		records:   opts.Records,
		notifier:  opts.Notifier,
		progress:  opts.Progress,
		lockPath:  opts.LockPath,
		logger:    log.Logger,
		now:       opts.Now,
	}
	if d.registry == nil {
		d.registry = DefaultRegistry()
	}
	if d.channels == nil {
		d.channels = &config.Config{}
	}
	if d.extractor == nil {
		d.extractor = apkinfo.ManifestExtractor{}
	}
	if d.notifier == nil {
		d.notifier = notify.Nop{}
	}
	if d.lockPath == "" {
		d.lockPath = defaultLockPath()
	}
	if opts.Logger != nil {
		d.logger = *opts.Logger
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Run uploads the artifact to every requested channel. A failing channel does
// not stop later ones; the returned error wraps ErrDispatchFailed when any
// channel failed. Artifact and lock errors are returned before any channel runs.
func (d *Dispatcher) Run(ctx context.Context, req Request) ([]Result, error) {
	names, err := normalizeChannels(req.Channels)
	if err != nil {
		return nil, err
	}
	lock, err := acquireRunLock(d.lockPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			d.logger.Warn().Err(err).Str("lock", d.lockPath).Msg("release run lock failed")
		}
	}()

	artifact, err := apkinfo.Open(req.ArtifactPath, d.extractor)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	logger := d.logger.With().Str("run_id", runID).Logger()
	logger.Info().
		Str("app_id", artifact.ApplicationID).
		Str("version", artifact.VersionName).
		Str("size", humanize.IBytes(uint64(artifact.Size))).
		Strs("channels", names).
		Msg("dispatch started")

	results := make([]Result, 0, len(names))
	failed := 0
	for _, name := range names {
		res := d.runChannel(ctx, logger, runID, artifact, req.UpdateDesc, name)
		if res.Err != nil {
			failed++
		}
		results = append(results, res)
	}

	logger.Info().Int("channels", len(names)).Int("failed", failed).Msg("dispatch finished")
	if failed > 0 {
		return results, errors.Wrapf(ErrDispatchFailed, "%d of %d channels failed", failed, len(names))
	}
	return results, nil
}

func (d *Dispatcher) runChannel(ctx context.Context, logger zerolog.Logger, runID string, artifact *channel.Artifact, updateDesc, name string) Result {
	cc := d.channels.Channel(name)
	res := Result{Channel: name, Kind: cc.Kind, StartedAt: d.now()}
	logger = logger.With().Str("channel", name).Str("kind", cc.Kind).Logger()

	res.Err = d.upload(ctx, logger, artifact, updateDesc, name, cc, &res)
	res.FinishedAt = d.now()

	event := logger.Info()
	if res.Err != nil {
		event = logger.Error().Err(res.Err).Str("stage", string(stageOf(res.Err)))
	}
	event.Str("file", res.FileName).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Int("progress", res.Progress).
		Msg("channel finished")

	d.record(ctx, logger, runID, artifact, res)
	d.notify(ctx, logger, runID, artifact, res)
	return res
}

func (d *Dispatcher) upload(ctx context.Context, logger zerolog.Logger, artifact *channel.Artifact, updateDesc, name string, cc config.ChannelConfig, res *Result) error {
	if err := ctx.Err(); err != nil {
		return channel.WrapTransport(StageInit, err)
	}
	task, err := d.registry.New(cc.Kind, name, cc.Identify, logger)
	if err != nil {
		return err
	}
	res.FileName = channel.OutputFileName(artifact, task.FileNameIdentify())

	params := make(map[channel.Param]*string)
	for _, p := range task.ParamDefine() {
		params[p] = d.channels.Lookup(name, p)
	}
	if err := task.Init(params); err != nil {
		return err
	}

	var sink channel.ProgressFunc
	if d.progress != nil {
		sink = d.progress(name)
	}
	return task.PerformUpload(ctx, artifact, updateDesc, func(percent int) {
		res.Progress = percent
		if sink != nil {
			sink(percent)
		}
	})
}

func (d *Dispatcher) record(ctx context.Context, logger zerolog.Logger, runID string, artifact *channel.Artifact, res Result) {
	if d.records == nil {
		return
	}
	rec := storage.Record{
		RunID:         runID,
		Channel:       res.Channel,
		Kind:          res.Kind,
		FileName:      res.FileName,
		ApplicationID: artifact.ApplicationID,
		VersionName:   artifact.VersionName,
		VersionCode:   artifact.VersionCode,
		Size:          artifact.Size,
		Digest:        artifact.Digest,
		Status:        storage.StatusSuccess,
		Progress:      res.Progress,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
	}
	if res.Err != nil {
		rec.Status = storage.StatusFailed
		rec.Stage = string(stageOf(res.Err))
		rec.Error = res.Err.Error()
	}
	// records must outlive a cancelled run
	if err := d.records.Write(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn().Err(err).Msg("write upload record failed")
	}
}

func (d *Dispatcher) notify(ctx context.Context, logger zerolog.Logger, runID string, artifact *channel.Artifact, res Result) {
	err := d.notifier.Notify(context.WithoutCancel(ctx), notify.Event{
		RunID:         runID,
		Channel:       res.Channel,
		ApplicationID: artifact.ApplicationID,
		VersionName:   artifact.VersionName,
		FileName:      res.FileName,
		Err:           res.Err,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("notify channel result failed")
	}
}

func stageOf(err error) channel.Stage {
	if stage := channel.StageOf(err); stage != "" {
		return stage
	}
	return StageInit
}

func normalizeChannels(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	names := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			return nil, errors.Errorf("channel %q requested twice", name)
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, errors.New("no channel requested")
	}
	return names, nil
}
