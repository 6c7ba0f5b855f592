package huawei

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollTimeout  = 3 * time.Minute

	defaultLang = "zh-CN"
)

// Progress milestones; the transfer owns [0, transferDone].
const (
	transferDone  = 90
	boundDone     = 92
	readyDone     = 97
	describedDone = 98
)

// ClientConfig controls NewClient.
type ClientConfig struct {
	API    API
	Logger *zerolog.Logger

	PollInterval time.Duration
	PollTimeout  time.Duration
	// Lang is the locale whose update description is modified.
	Lang string

	// Clock and Sleep are overridable for tests.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client drives the AppGallery Connect publishing workflow. It holds no
// per-upload state; everything lives in the Upload call.
type Client struct {
	api          API
	logger       zerolog.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
	lang         string
	clock        func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// UploadRequest bundles the inputs of one upload.
type UploadRequest struct {
	ClientID     string
	ClientSecret string
	Artifact     *channel.Artifact
	UpdateDesc   string
}

// NewClient builds a Client with defaults applied.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.API == nil {
		return nil, errors.New("huawei api cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.Lang == "" {
		cfg.Lang = defaultLang
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Client{
		api:          cfg.API,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		lang:         cfg.Lang,
		clock:        cfg.Clock,
		sleep:        cfg.Sleep,
	}, nil
}

// Upload runs authenticate → resolve app → request upload url → upload →
// bind → wait compile → update description → submit. The first failing
// stage aborts the rest.
func (c *Client) Upload(ctx context.Context, req UploadRequest, progress *channel.Progress) error {
	artifact := req.Artifact
	if artifact == nil {
		return errors.New("huawei upload: artifact is nil")
	}
	logger := c.logger.With().
		Str("application_id", artifact.ApplicationID).
		Str("file", artifact.Name).
		Logger()

	token, err := c.authenticate(ctx, logger, req.ClientID, req.ClientSecret)
	if err != nil {
		return err
	}
	auth := Auth{ClientID: req.ClientID, Token: token.AccessToken}

	appID, err := c.resolveAppID(ctx, logger, auth, artifact.ApplicationID)
	if err != nil {
		return err
	}
	logger = logger.With().Str("app_id", appID).Logger()

	target, err := c.requestUploadTarget(ctx, logger, auth, appID, artifact)
	if err != nil {
		return err
	}
	if err := c.transfer(ctx, logger, target, artifact, progress); err != nil {
		return err
	}
	bound, err := c.bind(ctx, logger, auth, appID, artifact, target)
	if err != nil {
		return err
	}
	progress.Report(boundDone)

	if err := c.waitReady(ctx, logger, auth, appID, bound.PkgID); err != nil {
		return err
	}
	progress.Report(readyDone)

	if err := c.updateDesc(ctx, logger, auth, appID, req.UpdateDesc); err != nil {
		return err
	}
	progress.Report(describedDone)

	if err := c.submit(ctx, logger, auth, appID); err != nil {
		return err
	}
	progress.Done()
	return nil
}

func (c *Client) authenticate(ctx context.Context, logger zerolog.Logger, clientID, clientSecret string) (AuthToken, error) {
	logger.Info().Str("stage", string(StageAuthenticate)).Msg("requesting access token")
	res, err := c.api.GetToken(ctx, clientID, clientSecret)
	if err != nil {
		return AuthToken{}, channel.WrapTransport(StageAuthenticate, err)
	}
	token, err := res.Unwrap(StageAuthenticate)
	if err != nil {
		return AuthToken{}, err
	}
	if token.AccessToken == "" {
		return AuthToken{}, channel.MissingPayload(StageAuthenticate, "access token")
	}
	return token, nil
}

// resolveAppID picks the first registered app for the package name.
func (c *Client) resolveAppID(ctx context.Context, logger zerolog.Logger, auth Auth, packageName string) (string, error) {
	logger.Info().Str("stage", string(StageResolveApp)).Msg("resolving app id")
	res, err := c.api.ListAppIDs(ctx, auth, packageName)
	if err != nil {
		return "", channel.WrapTransport(StageResolveApp, err)
	}
	apps, err := res.Unwrap(StageResolveApp)
	if err != nil {
		return "", err
	}
	if len(apps) == 0 {
		return "", &channel.NotFoundError{Stage: StageResolveApp, Query: packageName}
	}
	if len(apps) > 1 {
		logger.Warn().Int("matches", len(apps)).Msg("multiple apps registered for package, using the first")
	}
	return apps[0].AppID, nil
}

func (c *Client) requestUploadTarget(ctx context.Context, logger zerolog.Logger, auth Auth, appID string, artifact *channel.Artifact) (UploadTarget, error) {
	logger.Info().Str("stage", string(StageRequestTarget)).Msg("requesting upload url")
	res, err := c.api.GetUploadURL(ctx, auth, appID, artifact.Name, artifact.Size)
	if err != nil {
		return UploadTarget{}, channel.WrapTransport(StageRequestTarget, err)
	}
	return res.Unwrap(StageRequestTarget)
}

func (c *Client) transfer(ctx context.Context, logger zerolog.Logger, target UploadTarget, artifact *channel.Artifact, progress *channel.Progress) error {
	logger.Info().
		Str("stage", string(StageTransfer)).
		Str("size", humanize.IBytes(uint64(artifact.Size))).
		Msg("uploading apk")
	file, err := os.Open(artifact.Path)
	if err != nil {
		return channel.WrapTransport(StageTransfer, errors.Wrap(err, "open artifact"))
	}
	defer file.Close()

	progress.Report(0)
	body := channel.NewReader(file, artifact.Size, progress, 0, transferDone)
	start := c.clock()
	res, err := c.api.UploadFile(ctx, target, body, artifact.Size)
	if err != nil {
		return channel.WrapTransport(StageTransfer, err)
	}
	if err := res.Check(StageTransfer); err != nil {
		return err
	}
	progress.Report(transferDone)
	logger.Info().Dur("elapsed", c.clock().Sub(start)).Msg("apk uploaded")
	return nil
}

func (c *Client) bind(ctx context.Context, logger zerolog.Logger, auth Auth, appID string, artifact *channel.Artifact, target UploadTarget) (BindResult, error) {
	logger.Info().Str("stage", string(StageBind)).Str("object_id", target.ObjectID).Msg("binding apk file")
	res, err := c.api.BindFile(ctx, auth, appID, BindFile{FileName: artifact.Name, ObjectID: target.ObjectID})
	if err != nil {
		return BindResult{}, channel.WrapTransport(StageBind, err)
	}
	return res.Unwrap(StageBind)
}

// waitReady polls the compile state right away and then every pollInterval
// until the first package reports success or pollTimeout elapses.
func (c *Client) waitReady(ctx context.Context, logger zerolog.Logger, auth Auth, appID, pkgID string) error {
	logger = logger.With().Str("stage", string(StageWaitReady)).Str("pkg_id", pkgID).Logger()
	logger.Info().Msg("waiting for apk compile")

	start := c.clock()
	lastState := "unknown"
	for attempt := 1; ; attempt++ {
		res, err := c.api.GetCompileState(ctx, auth, appID, pkgID)
		if err != nil {
			return channel.WrapTransport(StageWaitReady, err)
		}
		states, err := res.Unwrap(StageWaitReady)
		if err != nil {
			return err
		}
		if len(states) > 0 {
			state := states[0]
			lastState = state.String()
			if state.Succeeded() {
				logger.Info().Int("attempts", attempt).Dur("elapsed", c.clock().Sub(start)).Msg("apk compile finished")
				return nil
			}
			if state.Failed() {
				return &channel.RemoteStatusError{
					Stage:   StageWaitReady,
					Code:    state.SuccessStatus,
					Message: "package compile failed",
				}
			}
		}
		logger.Debug().Int("attempt", attempt).Str("state", lastState).Msg("apk not ready")

		elapsed := c.clock().Sub(start)
		wait := c.pollInterval
		if remaining := c.pollTimeout - elapsed; remaining < wait {
			wait = remaining
		}
		if wait > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return channel.WrapTransport(StageWaitReady, err)
			}
		}
		if elapsed = c.clock().Sub(start); elapsed >= c.pollTimeout {
			return &channel.TimeoutError{
				Stage:     StageWaitReady,
				Elapsed:   elapsed,
				LastState: lastState,
				Attempts:  attempt,
			}
		}
	}
}

func (c *Client) updateDesc(ctx context.Context, logger zerolog.Logger, auth Auth, appID, desc string) error {
	logger.Info().Str("stage", string(StageUpdateDesc)).Msg("updating release notes")
	res, err := c.api.UpdateVersionDesc(ctx, auth, appID, VersionDesc{Lang: c.lang, NewFeatures: desc})
	if err != nil {
		return channel.WrapTransport(StageUpdateDesc, err)
	}
	return res.Check(StageUpdateDesc)
}

func (c *Client) submit(ctx context.Context, logger zerolog.Logger, auth Auth, appID string) error {
	logger.Info().Str("stage", string(StageSubmit)).Msg("submitting for review")
	res, err := c.api.Submit(ctx, auth, appID)
	if err != nil {
		return channel.WrapTransport(StageSubmit, err)
	}
	if err := res.Check(StageSubmit); err != nil {
		return err
	}
	logger.Info().Msg("submitted for review")
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
