package adb

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/httprunner/ApkDispatcher/internal/env"
	adbprovider "github.com/httprunner/ApkDispatcher/internal/providers/adb"
	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

// Kind is the registry key of the device install channel.
const Kind = "adb"

const (
	StageListDevices channel.Stage = "list_devices"
	StagePush        channel.Stage = "push_apk"
	StageInstall     channel.Stage = "install_apk"

	remoteDir          = "/data/local/tmp"
	defaultInstallArgs = "-r"
	defaultParallel    = 4
)

var (
	ParamSerials     = channel.Param{Name: "Serials"}
	ParamInstallArgs = channel.Param{Name: "InstallArgs"}
)

// DeviceProvider is the subset of adb operations the channel uses.
type DeviceProvider interface {
	ListDevicesWithState(ctx context.Context) (map[string]string, error)
	Push(ctx context.Context, serial, localPath, remotePath string) error
	RunShell(serial string, args ...string) (string, error)
}

// Task installs the APK onto attached Android test devices.
type Task struct {
	channelName      string
	fileNameIdentify string
	logger           zerolog.Logger

	serials     []string
	installArgs []string

	newProvider func() (DeviceProvider, error)
}

// NewTask builds an adb install channel task.
func NewTask(channelName, fileNameIdentify string) *Task {
	return &Task{
		channelName:      channelName,
		fileNameIdentify: fileNameIdentify,
		logger:           log.Logger,
		newProvider: func() (DeviceProvider, error) {
			return adbprovider.NewDefault()
		},
	}
}

// WithLogger sets the logger used for stage events.
func (t *Task) WithLogger(logger zerolog.Logger) *Task {
	t.logger = logger
	return t
}

// WithProvider replaces the gadb-backed provider.
func (t *Task) WithProvider(provider DeviceProvider) *Task {
	t.newProvider = func() (DeviceProvider, error) { return provider, nil }
	return t
}

func (t *Task) ChannelName() string      { return t.channelName }
func (t *Task) FileNameIdentify() string { return t.fileNameIdentify }

func (t *Task) ParamDefine() []channel.Param {
	return []channel.Param{ParamSerials, ParamInstallArgs}
}

// Init parses the optional serial allowlist and pm install flags.
func (t *Task) Init(params map[channel.Param]*string) error {
	t.serials = splitList(channel.Lookup(params, ParamSerials), ",")
	args := channel.Lookup(params, ParamInstallArgs)
	if args == "" {
		args = defaultInstallArgs
	}
	t.installArgs = strings.Fields(args)
	for _, arg := range t.installArgs {
		if !isFlag(arg) {
			return &channel.ConfigurationError{
				Channel: t.channelName,
				Param:   ParamInstallArgs.Name,
				Reason:  "only pm install flags are allowed, got " + arg,
			}
		}
	}
	return nil
}

func (t *Task) PerformUpload(ctx context.Context, artifact *channel.Artifact, updateDesc string, progress channel.ProgressFunc) error {
	logger := t.logger.With().Str("channel", t.channelName).Logger()
	provider, err := t.newProvider()
	if err != nil {
		return channel.WrapTransport(StageListDevices, err)
	}
	serials, err := t.targetDevices(ctx, provider)
	if err != nil {
		return err
	}
	logger.Info().Strs("devices", serials).Str("file", artifact.Name).Msg("installing apk on devices")

	p := channel.NewProgress(progress)
	p.Report(0)
	var (
		mu   sync.Mutex
		done = make(map[string]int, len(serials))
	)
	step := func(serial string, phase int) {
		mu.Lock()
		defer mu.Unlock()
		done[serial] = phase
		total := 0
		for _, v := range done {
			total += v
		}
		p.ReportFraction(int64(total), int64(2*len(serials)), 0, 100)
	}

	remotePath := path.Join(remoteDir, remoteName(artifact.Name))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, env.Int("APK_DISPATCHER_ADB_PARALLEL", defaultParallel)))
	for _, serial := range serials {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return channel.WrapTransport(StagePush, err)
			}
			if err := provider.Push(groupCtx, serial, artifact.Path, remotePath); err != nil {
				return channel.WrapTransport(StagePush, errors.Wrapf(err, "device %s", serial))
			}
			step(serial, 1)
			if err := t.install(serial, remotePath, provider); err != nil {
				return err
			}
			step(serial, 2)
			logger.Info().Str("serial", serial).Msg("apk installed")
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	p.Done()
	return nil
}

func (t *Task) install(serial, remotePath string, provider DeviceProvider) error {
	args := append([]string{"pm", "install"}, t.installArgs...)
	args = append(args, remotePath)
	output, err := provider.RunShell(serial, args...)
	// best effort cleanup of the pushed package
	_, _ = provider.RunShell(serial, "rm", "-f", remotePath)
	if err != nil {
		return channel.WrapTransport(StageInstall, errors.Wrapf(err, "device %s", serial))
	}
	output = strings.TrimSpace(output)
	if !strings.Contains(output, "Success") {
		return &channel.RemoteStatusError{
			Stage:   StageInstall,
			Code:    -1,
			Message: serial + ": " + output,
		}
	}
	return nil
}

// targetDevices returns the online devices, narrowed to the configured serials.
func (t *Task) targetDevices(ctx context.Context, provider DeviceProvider) ([]string, error) {
	states, err := provider.ListDevicesWithState(ctx)
	if err != nil {
		return nil, channel.WrapTransport(StageListDevices, err)
	}
	var serials []string
	if len(t.serials) == 0 {
		for serial, state := range states {
			if state == adbprovider.StateOnline {
				serials = append(serials, serial)
			}
		}
	} else {
		for _, serial := range t.serials {
			if states[serial] == adbprovider.StateOnline {
				serials = append(serials, serial)
			}
		}
	}
	if len(serials) == 0 {
		query := strings.Join(t.serials, ",")
		if query == "" {
			query = "any online device"
		}
		return nil, &channel.NotFoundError{Stage: StageListDevices, Query: query}
	}
	sort.Strings(serials)
	return serials, nil
}

// remoteName keeps the pushed file name safe for the device shell, which
// receives the install and cleanup commands as one space-joined line.
func remoteName(name string) string {
	name = strings.Map(func(r rune) rune {
		if shellSafe(r) {
			return r
		}
		return '_'
	}, path.Base(name))
	if strings.Trim(name, "._") == "" {
		return "upload.apk"
	}
	return name
}

func isFlag(arg string) bool {
	if len(arg) < 2 || arg[0] != '-' {
		return false
	}
	for _, r := range arg {
		if !shellSafe(r) || r == '.' {
			return false
		}
	}
	return true
}

func shellSafe(r rune) bool {
	return r < utf8.RuneSelf && (r == '.' || r == '_' || r == '-' ||
		('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9'))
}

func splitList(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
