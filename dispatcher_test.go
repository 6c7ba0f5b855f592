package dispatcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/httprunner/ApkDispatcher/internal/config"
	"github.com/httprunner/ApkDispatcher/pkg/apkinfo"
	"github.com/httprunner/ApkDispatcher/pkg/channel"
	"github.com/httprunner/ApkDispatcher/pkg/notify"
	"github.com/httprunner/ApkDispatcher/pkg/storage"
)

type fakeExtractor struct{ err error }

func (f fakeExtractor) Extract(string) (apkinfo.Info, error) {
	return apkinfo.Info{ApplicationID: "com.example.app", VersionName: "3.1.0", VersionCode: 310}, f.err
}

type fakeTask struct {
	name, identify string
	required       bool
	uploadErr      error

	initParams map[channel.Param]*string
	uploaded   *channel.Artifact
	desc       string
}

var paramToken = channel.Param{Name: "Token"}

func (f *fakeTask) ChannelName() string          { return f.name }
func (f *fakeTask) FileNameIdentify() string     { return f.identify }
func (f *fakeTask) ParamDefine() []channel.Param { return []channel.Param{paramToken} }

func (f *fakeTask) Init(params map[channel.Param]*string) error {
	f.initParams = params
	if f.required {
		_, err := channel.Require(f.name, params, paramToken)
		return err
	}
	return nil
}

func (f *fakeTask) PerformUpload(ctx context.Context, artifact *channel.Artifact, desc string, progress channel.ProgressFunc) error {
	f.uploaded, f.desc = artifact, desc
	if f.uploadErr != nil {
		return f.uploadErr
	}
	progress(50)
	progress(100)
	return nil
}

type fakeSource struct {
	channels map[string]config.ChannelConfig
	values   map[string]string
}

func (s fakeSource) Channel(name string) config.ChannelConfig {
	cc := s.channels[name]
	if cc.Kind == "" {
		cc.Kind = name
	}
	if cc.Identify == "" {
		cc.Identify = name
	}
	return cc
}

func (s fakeSource) Lookup(channelName string, p channel.Param) *string {
	if v, ok := s.values[channelName+"."+p.Name]; ok {
		return &v
	}
	return nil
}

type memRecords struct{ records []storage.Record }

func (m *memRecords) Write(ctx context.Context, r storage.Record) error {
	m.records = append(m.records, r)
	return nil
}

type memNotifier struct{ events []notify.Event }

func (m *memNotifier) Notify(ctx context.Context, e notify.Event) error {
	m.events = append(m.events, e)
	return nil
}

type harness struct {
	dispatcher *Dispatcher
	tasks      map[string]*fakeTask
	records    *memRecords
	notifier   *memNotifier
	progress   map[string][]int
	artifact   string
}

func newHarness(t *testing.T, source fakeSource, tasks map[string]*fakeTask) *harness {
	t.Helper()
	dir := t.TempDir()
	artifact := filepath.Join(dir, "app-release.apk")
	if err := os.WriteFile(artifact, []byte("apk-bytes"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	h := &harness{
		tasks:    tasks,
		records:  &memRecords{},
		notifier: &memNotifier{},
		progress: map[string][]int{},
		artifact: artifact,
	}
	registry := NewRegistry()
	for kind, task := range tasks {
		task := task
		registry.Register(kind, func(name, identify string, _ zerolog.Logger) channel.Task {
			task.name, task.identify = name, identify
			return task
		})
	}
	logger := zerolog.Nop()
	h.dispatcher = New(Options{
		Registry:  registry,
		Channels:  source,
		Extractor: fakeExtractor{},
		Records:   h.records,
		Notifier:  h.notifier,
		Progress: func(name string) channel.ProgressFunc {
			return func(p int) { h.progress[name] = append(h.progress[name], p) }
		},
		LockPath: filepath.Join(dir, "run.lock"),
		Logger:   &logger,
	})
	return h
}

func TestRunUploadsEveryChannelInOrder(t *testing.T) {
	source := fakeSource{
		channels: map[string]config.ChannelConfig{"hw-prod": {Kind: "huawei", Identify: "hw"}},
		values:   map[string]string{"hw-prod.Token": "secret"},
	}
	h := newHarness(t, source, map[string]*fakeTask{
		"huawei": {required: true},
		"mock":   {},
	})

	results, err := h.dispatcher.Run(context.Background(), Request{
		ArtifactPath: h.artifact,
		UpdateDesc:   "bug fixes",
		Channels:     []string{"hw-prod", " mock ", ""},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 2 || results[0].Channel != "hw-prod" || results[1].Channel != "mock" {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].FileName != "com.example.app_3.1.0_hw.apk" || results[0].Kind != "huawei" {
		t.Fatalf("unexpected first result %+v", results[0])
	}
	hw := h.tasks["huawei"]
	if got := hw.initParams[paramToken]; got == nil || *got != "secret" {
		t.Fatalf("param not resolved: %v", got)
	}
	if hw.uploaded.ApplicationID != "com.example.app" || hw.uploaded.Digest == "" || hw.desc != "bug fixes" {
		t.Fatalf("unexpected upload call %+v desc=%q", hw.uploaded, hw.desc)
	}
	if p := h.progress["hw-prod"]; len(p) != 2 || p[1] != 100 {
		t.Fatalf("unexpected progress %v", p)
	}
	if len(h.records.records) != 2 || h.records.records[0].RunID == "" ||
		h.records.records[0].RunID != h.records.records[1].RunID || h.records.records[1].Status != storage.StatusSuccess {
		t.Fatalf("unexpected records %+v", h.records.records)
	}
	if len(h.notifier.events) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(h.notifier.events))
	}
}

func TestRunContinuesAfterFailingChannel(t *testing.T) {
	uploadErr := &channel.RemoteStatusError{Stage: "submit", Code: 204144660, Message: "rejected"}
	h := newHarness(t, fakeSource{}, map[string]*fakeTask{
		"huawei": {uploadErr: uploadErr},
		"mock":   {},
	})
	results, err := h.dispatcher.Run(context.Background(), Request{
		ArtifactPath: h.artifact,
		Channels:     []string{"huawei", "mock"},
	})
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
	var statusErr *channel.RemoteStatusError
	if !errors.As(results[0].Err, &statusErr) || results[1].Err != nil {
		t.Fatalf("unexpected results %+v", results)
	}
	if h.tasks["mock"].uploaded == nil {
		t.Fatalf("mock channel should still run")
	}
	rec := h.records.records[0]
	if rec.Status != storage.StatusFailed || rec.Stage != "submit" || rec.Error == "" {
		t.Fatalf("unexpected failure record %+v", rec)
	}
}

func TestRunReportsConfigurationAndUnknownKind(t *testing.T) {
	h := newHarness(t, fakeSource{}, map[string]*fakeTask{"huawei": {required: true}})
	results, err := h.dispatcher.Run(context.Background(), Request{
		ArtifactPath: h.artifact,
		Channels:     []string{"huawei", "xiaomi"},
	})
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
	var cfgErr *channel.ConfigurationError
	if !errors.As(results[0].Err, &cfgErr) || cfgErr.Param != "Token" {
		t.Fatalf("expected configuration error, got %v", results[0].Err)
	}
	if h.tasks["huawei"].uploaded != nil {
		t.Fatalf("upload must not run after failed init")
	}
	if !errors.Is(results[1].Err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", results[1].Err)
	}
	if h.records.records[0].Stage != string(StageInit) {
		t.Fatalf("expected init stage, got %q", h.records.records[0].Stage)
	}
}

func TestRunReturnsExtractorErrorUnchanged(t *testing.T) {
	h := newHarness(t, fakeSource{}, map[string]*fakeTask{"mock": {}})
	sentinel := errors.New("bad manifest")
	h.dispatcher.extractor = fakeExtractor{err: sentinel}
	results, err := h.dispatcher.Run(context.Background(), Request{ArtifactPath: h.artifact, Channels: []string{"mock"}})
	if err != sentinel || results != nil {
		t.Fatalf("expected extractor error unchanged, got %v", err)
	}
	if h.tasks["mock"].uploaded != nil {
		t.Fatalf("no channel should run")
	}
}

func TestRunRejectsConcurrentDispatch(t *testing.T) {
	h := newHarness(t, fakeSource{}, map[string]*fakeTask{"mock": {}})
	lock, err := acquireRunLock(h.dispatcher.lockPath)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer lock.Unlock()

	_, err = h.dispatcher.Run(context.Background(), Request{ArtifactPath: h.artifact, Channels: []string{"mock"}})
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRunRejectsDuplicateAndEmptyChannels(t *testing.T) {
	h := newHarness(t, fakeSource{}, map[string]*fakeTask{"mock": {}})
	if _, err := h.dispatcher.Run(context.Background(), Request{ArtifactPath: h.artifact, Channels: []string{"mock", "mock"}}); err == nil {
		t.Fatalf("expected duplicate channel error")
	}
	if _, err := h.dispatcher.Run(context.Background(), Request{ArtifactPath: h.artifact}); err == nil {
		t.Fatalf("expected empty channel error")
	}
}

func TestDefaultRegistryKinds(t *testing.T) {
	kinds := DefaultRegistry().Kinds()
	want := []string{"adb", "feishu", "huawei", "mock"}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected kinds %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("unexpected kinds %v", kinds)
		}
	}
	task, err := DefaultRegistry().New("HUAWEI", "hw-prod", "hw", zerolog.Nop())
	if err != nil || task.ChannelName() != "hw-prod" || task.FileNameIdentify() != "hw" {
		t.Fatalf("unexpected task %v err=%v", task, err)
	}
}
