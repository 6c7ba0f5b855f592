package feishu

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/httprunner/ApkDispatcher/internal/feishusdk"
	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

type stubUploader struct {
	got      feishusdk.DriveFile
	content  string
	blocks   []int64
	err      error
	cfgSeen  feishusdk.Config
	uploaded bool
}

func (s *stubUploader) UploadFile(ctx context.Context, f feishusdk.DriveFile, onSent func(int64)) (string, error) {
	s.got = f
	raw, _ := io.ReadAll(f.Content)
	s.content = string(raw)
	if s.err != nil {
		return "", s.err
	}
	for _, n := range s.blocks {
		onSent(n)
	}
	s.uploaded = true
	return "box1", nil
}

func newTask(t *testing.T, stub *stubUploader) *Task {
	t.Helper()
	task := NewTask("lark-drive", "fs")
	task.logger = zerolog.Nop()
	task.newUploader = func(cfg feishusdk.Config) (driveUploader, error) {
		stub.cfgSeen = cfg
		return stub, nil
	}
	id, secret, folder := "cli_a", "sec", "fld"
	if err := task.Init(map[channel.Param]*string{
		ParamAppID:       &id,
		ParamAppSecret:   &secret,
		ParamFolderToken: &folder,
	}); err != nil {
		t.Fatalf("init: %v", err)
	}
	return task
}

func writeArtifact(t *testing.T, body string) *channel.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.apk")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return &channel.Artifact{
		Path:          path,
		Name:          "app.apk",
		Size:          int64(len(body)),
		ApplicationID: "com.example.app",
		VersionName:   "1.2.0",
	}
}

func TestUploadRenamesAndReportsBlocks(t *testing.T) {
	stub := &stubUploader{blocks: []int64{4, 8, 10}}
	task := newTask(t, stub)

	var seen []int
	err := task.PerformUpload(context.Background(), writeArtifact(t, "0123456789"), "", func(p int) {
		seen = append(seen, p)
	})
	if err != nil {
		t.Fatalf("perform upload: %v", err)
	}
	if stub.got.FileName != "com.example.app_1.2.0_fs.apk" || stub.got.FolderToken != "fld" {
		t.Fatalf("unexpected drive file %+v", stub.got)
	}
	if stub.content != "0123456789" || stub.cfgSeen.AppID != "cli_a" {
		t.Fatalf("unexpected upload content=%q cfg=%+v", stub.content, stub.cfgSeen)
	}
	want := []int{0, 39, 79, 99, 100}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestUploadAPIErrorMapsToRemoteStatus(t *testing.T) {
	stub := &stubUploader{err: &feishusdk.APIError{Op: "upload_part", Code: 1062008, Msg: "checksum mismatch"}}
	task := newTask(t, stub)
	err := task.PerformUpload(context.Background(), writeArtifact(t, "abc"), "", nil)
	var statusErr *channel.RemoteStatusError
	if !errors.As(err, &statusErr) || statusErr.Code != 1062008 || statusErr.Stage != StageUpload {
		t.Fatalf("expected RemoteStatusError, got %v", err)
	}
}

func TestUploadNetworkErrorIsTransport(t *testing.T) {
	stub := &stubUploader{err: errors.New("connection reset")}
	task := newTask(t, stub)
	err := task.PerformUpload(context.Background(), writeArtifact(t, "abc"), "", nil)
	var transportErr *channel.TransportError
	if !errors.As(err, &transportErr) || transportErr.Stage != StageUpload {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestInitRequiresFolderToken(t *testing.T) {
	task := NewTask("lark-drive", "fs")
	id, secret := "a", "b"
	err := task.Init(map[channel.Param]*string{ParamAppID: &id, ParamAppSecret: &secret})
	var cfgErr *channel.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Param != "FolderToken" {
		t.Fatalf("expected FolderToken configuration error, got %v", err)
	}
}

func TestInitBuildsClientUpFront(t *testing.T) {
	id, secret, folder := "cli_a", "sec", "fld"
	params := map[channel.Param]*string{
		ParamAppID:       &id,
		ParamAppSecret:   &secret,
		ParamFolderToken: &folder,
	}

	task := NewTask("lark-drive", "fs")
	task.newUploader = func(cfg feishusdk.Config) (driveUploader, error) {
		return nil, errors.New("feishu: app id and app secret are required")
	}
	var cfgErr *channel.ConfigurationError
	if err := task.Init(params); !errors.As(err, &cfgErr) || cfgErr.Param != "AppId" {
		t.Fatalf("expected AppId configuration error from Init, got %v", err)
	}

	badURL := "ftp://open.feishu.cn"
	params[ParamBaseURL] = &badURL
	built := false
	task = NewTask("lark-drive", "fs")
	task.newUploader = func(cfg feishusdk.Config) (driveUploader, error) {
		built = true
		return &stubUploader{}, nil
	}
	if err := task.Init(params); !errors.As(err, &cfgErr) || cfgErr.Param != "BaseURL" || built {
		t.Fatalf("expected BaseURL configuration error before building the client, got %v built=%v", err, built)
	}

	if err := NewTask("lark-drive", "fs").PerformUpload(context.Background(), writeArtifact(t, "abc"), "", nil); !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error without Init, got %v", err)
	}
}
