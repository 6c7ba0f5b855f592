package apkinfo

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/blake3"
)

type fakeExtractor struct {
	info Info
	err  error
}

func (f fakeExtractor) Extract(path string) (Info, error) {
	return f.info, f.err
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app-release.apk")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestOpenBuildsArtifact(t *testing.T) {
	path := writeFile(t, "payload")
	artifact, err := Open(path, fakeExtractor{info: Info{
		ApplicationID: "com.example.app",
		VersionName:   "2.0.1",
		VersionCode:   201,
	}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sum := blake3.Sum256([]byte("payload"))
	if artifact.Digest != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected digest %s", artifact.Digest)
	}
	if artifact.Name != "app-release.apk" || artifact.Size != 7 || artifact.VersionCode != 201 {
		t.Fatalf("unexpected artifact %+v", artifact)
	}
}

func TestOpenPropagatesExtractorError(t *testing.T) {
	sentinel := errors.New("corrupt manifest")
	_, err := Open(writeFile(t, "x"), fakeExtractor{err: sentinel})
	if err != sentinel {
		t.Fatalf("expected extractor error unchanged, got %v", err)
	}
}

func TestManifestExtractorRejectsNonAPK(t *testing.T) {
	if _, err := (ManifestExtractor{}).Extract(writeFile(t, "not a zip")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.apk"), fakeExtractor{}); err == nil {
		t.Fatalf("expected stat error")
	}
}
