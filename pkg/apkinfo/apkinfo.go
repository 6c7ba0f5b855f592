package apkinfo

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shogo82148/androidbinary/apk"
	"github.com/zeebo/blake3"

	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

// Info is the manifest metadata relevant to publishing.
type Info struct {
	ApplicationID string
	VersionName   string
	VersionCode   int64
}

// Extractor reads manifest metadata from a package file.
type Extractor interface {
	Extract(path string) (Info, error)
}

// ManifestExtractor parses AndroidManifest.xml out of the APK.
type ManifestExtractor struct{}

func (ManifestExtractor) Extract(path string) (Info, error) {
	pkg, err := apk.OpenFile(path)
	if err != nil {
		return Info{}, errors.Wrapf(err, "open apk %s", path)
	}
	defer pkg.Close()

	info := Info{ApplicationID: strings.TrimSpace(pkg.PackageName())}
	if info.ApplicationID == "" {
		return Info{}, errors.Errorf("apk %s has no package name", path)
	}
	manifest := pkg.Manifest()
	if name, err := manifest.VersionName.String(); err == nil {
		info.VersionName = strings.TrimSpace(name)
	}
	if code, err := manifest.VersionCode.Int32(); err == nil {
		info.VersionCode = int64(code)
	}
	return info, nil
}

// Digest returns the hex BLAKE3 sum of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open artifact")
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrap(err, "hash artifact")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Open builds the Artifact for path. Extractor errors are returned unchanged.
func Open(path string, extractor Extractor) (*channel.Artifact, error) {
	if extractor == nil {
		extractor = ManifestExtractor{}
	}
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "stat artifact")
	}
	if stat.IsDir() {
		return nil, errors.Errorf("artifact %s is a directory", path)
	}
	info, err := extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	digest, err := Digest(path)
	if err != nil {
		return nil, err
	}
	return &channel.Artifact{
		Path:          path,
		Name:          filepath.Base(path),
		Size:          stat.Size(),
		Digest:        digest,
		ApplicationID: info.ApplicationID,
		VersionName:   info.VersionName,
		VersionCode:   info.VersionCode,
	}, nil
}
