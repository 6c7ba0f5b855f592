package dispatcher

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/httprunner/ApkDispatcher/internal/env"
)

// ErrAlreadyRunning is returned when another dispatch holds the run lock.
var ErrAlreadyRunning = errors.New("another dispatch is already running")

func defaultLockPath() string {
	return env.String("APK_DISPATCHER_LOCK_PATH", filepath.Join(os.TempDir(), "apkdispatcher.lock"))
}

// acquireRunLock takes the process-wide file lock so two dispatches never
// publish concurrently from the same host.
func acquireRunLock(path string) (*flock.Flock, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create lock dir %s", dir)
		}
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "acquire lock %s", path)
	}
	if !ok {
		return nil, errors.Wrapf(ErrAlreadyRunning, "lock %s", path)
	}
	return lock, nil
}
