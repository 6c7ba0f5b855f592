package env

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	envFileKey   = "APK_DISPATCHER_ENV_FILE"
	userEnvDir   = ".apkdispatcher"
	dotEnvName   = ".env"
	testOptInKey = "GOTEST_LOAD_DOTENV"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads dispatcher credentials from a dotenv file once per process.
// Lookup order: APK_DISPATCHER_ENV_FILE, the nearest .env walking up from the
// working directory, then ~/.apkdispatcher/.env. Process variables win.
func Ensure() error {
	// unit tests stay hermetic unless GOTEST_LOAD_DOTENV=1
	if runningUnderGoTest() && os.Getenv(testOptInKey) != "1" {
		return nil
	}
	loadOnce.Do(func() {
		wd, _ := os.Getwd()
		home, _ := os.UserHomeDir()
		loadedPath, loadErr = loadFirst(os.Getenv(envFileKey), wd, home)
	})
	return loadErr
}

// LoadedPath returns the dotenv file Ensure loaded, or "".
func LoadedPath() string {
	return loadedPath
}

func loadFirst(explicit, wd, home string) (string, error) {
	path, err := resolveDotEnv(explicit, wd, home)
	if err != nil {
		log.Debug().Err(err).Msg("env: locate dotenv failed")
		return "", err
	}
	if path == "" {
		return "", nil
	}
	if err := godotenv.Load(path); err != nil {
		log.Warn().Err(err).Str("dotenv", path).Msg("env: load dotenv failed")
		return "", err
	}
	log.Debug().Str("dotenv", path).Msg("env: dotenv loaded")
	return path, nil
}

// resolveDotEnv returns "" when no candidate exists. An explicit path must exist.
func resolveDotEnv(explicit, wd, home string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}
	if wd != "" {
		for dir := wd; ; {
			found, err := isFile(filepath.Join(dir, dotEnvName))
			if err != nil {
				return "", err
			}
			if found {
				return filepath.Join(dir, dotEnvName), nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if home != "" {
		candidate := filepath.Join(home, userEnvDir, dotEnvName)
		found, err := isFile(candidate)
		if err != nil || !found {
			return "", err
		}
		return candidate, nil
	}
	return "", nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return !info.IsDir(), nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}
