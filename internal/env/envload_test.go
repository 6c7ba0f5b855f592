package env

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestResolveDotEnvOrder(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "home")
	project := filepath.Join(root, "project")
	nested := filepath.Join(project, "app", "build")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if got, err := resolveDotEnv("", nested, home); err != nil || got != "" {
		t.Fatalf("expected no dotenv, got %q err=%v", got, err)
	}

	userFile := filepath.Join(home, userEnvDir, dotEnvName)
	writeFile(t, userFile, "A=1\n")
	if got, _ := resolveDotEnv("", nested, home); got != userFile {
		t.Fatalf("expected user dotenv, got %q", got)
	}

	projectFile := filepath.Join(project, dotEnvName)
	writeFile(t, projectFile, "A=2\n")
	if got, _ := resolveDotEnv("", nested, home); got != projectFile {
		t.Fatalf("expected nearest dotenv, got %q", got)
	}

	explicit := filepath.Join(root, "ci.env")
	writeFile(t, explicit, "A=3\n")
	if got, _ := resolveDotEnv(explicit, nested, home); got != explicit {
		t.Fatalf("expected explicit dotenv, got %q", got)
	}
	if _, err := resolveDotEnv(filepath.Join(root, "missing.env"), nested, home); err == nil {
		t.Fatalf("expected error for missing explicit file")
	}
}

func TestLoadFirstKeepsProcessValues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, dotEnvName), "APKD_ENV_FROM_FILE=file\nAPKD_ENV_PRESET=file\n")
	t.Setenv("APKD_ENV_PRESET", "process")
	os.Unsetenv("APKD_ENV_FROM_FILE")
	t.Cleanup(func() { os.Unsetenv("APKD_ENV_FROM_FILE") })

	path, err := loadFirst("", dir, "")
	if err != nil || path != filepath.Join(dir, dotEnvName) {
		t.Fatalf("unexpected load result %q err=%v", path, err)
	}
	if got := os.Getenv("APKD_ENV_FROM_FILE"); got != "file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("APKD_ENV_PRESET"); got != "process" {
		t.Fatalf("process value must win, got %q", got)
	}
}
