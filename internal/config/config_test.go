package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

const sampleConfig = `
[channel.hw-prod]
kind = "huawei"
identify = "hw"

[channel.hw-prod.params]
ClientId = " cid "
ClientSecret = "from-file"

[channel.mock]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatcher.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAndLookup(t *testing.T) {
	t.Setenv("HW_PROD_CLIENT_SECRET", "from-env")
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	hw := cfg.Channel("hw-prod")
	if hw.Kind != "huawei" || hw.Identify != "hw" {
		t.Fatalf("unexpected channel %+v", hw)
	}
	if got := cfg.Lookup("hw-prod", channel.Param{Name: "ClientId"}); got == nil || *got != "cid" {
		t.Fatalf("unexpected ClientId %v", got)
	}
	if got := cfg.Lookup("hw-prod", channel.Param{Name: "ClientSecret"}); got == nil || *got != "from-env" {
		t.Fatalf("expected env override, got %v", got)
	}
	if got := cfg.Lookup("hw-prod", channel.Param{Name: "BaseURL"}); got != nil {
		t.Fatalf("expected absent BaseURL, got %q", *got)
	}
	if names := cfg.Names(); len(names) != 2 || names[0] != "hw-prod" || names[1] != "mock" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestChannelDefaultsToKindOfSameName(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cc := cfg.Channel("huawei")
	if cc.Kind != "huawei" || cc.Identify != "huawei" {
		t.Fatalf("unexpected default channel %+v", cc)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	if _, err := Load(writeConfig(t, "[channel.x]\nkidn = \"huawei\"\n")); err == nil {
		t.Fatalf("expected strict decode error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestEnvKey(t *testing.T) {
	cases := map[[2]string]string{
		{"huawei", "ClientId"}:  "HUAWEI_CLIENT_ID",
		{"hw-prod", "BaseURL"}:  "HW_PROD_BASE_URL",
		{"feishu", "AppSecret"}: "FEISHU_APP_SECRET",
		{"adb", "InstallArgs"}:  "ADB_INSTALL_ARGS",
		{"mock2", "AppKey"}:     "MOCK2_APP_KEY",
		{"qa", "FolderToken"}:   "QA_FOLDER_TOKEN",
	}
	for in, want := range cases {
		if got := EnvKey(in[0], in[1]); got != want {
			t.Fatalf("EnvKey(%s, %s) = %s, want %s", in[0], in[1], got, want)
		}
	}
}
