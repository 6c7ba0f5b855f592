package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/httprunner/ApkDispatcher/internal/env"
	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

const envConfigPath = "APK_DISPATCHER_CONFIG"

// ChannelConfig is one `[channel.<name>]` table.
type ChannelConfig struct {
	Kind     string            `toml:"kind"`
	Identify string            `toml:"identify"`
	Params   map[string]string `toml:"params"`
}

// Config holds the per-channel settings of dispatcher.toml.
//
//	[channel.hw-prod]
//	kind = "huawei"
//	identify = "hw"
//	[channel.hw-prod.params]
//	ClientId = "..."
//
// Any param can be overridden by the environment variable
// `<CHANNEL>_<PARAM>` in upper snake case, e.g. HW_PROD_CLIENT_ID.
type Config struct {
	Channels map[string]ChannelConfig `toml:"channel"`

	path string
}

// Load reads path, falling back to APK_DISPATCHER_CONFIG. An empty path yields
// an empty config so channels can be configured from the environment alone.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = env.String(envConfigPath, "")
	}
	cfg := &Config{Channels: map[string]ChannelConfig{}}
	if path == "" {
		return cfg, nil
	}
	expanded, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(expanded)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", expanded)
	}
	if cfg.Channels == nil {
		cfg.Channels = map[string]ChannelConfig{}
	}
	cfg.path = expanded
	return cfg, nil
}

// Path returns the file the config was read from, or "".
func (c *Config) Path() string {
	return c.path
}

// Channel returns the settings for name. Unknown names default to a channel
// of the same kind, so `--channel huawei` works with environment params only.
func (c *Config) Channel(name string) ChannelConfig {
	cc, ok := c.Channels[name]
	if !ok {
		cc = ChannelConfig{}
	}
	if strings.TrimSpace(cc.Kind) == "" {
		cc.Kind = name
	}
	if strings.TrimSpace(cc.Identify) == "" {
		cc.Identify = name
	}
	return cc
}

// Names lists configured channels in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Channels))
	for name := range c.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a channel param: environment first, then the file. A nil
// result means the param is absent.
func (c *Config) Lookup(channelName string, p channel.Param) *string {
	if val, ok := env.Lookup(EnvKey(channelName, p.Name)); ok {
		return &val
	}
	if cc, ok := c.Channels[channelName]; ok {
		if val, ok := cc.Params[p.Name]; ok {
			val = strings.TrimSpace(val)
			return &val
		}
	}
	return nil
}

// EnvKey builds the override variable name for a channel param.
func EnvKey(channelName, param string) string {
	return upperSnake(channelName) + "_" + upperSnake(param)
}

func upperSnake(s string) string {
	runes := []rune(strings.TrimSpace(s))
	var b strings.Builder
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			b.WriteByte('_')
			continue
		}
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "resolve home")
		}
		p = filepath.Join(home, p[2:])
	}
	return filepath.Abs(p)
}
