package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(`
endpoint: ws://127.0.0.1:9222/devtools/browser/abc
transport: gorilla
call_timeout: 5s
send_rate: 50
send_burst: 10
log:
  backend: console
  level: debug
nats:
  url: nats://127.0.0.1:4222
`), ".yaml")
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", cfg.Endpoint)
	assert.Equal(t, TransportGorilla, cfg.Transport)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout, "unset keys keep defaults")
	assert.Equal(t, 50.0, cfg.SendRate)
	assert.Equal(t, 10, cfg.SendBurst)
	assert.Equal(t, "console", cfg.LogBackend)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, "cdp.events", cfg.NATSPrefix)
}

func TestParseTOML(t *testing.T) {
	cfg, err := Parse([]byte(`
transport = "pipe"
dial_timeout = "250ms"
max_frame_size = 1048576

[metrics]
namespace = "browser"
`), ".toml")
	require.NoError(t, err)

	assert.Equal(t, TransportPipe, cfg.Transport)
	assert.Equal(t, 250*time.Millisecond, cfg.DialTimeout)
	assert.Equal(t, int64(1<<20), cfg.MaxFrameSize)
	assert.Equal(t, "browser", cfg.MetricsNamespace)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("endpont: x\n"), ".yml")
	assert.Error(t, err)

	_, err = Parse([]byte("endpont = \"x\"\n"), ".toml")
	assert.Error(t, err)
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("call_timeout: soon\n"), ".yaml")
	assert.ErrorContains(t, err, "call_timeout")
}

func TestParseEmptyYAML(t *testing.T) {
	cfg, err := Parse(nil, ".yaml")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseUnknownFormat(t *testing.T) {
	_, err := Parse([]byte("{}"), ".json")
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvEndpoint, " ws://env/devtools ")
	t.Setenv(EnvCallTimeout, "2s")
	t.Setenv(EnvSendBurst, "4")
	t.Setenv(EnvLogLevel, "")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "ws://env/devtools", cfg.Endpoint)
	assert.Equal(t, 2*time.Second, cfg.CallTimeout)
	assert.Equal(t, 4, cfg.SendBurst)
	assert.Equal(t, "info", cfg.LogLevel, "empty variables are ignored")
}

func TestApplyEnvBadNumber(t *testing.T) {
	t.Setenv(EnvMaxFrameSize, "big")
	cfg := Default()
	assert.ErrorContains(t, cfg.ApplyEnv(), EnvMaxFrameSize)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown transport": func(c *Config) { c.Transport = "carrier-pigeon" },
		"missing endpoint":  func(c *Config) { c.Endpoint = "" },
		"negative timeout":  func(c *Config) { c.CallTimeout = -time.Second },
		"zero frame size":   func(c *Config) { c.MaxFrameSize = 0 },
		"negative rate":     func(c *Config) { c.SendRate = -1 },
		"nats without prefix": func(c *Config) {
			c.NATSURL = "nats://x"
			c.NATSPrefix = ""
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	pipe := Default()
	pipe.Transport = TransportPipe
	pipe.Endpoint = ""
	assert.NoError(t, pipe.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdp.toml")
	require.NoError(t, os.WriteFile(path, []byte("call_timeout = \"1s\"\n"), 0o600))
	t.Setenv(EnvTransport, "gorilla")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.CallTimeout)
	assert.Equal(t, TransportGorilla, cfg.Transport)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport: smoke\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown transport")
}

func TestLogger(t *testing.T) {
	assert.NotNil(t, Default().Logger())
}
