// Package config loads client settings from a YAML or TOML file with
// CDP_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/risa-org/cdp/logging"
	"github.com/risa-org/cdp/transport"
)

// Transport kinds.
const (
	TransportWebSocket = "websocket"
	TransportGorilla   = "gorilla"
	TransportPipe      = "pipe"
)

// Environment variables read by ApplyEnv.
const (
	EnvEndpoint         = "CDP_ENDPOINT"
	EnvTransport        = "CDP_TRANSPORT"
	EnvCallTimeout      = "CDP_CALL_TIMEOUT"
	EnvDialTimeout      = "CDP_DIAL_TIMEOUT"
	EnvMaxFrameSize     = "CDP_MAX_FRAME_SIZE"
	EnvSendRate         = "CDP_SEND_RATE"
	EnvSendBurst        = "CDP_SEND_BURST"
	EnvLogBackend       = "CDP_LOG_BACKEND"
	EnvLogLevel         = "CDP_LOG_LEVEL"
	EnvMetricsNamespace = "CDP_METRICS_NAMESPACE"
	EnvNATSURL          = "CDP_NATS_URL"
	EnvNATSPrefix       = "CDP_NATS_PREFIX"
)

// Config is the full client configuration.
type Config struct {
	// Endpoint is a ws:// debugger URL, or an http:// address whose
	// /json/version is queried for one. Unused by the pipe transport.
	Endpoint  string
	Transport string

	CallTimeout  time.Duration // zero means calls wait for an answer
	DialTimeout  time.Duration
	MaxFrameSize int64

	SendRate  float64 // frames per second; zero disables throttling
	SendBurst int

	LogBackend string
	LogLevel   string

	MetricsNamespace string

	NATSURL    string // empty disables the event bridge
	NATSPrefix string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Endpoint:         "http://127.0.0.1:9222",
		Transport:        TransportWebSocket,
		DialTimeout:      10 * time.Second,
		MaxFrameSize:     transport.DefaultMaxFrameSize,
		LogBackend:       logging.BackendNone,
		LogLevel:         "info",
		MetricsNamespace: "cdp",
		NATSPrefix:       "cdp.events",
	}
}

// fileConfig mirrors the on-disk layout. Pointers tell unset keys apart
// from zero values.
type fileConfig struct {
	Endpoint     *string  `yaml:"endpoint" toml:"endpoint"`
	Transport    *string  `yaml:"transport" toml:"transport"`
	CallTimeout  *string  `yaml:"call_timeout" toml:"call_timeout"`
	DialTimeout  *string  `yaml:"dial_timeout" toml:"dial_timeout"`
	MaxFrameSize *int64   `yaml:"max_frame_size" toml:"max_frame_size"`
	SendRate     *float64 `yaml:"send_rate" toml:"send_rate"`
	SendBurst    *int     `yaml:"send_burst" toml:"send_burst"`

	Log struct {
		Backend *string `yaml:"backend" toml:"backend"`
		Level   *string `yaml:"level" toml:"level"`
	} `yaml:"log" toml:"log"`

	Metrics struct {
		Namespace *string `yaml:"namespace" toml:"namespace"`
	} `yaml:"metrics" toml:"metrics"`

	NATS struct {
		URL    *string `yaml:"url" toml:"url"`
		Prefix *string `yaml:"prefix" toml:"prefix"`
	} `yaml:"nats" toml:"nats"`
}

// Load reads path on top of Default, applies environment overrides and
// validates the result. The format follows the extension: .yaml, .yml
// or .toml.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes data in the format named by ext on top of Default.
func Parse(data []byte, ext string) (Config, error) {
	var raw fileConfig
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("decode yaml: %w", err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), &raw)
		if err != nil {
			return Config{}, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("decode toml: unknown key %q", undecoded[0].String())
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg := Default()
	if err := cfg.merge(raw); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) merge(raw fileConfig) error {
	setString(&c.Endpoint, raw.Endpoint)
	setString(&c.Transport, raw.Transport)
	if err := setDuration(&c.CallTimeout, raw.CallTimeout, "call_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.DialTimeout, raw.DialTimeout, "dial_timeout"); err != nil {
		return err
	}
	if raw.MaxFrameSize != nil {
		c.MaxFrameSize = *raw.MaxFrameSize
	}
	if raw.SendRate != nil {
		c.SendRate = *raw.SendRate
	}
	if raw.SendBurst != nil {
		c.SendBurst = *raw.SendBurst
	}
	setString(&c.LogBackend, raw.Log.Backend)
	setString(&c.LogLevel, raw.Log.Level)
	setString(&c.MetricsNamespace, raw.Metrics.Namespace)
	setString(&c.NATSURL, raw.NATS.URL)
	setString(&c.NATSPrefix, raw.NATS.Prefix)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*v))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

// ApplyEnv overrides fields from CDP_* environment variables. Empty
// variables are ignored.
func (c *Config) ApplyEnv() error {
	if v, ok := lookup(EnvEndpoint); ok {
		c.Endpoint = v
	}
	if v, ok := lookup(EnvTransport); ok {
		c.Transport = v
	}
	if v, ok := lookup(EnvCallTimeout); ok {
		if err := setDuration(&c.CallTimeout, &v, EnvCallTimeout); err != nil {
			return err
		}
	}
	if v, ok := lookup(EnvDialTimeout); ok {
		if err := setDuration(&c.DialTimeout, &v, EnvDialTimeout); err != nil {
			return err
		}
	}
	if v, ok := lookup(EnvMaxFrameSize); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvMaxFrameSize, err)
		}
		c.MaxFrameSize = n
	}
	if v, ok := lookup(EnvSendRate); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvSendRate, err)
		}
		c.SendRate = f
	}
	if v, ok := lookup(EnvSendBurst); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvSendBurst, err)
		}
		c.SendBurst = n
	}
	if v, ok := lookup(EnvLogBackend); ok {
		c.LogBackend = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvMetricsNamespace); ok {
		c.MetricsNamespace = v
	}
	if v, ok := lookup(EnvNATSURL); ok {
		c.NATSURL = v
	}
	if v, ok := lookup(EnvNATSPrefix); ok {
		c.NATSPrefix = v
	}
	return nil
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWebSocket, TransportGorilla:
		if c.Endpoint == "" {
			return errors.New("config: endpoint is required for " + c.Transport)
		}
	case TransportPipe:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("config: call_timeout %s is negative", c.CallTimeout)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("config: dial_timeout %s is negative", c.DialTimeout)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("config: max_frame_size must be positive, got %d", c.MaxFrameSize)
	}
	if c.SendRate < 0 || c.SendBurst < 0 {
		return errors.New("config: send_rate and send_burst cannot be negative")
	}
	if c.NATSURL != "" && c.NATSPrefix == "" {
		return errors.New("config: nats prefix is required when nats url is set")
	}
	return nil
}

// Logger builds the logger described by the log settings.
func (c Config) Logger() logging.Logger {
	return logging.New(logging.Config{
		Backend:   c.LogBackend,
		Level:     c.LogLevel,
		Timestamp: true,
	})
}
