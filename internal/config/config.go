package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"

	"github.com/HsiangNianian/uiabridge/internal/bridge"
	"github.com/HsiangNianian/uiabridge/internal/host"
	"github.com/HsiangNianian/uiabridge/internal/store"
)

const (
	defaultControllerHost   = "127.0.0.1"
	defaultControllerPort   = 8020
	defaultControllerPath   = "/ws/ext"
	defaultReconnectDelayMs = 100
	defaultConnectTimeout   = 30
	defaultJournalCapacity  = 256
	defaultStatusAddr       = "127.0.0.1:8021"
)

type Config struct {
	Controller ControllerConfig `json:"controller"`
	Browser    BrowserConfig    `json:"browser"`
	Events     EventsConfig     `json:"events"`
	Journal    JournalConfig    `json:"journal"`
	Status     StatusConfig     `json:"status"`
}

type ControllerConfig struct {
	URL              string `json:"url"`
	Host             string `json:"host"`
	Port             int    `json:"port"`
	Path             string `json:"path"`
	ReconnectDelayMs int    `json:"reconnect_delay_ms"`
}

type BrowserConfig struct {
	DebuggerURL           string `json:"debugger_url"`
	Launch                bool   `json:"launch"`
	Headless              bool   `json:"headless"`
	ProtocolVersion       string `json:"protocol_version"`
	DetachOnRemove        *bool  `json:"detach_on_remove"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
}

type EventsConfig struct {
	Extra         []string `json:"extra"`
	DebuggerExtra []string `json:"debugger_extra"`
}

type JournalConfig struct {
	Capacity     int    `json:"capacity"`
	RedisAddr    string `json:"redis_addr"`
	RedisKey     string `json:"redis_key"`
	RedisChannel string `json:"redis_channel"`
}

type StatusConfig struct {
	Enabled    *bool  `json:"enabled"`
	ListenAddr string `json:"listen_addr"`
}

func Default() Config {
	cfg := Config{
		Controller: ControllerConfig{
			URL:              os.Getenv("UIABRIDGE_CONTROLLER_URL"),
			Host:             defaultControllerHost,
			Port:             defaultControllerPort,
			Path:             defaultControllerPath,
			ReconnectDelayMs: defaultReconnectDelayMs,
		},
		Browser: BrowserConfig{
			DebuggerURL:           os.Getenv("UIABRIDGE_DEBUGGER_URL"),
			ProtocolVersion:       host.DefaultProtocolVersion,
			ConnectTimeoutSeconds: defaultConnectTimeout,
		},
		Journal: JournalConfig{
			Capacity:  defaultJournalCapacity,
			RedisAddr: os.Getenv("REDIS_ADDR"),
		},
		Status: StatusConfig{
			ListenAddr: defaultStatusAddr,
		},
	}
	cfg.normalize()
	return cfg
}

// Load reads a JSON config file. Comments and trailing commas are allowed.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config failed: %w", err)
	}

	content, err = hujson.Standardize(content)
	if err != nil {
		return Config{}, fmt.Errorf("parse config failed: %w", err)
	}
	if err := json.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config failed: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvFiles sets variables from dotenv files without overriding the
// environment. It must run before Default or Load.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("load env files failed: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	if c.Controller.Host == "" {
		c.Controller.Host = defaultControllerHost
	}
	if c.Controller.Port <= 0 {
		c.Controller.Port = defaultControllerPort
	}
	if c.Controller.Path == "" {
		c.Controller.Path = defaultControllerPath
	}
	if c.Controller.ReconnectDelayMs <= 0 {
		c.Controller.ReconnectDelayMs = defaultReconnectDelayMs
	}
	if c.Browser.ProtocolVersion == "" {
		c.Browser.ProtocolVersion = host.DefaultProtocolVersion
	}
	if c.Browser.DetachOnRemove == nil {
		c.Browser.DetachOnRemove = boolPtr(true)
	}
	if c.Browser.ConnectTimeoutSeconds <= 0 {
		c.Browser.ConnectTimeoutSeconds = defaultConnectTimeout
	}
	if c.Journal.Capacity <= 0 {
		c.Journal.Capacity = defaultJournalCapacity
	}
	if c.Journal.RedisKey == "" {
		c.Journal.RedisKey = store.DefaultRedisKey
	}
	if c.Journal.RedisChannel == "" {
		c.Journal.RedisChannel = store.DefaultRedisChannel
	}
	if c.Status.Enabled == nil {
		c.Status.Enabled = boolPtr(true)
	}
	if c.Status.ListenAddr == "" {
		c.Status.ListenAddr = defaultStatusAddr
	}
}

func (c Config) Validate() error {
	for _, name := range c.Events.Extra {
		if !host.EventKind(name).Valid() {
			return fmt.Errorf("unknown event %q in events.extra", name)
		}
	}
	if c.StatusEnabled() {
		if _, _, err := net.SplitHostPort(c.Status.ListenAddr); err != nil {
			return fmt.Errorf("invalid status.listen_addr %q: %w", c.Status.ListenAddr, err)
		}
	}
	return nil
}

// ControllerURL is controller.url when set, else built from host, port and path.
func (c Config) ControllerURL() string {
	if c.Controller.URL != "" {
		return c.Controller.URL
	}
	return "ws://" + net.JoinHostPort(c.Controller.Host, strconv.Itoa(c.Controller.Port)) + c.Controller.Path
}

func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Controller.ReconnectDelayMs) * time.Millisecond
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Browser.ConnectTimeoutSeconds) * time.Second
}

func (c Config) StatusEnabled() bool {
	return c.Status.Enabled == nil || *c.Status.Enabled
}

// EventKinds are the default notifications plus events.extra, without duplicates.
func (c Config) EventKinds() []host.EventKind {
	kinds := append([]host.EventKind(nil), host.DefaultEventKinds...)
	for _, name := range c.Events.Extra {
		kind := host.EventKind(name)
		if !contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func (c Config) DebugOptions() bridge.DebugOptions {
	events := append([]string(nil), bridge.DefaultDebugEvents...)
	for _, method := range c.Events.DebuggerExtra {
		if !contains(events, method) {
			events = append(events, method)
		}
	}
	return bridge.DebugOptions{
		ProtocolVersion: c.Browser.ProtocolVersion,
		Events:          events,
		DetachOnRemove:  c.Browser.DetachOnRemove == nil || *c.Browser.DetachOnRemove,
	}
}

func contains[T comparable](items []T, v T) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}

func boolPtr(v bool) *bool {
	return &v
}
