// internal/config/config.go
//
// This package handles configuration and the .arcade directory structure.
// Every project that runs the arcade client gets a .arcade/ folder created in
// its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// ArcadeDir is the name of the directory we create in each project
	ArcadeDir = ".arcade"

	DefaultBridgeURL       = "ws://127.0.0.1:8740/arcade"
	DefaultDialTimeout     = 5 * time.Second
	DefaultHealthInterval  = 15 * time.Second
	DefaultEndAckTimeout   = 10 * time.Second
	DefaultTickInterval    = 100 * time.Millisecond
	DefaultIdleTimeout     = 60 * time.Second
	DefaultMaxReentryDepth = 8
	DefaultStatusHost      = "127.0.0.1"
	DefaultStatusPort      = 8741
	defaultScoreboardPath  = "state/scores.db"
)

var defaultDifficulties = []string{"Easy", "Medium", "Hard"}

const defaultProjectConfigYAML = `# arcade client configuration
version: 1

# Remote service the session exchanges run against.
bridge:
  url: ws://127.0.0.1:8740/arcade
  # origin defaults to the url's host over http(s)
  dial_timeout: 5s
  # 0 disables the periodic health check
  health_interval: 15s

session:
  # how long a level_end may go unanswered before the client gives up
  end_ack_timeout: 10s
  tick_interval: 100ms
  # hand control back after this long without input on a menu screen; 0 disables
  idle_timeout: 60s
  max_reentry_depth: 8
  # ask the remote side what to do after a game over
  remote_options: false
  difficulties:
    - Easy
    - Medium
    - Hard

# Local JSON status endpoint (GET /health, GET /session).
status:
  enabled: false
  host: 127.0.0.1
  port: 8741

scoreboard:
  path: state/scores.db
`

// BridgeConfig describes the websocket remote.
type BridgeConfig struct {
	URL            string        `yaml:"url"`
	Origin         string        `yaml:"origin,omitempty"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// SessionConfig tunes the session orchestrator and run loop.
type SessionConfig struct {
	EndAckTimeout   time.Duration `yaml:"end_ack_timeout"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxReentryDepth int           `yaml:"max_reentry_depth"`
	RemoteOptions   bool          `yaml:"remote_options"`
	Difficulties    []string      `yaml:"difficulties"`
}

// StatusConfig controls the local status endpoint.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr joins host and port.
func (s StatusConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ScoreboardConfig locates the score database.
type ScoreboardConfig struct {
	Path string `yaml:"path"`
}

// ProjectConfig models .arcade/config.yaml.
type ProjectConfig struct {
	Version    int              `yaml:"version"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Session    SessionConfig    `yaml:"session"`
	Status     StatusConfig     `yaml:"status"`
	Scoreboard ScoreboardConfig `yaml:"scoreboard"`
}

// envOverrides are applied on top of the file. Unset variables leave the
// file value alone.
type envOverrides struct {
	BridgeURL     *string        `env:"ARCADE_BRIDGE_URL"`
	EndAckTimeout *time.Duration `env:"ARCADE_END_ACK_TIMEOUT"`
	TickInterval  *time.Duration `env:"ARCADE_TICK_INTERVAL"`
	IdleTimeout   *time.Duration `env:"ARCADE_IDLE_TIMEOUT"`
	StatusEnabled *bool          `env:"ARCADE_STATUS_ENABLED"`
	StatusHost    *string        `env:"ARCADE_STATUS_HOST"`
	StatusPort    *int           `env:"ARCADE_STATUS_PORT"`
}

// Config holds the runtime configuration for the arcade client.
type Config struct {
	// ProjectDir is the directory the client was started from
	ProjectDir string

	// ArcadeProjectDir is ProjectDir/.arcade
	ArcadeProjectDir string

	Project ProjectConfig
}

// InitProjectDir creates the .arcade directory structure in the given project
// directory and writes a commented config.yaml when none exists.
//
// Structure created:
// .arcade/
// ├── config.yaml
// ├── logs/    <- session journal
// └── state/   <- score database
func InitProjectDir(projectDir string) error {
	arcadeDir := filepath.Join(projectDir, ArcadeDir)

	dirs := []string{
		filepath.Join(arcadeDir, "logs"),
		filepath.Join(arcadeDir, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return ensureProjectConfig(filepath.Join(arcadeDir, "config.yaml"))
}

// NewConfig loads .arcade/config.yaml (defaults when missing) and applies
// ARCADE_* environment overrides.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:       projectDir,
		ArcadeProjectDir: filepath.Join(projectDir, ArcadeDir),
		Project:          defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Project.normalize(cfg.ArcadeProjectDir)
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.ArcadeProjectDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.ArcadeProjectDir, "state")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ArcadeProjectDir, "config.yaml")
}

// ScoreboardPath returns the resolved score database path.
func (c *Config) ScoreboardPath() string {
	return c.Project.Scoreboard.Path
}

// Difficulties returns the selectable difficulty labels.
func (c *Config) Difficulties() []string {
	out := make([]string, len(c.Project.Session.Difficulties))
	copy(out, c.Project.Session.Difficulties)
	return out
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.applyDefaults()
	c.Project = parsed
	return nil
}

func (c *Config) applyEnv() error {
	var ovr envOverrides
	if err := env.Parse(&ovr); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	p := &c.Project
	if ovr.BridgeURL != nil {
		p.Bridge.URL = *ovr.BridgeURL
	}
	if ovr.EndAckTimeout != nil {
		p.Session.EndAckTimeout = *ovr.EndAckTimeout
	}
	if ovr.TickInterval != nil {
		p.Session.TickInterval = *ovr.TickInterval
	}
	if ovr.IdleTimeout != nil {
		p.Session.IdleTimeout = *ovr.IdleTimeout
	}
	if ovr.StatusEnabled != nil {
		p.Status.Enabled = *ovr.StatusEnabled
	}
	if ovr.StatusHost != nil {
		p.Status.Host = *ovr.StatusHost
	}
	if ovr.StatusPort != nil {
		p.Status.Port = *ovr.StatusPort
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Bridge: BridgeConfig{
			URL:            DefaultBridgeURL,
			DialTimeout:    DefaultDialTimeout,
			HealthInterval: DefaultHealthInterval,
		},
		Session: SessionConfig{
			EndAckTimeout:   DefaultEndAckTimeout,
			TickInterval:    DefaultTickInterval,
			IdleTimeout:     DefaultIdleTimeout,
			MaxReentryDepth: DefaultMaxReentryDepth,
			Difficulties:    append([]string(nil), defaultDifficulties...),
		},
		Status: StatusConfig{
			Host: DefaultStatusHost,
			Port: DefaultStatusPort,
		},
		Scoreboard: ScoreboardConfig{Path: defaultScoreboardPath},
	}
}

// applyDefaults fills zero values a partial file leaves behind.
func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Bridge.DialTimeout == 0 {
		pc.Bridge.DialTimeout = DefaultDialTimeout
	}
	if pc.Session.EndAckTimeout == 0 {
		pc.Session.EndAckTimeout = DefaultEndAckTimeout
	}
	if pc.Session.TickInterval == 0 {
		pc.Session.TickInterval = DefaultTickInterval
	}
	if pc.Session.MaxReentryDepth == 0 {
		pc.Session.MaxReentryDepth = DefaultMaxReentryDepth
	}
	if len(pc.Session.Difficulties) == 0 {
		pc.Session.Difficulties = append([]string(nil), defaultDifficulties...)
	}
	if strings.TrimSpace(pc.Scoreboard.Path) == "" {
		pc.Scoreboard.Path = defaultScoreboardPath
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Bridge.URL = strings.TrimSpace(pc.Bridge.URL)
	pc.Bridge.Origin = strings.TrimSpace(pc.Bridge.Origin)
	if pc.Bridge.Origin == "" {
		pc.Bridge.Origin = originFor(pc.Bridge.URL)
	}
	pc.Status.Host = strings.TrimSpace(pc.Status.Host)
	if pc.Status.Host == "" {
		pc.Status.Host = DefaultStatusHost
	}
	difficulties := pc.Session.Difficulties[:0]
	for _, d := range pc.Session.Difficulties {
		d = strings.TrimSpace(d)
		if d != "" && !contains(difficulties, d) {
			difficulties = append(difficulties, d)
		}
	}
	pc.Session.Difficulties = difficulties
	pc.Scoreboard.Path = resolvePath(base, pc.Scoreboard.Path)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	u, err := url.Parse(pc.Bridge.URL)
	if err != nil {
		return fmt.Errorf("bridge.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("bridge.url must use ws or wss, got %q", pc.Bridge.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("bridge.url host is required")
	}
	if pc.Bridge.DialTimeout < 0 {
		return fmt.Errorf("bridge.dial_timeout must not be negative")
	}
	if pc.Bridge.HealthInterval < 0 {
		return fmt.Errorf("bridge.health_interval must not be negative")
	}
	if pc.Session.EndAckTimeout <= 0 {
		return fmt.Errorf("session.end_ack_timeout must be positive")
	}
	if pc.Session.TickInterval <= 0 {
		return fmt.Errorf("session.tick_interval must be positive")
	}
	if pc.Session.IdleTimeout < 0 {
		return fmt.Errorf("session.idle_timeout must not be negative")
	}
	if pc.Session.MaxReentryDepth < 1 {
		return fmt.Errorf("session.max_reentry_depth must be >= 1")
	}
	if len(pc.Session.Difficulties) == 0 {
		return fmt.Errorf("session.difficulties must not be empty")
	}
	if pc.Status.Port < 0 || pc.Status.Port > 65535 {
		return fmt.Errorf("status.port %d out of range", pc.Status.Port)
	}
	return nil
}

// originFor derives the websocket Origin header from the remote url.
func originFor(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}
