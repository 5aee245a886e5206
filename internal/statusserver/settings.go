package statusserver

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/arcade/internal/config"
)

const (
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 5 * time.Second
	// DefaultWriteTimeout bounds handler writes.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// Settings captures runtime configuration for the status endpoint.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SettingsFromConfig builds Settings from the project's status block. The
// ARCADE_STATUS_* overrides are already folded in by config.NewConfig.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		Host:         config.DefaultStatusHost,
		Port:         config.DefaultStatusPort,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
	if cfg != nil {
		raw := cfg.Project.Status
		settings.Enabled = raw.Enabled
		if host := strings.TrimSpace(raw.Host); host != "" {
			settings.Host = host
		}
		if isValidPort(raw.Port) {
			settings.Port = raw.Port
		}
	}
	settings.normalize()
	return settings
}

func (s *Settings) normalize() {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = config.DefaultStatusHost
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = config.DefaultStatusPort
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
