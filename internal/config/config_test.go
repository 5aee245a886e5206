package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, projectDir, body string) {
	t.Helper()
	arcadeDir := filepath.Join(projectDir, ArcadeDir)
	if err := os.MkdirAll(arcadeDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(arcadeDir, "config.yaml"), []byte(strings.TrimSpace(body)), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.Project.Session.EndAckTimeout != DefaultEndAckTimeout {
		t.Fatalf("expected default end ack timeout, got %s", c.Project.Session.EndAckTimeout)
	}
	if c.Project.Session.IdleTimeout != DefaultIdleTimeout {
		t.Fatalf("expected default idle timeout, got %s", c.Project.Session.IdleTimeout)
	}
	if !reflect.DeepEqual(c.Difficulties(), []string{"Easy", "Medium", "Hard"}) {
		t.Fatalf("unexpected difficulties %v", c.Difficulties())
	}
	if c.Project.Bridge.Origin != "http://127.0.0.1:8740" {
		t.Fatalf("expected derived origin, got %q", c.Project.Bridge.Origin)
	}
	want := filepath.Join(projectDir, ArcadeDir, "state", "scores.db")
	if c.ScoreboardPath() != want {
		t.Fatalf("scoreboard path = %s, want %s", c.ScoreboardPath(), want)
	}
}

func TestNewConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
version: 1
bridge:
  url: wss://arcade.example.com/session
  health_interval: 0s
session:
  end_ack_timeout: 3s
  tick_interval: 50ms
  idle_timeout: 0s
  remote_options: true
  difficulties:
    - " Casual "
    - Expert
    - casual
status:
  enabled: true
  port: 9000
scoreboard:
  path: /tmp/scores.db
`)
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	p := c.Project
	if p.Session.EndAckTimeout != 3*time.Second || p.Session.TickInterval != 50*time.Millisecond {
		t.Fatalf("durations not parsed: %+v", p.Session)
	}
	if !p.Session.RemoteOptions {
		t.Fatalf("expected remote options on")
	}
	if p.Session.IdleTimeout != 0 {
		t.Fatalf("explicit zero idle timeout should stay disabled, got %s", p.Session.IdleTimeout)
	}
	if p.Bridge.HealthInterval != 0 {
		t.Fatalf("explicit zero health interval should stay disabled, got %s", p.Bridge.HealthInterval)
	}
	if p.Bridge.DialTimeout != DefaultDialTimeout {
		t.Fatalf("missing dial timeout should default, got %s", p.Bridge.DialTimeout)
	}
	if p.Bridge.Origin != "https://arcade.example.com" {
		t.Fatalf("origin = %q", p.Bridge.Origin)
	}
	if !reflect.DeepEqual(c.Difficulties(), []string{"Casual", "Expert"}) {
		t.Fatalf("difficulties = %v", c.Difficulties())
	}
	if p.Status.Addr() != "127.0.0.1:9000" {
		t.Fatalf("status addr = %s", p.Status.Addr())
	}
	if c.ScoreboardPath() != "/tmp/scores.db" {
		t.Fatalf("absolute scoreboard path changed: %s", c.ScoreboardPath())
	}
}

func TestNewConfigEnvOverrides(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
version: 1
session:
  end_ack_timeout: 3s
status:
  enabled: false
`)
	t.Setenv("ARCADE_BRIDGE_URL", "ws://10.0.0.5:9999/play")
	t.Setenv("ARCADE_END_ACK_TIMEOUT", "20s")
	t.Setenv("ARCADE_IDLE_TIMEOUT", "2m")
	t.Setenv("ARCADE_STATUS_ENABLED", "true")
	t.Setenv("ARCADE_STATUS_PORT", "7000")
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	p := c.Project
	if p.Bridge.URL != "ws://10.0.0.5:9999/play" || p.Bridge.Origin != "http://10.0.0.5:9999" {
		t.Fatalf("bridge override not applied: %+v", p.Bridge)
	}
	if p.Session.EndAckTimeout != 20*time.Second {
		t.Fatalf("end ack timeout = %s, want 20s", p.Session.EndAckTimeout)
	}
	if p.Session.IdleTimeout != 2*time.Minute {
		t.Fatalf("idle timeout = %s, want 2m", p.Session.IdleTimeout)
	}
	if p.Session.TickInterval != DefaultTickInterval {
		t.Fatalf("unset env changed tick interval: %s", p.Session.TickInterval)
	}
	if !p.Status.Enabled || p.Status.Port != 7000 {
		t.Fatalf("status override not applied: %+v", p.Status)
	}
}

func TestNewConfigValidation(t *testing.T) {
	cases := map[string]string{
		"scheme":   "bridge:\n  url: http://example.com",
		"negative": "session:\n  end_ack_timeout: -1s",
		"port":     "status:\n  port: 70000",
		"idle":     "session:\n  idle_timeout: -5s",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			projectDir := t.TempDir()
			writeConfig(t, projectDir, body)
			if _, err := NewConfig(projectDir); err == nil {
				t.Fatalf("expected validation error but got none")
			}
		})
	}
}

func TestNewConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("ARCADE_STATUS_PORT", "not-a-port")
	if _, err := NewConfig(t.TempDir()); err == nil {
		t.Fatalf("expected env parse error")
	}
}

func TestInitProjectDirWritesLoadableConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitProjectDir(projectDir); err != nil {
		t.Fatalf("InitProjectDir: %v", err)
	}
	for _, dir := range []string{"logs", "state"} {
		if info, err := os.Stat(filepath.Join(projectDir, ArcadeDir, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory: %v", dir, err)
		}
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("default config does not load: %v", err)
	}
	if c.Project.Bridge.URL != DefaultBridgeURL || c.Project.Status.Enabled {
		t.Fatalf("unexpected defaults: %+v", c.Project)
	}

	custom := []byte("version: 1\nsession:\n  tick_interval: 1s\n")
	if err := os.WriteFile(c.ProjectConfigPath(), custom, 0644); err != nil {
		t.Fatal(err)
	}
	if err := InitProjectDir(projectDir); err != nil {
		t.Fatalf("second InitProjectDir: %v", err)
	}
	data, _ := os.ReadFile(c.ProjectConfigPath())
	if string(data) != string(custom) {
		t.Fatalf("InitProjectDir overwrote an existing config")
	}
}
