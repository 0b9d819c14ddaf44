package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.NumberOfLandmarks != 33 || cfg.SmoothingSpeed != 10 || !cfg.MirrorX {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PoseURL != "ws://localhost:8765" {
		t.Fatalf("unexpected pose url %q", cfg.PoseURL)
	}
	if cfg.TickInterval() != time.Second/60 {
		t.Fatalf("unexpected tick interval %v", cfg.TickInterval())
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("POSESYNC_POSE_URL", "ws://pose.local:9000")
	t.Setenv("POSESYNC_POSE_OFFSET", "12.5")
	t.Setenv("POSESYNC_MIRROR_X", "false")
	t.Setenv("POSESYNC_QUEUE_CAPACITY", "8")
	t.Setenv("POSESYNC_RECONNECT_DELAY", "0s")
	t.Setenv("POSESYNC_RELAY_PROTO", "kcp")
	t.Setenv("POSESYNC_HOST", "1")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.PoseURL != "ws://pose.local:9000" || cfg.PoseOffset != 12.5 || cfg.MirrorX {
		t.Fatalf("pose settings not applied: %+v", cfg)
	}
	if cfg.QueueCapacity != 8 || cfg.ReconnectDelay != 0 {
		t.Fatalf("queue settings not applied: %+v", cfg)
	}
	if cfg.RelayProto != "kcp" || !cfg.Host || cfg.JWTSecret != "s3cret" {
		t.Fatalf("relay settings not applied: %+v", cfg)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("POSESYNC_LANDMARKS", "many")
	t.Setenv("POSESYNC_SMOOTHING_SPEED", "fast")

	_, err := FromEnv()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero landmarks", func(c *Config) { c.NumberOfLandmarks = 0 }},
		{"negative speed", func(c *Config) { c.SmoothingSpeed = -1 }},
		{"negative capacity", func(c *Config) { c.QueueCapacity = -1 }},
		{"far before near", func(c *Config) { c.FarClip = 0.1 }},
		{"zero near", func(c *Config) { c.NearClip = 0 }},
		{"bad proto", func(c *Config) { c.RelayProto = "udp" }},
		{"flat fov", func(c *Config) { c.FOVDegrees = 180 }},
		{"empty secret", func(c *Config) { c.JWTSecret = "" }},
		{"zero tick rate", func(c *Config) { c.TickRate = 0 }},
		{"snapshot too large", func(c *Config) { c.MaxConnections = 20 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "POSESYNC_SMOOTHING_SPEED=4\nPOSESYNC_JOIN_CODE=ABC234\nPOSESYNC_PLAYER_NAME=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// 进程环境优先于文件
	t.Setenv("POSESYNC_PLAYER_NAME", "from-env")

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SmoothingSpeed != 4 || cfg.JoinCode != "ABC234" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.PlayerName != "from-env" {
		t.Fatalf("expected environment to win, got %q", cfg.PlayerName)
	}
	if _, set := os.LookupEnv("POSESYNC_JOIN_CODE"); set {
		t.Fatalf("Load must not write file values into the process environment")
	}
}

func TestRegisterFlags(t *testing.T) {
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)

	if err := fs.Parse([]string{"-proto", "kcp", "-join", "XYZ789", "-mirror=false", "-offset", "3"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.RelayProto != "kcp" || cfg.JoinCode != "XYZ789" || cfg.MirrorX || cfg.PoseOffset != 3 {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}
