package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("RING_TIMEOUT", "")
	t.Setenv("WS_READ_TIMEOUT", "")
	t.Setenv("WS_WRITE_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.RingTimeout != 30*time.Second {
		t.Errorf("expected default ring timeout 30s, got %v", cfg.RingTimeout)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("expected empty redis addr by default, got %s", cfg.RedisAddr)
	}
	if cfg.PongWait != 60*time.Second {
		t.Errorf("expected pong wait 60s, got %v", cfg.PongWait)
	}
	if cfg.PingPeriod >= cfg.PongWait {
		t.Errorf("ping period %v must be below pong wait %v", cfg.PingPeriod, cfg.PongWait)
	}
	if cfg.MaxMessageSize != 4096 {
		t.Errorf("expected max message size 4096, got %d", cfg.MaxMessageSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("RING_TIMEOUT", "10")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("expected port 9000, got %s", cfg.Port)
	}
	if cfg.RingTimeout != 10*time.Second {
		t.Errorf("expected ring timeout 10s, got %v", cfg.RingTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("origins not trimmed/split: %v", cfg.AllowedOrigins)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("redis addr not applied: %s", cfg.RedisAddr)
	}
}

func TestLoadRejectsBadRingTimeout(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not a number", "soon"},
		{"zero", "0"},
		{"negative", "-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RING_TIMEOUT", tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for RING_TIMEOUT=%s", tt.value)
			}
		})
	}
}
