package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONNECTKIT_ENCRYPTION_KEY", strings.Repeat("ab", 32))

	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default token store backend is memory",
			check:  func(c *Config) bool { return c.TokenStoreBackend == "memory" },
			expect: "memory",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestLoadMissingEncryptionKeyFails(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("expected error when CONNECTKIT_ENCRYPTION_KEY is unset")
	}
}

func TestLoadInvalidTokenStoreBackendFails(t *testing.T) {
	t.Setenv("CONNECTKIT_ENCRYPTION_KEY", strings.Repeat("ab", 32))
	t.Setenv("TOKEN_STORE_BACKEND", "nonsense")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid TOKEN_STORE_BACKEND")
	}
}
