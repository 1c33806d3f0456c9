package relay

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "NODE_ENV", "SOCKET_PORT", "PORT", "RELAY_ALLOWED_ORIGINS", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	if cfg.Port != 3001 {
		t.Errorf("Port = %d, want 3001", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("AllowedOrigins = %v, want [http://localhost:3000]", cfg.AllowedOrigins)
	}
	if cfg.ReadTimeout() != 85*time.Second {
		t.Errorf("ReadTimeout() = %s, want 85s", cfg.ReadTimeout())
	}
	if !cfg.RequireUserID {
		t.Error("RequireUserID should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() default config: %v", err)
	}
}

func TestLoadConfig_Environment(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantPort    int
		wantOrigins []string
	}{
		{
			name:        "production origin",
			env:         map[string]string{"NODE_ENV": "production"},
			wantPort:    3001,
			wantOrigins: []string{"https://your-production-domain.com"},
		},
		{
			name:        "app env wins over node env",
			env:         map[string]string{"APP_ENV": "development", "NODE_ENV": "production"},
			wantPort:    3001,
			wantOrigins: []string{"http://localhost:3000"},
		},
		{
			name:        "explicit origins and port",
			env:         map[string]string{"SOCKET_PORT": "4000", "RELAY_ALLOWED_ORIGINS": "https://a.example, https://b.example ,"},
			wantPort:    4000,
			wantOrigins: []string{"https://a.example", "https://b.example"},
		},
		{
			name:        "invalid port falls back",
			env:         map[string]string{"SOCKET_PORT": "abc"},
			wantPort:    3001,
			wantOrigins: []string{"http://localhost:3000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"APP_ENV", "NODE_ENV", "SOCKET_PORT", "PORT", "RELAY_ALLOWED_ORIGINS"} {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := LoadConfig()
			if cfg.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", cfg.Port, tt.wantPort)
			}
			if len(cfg.AllowedOrigins) != len(tt.wantOrigins) {
				t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, tt.wantOrigins)
			}
			for i := range tt.wantOrigins {
				if cfg.AllowedOrigins[i] != tt.wantOrigins[i] {
					t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], tt.wantOrigins[i])
				}
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "ephemeral port", mutate: func(c *Config) { c.Port = 0 }},
		{name: "rate limit disabled", mutate: func(c *Config) { c.RateLimit = 0; c.RateBurst = 0 }},
		{name: "port too large", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "no origins", mutate: func(c *Config) { c.AllowedOrigins = nil }, wantErr: true},
		{name: "zero queue", mutate: func(c *Config) { c.SendQueueSize = 0 }, wantErr: true},
		{name: "zero ping", mutate: func(c *Config) { c.PingInterval = 0 }, wantErr: true},
		{name: "burst missing", mutate: func(c *Config) { c.RateBurst = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_FrameLimit(t *testing.T) {
	tests := []struct {
		name          string
		maxText       int
		maxFrameBytes int64
		want          int64
	}{
		{name: "default covers escaped text", maxText: 2000, maxFrameBytes: 16 * 1024, want: 16 * 1024},
		{name: "raised to fit escaped text", maxText: 2000, maxFrameBytes: 1024, want: 6*2000 + frameOverhead},
		{name: "explicit larger cap kept", maxText: 100, maxFrameBytes: 1 << 20, want: 1 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxTextLength = tt.maxText
			cfg.MaxFrameBytes = tt.maxFrameBytes
			if got := cfg.FrameLimit(); got != tt.want {
				t.Errorf("FrameLimit() = %d, want %d", got, tt.want)
			}
		})
	}
}
