package config

import (
	"os"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Node.Size != 1 || cfg.Node.Rank != 0 {
		t.Errorf("expected single-rank default, got rank=%d size=%d", cfg.Node.Rank, cfg.Node.Size)
	}
	if cfg.Fabric.Host != "0.0.0.0" {
		t.Errorf("expected fabric host 0.0.0.0, got %s", cfg.Fabric.Host)
	}
	if cfg.Fabric.Port != 9090 {
		t.Errorf("expected fabric port 9090, got %d", cfg.Fabric.Port)
	}
	if cfg.Fabric.RequestTimeout != 30*time.Second {
		t.Errorf("expected request timeout 30s, got %v", cfg.Fabric.RequestTimeout)
	}
	if cfg.Fabric.EnableTLS {
		t.Error("expected TLS disabled by default")
	}

	if cfg.Partition.NBits != 9 {
		t.Errorf("expected NBits=9, got %d", cfg.Partition.NBits)
	}
	if cfg.Partition.RefineIterations != 5 {
		t.Errorf("expected RefineIterations=5, got %d", cfg.Partition.RefineIterations)
	}
	if cfg.Partition.BalanceTolerance != 4.0 {
		t.Errorf("expected BalanceTolerance=4.0, got %v", cfg.Partition.BalanceTolerance)
	}

	if !cfg.REST.Enabled {
		t.Error("expected REST gateway enabled by default")
	}
	if cfg.REST.Port != 8080 {
		t.Errorf("expected REST port 8080, got %d", cfg.REST.Port)
	}

	if cfg.Quota.MaxRanks != 256 {
		t.Errorf("expected default quota MaxRanks=256, got %d", cfg.Quota.MaxRanks)
	}
}

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	saved := make(map[string]string)
	for k := range kv {
		saved[k] = os.Getenv(k)
	}
	for k, v := range kv {
		os.Setenv(k, v)
	}
	defer func() {
		for k, v := range saved {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()
	fn()
}

func TestLoadFromEnv(t *testing.T) {
	withEnv(t, map[string]string{
		"COORDPART_RANK":             "2",
		"COORDPART_SIZE":             "8",
		"COORDPART_FABRIC_HOST":      "127.0.0.1",
		"COORDPART_FABRIC_PORT":      "9191",
		"COORDPART_PEERS":            "10.0.0.1:9090,10.0.0.2:9090",
		"COORDPART_REQUEST_TIMEOUT":  "60s",
		"COORDPART_ENABLE_TLS":       "true",
		"COORDPART_TLS_CERT":         "cert.pem",
		"COORDPART_TLS_KEY":          "key.pem",
		"COORDPART_NBITS":            "6",
		"COORDPART_REFINE_ITERATIONS": "3",
		"COORDPART_BALANCE_TOLERANCE": "2.5",
		"COORDPART_MIN_SAMPLES":      "50",
		"COORDPART_REST_ENABLED":     "false",
		"COORDPART_JWT_SECRET":       "topsecret",
	}, func() {
		cfg := LoadFromEnv()

		if cfg.Node.Rank != 2 || cfg.Node.Size != 8 {
			t.Fatalf("expected rank=2 size=8, got rank=%d size=%d", cfg.Node.Rank, cfg.Node.Size)
		}
		if cfg.Fabric.Host != "127.0.0.1" || cfg.Fabric.Port != 9191 {
			t.Fatalf("expected fabric 127.0.0.1:9191, got %s:%d", cfg.Fabric.Host, cfg.Fabric.Port)
		}
		if len(cfg.Fabric.Peers) != 2 {
			t.Fatalf("expected 2 peers, got %d", len(cfg.Fabric.Peers))
		}
		if cfg.Fabric.RequestTimeout != 60*time.Second {
			t.Fatalf("expected request timeout 60s, got %v", cfg.Fabric.RequestTimeout)
		}
		if !cfg.Fabric.EnableTLS || cfg.Fabric.CertFile != "cert.pem" || cfg.Fabric.KeyFile != "key.pem" {
			t.Fatalf("expected TLS enabled with cert/key set")
		}
		if cfg.Partition.NBits != 6 || cfg.Partition.RefineIterations != 3 {
			t.Fatalf("expected NBits=6 RefineIterations=3, got %d %d", cfg.Partition.NBits, cfg.Partition.RefineIterations)
		}
		if cfg.Partition.BalanceTolerance != 2.5 || cfg.Partition.MinSamples != 50 {
			t.Fatalf("expected BalanceTolerance=2.5 MinSamples=50, got %v %d", cfg.Partition.BalanceTolerance, cfg.Partition.MinSamples)
		}
		if cfg.REST.Enabled {
			t.Fatal("expected REST disabled")
		}
		if !cfg.REST.AuthEnabled || cfg.REST.JWTSecret != "topsecret" {
			t.Fatal("expected auth enabled once a JWT secret is set")
		}
	})
}

func TestLoadFromEnvInvalidValuesKeepDefaults(t *testing.T) {
	withEnv(t, map[string]string{"COORDPART_FABRIC_PORT": "not-a-number"}, func() {
		cfg := LoadFromEnv()
		if cfg.Fabric.Port != 9090 {
			t.Fatalf("expected default port 9090 for invalid value, got %d", cfg.Fabric.Port)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"rank out of range", func(c *Config) { c.Node.Rank = 5 }, true},
		{"zero size", func(c *Config) { c.Node.Size = 0 }, true},
		{"bad fabric port", func(c *Config) { c.Fabric.Port = 0 }, true},
		{"TLS without cert", func(c *Config) { c.Fabric.EnableTLS = true }, true},
		{"bad NBits", func(c *Config) { c.Partition.NBits = 0 }, true},
		{"bad tolerance", func(c *Config) { c.Partition.BalanceTolerance = 0 }, true},
		{"bad REST port", func(c *Config) { c.REST.Port = 99999 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddressHelpers(t *testing.T) {
	cfg := Default()
	cfg.Fabric.Host, cfg.Fabric.Port = "localhost", 9090
	if got, want := cfg.Fabric.Address(), "localhost:9090"; got != want {
		t.Errorf("Fabric.Address() = %s, want %s", got, want)
	}
	cfg.REST.Host, cfg.REST.Port = "localhost", 8080
	if got, want := cfg.REST.Address(), "localhost:8080"; got != want {
		t.Errorf("REST.Address() = %s, want %s", got, want)
	}
}
