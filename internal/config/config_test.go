package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":3000" {
		t.Fatalf("listen addr default: %q", cfg.ListenAddr)
	}
	if cfg.MQTTBrokerURL != "mqtt://localhost:1883" {
		t.Fatalf("broker default: %q", cfg.MQTTBrokerURL)
	}
	if cfg.MaxUploadBytes != 20<<20 {
		t.Fatalf("upload ceiling default: %d", cfg.MaxUploadBytes)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("POSTGRES_HOST", "db.internal")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("env override ignored: %q", cfg.ListenAddr)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Fatalf("nested env override ignored: %q", cfg.Postgres.Host)
	}
}
