package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.FetchRPS != 1 {
		t.Errorf("FetchRPS = %v, want 1", cfg.FetchRPS)
	}

	if cfg.MaxWorkers != 8 {
		t.Errorf("MaxWorkers = %d, want 8", cfg.MaxWorkers)
	}

	if cfg.ProxyRotation != "round_robin" {
		t.Errorf("ProxyRotation = %q", cfg.ProxyRotation)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FETCH_RPS", "2.5")
	t.Setenv("PROXIES", "http://p1:8080,http://p2:8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.FetchRPS != 2.5 {
		t.Errorf("FetchRPS = %v, want 2.5", cfg.FetchRPS)
	}

	if len(cfg.ProxyList) != 2 {
		t.Errorf("ProxyList = %v", cfg.ProxyList)
	}
}
