package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:5000" || cfg.UserAPIBaseURL != "http://localhost:5005" {
		t.Fatalf("unexpected default urls: %q %q", cfg.APIBaseURL, cfg.UserAPIBaseURL)
	}
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("unexpected default timeout: %s", cfg.Timeout)
	}
	if cfg.GlamourStyle != DefaultGlamourStyle {
		t.Fatalf("unexpected style: %q", cfg.GlamourStyle)
	}
}

func TestLoadEnvFileThenFlagsOverride(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "DEPOTCHAT_API_BASE_URL=http://primary.test:9000\nDEPOTCHAT_TIMEOUT=5s\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("DEPOTCHAT_API_BASE_URL")
		os.Unsetenv("DEPOTCHAT_TIMEOUT")
	})

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "http://primary.test:9000" || cfg.Timeout != 5*time.Second {
		t.Fatalf("env file not applied: %+v", cfg)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse([]string{"--timeout", "12s"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg.Timeout != 12*time.Second {
		t.Fatalf("flag did not override env: %s", cfg.Timeout)
	}
	if cfg.APIBaseURL != "http://primary.test:9000" {
		t.Fatalf("unset flag clobbered env value: %q", cfg.APIBaseURL)
	}
}

func TestFinalizeFillsPathsAndCreatesDirs(t *testing.T) {
	dir := t.TempDir()
	cfg := AppConfig{
		APIBaseURL:     "http://localhost:5000",
		UserAPIBaseURL: "http://localhost:5005",
		Timeout:        time.Second,
		DBPath:         filepath.Join(dir, "nested", "s.sqlite"),
		LogFile:        filepath.Join(dir, "logs", "x.log"),
	}
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	for _, p := range []string{filepath.Join(dir, "nested"), filepath.Join(dir, "logs")} {
		if st, err := os.Stat(p); err != nil || !st.IsDir() {
			t.Fatalf("expected directory %s: %v", p, err)
		}
	}
	if cfg.GlamourStyle != DefaultGlamourStyle {
		t.Fatalf("style not defaulted: %q", cfg.GlamourStyle)
	}
}

func TestFinalizeRejectsBadURL(t *testing.T) {
	cfg := AppConfig{APIBaseURL: "localhost:5000", UserAPIBaseURL: "http://localhost:5005", Timeout: time.Second}
	if err := cfg.Finalize(); err == nil {
		t.Fatal("expected error for URL without scheme")
	}
}
