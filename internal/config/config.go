package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const DefaultGlamourStyle = "dark"

type AppConfig struct {
	APIBaseURL     string        `env:"DEPOTCHAT_API_BASE_URL" envDefault:"http://localhost:5000"`
	UserAPIBaseURL string        `env:"DEPOTCHAT_USER_API_BASE_URL" envDefault:"http://localhost:5005"`
	Timeout        time.Duration `env:"DEPOTCHAT_TIMEOUT" envDefault:"30s"`
	DBPath         string        `env:"DEPOTCHAT_DB_PATH"`
	ExportDir      string        `env:"DEPOTCHAT_EXPORT_DIR"`
	LogFile        string        `env:"DEPOTCHAT_LOG_FILE"`
	GlamourStyle   string        `env:"DEPOTCHAT_GLAMOUR_STYLE" envDefault:"dark"`
	RecordCommand  string        `env:"DEPOTCHAT_RECORD_COMMAND"`
	PlayerCommand  string        `env:"DEPOTCHAT_PLAYER_COMMAND"`
	AutoSpeak      bool          `env:"DEPOTCHAT_AUTO_SPEAK"`
	Verbose        bool          `env:"DEPOTCHAT_VERBOSE"`
}

// Load reads .env files (missing ones are skipped) and then the process
// environment. Flags bound with BindFlags override the result.
func Load(envFiles ...string) (AppConfig, error) {
	var cfg AppConfig
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func (c *AppConfig) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.APIBaseURL, "api-url", c.APIBaseURL, "primary service base URL")
	fs.StringVar(&c.UserAPIBaseURL, "user-api-url", c.UserAPIBaseURL, "user service base URL")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "per-request timeout")
	fs.StringVar(&c.DBPath, "db-path", c.DBPath, "path to SQLite session file")
	fs.StringVar(&c.ExportDir, "export-dir", c.ExportDir, "override export output directory")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "path to the JSON log file")
	fs.StringVar(&c.GlamourStyle, "style", c.GlamourStyle, "glamour style for rendering replies")
	fs.StringVar(&c.RecordCommand, "record-cmd", c.RecordCommand, "microphone capture command writing WAV to stdout")
	fs.StringVar(&c.PlayerCommand, "player-cmd", c.PlayerCommand, "audio player command")
	fs.BoolVar(&c.AutoSpeak, "auto-speak", c.AutoSpeak, "speak voice replies as they arrive")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "debug logging")
}

// Finalize fills in default paths, creates their directories and checks the
// service URLs.
func (c *AppConfig) Finalize() error {
	for name, raw := range map[string]string{"api-url": c.APIBaseURL, "user-api-url": c.UserAPIBaseURL} {
		if err := checkURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.GlamourStyle == "" {
		c.GlamourStyle = DefaultGlamourStyle
	}

	if c.DBPath == "" || c.LogFile == "" {
		dir, err := DataDir()
		if err != nil {
			return err
		}
		if c.DBPath == "" {
			c.DBPath = filepath.Join(dir, "session.sqlite")
		}
		if c.LogFile == "" {
			c.LogFile = filepath.Join(dir, "depotchat.log")
		}
	}
	for _, p := range []string{c.DBPath, c.LogFile} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	return nil
}

func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "depot-chat"), nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("expected an http(s) URL, got %q", raw)
	}
	return nil
}
