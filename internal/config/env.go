package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Env holds the environment variables that override file values.
// Secrets normally arrive this way.
type Env struct {
	WascriptToken   string `env:"WASCRIPT_TOKEN"`
	WascriptBaseURL string `env:"WASCRIPT_BASE_URL"`
	TelegramToken   string `env:"GROUPCAST_TELEGRAM_TOKEN"`
	LogLevel        string `env:"GROUPCAST_LOG_LEVEL"`
	StorageDriver   string `env:"GROUPCAST_STORAGE_DRIVER"`
	StoragePath     string `env:"GROUPCAST_STORAGE_PATH"`
	OpsAddr         string `env:"GROUPCAST_OPS_ADDR"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are ignored; variables already set are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			var pathErr *os.PathError
			if errors.As(err, &pathErr) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ReadEnv parses the overlay variables from the process environment.
func ReadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Apply overlays non-empty env values onto cfg.
func (e Env) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Wascript.Token, e.WascriptToken)
	set(&cfg.Wascript.BaseURL, e.WascriptBaseURL)
	set(&cfg.Telegram.Token, e.TelegramToken)
	set(&cfg.Logging.Level, e.LogLevel)
	if strings.TrimSpace(e.StorageDriver) != "" || strings.TrimSpace(e.StoragePath) != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		set(&cfg.Storage.Driver, e.StorageDriver)
		set(&cfg.Storage.Path, e.StoragePath)
	}
	if strings.TrimSpace(e.OpsAddr) != "" {
		set(&cfg.Ops.Addr, e.OpsAddr)
		cfg.Ops.Enabled = true
	}
	if strings.TrimSpace(e.OTLPEndpoint) != "" {
		set(&cfg.Tracing.Endpoint, e.OTLPEndpoint)
		cfg.Tracing.Enabled = true
	}
}
