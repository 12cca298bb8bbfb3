package app

import (
	"fmt"
	"strings"
	"time"

	"groupcast/internal/config"
	"groupcast/internal/dispatch"
	"groupcast/internal/observability/ops"
	"groupcast/internal/observability/tracing"
	"groupcast/internal/storage"
	"groupcast/internal/task/scheduler"
	"groupcast/internal/wascript"
	logx "groupcast/pkg/logx"
)

const (
	defaultEventLog     = "./groupcast-send.log"
	defaultStorePath    = "./groupcast_store"
	defaultStoreDriver  = "file"
	defaultServiceName  = "groupcast"
	defaultSQLiteBusyTO = time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Mirror: logx.MirrorConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig defaults to the file driver when the section is absent.
// An explicit driver of "none" disables the directory.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: defaultStoreDriver, Path: defaultStorePath}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "none":
		return storage.Config{Driver: "none"}, nil
	case "", "file":
		if path == "" {
			path = defaultStorePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultSQLiteBusyTO)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pgx":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path must hold a connection string when storage.driver=%s", driver)
		}
		return storage.Config{Driver: "postgres", Path: path}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapWascriptConfig(cfg *config.Config) (wascript.Config, error) {
	timeout, err := config.ParseDurationField("wascript.timeout", cfg.Wascript.Timeout)
	if err != nil {
		return wascript.Config{}, err
	}
	return wascript.Config{
		BaseURL:   strings.TrimSpace(cfg.Wascript.BaseURL),
		Timeout:   timeout,
		UserAgent: strings.TrimSpace(cfg.Wascript.UserAgent),
	}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	rt, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 5*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// pprof profile/trace endpoints stream for up to 30s by default.
	wt, err := config.ParseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 35*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		PprofPrefix:   oc.PprofPrefix,
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

func mapTracingConfig(cfg *config.Config) tracing.Config {
	name := strings.TrimSpace(cfg.Tracing.ServiceName)
	if name == "" {
		name = defaultServiceName
	}
	return tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		Headers:     cfg.Tracing.Headers,
		ServiceName: name,
		Version:     Version,
		SampleRatio: cfg.Tracing.SampleRatio,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}
}

func eventLogPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Dispatch.EventLog); p != "" {
		return p
	}
	return defaultEventLog
}

// defaultInterval never returns less than the dispatcher floor so a
// zero or missing setting still yields a valid request.
func defaultInterval(cfg *config.Config) time.Duration {
	d, err := config.ParseInterval("dispatch.default_interval", cfg.Dispatch.DefaultInterval)
	if err != nil || d < dispatch.MinInterval {
		return dispatch.MinInterval
	}
	return d
}
