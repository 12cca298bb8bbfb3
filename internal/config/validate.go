package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MinDispatchInterval mirrors the dispatcher floor so a bad default is caught
// at load time rather than on the first send.
const MinDispatchInterval = 13 * time.Second

// Validate checks values that cannot be expressed by the decoder alone.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if raw := trim(cfg.Wascript.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("wascript.base_url: %q is not an http(s) URL", raw)
		}
	}
	if _, err := ParseDurationField("wascript.timeout", cfg.Wascript.Timeout); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseInterval("dispatch.default_interval", cfg.Dispatch.DefaultInterval); err != nil {
		errs = append(errs, err)
	}

	if cfg.Logging.Telegram.Enabled && (trim(cfg.Telegram.Token) == "" || cfg.Telegram.ChatID == 0) {
		add("logging.telegram: telegram.token and telegram.chat_id are required")
	}

	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if tz := trim(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Schedules))
	for i, s := range cfg.Schedules {
		path := fmt.Sprintf("schedules[%d]", i)
		name := trim(s.Name)
		if name == "" {
			add("%s.name: required", path)
		} else if _, dup := seen[strings.ToLower(name)]; dup {
			add("%s.name: duplicate %q", path, name)
		} else {
			seen[strings.ToLower(name)] = struct{}{}
		}
		if trim(s.Spec) == "" {
			add("%s.spec: required", path)
		}
		if trim(s.Message) == "" {
			add("%s.message: required", path)
		}
		if len(s.Targets) == 0 && trim(s.Category) == "" {
			add("%s: targets or category is required", path)
		}
		if _, err := ParseInterval(path+".interval", s.Interval); err != nil {
			errs = append(errs, err)
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		add("tracing.sample_ratio: must be within [0,1]")
	}

	return errors.Join(errs...)
}
