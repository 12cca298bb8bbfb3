package config

import (
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "groupcast/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ow, nw := oldCfg.Wascript, newCfg.Wascript
	if trim(ow.BaseURL) != trim(nw.BaseURL) || trim(ow.Timeout) != trim(nw.Timeout) ||
		trim(ow.UserAgent) != trim(nw.UserAgent) || (trim(ow.Token) != "") != (trim(nw.Token) != "") {
		changed = append(changed, "wascript")
		attrs = append(attrs,
			logx.String("wascript.base_url", trim(nw.BaseURL)),
			logx.String("wascript.timeout", trim(nw.Timeout)),
			logx.Bool("wascript.token_set", trim(nw.Token) != ""),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.event_log", trim(newCfg.Dispatch.EventLog)),
			logx.String("dispatch.default_interval", trim(newCfg.Dispatch.DefaultInterval)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Telegram.ChatID != newCfg.Telegram.ChatID ||
		(trim(oldCfg.Telegram.Token) != "") != (trim(newCfg.Telegram.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.chat_set", newCfg.Telegram.ChatID != 0))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	if oldCfg.Scheduler != newCfg.Scheduler || !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.Int("scheduler.count", len(newCfg.Schedules)),
		)
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	oo.Token, no.Token = "", ""
	if oo != no || (trim(oldCfg.Ops.Token) != "") != (trim(newCfg.Ops.Token) != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", trim(no.Addr)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Tracing, newCfg.Tracing) {
		changed = append(changed, "tracing")
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports sections that are only read at startup.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "tracing", "telegram", "dispatch":
			out = append(out, s)
		}
	}
	return out
}

func trim(s string) string { return strings.TrimSpace(s) }

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
