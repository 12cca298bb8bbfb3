package config

type Config struct {
	Wascript WascriptConfig `json:"wascript"`
	Dispatch DispatchConfig `json:"dispatch"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`

	// Scheduler controls recurring batches declared under schedules.
	Scheduler SchedulerConfig  `json:"scheduler"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`

	Ops     OpsConfig     `json:"ops,omitempty"`
	Tracing TracingConfig `json:"tracing,omitempty"`
}

// WascriptConfig configures the messaging provider.
//
// Token is the account credential appended to the endpoint path. Prefer the
// WASCRIPT_TOKEN environment variable over storing it in the file.
type WascriptConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	Token     string `json:"token,omitempty"` // do not log
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// DispatchConfig controls batch delivery.
//
// DefaultInterval applies when a send does not name one; it can never be
// lower than the 13s floor enforced by the dispatcher.
type DispatchConfig struct {
	EventLog        string `json:"event_log,omitempty"`        // default: ./groupcast-send.log
	DefaultInterval string `json:"default_interval,omitempty"` // default: 13s
}

// TelegramConfig is only used for the operator log mirror.
type TelegramConfig struct {
	Token  string `json:"token,omitempty"` // do not log
	ChatID int64  `json:"chat_id,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the target directory and batch history.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./groupcast_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// ScheduleConfig declares one recurring batch.
//
// Spec accepts a cron expression (5 or 6 fields, or a descriptor such as
// "@daily"), a Go duration ("6h") or a daily time of day ("07:30").
// Targets wins over Category when both are set.
type ScheduleConfig struct {
	Name     string   `json:"name"`
	Spec     string   `json:"spec"`
	Message  string   `json:"message"`
	Targets  []string `json:"targets,omitempty"`
	Category string   `json:"category,omitempty"`
	Interval string   `json:"interval,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
}

// OpsConfig controls the optional operations HTTP server (pprof, health, metrics).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`         // default: "127.0.0.1:6060"
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"; "-" disables pprof
	Token         string `json:"token,omitempty"`        // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// TracingConfig enables OTLP/HTTP trace export.
type TracingConfig struct {
	Enabled     bool              `json:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty"` // host:port or URL
	Insecure    bool              `json:"insecure,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	SampleRatio float64           `json:"sample_ratio,omitempty"` // 0 means always sample
}
